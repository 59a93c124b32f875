// Package vindex is the exact nearest-neighbor index over prompt embeddings
// and the row→item identifier mapping that is persisted alongside it.
package vindex

import (
	"cmp"
	"slices"

	"github.com/google/uuid"
	"github.com/hupe1980/vecgo/distance"

	"github.com/WessleyAI/secrag/engine/domain"
)

// Hit is one search result. Row is the position in the index, not an item id.
type Hit struct {
	Row      int     `json:"row"`
	Distance float32 `json:"distance"`
}

// Flat is an exhaustive squared-L2 index. It is immutable after Build and safe
// for concurrent Search.
type Flat struct {
	dim     int
	rows    int
	data    []float32
	buildID uuid.UUID
}

// Build copies vectors into a new index with a fresh build id.
func Build(vectors [][]float32) (*Flat, error) {
	return build(vectors, uuid.New())
}

func build(vectors [][]float32, id uuid.UUID) (*Flat, error) {
	if len(vectors) == 0 {
		return &Flat{buildID: id}, nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, &domain.DimensionMismatchError{Row: 0, Want: 1, Got: 0}
	}
	data := make([]float32, 0, dim*len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, &domain.DimensionMismatchError{Row: i, Want: dim, Got: len(v)}
		}
		data = append(data, v...)
	}
	return &Flat{dim: dim, rows: len(vectors), data: data, buildID: id}, nil
}

// Len returns the number of indexed vectors.
func (f *Flat) Len() int { return f.rows }

// Dim returns the vector dimension, 0 for an empty index.
func (f *Flat) Dim() int { return f.dim }

// BuildID identifies the build that produced this index.
func (f *Flat) BuildID() uuid.UUID { return f.buildID }

func (f *Flat) row(i int) []float32 {
	return f.data[i*f.dim : (i+1)*f.dim]
}

// Search returns up to k hits ordered by ascending distance. Equal distances
// are ordered by row so repeated searches agree.
func (f *Flat) Search(query []float32, k int) ([]Hit, error) {
	if k <= 0 || f.rows == 0 {
		return nil, nil
	}
	if len(query) != f.dim {
		return nil, &domain.DimensionMismatchError{Row: -1, Want: f.dim, Got: len(query)}
	}

	hits := make([]Hit, f.rows)
	for i := range f.rows {
		hits[i] = Hit{Row: i, Distance: distance.SquaredL2(query, f.row(i))}
	}
	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.Row, b.Row)
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}
