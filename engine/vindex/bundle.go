package vindex

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/WessleyAI/secrag/engine/domain"
)

// Bundle file names inside an index directory.
const (
	IndexFile   = "prompt_index.srx"
	MappingFile = "id_mapping.json"
)

// Bundle is an index paired with the mapping built alongside it.
type Bundle struct {
	Index   *Flat
	Mapping Mapping
}

// NewBundle pairs idx with m after checking that they belong together.
func NewBundle(idx *Flat, m Mapping) (*Bundle, error) {
	if len(m.IDs) != idx.Len() || m.BuildID != idx.BuildID() {
		return nil, &domain.IndexMappingMismatchError{
			IndexRows:    idx.Len(),
			MappingRows:  len(m.IDs),
			IndexBuild:   idx.BuildID().String(),
			MappingBuild: m.BuildID.String(),
		}
	}
	return &Bundle{Index: idx, Mapping: m}, nil
}

// Search runs an index search and resolves each hit to an item id.
func (b *Bundle) Search(query []float32, k int) ([]Hit, []int64, error) {
	hits, err := b.Index.Search(query, k)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]int64, len(hits))
	for i, h := range hits {
		if ids[i], err = b.Mapping.Resolve(h.Row); err != nil {
			return nil, nil, err
		}
	}
	return hits, ids, nil
}

// SaveBundle writes the index and then the mapping into dir. Each file goes
// to a temporary name, is fsynced and renamed into place.
func SaveBundle(dir string, idx *Flat, m Mapping) error {
	if _, err := NewBundle(idx, m); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("vindex: create dir: %w", err)
	}
	err := writeAtomic(filepath.Join(dir, IndexFile), func(w *bufio.Writer) error {
		return WriteIndex(w, idx)
	})
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, MappingFile), func(w *bufio.Writer) error {
		return json.NewEncoder(w).Encode(m)
	})
}

// LoadBundle reads and validates the bundle in dir.
func LoadBundle(dir string) (*Bundle, error) {
	idx, err := ReadIndexFile(filepath.Join(dir, IndexFile))
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(dir, MappingFile))
	if err != nil {
		return nil, fmt.Errorf("vindex: read mapping: %w", err)
	}
	var m Mapping
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("vindex: decode mapping: %w", err)
	}
	return NewBundle(idx, m)
}

func writeAtomic(path string, write func(*bufio.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("vindex: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("vindex: flush %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("vindex: sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("vindex: close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("vindex: rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Nearest is Search returning resolved neighbors. It never blocks; ctx is
// accepted so a Bundle can stand in for a remote index.
func (b *Bundle) Nearest(_ context.Context, query []float32, k int) ([]domain.Neighbor, error) {
	hits, ids, err := b.Search(query, k)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Neighbor, len(hits))
	for i, h := range hits {
		out[i] = domain.Neighbor{Row: h.Row, ItemID: ids[i], Distance: h.Distance}
	}
	return out, nil
}
