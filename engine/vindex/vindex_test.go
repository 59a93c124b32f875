package vindex

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/secrag/engine/domain"
)

func randomVectors(n, dim int, seed int64) [][]float32 {
	r := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, dim)
		for j := range out[i] {
			out[i][j] = r.Float32()*2 - 1
		}
	}
	return out
}

func TestSearchSelfNeighbor(t *testing.T) {
	vecs := randomVectors(50, 16, 1)
	idx, err := Build(vecs)
	require.NoError(t, err)

	for i, v := range vecs {
		hits, err := idx.Search(v, 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, i, hits[0].Row)
		assert.Zero(t, hits[0].Distance)
	}
}

func TestSearchOrderAndTies(t *testing.T) {
	idx, err := Build([][]float32{{2, 0}, {1, 0}, {0, 1}, {1, 0}})
	require.NoError(t, err)

	hits, err := idx.Search([]float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 4)
	assert.Equal(t, []int{1, 3, 0, 2}, []int{hits[0].Row, hits[1].Row, hits[2].Row, hits[3].Row})
	assert.Equal(t, float32(1), hits[2].Distance)
	assert.Equal(t, float32(2), hits[3].Distance)

	top2, err := idx.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, hits[:2], top2)
}

func TestSearchEdgeCases(t *testing.T) {
	idx, err := Build([][]float32{{1, 2, 3}})
	require.NoError(t, err)

	hits, err := idx.Search([]float32{1, 2, 3}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = idx.Search([]float32{1, 2}, 1)
	var dm *domain.DimensionMismatchError
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 3, dm.Want)
	assert.Equal(t, 2, dm.Got)

	empty, err := Build(nil)
	require.NoError(t, err)
	hits, err = empty.Search([]float32{1}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBuildRejectsRaggedInput(t *testing.T) {
	_, err := Build([][]float32{{1, 2}, {1, 2, 3}})
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)

	_, err = Build([][]float32{{}})
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestIndexFileRoundTrip(t *testing.T) {
	vecs := randomVectors(40, 8, 2)
	idx, err := Build(vecs)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteIndex(&buf, idx))
	loaded, err := ReadIndex(&buf)
	require.NoError(t, err)

	assert.Equal(t, idx.Len(), loaded.Len())
	assert.Equal(t, idx.Dim(), loaded.Dim())
	assert.Equal(t, idx.BuildID(), loaded.BuildID())

	queries := randomVectors(10, 8, 3)
	for _, q := range queries {
		want, err := idx.Search(q, 5)
		require.NoError(t, err)
		got, err := loaded.Search(q, 5)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestReadIndexRejectsCorruption(t *testing.T) {
	idx, err := Build(randomVectors(4, 4, 4))
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteIndex(&buf, idx))
	raw := buf.Bytes()

	bad := bytes.Clone(raw)
	bad[0] = 'X'
	_, err = ReadIndex(bytes.NewReader(bad))
	assert.ErrorIs(t, err, ErrBadMagic)

	// Header CRC lives at the end of the fixed header.
	bad = bytes.Clone(raw)
	bad[4+2+2+4+4+16] ^= 0xff
	_, err = ReadIndex(bytes.NewReader(bad))
	assert.ErrorIs(t, err, ErrBadChecksum)

	bad = bytes.Clone(raw)
	bad[4] = 9
	_, err = ReadIndex(bytes.NewReader(bad))
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestReadIndexBoundsBodyByHeader(t *testing.T) {
	idx, err := Build(randomVectors(1000, 64, 5))
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteIndex(&buf, idx))
	bad := bytes.Clone(buf.Bytes())
	// Claim a single row; the stream still holds a thousand.
	binary.LittleEndian.PutUint32(bad[4+2+2+4:], 1)

	_, err = ReadIndex(bytes.NewReader(bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "body has 257 bytes, want 256")
}

func TestMappingResolve(t *testing.T) {
	m := Mapping{IDs: []int64{7, 3, 11}}
	id, err := m.Resolve(2)
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)

	_, err = m.Resolve(3)
	assert.ErrorIs(t, err, ErrRowOutOfRange)
	_, err = m.Resolve(-1)
	assert.ErrorIs(t, err, ErrRowOutOfRange)

	ident := Identity(uuid.Nil, 3)
	assert.Equal(t, []int64{0, 1, 2}, ident.IDs)
}

func TestBundleRoundTrip(t *testing.T) {
	dir := t.TempDir()
	vecs := randomVectors(5, 4, 5)
	idx, err := Build(vecs)
	require.NoError(t, err)
	require.NoError(t, SaveBundle(dir, idx, Identity(idx.BuildID(), idx.Len())))

	b, err := LoadBundle(dir)
	require.NoError(t, err)
	hits, ids, err := b.Search(vecs[3], 1)
	require.NoError(t, err)
	assert.Equal(t, 3, hits[0].Row)
	assert.Equal(t, int64(3), ids[0])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temporary files must not be left behind")
}

func TestLoadBundleMappingShorterThanIndex(t *testing.T) {
	dir := t.TempDir()
	idx, err := Build(randomVectors(3, 4, 6))
	require.NoError(t, err)
	require.NoError(t, SaveBundle(dir, idx, Identity(idx.BuildID(), 3)))

	short := Mapping{BuildID: idx.BuildID(), IDs: []int64{0, 1}}
	raw, err := json.Marshal(short)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, MappingFile), raw, 0o644))

	_, err = LoadBundle(dir)
	var mm *domain.IndexMappingMismatchError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, 3, mm.IndexRows)
	assert.Equal(t, 2, mm.MappingRows)
}

func TestNewBundleBuildMismatch(t *testing.T) {
	idx, err := Build(randomVectors(2, 2, 7))
	require.NoError(t, err)
	_, err = NewBundle(idx, Identity(uuid.New(), 2))
	assert.ErrorIs(t, err, domain.ErrIndexMapping)

	// SaveBundle refuses to write a pair that could never load.
	assert.ErrorIs(t, SaveBundle(t.TempDir(), idx, Identity(uuid.New(), 2)), domain.ErrIndexMapping)
}

func TestEmptyBundleRoundTrip(t *testing.T) {
	dir := t.TempDir()
	idx, err := Build(nil)
	require.NoError(t, err)
	require.NoError(t, SaveBundle(dir, idx, Identity(idx.BuildID(), 0)))
	b, err := LoadBundle(dir)
	require.NoError(t, err)
	assert.Zero(t, b.Index.Len())
}

func TestBundleNearestResolvesThroughMapping(t *testing.T) {
	idx, err := Build([][]float32{{0, 0}, {5, 5}, {9, 9}})
	require.NoError(t, err)
	b, err := NewBundle(idx, Mapping{BuildID: idx.BuildID(), IDs: []int64{30, 10, 20}})
	require.NoError(t, err)

	got, err := b.Nearest(context.Background(), []float32{5, 5}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.Neighbor{Row: 1, ItemID: 10, Distance: 0}, got[0])
	assert.Equal(t, int64(20), got[1].ItemID)
}
