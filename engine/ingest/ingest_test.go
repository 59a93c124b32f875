package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/secrag/engine/domain"
	"github.com/WessleyAI/secrag/engine/embed/embedtest"
	"github.com/WessleyAI/secrag/engine/langdetect"
	"github.com/WessleyAI/secrag/engine/records"
	"github.com/WessleyAI/secrag/engine/semantic"
	"github.com/WessleyAI/secrag/engine/vindex"
	"github.com/WessleyAI/secrag/pkg/fn"
	"github.com/WessleyAI/secrag/pkg/metrics"
	"github.com/WessleyAI/secrag/pkg/repo/repotest"
)

var corpus = []domain.Item{
	{ID: 0, Prompt: "sql injection in python", VulnerableCode: "def q(c, uid): c.execute('SELECT * FROM u WHERE id=' + uid)"},
	{ID: 1, Prompt: "xss in javascript", VulnerableCode: "document.write(location.hash)"},
	{ID: 2, Prompt: "path traversal in java", SecureCode: "public class Safe {}"},
}

var vocab = []string{"sql", "injection", "python", "xss", "javascript", "path", "traversal", "java"}

type fakeMirror struct {
	mu       sync.Mutex
	dims     int
	records  []semantic.Record
	failWith error
}

func (m *fakeMirror) Recreate(_ context.Context, dims int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dims = dims
	m.records = nil
	return m.failWith
}

func (m *fakeMirror) Upsert(_ context.Context, recs []semantic.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, recs...)
	return nil
}

func (m *fakeMirror) Validate(_ context.Context, want int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) != want {
		return &domain.IndexMappingMismatchError{IndexRows: len(m.records), MappingRows: want}
	}
	return nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newPipeline(t *testing.T, deps Deps) (*Pipeline, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "bundle")
	if deps.Embedder == nil {
		deps.Embedder = embedtest.NewKeyword(vocab...)
	}
	if deps.Store == nil {
		deps.Store = records.NewNeo4j(repotest.New(), nil)
	}
	deps.Logger = quietLogger()
	opts := DefaultOptions(dir)
	opts.EmbedBatch = 2
	opts.StoreBatch = 2
	opts.Retry = fn.RetryOpts{MaxAttempts: 2}
	return New(deps, opts), dir
}

func TestRunBuildsBundleAndStore(t *testing.T) {
	ctx := context.Background()
	store := records.NewNeo4j(repotest.New(), nil)
	reg := metrics.New()
	p, dir := newPipeline(t, Deps{Store: store, Metrics: reg})

	sum, err := p.Run(ctx, corpus)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TotalPrompts)
	assert.Equal(t, int64(3), sum.RecordsInserted)
	assert.Equal(t, len(vocab), sum.Dim)
	assert.Equal(t, filepath.Join(dir, vindex.IndexFile), sum.IndexFile)
	assert.Equal(t, filepath.Join(dir, vindex.MappingFile), sum.MappingFile)
	assert.Equal(t, int64(3), reg.Counter("secrag_ingest_items_total", "").Value())

	b, err := vindex.LoadBundle(dir)
	require.NoError(t, err)
	assert.Equal(t, sum.BuildID, b.Index.BuildID().String())

	q, err := embedtest.NewKeyword(vocab...).Embed(ctx, "xss in javascript")
	require.NoError(t, err)
	nn, err := b.Nearest(ctx, q, 1)
	require.NoError(t, err)
	require.Len(t, nn, 1)
	assert.Equal(t, int64(1), nn[0].ItemID)
	assert.Zero(t, nn[0].Distance)

	got, ok, err := store.Get(ctx, nn[0].ItemID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, corpus[1], got)
}

func TestRunReplacesPreviousRecords(t *testing.T) {
	ctx := context.Background()
	store := records.NewNeo4j(repotest.New(), nil)
	p, _ := newPipeline(t, Deps{Store: store})

	_, err := p.Run(ctx, corpus)
	require.NoError(t, err)
	sum, err := p.Run(ctx, corpus[:1])
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.RecordsInserted)

	_, ok, err := store.Get(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunRejectsInvalidCorpus(t *testing.T) {
	p, dir := newPipeline(t, Deps{})
	bad := append([]domain.Item(nil), corpus...)
	bad[1].Prompt = "  "

	_, err := p.Run(context.Background(), bad)
	require.ErrorIs(t, err, domain.ErrSetup)
	require.ErrorIs(t, err, domain.ErrEmptyPrompt)
	_, statErr := os.Stat(filepath.Join(dir, vindex.IndexFile))
	assert.True(t, os.IsNotExist(statErr))
}

type failingEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (f *failingEmbedder) Name() string { return "failing" }

func (f *failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("unreachable")
}

func (f *failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return nil, errors.New("connection refused")
}

func TestRunRetriesThenFailsEmbedding(t *testing.T) {
	emb := &failingEmbedder{}
	p, _ := newPipeline(t, Deps{Embedder: emb})

	_, err := p.Run(context.Background(), corpus)
	require.ErrorIs(t, err, domain.ErrSetup)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 2, emb.calls)
}

func TestRunMirrorsWithLanguageTags(t *testing.T) {
	mirror := &fakeMirror{}
	p, _ := newPipeline(t, Deps{Mirror: mirror, Languages: langdetect.Code{}})

	sum, err := p.Run(context.Background(), corpus)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.MirroredPoints)
	assert.Equal(t, len(vocab), mirror.dims)
	require.Len(t, mirror.records, 3)

	langs := map[int64]domain.Language{}
	for _, r := range mirror.records {
		langs[r.ItemID] = r.Language
		assert.Equal(t, mirror.records[0].BuildID, r.BuildID)
	}
	assert.NotEmpty(t, mirror.records[0].BuildID, "points carry the index build id")
	assert.Equal(t, domain.LangPython, langs[0])
	assert.Equal(t, domain.LangJavaScript, langs[1])
	assert.Equal(t, domain.LangJava, langs[2])
}

func TestRunMirrorFailureAborts(t *testing.T) {
	boom := errors.New("qdrant unavailable")
	p, _ := newPipeline(t, Deps{Mirror: &fakeMirror{failWith: boom}})
	_, err := p.Run(context.Background(), corpus)
	require.ErrorIs(t, err, boom)
}

func TestRunEmptyCorpus(t *testing.T) {
	p, dir := newPipeline(t, Deps{Mirror: &fakeMirror{}})
	sum, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, sum.TotalPrompts)
	assert.Zero(t, sum.MirroredPoints)

	b, err := vindex.LoadBundle(dir)
	require.NoError(t, err)
	assert.Zero(t, b.Index.Len())
}

func TestReadDatasetAssignsPositionalIDs(t *testing.T) {
	raw := `[{"prompt":"a","vulnerable_code":"x"},{"prompt":"b","secure_code":"<div>"}]`
	items, err := ReadDataset(strings.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, domain.Item{ID: 1, Prompt: "b", SecureCode: "<div>"}, items[1])

	_, err = ReadDataset(strings.NewReader(`{"prompt":"a"}`))
	require.Error(t, err)
}

func TestWriteDatasetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filtered.json")
	items := []domain.Item{{ID: 9, Prompt: "xss", VulnerableCode: "<div>" + "&"}}
	require.NoError(t, WriteDataset(path, items))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(raw, []byte("<div>&")), "html must not be escaped")
	assert.True(t, bytes.HasPrefix(raw, []byte("[\n  {")))

	back, err := LoadDataset(path)
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, int64(0), back[0].ID)
	assert.Equal(t, items[0].VulnerableCode, back[0].VulnerableCode)
}

func TestLoadDatasetMissingFile(t *testing.T) {
	_, err := LoadDataset(filepath.Join(t.TempDir(), "nope.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
