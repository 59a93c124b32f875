// Package ingest builds the knowledge base: it embeds every dataset prompt,
// persists the vector index with its identifier mapping, and mirrors the
// records into the record store (and optionally a Qdrant collection).
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/WessleyAI/secrag/engine/domain"
	"github.com/WessleyAI/secrag/engine/embed"
	"github.com/WessleyAI/secrag/engine/langdetect"
	"github.com/WessleyAI/secrag/engine/records"
	"github.com/WessleyAI/secrag/engine/semantic"
	"github.com/WessleyAI/secrag/engine/vindex"
	"github.com/WessleyAI/secrag/pkg/fn"
	"github.com/WessleyAI/secrag/pkg/metrics"
)

const (
	// EmbedBatchSize is the number of prompts per embedding request.
	EmbedBatchSize = 64
	// StoreBatchSize is the number of records per write transaction.
	StoreBatchSize = 500
)

// Mirror is a remote vector collection kept in step with the local index.
type Mirror interface {
	Recreate(ctx context.Context, dims int) error
	Upsert(ctx context.Context, records []semantic.Record) error
	Validate(ctx context.Context, want int) error
}

var _ Mirror = (*semantic.VectorStore)(nil)

// Deps holds the external dependencies of the pipeline. Mirror, Languages
// and Metrics are optional.
type Deps struct {
	Embedder  embed.Embedder
	Store     records.Store
	Mirror    Mirror
	Languages langdetect.Classifier
	Metrics   *metrics.Registry
	Logger    *slog.Logger
}

// Options tune a run.
type Options struct {
	IndexDir   string
	EmbedBatch int
	StoreBatch int
	Retry      fn.RetryOpts
}

// DefaultOptions returns options writing the bundle into dir.
func DefaultOptions(dir string) Options {
	return Options{
		IndexDir:   dir,
		EmbedBatch: EmbedBatchSize,
		StoreBatch: StoreBatchSize,
		Retry: fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: 500 * time.Millisecond,
			MaxWait:     5 * time.Second,
			Jitter:      true,
		},
	}
}

// Summary describes a finished ingestion.
type Summary struct {
	BuildID         string        `json:"build_id"`
	TotalPrompts    int           `json:"total_prompts"`
	Dim             int           `json:"dim"`
	IndexFile       string        `json:"index_file"`
	MappingFile     string        `json:"mapping_file"`
	RecordsInserted int64         `json:"records_inserted"`
	MirroredPoints  int           `json:"mirrored_points,omitempty"`
	Duration        time.Duration `json:"-"`
}

// batch is the state carried through the stages.
type batch struct {
	items   []domain.Item
	vectors [][]float32
	index   *vindex.Flat
	mapping vindex.Mapping
	stored  int64
	mirror  int
}

// Pipeline runs ingestion. Build one with New.
type Pipeline struct {
	deps  Deps
	opts  Options
	log   *slog.Logger
	run   fn.Stage[*batch, *batch]
	items *metrics.Counter
}

// New wires the pipeline stages.
func New(deps Deps, opts Options) *Pipeline {
	if opts.EmbedBatch <= 0 {
		opts.EmbedBatch = EmbedBatchSize
	}
	if opts.StoreBatch <= 0 {
		opts.StoreBatch = StoreBatchSize
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	reg := deps.Metrics
	if reg == nil {
		reg = metrics.New()
	}
	p := &Pipeline{
		deps:  deps,
		opts:  opts,
		log:   log,
		items: reg.Counter("secrag_ingest_items_total", "Items written by ingestion."),
	}

	stage := func(name string, s fn.Stage[*batch, *batch]) fn.Stage[*batch, *batch] {
		h := reg.Histogram(metrics.WithLabels("secrag_ingest_stage_seconds", "stage", name), "Ingestion stage duration.", nil)
		timed := func(ctx context.Context, b *batch) fn.Result[*batch] {
			start := time.Now()
			defer func() { h.ObserveDuration(time.Since(start)) }()
			return s(ctx, b)
		}
		return fn.TracedStage("ingest."+name, fn.LoggedStage(log, name, timed))
	}

	p.run = fn.Then(stage("validate", p.validate),
		fn.Then(stage("embed", p.embed),
			fn.Then(stage("index", p.buildIndex),
				fn.Then(stage("persist", p.persist), stage("store", p.store)))))
	return p
}

// Run ingests items. Any failure aborts the run as a setup error; a store or
// mirror left half written is rebuilt by the next run.
func (p *Pipeline) Run(ctx context.Context, items []domain.Item) (Summary, error) {
	start := time.Now()
	b, err := p.run(ctx, &batch{items: items}).Unwrap()
	if err != nil {
		return Summary{}, domain.SetupError("ingest", err)
	}
	p.items.Add(int64(len(b.items)))
	s := Summary{
		BuildID:         b.index.BuildID().String(),
		TotalPrompts:    len(b.items),
		Dim:             b.index.Dim(),
		IndexFile:       filepath.Join(p.opts.IndexDir, vindex.IndexFile),
		MappingFile:     filepath.Join(p.opts.IndexDir, vindex.MappingFile),
		RecordsInserted: b.stored,
		MirroredPoints:  b.mirror,
		Duration:        time.Since(start),
	}
	p.log.Info("ingest complete",
		"prompts", s.TotalPrompts,
		"dim", s.Dim,
		"records", s.RecordsInserted,
		"index", s.IndexFile,
		"mapping", s.MappingFile,
		"duration", s.Duration,
	)
	return s, nil
}

func (p *Pipeline) validate(_ context.Context, b *batch) fn.Result[*batch] {
	if err := domain.ValidateCorpus(b.items); err != nil {
		return fn.Err[*batch](err)
	}
	return fn.Ok(b)
}

func (p *Pipeline) embed(ctx context.Context, b *batch) fn.Result[*batch] {
	texts := fn.Map(b.items, func(it domain.Item) string { return it.Prompt })
	embedBatch := fn.RetryStage(p.opts.Retry, func(ctx context.Context, chunk []string) fn.Result[[][]float32] {
		vs, err := p.deps.Embedder.EmbedBatch(ctx, chunk)
		return fn.FromPair(vs, err)
	})

	vectors := make([][]float32, 0, len(texts))
	for _, chunk := range fn.Chunk(texts, p.opts.EmbedBatch) {
		vs, err := embedBatch(ctx, chunk).Unwrap()
		if err != nil {
			return fn.Errf[*batch]("embed %s: %w", p.deps.Embedder.Name(), err)
		}
		if len(vs) != len(chunk) {
			return fn.Errf[*batch]("embed %s: got %d vectors for %d prompts", p.deps.Embedder.Name(), len(vs), len(chunk))
		}
		vectors = append(vectors, vs...)
		p.log.Debug("embedded", "done", len(vectors), "total", len(texts))
	}
	b.vectors = vectors
	return fn.Ok(b)
}

func (p *Pipeline) buildIndex(_ context.Context, b *batch) fn.Result[*batch] {
	idx, err := vindex.Build(b.vectors)
	if err != nil {
		return fn.Err[*batch](err)
	}
	ids := fn.Map(b.items, func(it domain.Item) int64 { return it.ID })
	b.index = idx
	b.mapping = vindex.Mapping{BuildID: idx.BuildID(), IDs: ids}
	return fn.Ok(b)
}

func (p *Pipeline) persist(_ context.Context, b *batch) fn.Result[*batch] {
	if err := vindex.SaveBundle(p.opts.IndexDir, b.index, b.mapping); err != nil {
		return fn.Err[*batch](err)
	}
	return fn.Ok(b)
}

// store rewrites the record store and, concurrently, the mirror.
func (p *Pipeline) store(ctx context.Context, b *batch) fn.Result[*batch] {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.writeRecords(gctx, b) })
	if p.deps.Mirror != nil && len(b.items) > 0 {
		g.Go(func() error { return p.writeMirror(gctx, b) })
	}
	if err := g.Wait(); err != nil {
		return fn.Err[*batch](err)
	}
	return fn.Ok(b)
}

func (p *Pipeline) writeRecords(ctx context.Context, b *batch) error {
	st := p.deps.Store
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if err := st.Clear(ctx); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	for _, chunk := range fn.Chunk(b.items, p.opts.StoreBatch) {
		if err := st.Put(ctx, chunk...); err != nil {
			return fmt.Errorf("put: %w", err)
		}
	}
	n, err := st.Verify(ctx)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if n != int64(len(b.items)) {
		return fmt.Errorf("verify: store holds %d records, wrote %d", n, len(b.items))
	}
	b.stored = n
	return nil
}

func (p *Pipeline) writeMirror(ctx context.Context, b *batch) error {
	m := p.deps.Mirror
	if err := m.Recreate(ctx, b.index.Dim()); err != nil {
		return err
	}
	build := b.index.BuildID().String()
	recs := make([]semantic.Record, len(b.items))
	for row, it := range b.items {
		recs[row] = semantic.Record{
			Row:       row,
			ItemID:    it.ID,
			Embedding: b.vectors[row],
			Prompt:    it.Prompt,
			Language:  p.language(ctx, it),
			BuildID:   build,
		}
	}
	for _, chunk := range fn.Chunk(recs, p.opts.StoreBatch) {
		if err := m.Upsert(ctx, chunk); err != nil {
			return err
		}
	}
	if err := m.Validate(ctx, len(recs)); err != nil {
		return err
	}
	b.mirror = len(recs)
	return nil
}

func (p *Pipeline) language(ctx context.Context, it domain.Item) domain.Language {
	if p.deps.Languages == nil {
		return ""
	}
	code := it.VulnerableCode
	if code == "" {
		code = it.SecureCode
	}
	lang, err := p.deps.Languages.Classify(ctx, code)
	if err != nil {
		p.log.Warn("language tag failed", "item_id", it.ID, "error", err)
		return domain.LangUnknown
	}
	return lang
}
