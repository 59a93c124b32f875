package rag

import (
	"context"
	"errors"

	"github.com/WessleyAI/secrag/engine/domain"
	"github.com/WessleyAI/secrag/engine/embed"
	"github.com/WessleyAI/secrag/engine/langdetect"
	"github.com/WessleyAI/secrag/engine/records"
	"github.com/WessleyAI/secrag/engine/vindex"
)

// Searcher returns the k nearest neighbors of a query vector, already
// resolved to item ids. Both the local bundle and the Qdrant store qualify.
type Searcher interface {
	Nearest(ctx context.Context, query []float32, k int) ([]domain.Neighbor, error)
}

// FilteredSearcher narrows the search to points whose payload matches every
// filter. The Qdrant store qualifies.
type FilteredSearcher interface {
	NearestFiltered(ctx context.Context, query []float32, k int, filters map[string]string) ([]domain.Neighbor, error)
}

var _ Searcher = (*vindex.Bundle)(nil)

// languageKey is the payload key the mirror stores the item language under.
const languageKey = "language"

// Retrieved is the context gathered for one query.
type Retrieved struct {
	// Source is the record the code came from.
	Source   domain.Item
	Neighbor domain.Neighbor
	Code     string
}

// Retriever finds the vulnerable code to rewrite for a query. Failures are
// *domain.SkipError values whose Index the loop fills in.
type Retriever interface {
	Retrieve(ctx context.Context, q domain.Item) (Retrieved, error)
}

func skip(reason domain.SkipReason, err error) error {
	return domain.NewSkipError(-1, reason, err)
}

// IndexRetriever embeds the prompt, takes the best of TopK neighbors and
// fetches its record.
type IndexRetriever struct {
	Embedder embed.Embedder
	Searcher Searcher
	Store    records.Store
	TopK     int
	// PromptLanguage, when set and Searcher is a FilteredSearcher, restricts
	// the search to items tagged with the prompt's language. A filtered search
	// with no hits falls back to the unfiltered one.
	PromptLanguage langdetect.Classifier
}

func (r *IndexRetriever) Retrieve(ctx context.Context, q domain.Item) (Retrieved, error) {
	vec, err := r.Embedder.Embed(ctx, q.Prompt)
	if err != nil {
		return Retrieved{}, skip(domain.SkipEmbed, err)
	}
	k := r.TopK
	if k <= 0 {
		k = 1
	}
	hits, err := r.search(ctx, q.Prompt, vec, k)
	switch {
	case errors.Is(err, vindex.ErrRowOutOfRange), errors.Is(err, domain.ErrIndexMapping):
		return Retrieved{}, skip(domain.SkipResolve, err)
	case err != nil:
		return Retrieved{}, skip(domain.SkipSearch, err)
	case len(hits) == 0:
		return Retrieved{}, skip(domain.SkipAbsent, errors.New("index is empty"))
	}
	best := hits[0]

	it, ok, err := r.Store.Get(ctx, best.ItemID)
	if err != nil {
		return Retrieved{}, skip(domain.SkipStore, err)
	}
	if !ok {
		return Retrieved{}, skip(domain.SkipAbsent, nil)
	}
	if it.VulnerableCode == "" {
		return Retrieved{}, skip(domain.SkipAbsent, errors.New("record has no vulnerable code"))
	}
	return Retrieved{Source: it, Neighbor: best, Code: it.VulnerableCode}, nil
}

func (r *IndexRetriever) search(ctx context.Context, prompt string, vec []float32, k int) ([]domain.Neighbor, error) {
	fs, ok := r.Searcher.(FilteredSearcher)
	if !ok || r.PromptLanguage == nil {
		return r.Searcher.Nearest(ctx, vec, k)
	}
	lang, err := r.PromptLanguage.Classify(ctx, prompt)
	if err != nil || lang == domain.LangUnknown || lang == "" {
		return r.Searcher.Nearest(ctx, vec, k)
	}
	hits, err := fs.NearestFiltered(ctx, vec, k, map[string]string{languageKey: string(lang)})
	if err != nil || len(hits) > 0 {
		return hits, err
	}
	return r.Searcher.Nearest(ctx, vec, k)
}

// DirectRetriever uses the query's own vulnerable code, for runs without
// retrieval.
type DirectRetriever struct{}

func (DirectRetriever) Retrieve(_ context.Context, q domain.Item) (Retrieved, error) {
	if q.VulnerableCode == "" {
		return Retrieved{}, skip(domain.SkipAbsent, nil)
	}
	return Retrieved{Source: q, Neighbor: domain.Neighbor{Row: -1, ItemID: q.ID}, Code: q.VulnerableCode}, nil
}
