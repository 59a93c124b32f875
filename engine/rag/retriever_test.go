package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/secrag/engine/domain"
	"github.com/WessleyAI/secrag/engine/langdetect"
	"github.com/WessleyAI/secrag/engine/vindex"
)

// taggedBundle serves filtered searches over a local bundle from a fixed
// item language table, the way the Qdrant mirror does from its payload.
type taggedBundle struct {
	*vindex.Bundle
	langs   map[int64]domain.Language
	filters []map[string]string
}

func (b *taggedBundle) NearestFiltered(ctx context.Context, q []float32, k int, filters map[string]string) ([]domain.Neighbor, error) {
	b.filters = append(b.filters, filters)
	all, err := b.Nearest(ctx, q, b.Index.Len())
	if err != nil {
		return nil, err
	}
	var out []domain.Neighbor
	for _, n := range all {
		if string(b.langs[n.ItemID]) == filters[languageKey] && len(out) < k {
			out = append(out, n)
		}
	}
	return out, nil
}

func fixedLanguage(l domain.Language) langdetect.Classifier {
	return langdetect.ClassifierFunc(func(context.Context, string) (domain.Language, error) { return l, nil })
}

func TestIndexRetrieverFiltersByPromptLanguage(t *testing.T) {
	k := newKB(t, corpus, corpus)
	tagged := &taggedBundle{Bundle: k.bundle, langs: map[int64]domain.Language{
		0: domain.LangPython, 1: domain.LangJavaScript, 2: domain.LangJava,
	}}
	q := domain.Item{ID: 9, Prompt: "sql injection in python"}

	for _, tc := range []struct {
		name     string
		lang     domain.Language
		want     int64
		filtered bool
	}{
		{"matching tag wins over closer prompt", domain.LangJava, 2, true},
		{"unknown language searches everything", domain.LangUnknown, 0, false},
		{"no tagged items falls back", domain.LangSQL, 0, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tagged.filters = nil
			r := k.retriever()
			r.Searcher = tagged
			r.PromptLanguage = fixedLanguage(tc.lang)

			got, err := r.Retrieve(context.Background(), q)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Source.ID)
			if tc.filtered {
				require.Len(t, tagged.filters, 1)
				assert.Equal(t, string(tc.lang), tagged.filters[0][languageKey])
			} else {
				assert.Empty(t, tagged.filters)
			}
		})
	}
}

func TestIndexRetrieverIgnoresClassifierWithoutFilteredSearcher(t *testing.T) {
	k := newKB(t, corpus, corpus)
	r := k.retriever()
	r.PromptLanguage = fixedLanguage(domain.LangJava)

	got, err := r.Retrieve(context.Background(), domain.Item{Prompt: "sql injection in python"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Source.ID)
}
