// Package embedtest provides deterministic embedders for tests.
package embedtest

import (
	"context"
	"strings"
	"unicode"
)

// Keyword embeds text as term counts over a fixed vocabulary, so texts that
// share words land close together.
type Keyword struct {
	Vocab []string
	// Fail, when set, is consulted before embedding each text.
	Fail func(text string) error
}

// NewKeyword returns a Keyword embedder over vocab.
func NewKeyword(vocab ...string) *Keyword { return &Keyword{Vocab: vocab} }

func (k *Keyword) Name() string { return "keyword" }

func (k *Keyword) Embed(_ context.Context, text string) ([]float32, error) {
	if k.Fail != nil {
		if err := k.Fail(text); err != nil {
			return nil, err
		}
	}
	counts := map[string]int{}
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		counts[w]++
	}
	v := make([]float32, len(k.Vocab))
	for i, w := range k.Vocab {
		v[i] = float32(counts[w])
	}
	return v, nil
}

func (k *Keyword) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := k.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
