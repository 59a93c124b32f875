package langdetect

import (
	"context"

	"github.com/WessleyAI/secrag/engine/domain"
)

// FilterStats summarizes a Filter run.
type FilterStats struct {
	Total    int                     `json:"total"`
	Kept     int                     `json:"kept"`
	ByReason map[string]int          `json:"by_reason"`
	ByLang   map[domain.Language]int `json:"by_language"`
}

// Filter keeps items whose prompt names the same known language as their code.
// The code checked is the vulnerable code, or the secure code when the former
// is empty.
func Filter(ctx context.Context, items []domain.Item, prompts, code Classifier) ([]domain.Item, FilterStats, error) {
	stats := FilterStats{Total: len(items), ByReason: map[string]int{}, ByLang: map[domain.Language]int{}}
	var kept []domain.Item
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		pl, err := prompts.Classify(ctx, it.Prompt)
		if err != nil {
			return nil, stats, err
		}
		src := it.VulnerableCode
		if src == "" {
			src = it.SecureCode
		}
		cl, err := code.Classify(ctx, src)
		if err != nil {
			return nil, stats, err
		}
		switch {
		case pl == domain.LangUnknown:
			stats.ByReason["prompt_unknown"]++
		case pl != cl:
			stats.ByReason["mismatch"]++
		default:
			kept = append(kept, it)
			stats.ByLang[pl]++
		}
	}
	stats.Kept = len(kept)
	return kept, stats, nil
}
