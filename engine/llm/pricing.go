package llm

import (
	"strings"

	"github.com/WessleyAI/secrag/engine/domain"
)

// Price is USD per 1K tokens.
type Price struct {
	Input  float64
	Output float64
}

// FallbackPrice applies to models missing from the table.
var FallbackPrice = Price{Input: 0.01, Output: 0.01}

// Pricing maps model names to prices. Lookups fall back to the longest
// matching prefix, so dated model snapshots share their family's price.
type Pricing map[string]Price

// DefaultPricing holds list prices for the models the CLI offers.
var DefaultPricing = Pricing{
	"gpt-4o":           {Input: 0.0025, Output: 0.01},
	"gpt-4o-mini":      {Input: 0.00015, Output: 0.0006},
	"gpt-4":            {Input: 0.03, Output: 0.06},
	"gpt-4-turbo":      {Input: 0.01, Output: 0.03},
	"gpt-3.5-turbo":    {Input: 0.0005, Output: 0.0015},
	"gemini-2.5-flash": {Input: 0.0003, Output: 0.0025},
	"gemini-2.5-pro":   {Input: 0.00125, Output: 0.01},
	"gemini-1.5-pro":   {Input: 0.00125, Output: 0.005},
}

// Lookup returns the price for model.
func (p Pricing) Lookup(model string) Price {
	if pr, ok := p[model]; ok {
		return pr
	}
	best := ""
	for name := range p {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return p[best]
	}
	return FallbackPrice
}

// Cost returns the USD cost of usage on model.
func (p Pricing) Cost(model string, u domain.Usage) float64 {
	pr := p.Lookup(model)
	if u.PromptTokens == 0 && u.CompletionTokens == 0 {
		return float64(u.TotalTokens) / 1000 * pr.Input
	}
	return float64(u.PromptTokens)/1000*pr.Input + float64(u.CompletionTokens)/1000*pr.Output
}
