// Package llm is the generation client: a provider-neutral completion call
// with classified errors, plus rate limiting, circuit breaking and retry.
package llm

import (
	"context"
	"time"

	"github.com/WessleyAI/secrag/engine/domain"
)

// CallConfig parameterizes one completion.
type CallConfig struct {
	Model        string
	Temperature  float64
	Timeout      time.Duration
	MaxTokens    int
	SystemPrompt string
}

// Validate rejects parameters no provider should be sent.
func (c CallConfig) Validate(provider string) error {
	if c.Temperature < 0 || c.Temperature > 1 {
		return InvalidRequest(provider, "temperature %.2f outside [0,1]", c.Temperature)
	}
	if c.MaxTokens < 0 {
		return InvalidRequest(provider, "max tokens %d is negative", c.MaxTokens)
	}
	return nil
}

// Completion is the text a model produced for one prompt.
type Completion struct {
	Text  string
	Usage domain.Usage
	Model string
}

// Completer produces a completion for a prompt. Implementations are safe for
// concurrent use and return *Error for provider failures.
type Completer interface {
	Complete(ctx context.Context, prompt string, cfg CallConfig) (Completion, error)
	Provider() string
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
