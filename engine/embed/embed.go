// Package embed turns prompts into vectors. Every provider returns vectors of
// a fixed dimension for a given model; the index rejects anything else.
package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/WessleyAI/secrag/pkg/ollama"
)

// Embedder maps text to a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// Provider names accepted by New.
const (
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

var ErrUnknownProvider = errors.New("embed: unknown provider")

// Config selects and configures a provider.
type Config struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Concurrency int
}

var _ Embedder = (*ollama.EmbedClient)(nil)

// New builds the embedder named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case ProviderOllama, "":
		base := cfg.BaseURL
		if base == "" {
			base = "http://localhost:11434"
		}
		return ollama.NewEmbedClient(base, cfg.Model, ollama.WithConcurrency(cfg.Concurrency)), nil
	case ProviderGemini:
		return NewGemini(ctx, cfg.APIKey, cfg.Model)
	case ProviderOpenAI:
		return NewOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
}
