package embed

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAI embeds through langchaingo's OpenAI client.
type OpenAI struct {
	embedder *embeddings.EmbedderImpl
	model    string
}

// NewOpenAI creates an OpenAI embedder. baseURL may point at any
// OpenAI-compatible server.
func NewOpenAI(apiKey, model, baseURL string) (*OpenAI, error) {
	if model == "" {
		model = "text-embedding-3-small"
	}
	opts := []openai.Option{openai.WithToken(apiKey), openai.WithEmbeddingModel(model)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("embed: openai client: %w", err)
	}
	e, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(256))
	if err != nil {
		return nil, fmt.Errorf("embed: openai embedder: %w", err)
	}
	return &OpenAI{embedder: e, model: model}, nil
}

func (o *OpenAI) Name() string { return "openai/" + o.model }

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := o.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: openai: %w", err)
	}
	return v, nil
}

func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vs, err := o.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed: openai: %w", err)
	}
	return vs, nil
}
