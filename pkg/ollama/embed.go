// Package ollama is a small client for Ollama's embedding endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency bounds in-flight requests in EmbedBatch.
const DefaultBatchConcurrency = 4

// EmbedClient embeds text through Ollama's HTTP API.
type EmbedClient struct {
	baseURL     string
	model       string
	client      *http.Client
	concurrency int
}

// Option configures an EmbedClient.
type Option func(*EmbedClient)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *EmbedClient) { e.client = c }
}

// WithConcurrency sets how many requests EmbedBatch keeps in flight.
func WithConcurrency(n int) Option {
	return func(e *EmbedClient) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// NewEmbedClient creates an Ollama embedding client.
func NewEmbedClient(baseURL, model string, opts ...Option) *EmbedClient {
	c := &EmbedClient{
		baseURL:     baseURL,
		model:       model,
		client:      &http.Client{Timeout: 60 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		concurrency: DefaultBatchConcurrency,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name identifies the provider and model.
func (c *EmbedClient) Name() string { return "ollama/" + c.model }

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the embedding for text.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedReq{Model: c.model, Prompt: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}

	var result ollamaEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama embed decode: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embed: empty embedding for model %s", c.model)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// EmbedBatch embeds texts concurrently, preserving order. The first failure
// cancels the rest.
func (c *EmbedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, text := range texts {
		g.Go(func() error {
			v, err := c.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("embed batch [%d]: %w", i, err)
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// StatusError is a non-200 response from Ollama.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ollama embed: status %d", e.Code)
	}
	return fmt.Sprintf("ollama embed: status %d: %s", e.Code, e.Body)
}
