package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/WessleyAI/secrag/engine/domain"
)

// Gemini completes through the Gemini API.
type Gemini struct {
	client       *genai.Client
	defaultModel string
}

var _ Completer = (*Gemini)(nil)

// NewGemini creates a Gemini completer.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, &Error{Kind: KindAuth, Provider: "gemini", Cause: fmt.Errorf("missing api key")}
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, Classify("gemini", err)
	}
	return &Gemini{client: client, defaultModel: model}, nil
}

func (g *Gemini) Provider() string { return "gemini" }

func (g *Gemini) Complete(ctx context.Context, prompt string, cfg CallConfig) (Completion, error) {
	if err := cfg.Validate("gemini"); err != nil {
		return Completion{}, err
	}
	ctx, cancel := withTimeout(ctx, cfg.Timeout)
	defer cancel()

	model := cfg.Model
	if model == "" {
		model = g.defaultModel
	}
	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(cfg.Temperature)),
	}
	if cfg.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(cfg.SystemPrompt, genai.RoleUser)
	}
	if cfg.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(cfg.MaxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, gc)
	if err != nil {
		return Completion{}, Classify("gemini", err)
	}
	out := Completion{Text: resp.Text(), Model: model}
	if m := resp.UsageMetadata; m != nil {
		out.Usage = domain.Usage{
			PromptTokens:     int(m.PromptTokenCount),
			CompletionTokens: int(m.CandidatesTokenCount),
			TotalTokens:      int(m.TotalTokenCount),
		}
	}
	return out, nil
}
