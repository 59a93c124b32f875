package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/WessleyAI/secrag/engine/domain"
)

// generator is the part of a langchaingo model the OpenAI completer uses.
type generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// OpenAI completes through langchaingo's OpenAI chat client.
type OpenAI struct {
	llm          generator
	defaultModel string
}

var _ Completer = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI completer. baseURL may point at any
// OpenAI-compatible server.
func NewOpenAI(apiKey, model, baseURL string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, &Error{Kind: KindAuth, Provider: "openai", Cause: fmt.Errorf("missing api key")}
	}
	opts := []openai.Option{openai.WithToken(apiKey)}
	if model != "" {
		opts = append(opts, openai.WithModel(model))
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, Classify("openai", err)
	}
	return &OpenAI{llm: client, defaultModel: model}, nil
}

func (o *OpenAI) Provider() string { return "openai" }

func (o *OpenAI) Complete(ctx context.Context, prompt string, cfg CallConfig) (Completion, error) {
	if err := cfg.Validate("openai"); err != nil {
		return Completion{}, err
	}
	ctx, cancel := withTimeout(ctx, cfg.Timeout)
	defer cancel()

	var msgs []llms.MessageContent
	if cfg.SystemPrompt != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, cfg.SystemPrompt))
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	model := cfg.Model
	if model == "" {
		model = o.defaultModel
	}
	opts := []llms.CallOption{llms.WithTemperature(cfg.Temperature)}
	if model != "" {
		opts = append(opts, llms.WithModel(model))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(cfg.MaxTokens))
	}

	resp, err := o.llm.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return Completion{}, Classify("openai", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Completion{}, &Error{Kind: KindTransient, Provider: "openai", Cause: fmt.Errorf("empty response")}
	}
	choice := resp.Choices[0]
	return Completion{
		Text:  choice.Content,
		Usage: usageFromInfo(choice.GenerationInfo),
		Model: model,
	}, nil
}

func usageFromInfo(info map[string]any) domain.Usage {
	u := domain.Usage{
		PromptTokens:     intFrom(info["PromptTokens"]),
		CompletionTokens: intFrom(info["CompletionTokens"]),
		TotalTokens:      intFrom(info["TotalTokens"]),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

func intFrom(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
