package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/WessleyAI/secrag/engine/domain"
	"github.com/WessleyAI/secrag/pkg/fn"
	"github.com/WessleyAI/secrag/pkg/resilience"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		in   error
		want Kind
	}{
		{errors.New("API returned unexpected status code: 429: Rate limit reached"), KindRateLimit},
		{errors.New("Error 429, Message: quota, Status: RESOURCE_EXHAUSTED"), KindRateLimit},
		{errors.New("status code: 401: invalid api key"), KindAuth},
		{errors.New("status code: 503: service unavailable"), KindTransient},
		{errors.New("dial tcp: connection refused"), KindTransient},
		{errors.New("unexpected EOF"), KindTransient},
		{errors.New("status code: 400: bad request"), KindInvalidRequest},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), KindTransient},
		{errors.New("something odd"), KindUnknown},
	}
	for _, tt := range tests {
		got := Classify("openai", tt.in)
		assert.Equal(t, tt.want, KindOf(got), tt.in.Error())
		assert.ErrorIs(t, got, tt.in, "cause must stay in the chain")
	}

	assert.NoError(t, Classify("x", nil))
	assert.ErrorIs(t, Classify("x", context.Canceled), context.Canceled)
	assert.Equal(t, KindUnknown, KindOf(Classify("x", context.Canceled)))

	already := &Error{Kind: KindAuth, Provider: "p"}
	assert.Same(t, already, Classify("q", already))
}

func TestErrorSentinelsAndRetryable(t *testing.T) {
	rl := &Error{Kind: KindRateLimit, Provider: "openai"}
	tr := &Error{Kind: KindTransient, Provider: "openai"}
	bad := &Error{Kind: KindInvalidRequest, Provider: "openai"}

	assert.ErrorIs(t, rl, ErrRateLimit)
	assert.ErrorIs(t, tr, ErrTransientNetwork)
	assert.ErrorIs(t, bad, ErrInvalidRequest)
	assert.NotErrorIs(t, bad, ErrRateLimit)

	assert.True(t, IsRetryable(fmt.Errorf("item 3: %w", rl)))
	assert.True(t, IsRetryable(tr))
	assert.False(t, IsRetryable(bad))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Equal(t, "rate_limit", KindRateLimit.String())
}

func TestCallConfigValidate(t *testing.T) {
	assert.NoError(t, CallConfig{Temperature: 0}.Validate("p"))
	assert.NoError(t, CallConfig{Temperature: 1}.Validate("p"))
	assert.ErrorIs(t, CallConfig{Temperature: 1.5}.Validate("p"), ErrInvalidRequest)
	assert.ErrorIs(t, CallConfig{Temperature: -0.1}.Validate("p"), ErrInvalidRequest)
	assert.ErrorIs(t, CallConfig{MaxTokens: -1}.Validate("p"), ErrInvalidRequest)
}

type fakeGenerator struct {
	msgs  []llms.MessageContent
	opts  llms.CallOptions
	calls int
	resp  *llms.ContentResponse
	err   error
}

func (f *fakeGenerator) GenerateContent(_ context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	f.msgs = msgs
	for _, o := range options {
		o(&f.opts)
	}
	return f.resp, f.err
}

func TestOpenAICompleteBuildsMessages(t *testing.T) {
	g := &fakeGenerator{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        "fixed code",
		GenerationInfo: map[string]any{"PromptTokens": 10, "CompletionTokens": 5, "TotalTokens": 15},
	}}}}
	o := &OpenAI{llm: g, defaultModel: "gpt-4o"}

	c, err := o.Complete(context.Background(), "fix this", CallConfig{Temperature: 0.2, SystemPrompt: "You are a secure code generator.", MaxTokens: 256})
	require.NoError(t, err)
	assert.Equal(t, "fixed code", c.Text)
	assert.Equal(t, "gpt-4o", c.Model)
	assert.Equal(t, domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, c.Usage)

	require.Len(t, g.msgs, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, g.msgs[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, g.msgs[1].Role)
	assert.Equal(t, "gpt-4o", g.opts.Model)
	assert.InDelta(t, 0.2, g.opts.Temperature, 1e-9)
	assert.Equal(t, 256, g.opts.MaxTokens)
}

func TestOpenAICompleteRejectsTemperatureWithoutCalling(t *testing.T) {
	g := &fakeGenerator{}
	o := &OpenAI{llm: g}
	_, err := o.Complete(context.Background(), "p", CallConfig{Temperature: 3})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, g.calls)
}

func TestOpenAICompleteClassifiesErrors(t *testing.T) {
	o := &OpenAI{llm: &fakeGenerator{err: errors.New("status code: 429: slow down")}}
	_, err := o.Complete(context.Background(), "p", CallConfig{})
	assert.ErrorIs(t, err, ErrRateLimit)

	o = &OpenAI{llm: &fakeGenerator{resp: &llms.ContentResponse{}}}
	_, err = o.Complete(context.Background(), "p", CallConfig{})
	assert.ErrorIs(t, err, ErrTransientNetwork)
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	_, err := NewOpenAI("", "gpt-4o", "")
	assert.ErrorIs(t, err, ErrAuth)
	_, err = NewGemini(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestPricing(t *testing.T) {
	p := DefaultPricing
	assert.Equal(t, p["gpt-4o-mini"], p.Lookup("gpt-4o-mini"))
	assert.Equal(t, p["gpt-4o"], p.Lookup("gpt-4o-2024-08-06"))
	assert.Equal(t, p["gpt-4o-mini"], p.Lookup("gpt-4o-mini-2024-07-18"))
	assert.Equal(t, FallbackPrice, p.Lookup("llama3"))

	cost := p.Cost("llama3", domain.Usage{PromptTokens: 1000, CompletionTokens: 1000, TotalTokens: 2000})
	assert.InDelta(t, 0.02, cost, 1e-9)
	cost = p.Cost("llama3", domain.Usage{TotalTokens: 500})
	assert.InDelta(t, 0.005, cost, 1e-9)
}

type scripted struct {
	errs  []error
	calls int
}

func (s *scripted) Provider() string { return "scripted" }

func (s *scripted) Complete(context.Context, string, CallConfig) (Completion, error) {
	s.calls++
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return Completion{}, s.errs[s.calls-1]
	}
	return Completion{Text: "ok"}, nil
}

func fastOpts() ResilientOpts {
	o := DefaultResilientOpts()
	o.Retry = fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond}
	return o
}

func TestResilientRetriesTransient(t *testing.T) {
	s := &scripted{errs: []error{
		&Error{Kind: KindTransient, Provider: "scripted"},
		&Error{Kind: KindRateLimit, Provider: "scripted"},
	}}
	var retried []Kind
	opts := fastOpts()
	opts.OnRetry = func(_ string, k Kind) { retried = append(retried, k) }
	c, err := NewResilient(s, opts).Complete(context.Background(), "p", CallConfig{})
	require.NoError(t, err)
	assert.Equal(t, "ok", c.Text)
	assert.Equal(t, 3, s.calls)
	assert.Equal(t, []Kind{KindTransient, KindRateLimit}, retried)
}

func TestResilientDoesNotRetryInvalid(t *testing.T) {
	s := &scripted{errs: []error{&Error{Kind: KindInvalidRequest, Provider: "scripted"}}}
	_, err := NewResilient(s, fastOpts()).Complete(context.Background(), "p", CallConfig{})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, 1, s.calls)

	_, err = NewResilient(s, fastOpts()).Complete(context.Background(), "p", CallConfig{Temperature: 2})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, 1, s.calls, "invalid config must not reach the provider")
}

func TestResilientGivesUpAfterMaxAttempts(t *testing.T) {
	tr := &Error{Kind: KindTransient, Provider: "scripted"}
	s := &scripted{errs: []error{tr, tr, tr, tr}}
	_, err := NewResilient(s, fastOpts()).Complete(context.Background(), "p", CallConfig{})
	require.ErrorIs(t, err, ErrTransientNetwork)
	assert.Equal(t, 3, s.calls)
}

func TestResilientBreakerOpens(t *testing.T) {
	tr := &Error{Kind: KindTransient, Provider: "scripted"}
	s := &scripted{errs: []error{tr, tr, tr, tr, tr, tr}}
	opts := fastOpts()
	opts.Retry.MaxAttempts = 1
	opts.Breaker = resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Hour}
	r := NewResilient(s, opts)

	_, _ = r.Complete(context.Background(), "p", CallConfig{})
	_, _ = r.Complete(context.Background(), "p", CallConfig{})
	_, err := r.Complete(context.Background(), "p", CallConfig{})
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.ErrorIs(t, err, ErrTransientNetwork)
	assert.Equal(t, 2, s.calls)
}
