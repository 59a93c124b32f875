// Package llmtest provides scripted completers for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/WessleyAI/secrag/engine/domain"
	"github.com/WessleyAI/secrag/engine/llm"
)

// Call records one Complete invocation.
type Call struct {
	Prompt string
	Config llm.CallConfig
}

// Fake is a concurrency-safe Completer driven by Respond.
type Fake struct {
	Name    string
	Respond func(prompt string, n int) (string, error)
	Usage   domain.Usage

	mu    sync.Mutex
	calls []Call
}

// Echo returns a Fake that answers every prompt with "secure:" + prompt.
func Echo() *Fake {
	return &Fake{Respond: func(p string, _ int) (string, error) { return "secure:" + p, nil }}
}

func (f *Fake) Provider() string {
	if f.Name == "" {
		return "fake"
	}
	return f.Name
}

func (f *Fake) Complete(ctx context.Context, prompt string, cfg llm.CallConfig) (llm.Completion, error) {
	if err := ctx.Err(); err != nil {
		return llm.Completion{}, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, Call{Prompt: prompt, Config: cfg})
	n := len(f.calls)
	f.mu.Unlock()

	text, err := f.Respond(prompt, n)
	if err != nil {
		return llm.Completion{}, err
	}
	return llm.Completion{Text: text, Usage: f.Usage, Model: cfg.Model}, nil
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}
