package langdetect

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/WessleyAI/secrag/engine/domain"
	"github.com/WessleyAI/secrag/engine/llm"
)

// modelSystemPrompt asks for exactly one of the known language tags.
var modelSystemPrompt = "You identify the programming language of code. " +
	"Answer with exactly one word from: " + answerList() + "."

func answerList() string {
	tags := make([]string, 0, len(domain.KnownLanguages)+1)
	for _, l := range domain.KnownLanguages {
		tags = append(tags, string(l))
	}
	return strings.Join(append(tags, string(domain.LangUnknown)), ", ")
}

// Model asks a completer for the language. Answers outside the known set map
// to LangUnknown.
type Model struct {
	Completer llm.Completer
	Config    llm.CallConfig
	// MaxChars truncates the code sent to the model, in runes; 0 sends
	// everything.
	MaxChars int
}

// NewModel builds a Model classifier with a deterministic call config.
func NewModel(c llm.Completer, model string) *Model {
	return &Model{
		Completer: c,
		Config:    llm.CallConfig{Model: model, Temperature: 0, MaxTokens: 5, SystemPrompt: modelSystemPrompt},
		MaxChars:  4000,
	}
}

func (m *Model) Classify(ctx context.Context, code string) (domain.Language, error) {
	if m.MaxChars > 0 && utf8.RuneCountInString(code) > m.MaxChars {
		code = string([]rune(code)[:m.MaxChars])
	}
	c, err := m.Completer.Complete(ctx, code, m.Config)
	if err != nil {
		return domain.LangUnknown, fmt.Errorf("langdetect: model: %w", err)
	}
	answer := strings.ToLower(strings.Trim(strings.TrimSpace(c.Text), ".`'\""))
	return domain.ParseLanguage(answer), nil
}
