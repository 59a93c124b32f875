// Package langdetect tags code and prompts with a source language. The
// heuristics are deliberately shallow; callers treat LangUnknown as a normal
// answer.
package langdetect

import (
	"context"
	"regexp"
	"strings"

	"github.com/WessleyAI/secrag/engine/domain"
)

// Classifier tags text with a language.
type Classifier interface {
	Classify(ctx context.Context, text string) (domain.Language, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, text string) (domain.Language, error)

func (f ClassifierFunc) Classify(ctx context.Context, text string) (domain.Language, error) {
	return f(ctx, text)
}

type rule struct {
	lang domain.Language
	re   *regexp.Regexp
}

// First match wins, so more specific markers come first.
var codeRules = []rule{
	{domain.LangCPP, regexp.MustCompile(`#include <|std::`)},
	{domain.LangJava, regexp.MustCompile(`public class|import java`)},
	{domain.LangPython, regexp.MustCompile(`\bdef\b|\bimport\b`)},
	{domain.LangJavaScript, regexp.MustCompile(`<script>|document\.|console\.`)},
	{domain.LangSQL, regexp.MustCompile(`(?i)\bSELECT\b|\bFROM\b`)},
	{domain.LangHTML, regexp.MustCompile(`<html>|<div>`)},
}

// Code classifies source code by surface markers.
type Code struct{}

func (Code) Classify(_ context.Context, code string) (domain.Language, error) {
	return DetectCode(code), nil
}

// DetectCode is the pure form of Code.Classify.
func DetectCode(code string) domain.Language {
	for _, r := range codeRules {
		if r.re.MatchString(code) {
			return r.lang
		}
	}
	return domain.LangUnknown
}

// Word lists are checked in order; javascript precedes java so it is not
// shadowed.
var promptKeywords = []struct {
	lang  domain.Language
	words []string
}{
	{domain.LangPython, []string{"python"}},
	{domain.LangJavaScript, []string{"javascript", "js", "node.js", "nodejs"}},
	{domain.LangJava, []string{"java"}},
	{domain.LangSQL, []string{"sql"}},
	{domain.LangHTML, []string{"html", "css"}},
	{domain.LangCPP, []string{"c++", "cpp"}},
}

// Prompt classifies natural-language prompts by the language they mention.
type Prompt struct{}

func (Prompt) Classify(_ context.Context, prompt string) (domain.Language, error) {
	return DetectPrompt(prompt), nil
}

// DetectPrompt is the pure form of Prompt.Classify.
func DetectPrompt(prompt string) domain.Language {
	tokens := map[string]bool{}
	for _, t := range strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == ',' || r == ';' || r == ':' || r == '(' || r == ')' || r == '?' || r == '!' || r == '"' || r == '\''
	}) {
		tokens[strings.TrimRight(t, ".")] = true
	}
	for _, kw := range promptKeywords {
		for _, w := range kw.words {
			if tokens[w] {
				return kw.lang
			}
		}
	}
	return domain.LangUnknown
}
