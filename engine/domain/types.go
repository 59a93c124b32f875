// Package domain defines the core types shared by the ingestion pipeline and
// the retrieval-generation loop, plus the validation gate at their entry points.
package domain

import (
	"slices"
	"time"
)

// Item is one dataset entry. ID is the zero-based position in the dataset and
// the only key joining the vector index to the record store.
type Item struct {
	ID             int64  `json:"id"`
	Prompt         string `json:"prompt"`
	VulnerableCode string `json:"vulnerable_code,omitempty"`
	SecureCode     string `json:"secure_code,omitempty"`
}

// Usage is token accounting reported by a generation call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerationResult is produced once per successfully processed query and never
// mutated afterwards.
type GenerationResult struct {
	Index          int           `json:"index"`
	ItemID         int64         `json:"item_id"`
	Prompt         string        `json:"prompt"`
	VulnerableCode string        `json:"vulnerable_code"`
	SecureCode     string        `json:"secure_code"`
	Language       Language      `json:"language"`
	Distance       float32       `json:"distance"`
	Model          string        `json:"model,omitempty"`
	Latency        time.Duration `json:"-"`
	TimeTaken      float64       `json:"time_taken"`
	Usage          Usage         `json:"usage"`
	Cost           float64       `json:"cost,omitempty"`
}

// Language is a detected source-code language tag.
type Language string

const (
	LangCPP        Language = "cpp"
	LangJava       Language = "java"
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangSQL        Language = "sql"
	LangHTML       Language = "html"
	LangUnknown    Language = "unknown"
)

// KnownLanguages lists every tag a classifier may return other than unknown.
var KnownLanguages = []Language{LangCPP, LangJava, LangPython, LangJavaScript, LangSQL, LangHTML}

// ParseLanguage maps a free-form tag onto a Language, returning LangUnknown
// for anything unrecognised.
func ParseLanguage(s string) Language {
	if slices.Contains(KnownLanguages, Language(s)) {
		return Language(s)
	}
	switch s {
	case "c++", "cxx":
		return LangCPP
	case "js", "typescript":
		return LangJavaScript
	case "py":
		return LangPython
	case "css":
		return LangHTML
	}
	return LangUnknown
}

// SkipReason explains why a query produced no GenerationResult.
type SkipReason string

const (
	SkipAbsent   SkipReason = "absent"
	SkipInvalid  SkipReason = "invalid"
	SkipEmbed    SkipReason = "embed"
	SkipSearch   SkipReason = "search"
	SkipResolve  SkipReason = "resolve"
	SkipStore    SkipReason = "store"
	SkipGenerate SkipReason = "generate"
	SkipCanceled SkipReason = "canceled"
)

// IsFailure reports whether the reason counts as a failed item rather than an
// expected skip.
func (r SkipReason) IsFailure() bool {
	return r != SkipAbsent
}

// Neighbor is a search hit already resolved to the item it was built from.
type Neighbor struct {
	Row      int     `json:"row"`
	ItemID   int64   `json:"item_id"`
	Distance float32 `json:"distance"`
}
