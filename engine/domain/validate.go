package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, truncate(e.Value, 40))
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// ValidateItem checks an Item before it is embedded or used as a query.
func ValidateItem(it Item) error {
	if it.ID < 0 {
		return NewValidationError("id", fmt.Sprintf("%d", it.ID), ErrInvalidItem)
	}
	if strings.TrimSpace(it.Prompt) == "" {
		return NewValidationError("prompt", it.Prompt, ErrEmptyPrompt)
	}
	if !utf8.ValidString(it.Prompt) {
		return NewValidationError("prompt", it.Prompt, ErrInvalidItem)
	}
	return nil
}

// ValidateCorpus checks that ids are unique across the corpus. Ingestion
// assigns sequential ids, so a duplicate means the dataset was mutated.
func ValidateCorpus(items []Item) error {
	seen := make(map[int64]struct{}, len(items))
	for _, it := range items {
		if err := ValidateItem(it); err != nil {
			return fmt.Errorf("item %d: %w", it.ID, err)
		}
		if _, dup := seen[it.ID]; dup {
			return NewValidationError("id", fmt.Sprintf("%d", it.ID), ErrInvalidItem)
		}
		seen[it.ID] = struct{}{}
	}
	return nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
