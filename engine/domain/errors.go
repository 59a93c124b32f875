package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrSetup             = errors.New("setup failed")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrIndexMapping      = errors.New("index mapping mismatch")
	ErrSchemaMismatch    = errors.New("record store schema mismatch")
	ErrEmptyPrompt       = errors.New("prompt is empty")
	ErrInvalidItem       = errors.New("invalid item")
)

// DimensionMismatchError reports a vector whose length differs from the index.
type DimensionMismatchError struct {
	Row  int
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("dimension mismatch: query has %d dims, index has %d", e.Got, e.Want)
	}
	return fmt.Sprintf("dimension mismatch: vector %d has %d dims, want %d", e.Row, e.Got, e.Want)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

// IndexMappingMismatchError reports an identifier mapping that does not belong
// to the vector index it was loaded with.
type IndexMappingMismatchError struct {
	IndexRows    int
	MappingRows  int
	IndexBuild   string
	MappingBuild string
}

func (e *IndexMappingMismatchError) Error() string {
	if e.IndexRows != e.MappingRows {
		return fmt.Sprintf("index mapping mismatch: mapping has %d entries, index has %d rows", e.MappingRows, e.IndexRows)
	}
	return fmt.Sprintf("index mapping mismatch: mapping build %q, index build %q", e.MappingBuild, e.IndexBuild)
}

func (e *IndexMappingMismatchError) Unwrap() error { return ErrIndexMapping }

// SkipError wraps a per-item failure with the item's position and reason.
type SkipError struct {
	Index  int
	Reason SkipReason
	Err    error
}

func (e *SkipError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("item %d skipped: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("item %d skipped: %s: %v", e.Index, e.Reason, e.Err)
}

func (e *SkipError) Unwrap() error { return e.Err }

// NewSkipError creates a SkipError.
func NewSkipError(index int, reason SkipReason, err error) *SkipError {
	return &SkipError{Index: index, Reason: reason, Err: err}
}

// SetupError marks err as a setup failure that must abort the process.
func SetupError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSetup, op, err)
}
