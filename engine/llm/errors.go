package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind classifies a provider failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimit
	KindTransient
	KindInvalidRequest
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindTransient:
		return "transient"
	case KindInvalidRequest:
		return "invalid_request"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrRateLimit        = errors.New("llm: rate limited")
	ErrTransientNetwork = errors.New("llm: transient network failure")
	ErrInvalidRequest   = errors.New("llm: invalid request")
	ErrAuth             = errors.New("llm: authentication failed")
)

// Error is a classified provider failure.
type Error struct {
	Kind     Kind
	Provider string
	Status   int
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("llm: %s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("llm: %s: %s: %v", e.Provider, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrRateLimit:
		return e.Kind == KindRateLimit
	case ErrTransientNetwork:
		return e.Kind == KindTransient
	case ErrInvalidRequest:
		return e.Kind == KindInvalidRequest
	case ErrAuth:
		return e.Kind == KindAuth
	}
	return false
}

// Retryable reports whether the same call may succeed later.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimit || e.Kind == KindTransient
}

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.Retryable()
}

// KindOf returns the kind of a classified error, KindUnknown otherwise.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnknown
}

var statusRe = regexp.MustCompile(`\b([45]\d\d)\b`)

// Classify maps a raw provider error onto an *Error. Already classified
// errors pass through; nil stays nil.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTransient, Provider: provider, Cause: err}
	}

	msg := strings.ToLower(err.Error())
	status := 0
	if m := statusRe.FindStringSubmatch(msg); m != nil {
		status, _ = strconv.Atoi(m[1])
	}
	return &Error{Kind: kindFor(status, msg), Provider: provider, Status: status, Cause: err}
}

func kindFor(status int, msg string) Kind {
	switch {
	case status == 429 || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "quota"):
		return KindRateLimit
	case status == 401 || status == 403 || strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid api key") || strings.Contains(msg, "permission_denied"):
		return KindAuth
	case status == 408 || status >= 500 || strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") ||
		strings.Contains(msg, "connection") || strings.Contains(msg, "unavailable") || strings.Contains(msg, "eof"):
		return KindTransient
	case status >= 400 || strings.Contains(msg, "invalid") || strings.Contains(msg, "bad request"):
		return KindInvalidRequest
	}
	return KindUnknown
}

// InvalidRequest builds a KindInvalidRequest error without a network call.
func InvalidRequest(provider, format string, args ...any) error {
	return &Error{Kind: KindInvalidRequest, Provider: provider, Cause: fmt.Errorf(format, args...)}
}
