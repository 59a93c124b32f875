package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/WessleyAI/secrag/pkg/fn"
)

func call(b *Breaker, ctx context.Context, f func(context.Context) error) error {
	return CallResult(b, ctx, func(ctx context.Context) fn.Result[struct{}] {
		if err := f(ctx); err != nil {
			return fn.Err[struct{}](err)
		}
		return fn.Ok(struct{}{})
	}).Error()
}

func TestBreakerStartsClosed(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 3, Timeout: time.Second})
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %v", b.State())
	}
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 3, Timeout: time.Second})
	ctx := context.Background()
	fail := errors.New("fail")

	for i := 0; i < 3; i++ {
		_ = call(b, ctx, func(context.Context) error { return fail })
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}

	err := call(b, ctx, func(context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerResetsOnSuccess(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 3, Timeout: time.Second})
	ctx := context.Background()
	fail := errors.New("fail")

	_ = call(b, ctx, func(context.Context) error { return fail })
	_ = call(b, ctx, func(context.Context) error { return fail })
	_ = call(b, ctx, func(context.Context) error { return nil })
	_ = call(b, ctx, func(context.Context) error { return fail })
	_ = call(b, ctx, func(context.Context) error { return fail })
	if b.State() != StateClosed {
		t.Fatalf("expected still closed, got %v", b.State())
	}
}

func TestBreakerIgnoresNonFailures(t *testing.T) {
	invalid := errors.New("invalid request")
	b := NewBreaker(BreakerOpts{
		FailThreshold: 1,
		Timeout:       time.Second,
		IsFailure:     func(err error) bool { return !errors.Is(err, invalid) },
	})
	for i := 0; i < 5; i++ {
		if err := call(b, context.Background(), func(context.Context) error { return invalid }); !errors.Is(err, invalid) {
			t.Fatalf("expected caller to see the error, got %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("non-failures must not trip the breaker, got %v", b.State())
	}
}

func TestBreakerHalfOpenTrial(t *testing.T) {
	now := time.Now()
	var transitions []State
	b := NewBreaker(BreakerOpts{
		FailThreshold: 1,
		Timeout:       time.Second,
		OnStateChange: func(_, to State) { transitions = append(transitions, to) },
	})
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_ = call(b, ctx, func(context.Context) error { return errors.New("x") })
	now = now.Add(2 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %v", b.State())
	}
	if err := call(b, ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after trial, got %v", b.State())
	}
	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions: %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions: %v", transitions)
		}
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerOpts{FailThreshold: 2, Timeout: time.Second})
	b.now = func() time.Time { return now }
	ctx := context.Background()
	fail := func(context.Context) error { return errors.New("x") }

	_ = call(b, ctx, fail)
	_ = call(b, ctx, fail)
	now = now.Add(time.Second)
	_ = call(b, ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("a failed trial should reopen, got %v", b.State())
	}
}

func TestBreakerStage(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Hour})
	s := BreakerStage(b, fn.Stage[int, int](func(_ context.Context, v int) fn.Result[int] {
		if v < 0 {
			return fn.Errf[int]("negative")
		}
		return fn.Ok(v)
	}))
	if s(context.Background(), 1).IsErr() {
		t.Fatal("expected ok")
	}
	_ = s(context.Background(), -1)
	if _, err := s(context.Background(), 1).Unwrap(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown"} {
		if s.String() != want {
			t.Errorf("%d: got %s", s, s.String())
		}
	}
}
