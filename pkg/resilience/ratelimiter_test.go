package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/WessleyAI/secrag/pkg/fn"
)

func waitBriefly(l *Limiter) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	return l.Wait(ctx)
}

func TestLimiterBurst(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 2})
	if waitBriefly(l) != nil || waitBriefly(l) != nil {
		t.Fatal("burst tokens should be available")
	}
	if waitBriefly(l) == nil {
		t.Fatal("third call should be limited")
	}
}

func TestLimiterUnlimited(t *testing.T) {
	l := NewLimiter(LimiterOpts{})
	for i := 0; i < 100; i++ {
		if err := waitBriefly(l); err != nil {
			t.Fatalf("zero rate should not limit: %v", err)
		}
	}
}

func TestLimiterStageWait(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1000, Burst: 1})
	s := LimiterStageWait(l, fn.Stage[int, int](func(_ context.Context, v int) fn.Result[int] { return fn.Ok(v + 1) }))
	for i := 0; i < 3; i++ {
		if v, err := s(context.Background(), i).Unwrap(); err != nil || v != i+1 {
			t.Fatalf("stage: %d %v", v, err)
		}
	}
}

func TestLimiterStageWaitCancelled(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 1})
	_ = waitBriefly(l)
	called := false
	s := LimiterStageWait(l, fn.Stage[int, int](func(_ context.Context, v int) fn.Result[int] { called = true; return fn.Ok(v) }))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if s(ctx, 1).IsOk() || called {
		t.Fatal("expected the stage to fail before running on a short deadline")
	}
}
