package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/WessleyAI/secrag/pkg/fn"
	"github.com/WessleyAI/secrag/pkg/resilience"
)

// ResilientOpts configures Resilient.
type ResilientOpts struct {
	// RatePerSec and Burst bound calls across all workers. RatePerSec <= 0
	// disables limiting.
	RatePerSec float64
	Burst      int
	Retry      fn.RetryOpts
	Breaker    resilience.BreakerOpts
	Logger     *slog.Logger
	// OnRetry, when set, is called for every retried attempt.
	OnRetry func(provider string, kind Kind)
}

// DefaultResilientOpts retries retryable failures three times with jittered
// exponential backoff.
func DefaultResilientOpts() ResilientOpts {
	return ResilientOpts{
		RatePerSec: 0,
		Burst:      1,
		Retry: fn.RetryOpts{
			MaxAttempts: 4,
			InitialWait: 2 * time.Second,
			MaxWait:     30 * time.Second,
			Jitter:      true,
		},
		Breaker: resilience.DefaultBreakerOpts,
	}
}

// Resilient wraps a Completer with a shared rate limiter, a circuit breaker
// and retry on retryable failures.
type Resilient struct {
	next    Completer
	limiter *resilience.Limiter
	breaker *resilience.Breaker
	retry   fn.RetryOpts
	logger  *slog.Logger
	onRetry func(string, Kind)
}

var _ Completer = (*Resilient)(nil)

// NewResilient wraps next.
func NewResilient(next Completer, opts ResilientOpts) *Resilient {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bo := opts.Breaker
	bo.IsFailure = IsRetryable
	bo.OnStateChange = func(from, to resilience.State) {
		logger.Warn("llm circuit breaker", "provider", next.Provider(), "from", from.String(), "to", to.String())
	}
	r := &Resilient{
		next:    next,
		limiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: opts.RatePerSec, Burst: opts.Burst}),
		breaker: resilience.NewBreaker(bo),
		retry:   opts.Retry,
		logger:  logger,
		onRetry: opts.OnRetry,
	}
	r.retry.ShouldRetry = IsRetryable
	r.retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		r.logger.Warn("llm call failed, retrying",
			"provider", next.Provider(), "attempt", attempt, "kind", KindOf(err).String(), "wait", wait, "error", err)
		if r.onRetry != nil {
			r.onRetry(next.Provider(), KindOf(err))
		}
	}
	return r
}

func (r *Resilient) Provider() string { return r.next.Provider() }

func (r *Resilient) Complete(ctx context.Context, prompt string, cfg CallConfig) (Completion, error) {
	if err := cfg.Validate(r.next.Provider()); err != nil {
		return Completion{}, err
	}
	call := resilience.LimiterStageWait(r.limiter,
		resilience.BreakerStage(r.breaker, fn.Stage[string, Completion](func(ctx context.Context, p string) fn.Result[Completion] {
			c, err := r.next.Complete(ctx, p, cfg)
			return fn.FromPair(c, err)
		})))
	res := fn.Retry(ctx, r.retry, func(ctx context.Context) fn.Result[Completion] {
		res := call(ctx, prompt)
		if errors.Is(res.Error(), resilience.ErrCircuitOpen) {
			return fn.Err[Completion](&Error{Kind: KindTransient, Provider: r.next.Provider(), Cause: res.Error()})
		}
		return res
	})
	return res.Unwrap()
}
