// Package rag runs the retrieval-generation loop: for each query it retrieves
// vulnerable code, asks a model for a secure rewrite and records the outcome.
// Item failures are isolated; the run always finishes with a summary.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/WessleyAI/secrag/engine/domain"
	"github.com/WessleyAI/secrag/engine/langdetect"
	"github.com/WessleyAI/secrag/engine/llm"
	"github.com/WessleyAI/secrag/pkg/fn"
	"github.com/WessleyAI/secrag/pkg/metrics"
)

// ResultsSubject is the NATS subject results are published on.
const ResultsSubject = "secrag.results"

const (
	defaultInstruction  = "Rewrite the following vulnerable code as secure code:"
	baselineInstruction = "Please provide a secure version of the following vulnerable code:"
	baselineSystem      = "You are a secure code generator."
)

// Publisher receives each result as soon as it is produced.
type Publisher interface {
	Publish(ctx context.Context, r domain.GenerationResult) error
}

// Options configure a run.
type Options struct {
	Mode          string
	Workers       int
	ProgressEvery int
	Instruction   string
	// IncludePrompt puts the query prompt between the instruction and code.
	IncludePrompt bool
	Call          llm.CallConfig
	Pricing       llm.Pricing
}

// GenerateOptions are the defaults for retrieval-backed generation.
func GenerateOptions() Options {
	return Options{
		Mode:          "generate",
		Workers:       4,
		ProgressEvery: 5,
		Instruction:   defaultInstruction,
		IncludePrompt: true,
		Call:          llm.CallConfig{Model: "gpt-4o", Temperature: 0.2, Timeout: 2 * time.Minute},
		Pricing:       llm.DefaultPricing,
	}
}

// BaselineOptions are the defaults for generation without retrieval.
func BaselineOptions() Options {
	o := GenerateOptions()
	o.Mode = "baseline"
	o.Instruction = baselineInstruction
	o.IncludePrompt = false
	o.Call.Model = "gpt-4"
	o.Call.SystemPrompt = baselineSystem
	return o
}

// Deps are the collaborators of a Loop. Languages defaults to the regex
// classifier; Publisher and Metrics are optional.
type Deps struct {
	Retriever Retriever
	Completer llm.Completer
	Languages langdetect.Classifier
	Publisher Publisher
	Metrics   *metrics.Registry
	Logger    *slog.Logger
}

// Loop processes query items. It is safe to Run more than once.
type Loop struct {
	deps Deps
	opts Options
	log  *slog.Logger

	latency *metrics.Histogram
	tokens  *metrics.Counter
	cost    *metrics.Gauge
	reg     *metrics.Registry
}

// NewLoop validates the configuration. Errors are setup errors.
func NewLoop(deps Deps, opts Options) (*Loop, error) {
	if deps.Retriever == nil || deps.Completer == nil {
		return nil, domain.SetupError("rag", errors.New("retriever and completer are required"))
	}
	if err := opts.Call.Validate(deps.Completer.Provider()); err != nil {
		return nil, domain.SetupError("rag", err)
	}
	if deps.Languages == nil {
		deps.Languages = langdetect.Code{}
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Pricing == nil {
		opts.Pricing = llm.DefaultPricing
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	reg := deps.Metrics
	if reg == nil {
		reg = metrics.New()
	}
	return &Loop{
		deps:    deps,
		opts:    opts,
		log:     log,
		reg:     reg,
		latency: reg.Histogram("secrag_item_latency_seconds", "Model call time per item.", nil),
		tokens:  reg.Counter("secrag_tokens_total", "Tokens reported by the model."),
		cost:    reg.Gauge("secrag_cost_usd", "Estimated spend."),
	}, nil
}

// Report is the outcome of a run. Results are in source order.
type Report struct {
	Results []domain.GenerationResult
	Skips   []*domain.SkipError
	Summary Summary
}

// Run processes items with a bounded worker pool. Item failures never abort
// the run. When ctx is canceled no new item starts, finished results are kept
// and ctx's error is returned alongside the partial report.
func (l *Loop) Run(ctx context.Context, items []domain.Item) (Report, error) {
	started := time.Now()
	runID := uuid.New()
	log := l.log.With("run_id", runID.String(), "mode", l.opts.Mode)
	log.Info("run start", "items", len(items), "workers", l.opts.Workers, "model", l.opts.Call.Model)

	var done atomic.Int64
	process := fn.TracedStage("rag.item", fn.Stage[indexed, domain.GenerationResult](l.process))
	results := fn.ParMapResult(ctx, items, l.opts.Workers, func(ctx context.Context, i int, it domain.Item) fn.Result[domain.GenerationResult] {
		r := process(ctx, indexed{index: i, item: it})
		if n := done.Add(1); l.opts.ProgressEvery > 0 && n%int64(l.opts.ProgressEvery) == 0 {
			log.Info("progress", "done", n, "total", len(items))
		}
		return r
	})

	var rep Report
	for i, r := range results {
		v, err := r.Unwrap()
		if err == nil {
			rep.Results = append(rep.Results, v)
			continue
		}
		se := asSkip(i, err)
		rep.Skips = append(rep.Skips, se)
		l.reg.Counter(metrics.WithLabels("secrag_items_total", "outcome", string(se.Reason)), "Items by outcome.").Inc()
		if se.Reason.IsFailure() {
			log.Warn("item failed", "index", i, "reason", se.Reason, "error", se.Err)
		} else {
			log.Info("item skipped", "index", i, "reason", se.Reason)
		}
	}
	l.reg.Counter(metrics.WithLabels("secrag_items_total", "outcome", "ok"), "Items by outcome.").Add(int64(len(rep.Results)))

	rep.Summary = summarize(runID, l.opts, len(items), rep, started)
	log.Info("run complete",
		"total", rep.Summary.Total,
		"succeeded", rep.Summary.Succeeded,
		"failed", rep.Summary.Failed,
		"skipped", rep.Summary.Skipped,
		"cost_usd", rep.Summary.TotalCost,
		"duration", time.Since(started),
	)
	return rep, ctx.Err()
}

type indexed struct {
	index int
	item  domain.Item
}

// process runs one item. A panic in any collaborator becomes a SkipError
// carrying the reason of the step that was running.
func (l *Loop) process(ctx context.Context, in indexed) (out fn.Result[domain.GenerationResult]) {
	step := domain.SkipInvalid
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("item panicked", "index", in.index, "reason", step, "panic", r)
			out = fn.Err[domain.GenerationResult](domain.NewSkipError(in.index, step, fmt.Errorf("panic: %v", r)))
		}
	}()

	fail := func(reason domain.SkipReason, err error) fn.Result[domain.GenerationResult] {
		if ctx.Err() != nil && reason != domain.SkipAbsent && reason != domain.SkipInvalid {
			reason = domain.SkipCanceled
		}
		return fn.Err[domain.GenerationResult](domain.NewSkipError(in.index, reason, err))
	}
	if err := ctx.Err(); err != nil {
		return fail(domain.SkipCanceled, err)
	}
	if err := domain.ValidateItem(in.item); err != nil {
		return fail(domain.SkipInvalid, err)
	}

	step = domain.SkipSearch
	got, err := l.deps.Retriever.Retrieve(ctx, in.item)
	if err != nil {
		se := asSkip(in.index, err)
		return fail(se.Reason, se.Err)
	}

	step = domain.SkipGenerate
	lang, err := l.deps.Languages.Classify(ctx, got.Code)
	if err != nil {
		l.log.Warn("language detection failed", "index", in.index, "error", err)
		lang = domain.LangUnknown
	}

	prompt := l.compose(in.item.Prompt, got.Code)
	start := time.Now()
	c, err := l.deps.Completer.Complete(ctx, prompt, l.opts.Call)
	if err != nil {
		return fail(domain.SkipGenerate, err)
	}
	latency := time.Since(start)

	model := c.Model
	if model == "" {
		model = l.opts.Call.Model
	}
	res := domain.GenerationResult{
		Index:          in.index,
		ItemID:         got.Neighbor.ItemID,
		Prompt:         in.item.Prompt,
		VulnerableCode: got.Code,
		SecureCode:     strings.TrimSpace(c.Text),
		Language:       lang,
		Distance:       got.Neighbor.Distance,
		Model:          model,
		Latency:        latency,
		TimeTaken:      round4(latency.Seconds()),
		Usage:          c.Usage,
		Cost:           l.opts.Pricing.Cost(model, c.Usage),
	}

	l.latency.ObserveDuration(latency)
	l.tokens.Add(int64(res.Usage.TotalTokens))
	l.cost.Add(res.Cost)
	if l.deps.Publisher != nil {
		if err := l.deps.Publisher.Publish(ctx, res); err != nil {
			l.log.Warn("publish result", "index", in.index, "error", err)
		}
	}
	return fn.Ok(res)
}

func (l *Loop) compose(prompt, code string) string {
	if l.opts.IncludePrompt {
		return fmt.Sprintf("%s\n%s\n\n%s", l.opts.Instruction, prompt, code)
	}
	return fmt.Sprintf("%s\n\n%s", l.opts.Instruction, code)
}

// asSkip normalizes err into a SkipError for the item at index. Errors that
// are not SkipErrors come from an unstarted item and count as canceled.
func asSkip(index int, err error) *domain.SkipError {
	var se *domain.SkipError
	if errors.As(err, &se) {
		return domain.NewSkipError(index, se.Reason, se.Err)
	}
	return domain.NewSkipError(index, domain.SkipCanceled, err)
}

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
