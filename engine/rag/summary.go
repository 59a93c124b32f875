package rag

import (
	"time"

	"github.com/google/uuid"

	"github.com/WessleyAI/secrag/engine/domain"
	"github.com/WessleyAI/secrag/pkg/fn"
)

// Summary aggregates a run. Every item is either succeeded or counted once
// under its reason in Skipped, so Succeeded plus the Skipped counts equals
// Total. Failed counts the reasons other than absent.
type Summary struct {
	RunID        string                    `json:"run_id"`
	Mode         string                    `json:"mode"`
	Model        string                    `json:"model"`
	Total        int                       `json:"total"`
	Succeeded    int                       `json:"succeeded"`
	Failed       int                       `json:"failed"`
	Skipped      map[domain.SkipReason]int `json:"skipped"`
	TotalLatency float64                   `json:"total_latency_seconds"`
	AvgLatency   float64                   `json:"avg_latency_seconds"`
	TotalCost    float64                   `json:"total_cost_usd"`
	AvgCost      float64                   `json:"avg_cost_usd"`
	TotalTokens  int                       `json:"total_tokens"`
	StartedAt    time.Time                 `json:"started_at"`
	Elapsed      float64                   `json:"elapsed_seconds"`
}

func summarize(runID uuid.UUID, opts Options, total int, rep Report, started time.Time) Summary {
	s := Summary{
		RunID:     runID.String(),
		Mode:      opts.Mode,
		Model:     opts.Call.Model,
		Total:     total,
		Succeeded: len(rep.Results),
		Skipped:   fn.CountBy(rep.Skips, func(sk *domain.SkipError) domain.SkipReason { return sk.Reason }),
		StartedAt: started.UTC(),
		Elapsed:   round4(time.Since(started).Seconds()),
	}
	s.Failed = len(fn.Filter(rep.Skips, func(sk *domain.SkipError) bool { return sk.Reason.IsFailure() }))

	var latency time.Duration
	for _, r := range rep.Results {
		latency += r.Latency
		s.TotalCost += r.Cost
		s.TotalTokens += r.Usage.TotalTokens
	}
	s.TotalLatency = round4(latency.Seconds())
	if s.Succeeded > 0 {
		s.AvgLatency = round4(latency.Seconds() / float64(s.Succeeded))
		s.AvgCost = s.TotalCost / float64(s.Succeeded)
	}
	return s
}
