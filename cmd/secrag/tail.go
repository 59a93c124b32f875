package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/WessleyAI/secrag/engine/domain"
	"github.com/WessleyAI/secrag/engine/rag"
	"github.com/WessleyAI/secrag/pkg/config"
	"github.com/WessleyAI/secrag/pkg/natsutil"
)

func (a *app) tailCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print generation results published on NATS as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.Validate(config.ModeTail); err != nil {
				return err
			}
			conn, err := natsutil.Connect(a.cfg.NATS.URL, "secrag-tail")
			if err != nil {
				return domain.SetupError("nats", err)
			}
			a.onClose(conn.Close)
			subject := a.cfg.NATS.Subject
			if subject == "" {
				subject = rag.ResultsSubject
			}
			a.log.Info("tailing results", "subject", subject, "count", count)
			return tail(cmd.Context(), conn, subject, count, a.stdout)
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many results; 0 runs until interrupted")
	return cmd
}

// tail writes each result received on subject to w until ctx is done or, when
// count is positive, count results have been written.
func tail(ctx context.Context, nc *nats.Conn, subject string, count int, w io.Writer) error {
	results := make(chan domain.GenerationResult, 64)
	done := make(chan struct{})
	defer close(done)

	sub, err := natsutil.Subscribe(nc, subject, func(_ context.Context, r domain.GenerationResult) {
		select {
		case results <- r:
		case <-done:
		}
	})
	if err != nil {
		return domain.SetupError("nats subscribe", err)
	}
	defer func() { _ = sub.Unsubscribe() }()
	if err := nc.Flush(); err != nil {
		return domain.SetupError("nats subscribe", err)
	}

	enc := json.NewEncoder(w)
	for n := 0; count <= 0 || n < count; n++ {
		select {
		case <-ctx.Done():
			return nil
		case r := <-results:
			if err := enc.Encode(r); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
		}
	}
	return nil
}
