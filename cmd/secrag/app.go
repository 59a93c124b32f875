package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/secrag/pkg/config"
	"github.com/WessleyAI/secrag/pkg/metrics"
	"github.com/WessleyAI/secrag/pkg/mid"
)

type flags struct {
	config      string
	data        string
	indexDir    string
	output      string
	topK        int
	workers     int
	logFormat   string
	logLevel    string
	metricsAddr string
}

// app carries state shared by the subcommands.
type app struct {
	stdout, stderr io.Writer
	flags          flags
	cfg            *config.Config
	log            *slog.Logger
	reg            *metrics.Registry
	closers        []func()
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr, reg: metrics.New(), log: slog.Default()}
}

// onClose registers f to run when the process exits, last registered first.
func (a *app) onClose(f func()) { a.closers = append(a.closers, f) }

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "secrag",
		Short:         "Retrieval-augmented secure code rewriting",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.config, "config", "", "YAML config file")
	pf.StringVar(&a.flags.data, "data", "", "dataset JSON file")
	pf.StringVar(&a.flags.indexDir, "index-dir", "", "directory holding the index bundle")
	pf.StringVar(&a.flags.output, "output", "", "output JSON file")
	pf.IntVar(&a.flags.topK, "top-k", 0, "neighbors to search per query")
	pf.IntVar(&a.flags.workers, "workers", 0, "concurrent items")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "log format: text or json")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.flags.metricsAddr, "metrics-addr", "", "serve /metrics on this address")

	root.AddCommand(a.ingestCmd(), a.generateCmd(), a.baselineCmd(), a.filterCmd(), a.tailCmd())
	return root
}

// setup loads configuration, applies flag overrides and installs logging.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.flags.config)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	override := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	override("data", func() { cfg.Data.Dataset = a.flags.data })
	override("index-dir", func() { cfg.Data.IndexDir = a.flags.indexDir })
	override("output", func() { cfg.Data.Output = a.flags.output })
	override("top-k", func() { cfg.Run.TopK = a.flags.topK })
	override("workers", func() { cfg.Run.Workers = a.flags.workers })
	override("log-format", func() { cfg.Log.Format = a.flags.logFormat })
	override("log-level", func() { cfg.Log.Level = a.flags.logLevel })
	override("metrics-addr", func() { cfg.Metrics.Addr = a.flags.metricsAddr })
	a.cfg = cfg

	a.log = newLogger(a.stderr, cfg.Log)
	slog.SetDefault(a.log)
	if cfg.Metrics.Addr != "" {
		a.serveMetrics(cfg.Metrics.Addr)
	}
	return nil
}

func newLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(lc.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (a *app) serveMetrics(addr string) {
	handler := mid.Chain(metrics.Mux(a.reg),
		mid.Recover(a.log),
		mid.Logger(a.log),
		mid.MethodGuard(),
		mid.OTel("secrag.metrics"),
	)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	go func() {
		a.log.Info("metrics server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server", "error", err)
		}
	}()
	a.onClose(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.stdout, format, args...)
}
