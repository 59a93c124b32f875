package main

import (
	"context"
	"fmt"

	"github.com/WessleyAI/secrag/engine/domain"
	"github.com/WessleyAI/secrag/engine/embed"
	"github.com/WessleyAI/secrag/engine/llm"
	"github.com/WessleyAI/secrag/engine/rag"
	"github.com/WessleyAI/secrag/engine/records"
	"github.com/WessleyAI/secrag/engine/semantic"
	"github.com/WessleyAI/secrag/pkg/config"
	"github.com/WessleyAI/secrag/pkg/metrics"
	"github.com/WessleyAI/secrag/pkg/natsutil"
)

func (a *app) openStore(ctx context.Context) (records.Store, error) {
	sc := a.cfg.Store
	var (
		st  records.Store
		err error
	)
	switch sc.Backend {
	case "sqlite":
		st, err = records.OpenSQLite(sc.SQLitePath)
	default:
		st, err = records.OpenNeo4j(ctx, sc.Neo4j.URI, sc.Neo4j.User, sc.Neo4j.Password, sc.Neo4j.Database)
	}
	if err != nil {
		return nil, domain.SetupError("open record store", err)
	}
	a.onClose(func() { _ = st.Close(context.Background()) })
	return st, nil
}

func (a *app) newEmbedder(ctx context.Context) (embed.Embedder, error) {
	ec := a.cfg.Embed
	e, err := embed.New(ctx, embed.Config{
		Provider:    ec.Provider,
		Model:       ec.Model,
		BaseURL:     ec.BaseURL,
		APIKey:      ec.APIKey,
		Concurrency: ec.Concurrency,
	})
	if err != nil {
		return nil, domain.SetupError("embedder", err)
	}
	return e, nil
}

// newCompleter builds the configured provider behind the resilient wrapper.
func (a *app) newCompleter(ctx context.Context) (llm.Completer, error) {
	lc := a.cfg.LLM
	var (
		c   llm.Completer
		err error
	)
	switch lc.Provider {
	case "openai", "":
		c, err = llm.NewOpenAI(lc.APIKey, lc.Model, lc.BaseURL)
	case "gemini":
		c, err = llm.NewGemini(ctx, lc.APIKey, lc.Model)
	default:
		err = fmt.Errorf("%w: llm.provider %q", config.ErrInvalid, lc.Provider)
	}
	if err != nil {
		return nil, domain.SetupError("completer", err)
	}

	opts := llm.DefaultResilientOpts()
	opts.RatePerSec = lc.RatePerSec
	opts.Burst = lc.Burst
	if lc.MaxAttempts > 0 {
		opts.Retry.MaxAttempts = lc.MaxAttempts
	}
	opts.Logger = a.log
	opts.OnRetry = func(provider string, kind llm.Kind) {
		a.reg.Counter(metrics.WithLabels("secrag_llm_retries_total", "provider", provider, "kind", kind.String()), "Retried model calls.").Inc()
	}
	return llm.NewResilient(c, opts), nil
}

// callConfig applies the configured model parameters to a command's defaults.
// The command's default model only applies to OpenAI; other providers fall
// back to their own default unless llm.model is set.
func (a *app) callConfig(base llm.CallConfig) llm.CallConfig {
	lc := a.cfg.LLM
	switch {
	case lc.Model != "":
		base.Model = lc.Model
	case lc.Provider != "openai" && lc.Provider != "":
		base.Model = ""
	}
	base.Temperature = lc.Temperature
	base.MaxTokens = lc.MaxTokens
	if lc.Timeout > 0 {
		base.Timeout = lc.Timeout
	}
	return base
}

// openQdrant returns nil when the mirror is disabled.
func (a *app) openQdrant() (*semantic.VectorStore, error) {
	qc := a.cfg.Qdrant
	if !qc.Enabled {
		return nil, nil
	}
	vs, err := semantic.New(qc.Addr, qc.Collection)
	if err != nil {
		return nil, domain.SetupError("qdrant", err)
	}
	a.onClose(func() { _ = vs.Close() })
	return vs, nil
}

// openPublisher returns nil when no NATS URL is configured.
func (a *app) openPublisher() (rag.Publisher, error) {
	nc := a.cfg.NATS
	if nc.URL == "" {
		return nil, nil
	}
	conn, err := natsutil.Connect(nc.URL, "secrag")
	if err != nil {
		return nil, domain.SetupError("nats", err)
	}
	a.onClose(func() {
		if err := conn.Drain(); err != nil {
			conn.Close()
		}
	})
	subject := nc.Subject
	if subject == "" {
		subject = rag.ResultsSubject
	}
	return natsutil.Topic[domain.GenerationResult]{Conn: conn, Subject: subject}, nil
}

// checkDimension embeds a sample prompt and compares it with the index.
func checkDimension(ctx context.Context, e embed.Embedder, dim int, sample string) error {
	if dim == 0 {
		return nil
	}
	v, err := e.Embed(ctx, sample)
	if err != nil {
		return domain.SetupError("embed sample", err)
	}
	if len(v) != dim {
		return domain.SetupError("embed sample", &domain.DimensionMismatchError{Row: -1, Want: dim, Got: len(v)})
	}
	return nil
}
