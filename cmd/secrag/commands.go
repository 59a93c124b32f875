package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/secrag/engine/domain"
	"github.com/WessleyAI/secrag/engine/ingest"
	"github.com/WessleyAI/secrag/engine/langdetect"
	"github.com/WessleyAI/secrag/engine/llm"
	"github.com/WessleyAI/secrag/engine/rag"
	"github.com/WessleyAI/secrag/engine/vindex"
	"github.com/WessleyAI/secrag/pkg/config"
)

func (a *app) ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Embed the dataset, write the index bundle and load the record store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.cfg.Validate(config.ModeIngest); err != nil {
				return err
			}
			items, err := ingest.LoadDataset(a.cfg.Data.Dataset)
			if err != nil {
				return domain.SetupError("load dataset", err)
			}
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			emb, err := a.newEmbedder(ctx)
			if err != nil {
				return err
			}
			deps := ingest.Deps{Embedder: emb, Store: st, Metrics: a.reg, Logger: a.log}
			mirror, err := a.openQdrant()
			if err != nil {
				return err
			}
			if mirror != nil {
				deps.Mirror = mirror
				deps.Languages = langdetect.Code{}
			}

			sum, err := ingest.New(deps, ingest.DefaultOptions(a.cfg.Data.IndexDir)).Run(ctx, items)
			if err != nil {
				return err
			}
			a.printf("Total prompts: %d\n", sum.TotalPrompts)
			a.printf("Index file: %s\n", sum.IndexFile)
			a.printf("Mapping file: %s\n", sum.MappingFile)
			a.printf("Records inserted: %d\n", sum.RecordsInserted)
			if sum.MirroredPoints > 0 {
				a.printf("Qdrant points: %d\n", sum.MirroredPoints)
			}
			return nil
		},
	}
}

func (a *app) generateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Retrieve vulnerable code for each prompt and generate a secure rewrite",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.cfg.Validate(config.ModeGenerate); err != nil {
				return err
			}
			items, err := ingest.LoadDataset(a.cfg.Data.Dataset)
			if err != nil {
				return domain.SetupError("load dataset", err)
			}
			bundle, err := vindex.LoadBundle(a.cfg.Data.IndexDir)
			if err != nil {
				return domain.SetupError("load index bundle", err)
			}
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			if _, err := st.Verify(ctx); err != nil {
				return domain.SetupError("verify record store", err)
			}
			emb, err := a.newEmbedder(ctx)
			if err != nil {
				return err
			}
			if len(items) > 0 {
				if err := checkDimension(ctx, emb, bundle.Index.Dim(), items[0].Prompt); err != nil {
					return err
				}
			}

			var searcher rag.Searcher = bundle
			remote, err := a.openQdrant()
			if err != nil {
				return err
			}
			if remote != nil {
				if err := remote.Validate(ctx, bundle.Index.Len()); err != nil {
					return domain.SetupError("qdrant collection", err)
				}
				remote.ExpectBuild(bundle.Index.BuildID().String())
				searcher = remote
			}

			retriever := &rag.IndexRetriever{Embedder: emb, Searcher: searcher, Store: st, TopK: a.cfg.Run.TopK}
			if remote != nil && a.cfg.Run.LanguageFilter {
				retriever.PromptLanguage = langdetect.Prompt{}
			}
			return a.runLoop(cmd, retriever, rag.GenerateOptions(), items)
		},
	}
}

func (a *app) baselineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "baseline",
		Short: "Generate secure rewrites from each item's own code, without retrieval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.Validate(config.ModeBaseline); err != nil {
				return err
			}
			items, err := ingest.LoadDataset(a.cfg.Data.Dataset)
			if err != nil {
				return domain.SetupError("load dataset", err)
			}
			return a.runLoop(cmd, rag.DirectRetriever{}, rag.BaselineOptions(), items)
		},
	}
}

func (a *app) runLoop(cmd *cobra.Command, r rag.Retriever, opts rag.Options, items []domain.Item) error {
	ctx := cmd.Context()
	completer, err := a.newCompleter(ctx)
	if err != nil {
		return err
	}
	pub, err := a.openPublisher()
	if err != nil {
		return err
	}
	opts.Workers = a.cfg.Run.Workers
	opts.ProgressEvery = a.cfg.Run.ProgressEvery
	opts.Call = a.callConfig(opts.Call)

	loop, err := rag.NewLoop(rag.Deps{
		Retriever: r,
		Completer: completer,
		Publisher: pub,
		Metrics:   a.reg,
		Logger:    a.log,
	}, opts)
	if err != nil {
		return err
	}

	rep, runErr := loop.Run(ctx, items)
	out := a.cfg.Data.Output
	if err := rag.WriteResults(out, rep.Results); err != nil {
		return err
	}
	if err := rag.WriteSummary(rag.SummaryPath(out), rep.Summary); err != nil {
		return err
	}

	s := rep.Summary
	a.printf("Total items: %d\n", s.Total)
	a.printf("Succeeded: %d, skipped: %d, failed: %d\n", s.Succeeded, s.Total-s.Succeeded-s.Failed, s.Failed)
	a.printf("Total time: %.2fs, average: %.2fs\n", s.TotalLatency, s.AvgLatency)
	a.printf("Total cost: $%.4f, average: $%.4f\n", s.TotalCost, s.AvgCost)
	a.printf("Results: %s\n", out)
	if runErr != nil {
		return fmt.Errorf("run interrupted: %w", runErr)
	}
	return nil
}

// classifierModel answers the one-word language question for filter.
const classifierModel = "gpt-4o-mini"

func (a *app) filterCmd() *cobra.Command {
	var classifier string
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Keep items whose prompt names the same language as their code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.cfg.Validate(config.ModeFilter); err != nil {
				return err
			}
			items, err := ingest.LoadDataset(a.cfg.Data.Dataset)
			if err != nil {
				return domain.SetupError("load dataset", err)
			}

			var code langdetect.Classifier = langdetect.Code{}
			switch classifier {
			case "regex":
			case "model":
				if err := a.cfg.Validate(config.ModeBaseline); err != nil {
					return err
				}
				c, err := a.newCompleter(ctx)
				if err != nil {
					return err
				}
				code = langdetect.NewModel(c, a.callConfig(llm.CallConfig{Model: classifierModel}).Model)
			default:
				return domain.SetupError("filter", fmt.Errorf("%w: classifier %q", config.ErrInvalid, classifier))
			}

			kept, stats, err := langdetect.Filter(ctx, items, langdetect.Prompt{}, code)
			if err != nil {
				return err
			}
			if err := ingest.WriteDataset(a.cfg.Data.Output, kept); err != nil {
				return err
			}
			a.log.Info("filter complete", "total", stats.Total, "kept", stats.Kept, "output", a.cfg.Data.Output)
			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
	cmd.Flags().StringVar(&classifier, "classifier", "regex", "code classifier: regex or model")
	return cmd
}
