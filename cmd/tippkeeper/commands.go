package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arnvgh/tippkeeper/internal/api"
	"github.com/arnvgh/tippkeeper/internal/config"
	"github.com/arnvgh/tippkeeper/internal/costs"
	"github.com/arnvgh/tippkeeper/internal/generate"
	"github.com/arnvgh/tippkeeper/internal/orchestrate"
	"github.com/arnvgh/tippkeeper/internal/reprediction"
	"github.com/arnvgh/tippkeeper/internal/staleness"
	"github.com/arnvgh/tippkeeper/internal/storage"
)

// --- predict / bonus ---

var predictCmd = &cobra.Command{
	Use:   "predict <match-id>...",
	Short: "Predict (or refresh) the given matches",
	Long: `Predict the given matches in every configured community and model.

Matches that already have a current prediction are skipped; a match is
regenerated only when it has never been predicted or a context document
it depended on has changed since.

Examples:
  tippkeeper predict md12-m1 md12-m2 md12-m3
  tippkeeper predict --community liga-runde md12-m1`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPredictions(cmd, storage.KindMatch, args)
	},
}

var bonusCmd = &cobra.Command{
	Use:   "bonus <question-id>...",
	Short: "Predict (or refresh) the given bonus questions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPredictions(cmd, storage.KindBonus, args)
	},
}

func init() {
	for _, c := range []*cobra.Command{predictCmd, bonusCmd} {
		c.Flags().String("community", "", "restrict to one community (default: all configured)")
		c.Flags().String("model", "", "restrict to one model (default: all configured)")
	}
}

func runPredictions(cmd *cobra.Command, kind storage.EntityKind, entityIDs []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Predict.OpenRouterAPIKey == "" {
		return fmt.Errorf("missing required config: OpenRouter API key (set TIPPKEEPER_OPENROUTER_API_KEY)")
	}

	communities := cfg.Predict.Communities
	if c, _ := cmd.Flags().GetString("community"); c != "" {
		communities = []string{c}
	}
	models := cfg.Predict.Models
	if m, _ := cmd.Flags().GetString("model"); m != "" {
		models = []string{m}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	var subjects []storage.Subject
	for _, community := range communities {
		for _, model := range models {
			for _, id := range entityIDs {
				subjects = append(subjects, storage.Subject{
					Kind:      kind,
					EntityID:  id,
					Model:     model,
					Community: community,
				})
			}
		}
	}

	skip := staleness.NewSkipSet(cfg.Predict.SkipDocuments)
	runner := orchestrate.New(
		store,
		reprediction.New(store, skip),
		generate.NewClient(cfg.Predict.OpenRouterAPIKey),
		cfg.Predict.Concurrency,
	)

	printStep("Processing %d subjects (%d %s × %d communities × %d models)",
		len(subjects), len(entityIDs), kind, len(communities), len(models))

	summary, err := runner.Run(ctx, subjects)
	if err != nil {
		return err
	}

	printStatus("First-time", "%d", summary.FirstTime)
	printStatus("Refreshed", "%d", summary.Refreshed)
	printStatus("Current", "%d", summary.Current)
	if summary.Failed > 0 {
		printWarning("%d subjects failed; rerun to retry them", summary.Failed)
	} else {
		printSuccess("Run %s complete", summary.RunID)
	}
	return nil
}

// --- costs ---

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Report generation cost per reprediction index",
	Long: `Report what predictions have cost, bucketed by reprediction index:
first predictions (index0), first refreshes (index1), and everything
beyond (index2+).

Examples:
  tippkeeper costs
  tippkeeper costs --detailed
  tippkeeper costs --match md12-m1 --match md12-m2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		detailed, _ := cmd.Flags().GetBool("detailed")
		matchIDs, _ := cmd.Flags().GetStringArray("match")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := storage.Open(ctx, cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		rep, err := costs.New(store).Report(ctx, costs.Options{
			Models:         cfg.Predict.Models,
			Communities:    cfg.Predict.Communities,
			MatchEntityIDs: matchIDs,
			Detailed:       detailed,
		})
		if err != nil {
			return err
		}

		renderBreakdown(os.Stdout, "Matches", rep.Matches)
		renderBreakdown(os.Stdout, "Bonus questions", rep.Bonus)

		if detailed {
			fmt.Println()
			for _, d := range rep.Details {
				renderBreakdown(os.Stdout, fmt.Sprintf("%s / %s / %s", d.Community, d.Model, d.Kind), d.Breakdown)
			}
		}
		return nil
	},
}

func init() {
	costsCmd.Flags().Bool("detailed", false, "break down per community, model and category")
	costsCmd.Flags().StringArray("match", nil, "restrict the match category to these entity IDs (repeatable)")
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage context documents",
}

var docsPutCmd = &cobra.Command{
	Use:   "put <community> <name> <file>",
	Short: "Save a context document version (no-op if content is unchanged)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		community, name, file := args[0], args[1], args[2]
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		version, changed, err := store.SaveDocument(cmd.Context(), community, name, content)
		if err != nil {
			return err
		}
		if changed {
			printSuccess("Saved %s@%s as version %d", name, community, version)
		} else {
			printStatus("Unchanged", "%s@%s stays at version %d", name, community, version)
		}
		return nil
	},
}

var docsGetCmd = &cobra.Command{
	Use:   "get <community> <name>",
	Short: "Print the latest version of a context document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		doc, err := store.GetDocument(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		printStatus("Version", "%d (%s)", doc.Version, doc.CreatedAt.Format(time.RFC3339))
		os.Stdout.Write(doc.Content)
		return nil
	},
}

var docsListCmd = &cobra.Command{
	Use:   "list <community>",
	Short: "List the latest version of every context document in a community",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		docs, err := store.ListDocuments(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, d := range docs {
			fmt.Printf("%-40s v%-4d %s  %d bytes\n", d.Name, d.Version, d.CreatedAt.Format(time.RFC3339), len(d.Content))
		}
		return nil
	},
}

func init() {
	docsCmd.AddCommand(docsPutCmd)
	docsCmd.AddCommand(docsGetCmd)
	docsCmd.AddCommand(docsListCmd)
}

func openStore(ctx context.Context) (*storage.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the cost report over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := storage.Open(ctx, cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		handler := api.NewHandler(api.Deps{
			Reporter:    costs.New(store),
			Models:      cfg.Predict.Models,
			Communities: cfg.Predict.Communities,
		})

		addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
		srv := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()
		printStep("Listening on http://%s", addr)

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		printSuccess("Server stopped")
		return nil
	},
}
