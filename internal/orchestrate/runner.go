// Package orchestrate drives a prediction run: assess every subject,
// regenerate the ones that need it, and write the new records. Subjects
// are independent; one subject's failure never stops the rest.
package orchestrate

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/arnvgh/tippkeeper/internal/generate"
	"github.com/arnvgh/tippkeeper/internal/reprediction"
	"github.com/arnvgh/tippkeeper/internal/staleness"
	"github.com/arnvgh/tippkeeper/internal/storage"
)

// DocumentStore is the document side of the storage layer the runner
// needs: single lookups for staleness, full listings for generation
// context.
type DocumentStore interface {
	GetDocument(ctx context.Context, scope, name string) (storage.Document, error)
	ListDocuments(ctx context.Context, scope string) ([]storage.Document, error)
}

// SubjectIndexer is the prediction side: freshness assessment and
// appending.
type SubjectIndexer interface {
	Assess(ctx context.Context, sub storage.Subject, lookup staleness.DocumentLookup) (reprediction.Freshness, []string, error)
	AppendNext(ctx context.Context, p storage.Prediction) (int, error)
}

// Summary reports what one run did.
type Summary struct {
	RunID     string
	FirstTime int // subjects predicted for the first time
	Refreshed int // stale subjects regenerated
	Current   int // subjects left alone
	Failed    int // subjects that errored (assessment, generation, or save)
	Warnings  []string
}

// Runner executes prediction runs.
type Runner struct {
	docs        DocumentStore
	indexer     SubjectIndexer
	generator   generate.Generator
	concurrency int
	logger      *slog.Logger
}

// New creates a Runner. If concurrency is <= 0, subjects are processed one
// at a time.
func New(docs DocumentStore, indexer SubjectIndexer, generator generate.Generator, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Runner{
		docs:        docs,
		indexer:     indexer,
		generator:   generator,
		concurrency: concurrency,
		logger:      slog.Default(),
	}
}

// Run assesses and, where needed, regenerates every subject. Never-
// predicted and stale subjects get a generation; current subjects are
// skipped. Reruns are cheap and idempotent: staleness is recomputed from
// scratch, so an interrupted run picks up where it left off.
//
// The returned error is non-nil only when the run was cancelled; all
// per-subject failures are counted and logged instead.
func (r *Runner) Run(ctx context.Context, subjects []storage.Subject) (Summary, error) {
	summary := Summary{RunID: uuid.NewString()}
	logger := r.logger.With("run_id", summary.RunID)
	logger.Info("starting prediction run", "subjects", len(subjects))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, sub := range subjects {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcome, warnings := r.processSubject(gctx, logger, sub)
			mu.Lock()
			defer mu.Unlock()
			summary.Warnings = append(summary.Warnings, warnings...)
			switch outcome {
			case reprediction.NeverPredicted:
				summary.FirstTime++
			case reprediction.Stale:
				summary.Refreshed++
			case reprediction.Current:
				summary.Current++
			default:
				summary.Failed++
			}
			return nil
		})
	}
	g.Wait()

	logger.Info("prediction run finished",
		"first_time", summary.FirstTime,
		"refreshed", summary.Refreshed,
		"current", summary.Current,
		"failed", summary.Failed,
	)
	return summary, ctx.Err()
}

// outcomeFailed marks a subject that could not be processed.
const outcomeFailed reprediction.Freshness = -1

// processSubject runs one subject end to end and reports what happened to
// it. Errors are logged here and folded into the failed outcome.
func (r *Runner) processSubject(ctx context.Context, logger *slog.Logger, sub storage.Subject) (reprediction.Freshness, []string) {
	logger = logger.With("entity", sub.EntityID, "model", sub.Model, "community", sub.Community)

	lookup := func(ctx context.Context, name string) (storage.Document, error) {
		return r.docs.GetDocument(ctx, sub.Community, name)
	}

	state, warnings, err := r.indexer.Assess(ctx, sub, lookup)
	for _, w := range warnings {
		logger.Warn("staleness warning", "warning", w)
	}
	if err != nil {
		logger.Warn("assessing subject failed", "error", err)
		return outcomeFailed, warnings
	}
	if state == reprediction.Current {
		logger.Debug("prediction current, skipping")
		return reprediction.Current, warnings
	}

	docs, err := r.docs.ListDocuments(ctx, sub.Community)
	if err != nil {
		logger.Warn("listing context documents failed", "error", err)
		return outcomeFailed, warnings
	}

	gen, err := r.generator.Predict(ctx, sub, docs)
	if err != nil {
		logger.Warn("generation failed", "error", err)
		return outcomeFailed, warnings
	}

	index, err := r.indexer.AppendNext(ctx, storage.Prediction{
		Subject:        sub,
		Value:          gen.Value,
		DependencyDocs: gen.DependencyDocs,
		Cost:           gen.Cost,
		Usage:          gen.Usage,
	})
	if err != nil {
		logger.Warn("saving prediction failed", "error", err)
		return outcomeFailed, warnings
	}

	logger.Info("prediction saved", "index", index, "state", state.String(), "cost", gen.Cost)
	return state, warnings
}
