// Package reprediction coordinates a subject's prediction history: which
// index it is at, whether it needs a new one, and appending the next
// record.
package reprediction

import (
	"context"
	"errors"
	"fmt"

	"github.com/arnvgh/tippkeeper/internal/staleness"
	"github.com/arnvgh/tippkeeper/internal/storage"
)

// PredictionStore is the slice of the storage layer the indexer needs.
type PredictionStore interface {
	LatestIndex(ctx context.Context, sub storage.Subject) (int, error)
	PredictionMetadata(ctx context.Context, sub storage.Subject) (storage.PredictionMeta, error)
	SaveNextPrediction(ctx context.Context, p storage.Prediction) (int, error)
}

// Freshness is the tri-state a caller acts on. Both NeverPredicted and
// Stale call for a generation; callers may treat the first prediction of a
// new subject differently from a refresh, which is why the two are kept
// apart.
type Freshness int

const (
	NeverPredicted Freshness = iota
	Stale
	Current
)

func (f Freshness) String() string {
	switch f {
	case NeverPredicted:
		return "never predicted"
	case Stale:
		return "stale"
	case Current:
		return "current"
	default:
		return fmt.Sprintf("Freshness(%d)", int(f))
	}
}

// Indexer layers index bookkeeping and the freshness decision over a
// prediction store.
type Indexer struct {
	store PredictionStore
	skip  staleness.SkipSet
}

func New(store PredictionStore, skip staleness.SkipSet) *Indexer {
	return &Indexer{store: store, skip: skip}
}

// CurrentIndex returns the subject's latest reprediction index, -1 if the
// subject has never been predicted.
func (ix *Indexer) CurrentIndex(ctx context.Context, sub storage.Subject) (int, error) {
	return ix.store.LatestIndex(ctx, sub)
}

// Assess classifies the subject as never predicted, stale, or current.
// Staleness warnings (missing or unreadable dependencies that were
// resolved to not-stale) are passed through for the caller to log.
func (ix *Indexer) Assess(ctx context.Context, sub storage.Subject, lookup staleness.DocumentLookup) (Freshness, []string, error) {
	idx, err := ix.store.LatestIndex(ctx, sub)
	if err != nil {
		return Current, nil, fmt.Errorf("reading latest index: %w", err)
	}
	if idx < 0 {
		return NeverPredicted, nil, nil
	}

	var meta *storage.PredictionMeta
	m, err := ix.store.PredictionMetadata(ctx, sub)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Record exists but metadata is unreadable: fail open.
	case err != nil:
		return Current, nil, fmt.Errorf("reading prediction metadata: %w", err)
	default:
		meta = &m
	}

	res := staleness.Evaluate(ctx, meta, lookup, ix.skip)
	if res.Stale {
		return Stale, res.Warnings, nil
	}
	return Current, res.Warnings, nil
}

// AppendNext writes p as the subject's next record and returns the index
// it was assigned.
func (ix *Indexer) AppendNext(ctx context.Context, p storage.Prediction) (int, error) {
	return ix.store.SaveNextPrediction(ctx, p)
}
