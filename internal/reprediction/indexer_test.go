package reprediction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arnvgh/tippkeeper/internal/staleness"
	"github.com/arnvgh/tippkeeper/internal/storage"
)

// fakeStore implements PredictionStore in memory for one subject.
type fakeStore struct {
	index   int
	meta    storage.PredictionMeta
	metaErr error
	saved   []storage.Prediction
}

func (f *fakeStore) LatestIndex(context.Context, storage.Subject) (int, error) {
	return f.index, nil
}

func (f *fakeStore) PredictionMetadata(context.Context, storage.Subject) (storage.PredictionMeta, error) {
	if f.metaErr != nil {
		return storage.PredictionMeta{}, f.metaErr
	}
	return f.meta, nil
}

func (f *fakeStore) SaveNextPrediction(_ context.Context, p storage.Prediction) (int, error) {
	f.index++
	p.Index = f.index
	f.saved = append(f.saved, p)
	return f.index, nil
}

var subject = storage.Subject{Kind: storage.KindMatch, EntityID: "m1", Model: "gpt-5", Community: "liga"}

func staticLookup(createdAt time.Time) staleness.DocumentLookup {
	return func(_ context.Context, name string) (storage.Document, error) {
		return storage.Document{Name: name, CreatedAt: createdAt}, nil
	}
}

// TestAssessNeverPredicted verifies index -1 short-circuits to
// NeverPredicted without consulting staleness.
func TestAssessNeverPredicted(t *testing.T) {
	fs := &fakeStore{index: -1, metaErr: storage.ErrNotFound}
	ix := New(fs, nil)

	state, warnings, err := ix.Assess(context.Background(), subject, staticLookup(time.Now()))
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if state != NeverPredicted {
		t.Errorf("got %v, want NeverPredicted", state)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
}

// TestAssessStale verifies a dependency newer than the prediction yields
// Stale.
func TestAssessStale(t *testing.T) {
	predictedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		index: 0,
		meta:  storage.PredictionMeta{CreatedAt: predictedAt, DependencyDocs: []string{"form.csv"}},
	}
	ix := New(fs, nil)

	state, _, err := ix.Assess(context.Background(), subject, staticLookup(predictedAt.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if state != Stale {
		t.Errorf("got %v, want Stale", state)
	}
}

// TestAssessCurrent verifies an up-to-date prediction yields Current.
func TestAssessCurrent(t *testing.T) {
	predictedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		index: 2,
		meta:  storage.PredictionMeta{CreatedAt: predictedAt, DependencyDocs: []string{"form.csv"}},
	}
	ix := New(fs, nil)

	state, _, err := ix.Assess(context.Background(), subject, staticLookup(predictedAt.Add(-time.Hour)))
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if state != Current {
		t.Errorf("got %v, want Current", state)
	}
}

// TestAssessMissingMetadataFailsOpen verifies a record whose metadata
// cannot be read is treated as Current, not regenerated forever.
func TestAssessMissingMetadataFailsOpen(t *testing.T) {
	fs := &fakeStore{index: 0, metaErr: storage.ErrNotFound}
	ix := New(fs, nil)

	state, _, err := ix.Assess(context.Background(), subject, staticLookup(time.Now()))
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if state != Current {
		t.Errorf("got %v, want Current", state)
	}
}

// TestAssessStoreFailureSurfaces verifies a non-NotFound metadata error is
// returned to the caller rather than swallowed.
func TestAssessStoreFailureSurfaces(t *testing.T) {
	boom := errors.New("store unavailable")
	fs := &fakeStore{index: 0, metaErr: boom}
	ix := New(fs, nil)

	_, _, err := ix.Assess(context.Background(), subject, staticLookup(time.Now()))
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want wrapped store error", err)
	}
}

// TestAssessSkipSetApplied verifies the configured skip set reaches the
// evaluator.
func TestAssessSkipSetApplied(t *testing.T) {
	predictedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		index: 0,
		meta:  storage.PredictionMeta{CreatedAt: predictedAt, DependencyDocs: []string{"standings.csv (league table)"}},
	}
	ix := New(fs, staleness.NewSkipSet([]string{"standings.csv"}))

	state, _, err := ix.Assess(context.Background(), subject, staticLookup(predictedAt.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if state != Current {
		t.Errorf("got %v, want Current for skip-listed dependency", state)
	}
}

// TestAppendNextDelegates verifies AppendNext passes through to the store.
func TestAppendNextDelegates(t *testing.T) {
	fs := &fakeStore{index: 0}
	ix := New(fs, nil)

	idx, err := ix.AppendNext(context.Background(), storage.Prediction{Subject: subject, Value: "v"})
	if err != nil {
		t.Fatalf("AppendNext: %v", err)
	}
	if idx != 1 {
		t.Errorf("got index %d, want 1", idx)
	}
	if len(fs.saved) != 1 || fs.saved[0].Value != "v" {
		t.Errorf("record not saved through: %+v", fs.saved)
	}
}
