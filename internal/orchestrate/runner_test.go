package orchestrate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/arnvgh/tippkeeper/internal/generate"
	"github.com/arnvgh/tippkeeper/internal/reprediction"
	"github.com/arnvgh/tippkeeper/internal/staleness"
	"github.com/arnvgh/tippkeeper/internal/storage"
)

type fakeDocs struct {
	docs []storage.Document
}

func (f *fakeDocs) GetDocument(_ context.Context, _, name string) (storage.Document, error) {
	for _, d := range f.docs {
		if d.Name == name {
			return d, nil
		}
	}
	return storage.Document{}, storage.ErrNotFound
}

func (f *fakeDocs) ListDocuments(context.Context, string) ([]storage.Document, error) {
	return f.docs, nil
}

// fakeIndexer returns a canned freshness per entity and records appends.
type fakeIndexer struct {
	mu        sync.Mutex
	states    map[string]reprediction.Freshness
	assessErr map[string]error
	appended  []storage.Prediction
}

func (f *fakeIndexer) Assess(_ context.Context, sub storage.Subject, _ staleness.DocumentLookup) (reprediction.Freshness, []string, error) {
	if err := f.assessErr[sub.EntityID]; err != nil {
		return reprediction.Current, nil, err
	}
	return f.states[sub.EntityID], nil, nil
}

func (f *fakeIndexer) AppendNext(_ context.Context, p storage.Prediction) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, p)
	return len(f.appended) - 1, nil
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeGenerator) Predict(_ context.Context, sub storage.Subject, docs []storage.Document) (generate.Generation, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return generate.Generation{}, f.err
	}
	deps := make([]string, len(docs))
	for i, d := range docs {
		deps[i] = d.Name
	}
	return generate.Generation{Value: "2:1", Cost: 0.01, DependencyDocs: deps}, nil
}

func matchSubject(id string) storage.Subject {
	return storage.Subject{Kind: storage.KindMatch, EntityID: id, Model: "gpt-5", Community: "liga"}
}

// TestRunMixedSubjects verifies current subjects are skipped while
// never-predicted and stale ones are generated and appended.
func TestRunMixedSubjects(t *testing.T) {
	ix := &fakeIndexer{states: map[string]reprediction.Freshness{
		"fresh": reprediction.Current,
		"new":   reprediction.NeverPredicted,
		"moved": reprediction.Stale,
	}}
	gen := &fakeGenerator{}
	r := New(&fakeDocs{docs: []storage.Document{{Name: "form.csv"}}}, ix, gen, 2)

	summary, err := r.Run(context.Background(), []storage.Subject{
		matchSubject("fresh"), matchSubject("new"), matchSubject("moved"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.FirstTime != 1 || summary.Refreshed != 1 || summary.Current != 1 || summary.Failed != 0 {
		t.Errorf("summary: %+v", summary)
	}
	if gen.calls != 2 {
		t.Errorf("generator called %d times, want 2", gen.calls)
	}
	if len(ix.appended) != 2 {
		t.Fatalf("appended %d records, want 2", len(ix.appended))
	}
	for _, p := range ix.appended {
		if p.Value != "2:1" || len(p.DependencyDocs) != 1 {
			t.Errorf("appended record: %+v", p)
		}
	}
	if summary.RunID == "" {
		t.Error("no run ID assigned")
	}
}

// TestRunFailureIsolated verifies one failing subject is counted as failed
// while the rest complete.
func TestRunFailureIsolated(t *testing.T) {
	ix := &fakeIndexer{
		states:    map[string]reprediction.Freshness{"ok": reprediction.NeverPredicted},
		assessErr: map[string]error{"bad": errors.New("store unavailable")},
	}
	r := New(&fakeDocs{}, ix, &fakeGenerator{}, 1)

	summary, err := r.Run(context.Background(), []storage.Subject{
		matchSubject("bad"), matchSubject("ok"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 || summary.FirstTime != 1 {
		t.Errorf("summary: %+v", summary)
	}
}

// TestRunGenerationFailureDoesNotAppend verifies no record is written when
// the generation call fails.
func TestRunGenerationFailureDoesNotAppend(t *testing.T) {
	ix := &fakeIndexer{states: map[string]reprediction.Freshness{"new": reprediction.NeverPredicted}}
	r := New(&fakeDocs{}, ix, &fakeGenerator{err: errors.New("payment required")}, 1)

	summary, err := r.Run(context.Background(), []storage.Subject{matchSubject("new")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("summary: %+v", summary)
	}
	if len(ix.appended) != 0 {
		t.Errorf("record appended despite generation failure: %+v", ix.appended)
	}
}

// TestRunCancelled verifies cancellation surfaces as the run error.
func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ix := &fakeIndexer{states: map[string]reprediction.Freshness{}}
	r := New(&fakeDocs{}, ix, &fakeGenerator{}, 1)

	_, err := r.Run(ctx, []storage.Subject{matchSubject("m1")})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

// TestRunIdempotentAgainstRealStore wires the real store and indexer with
// a fake generator: the first run predicts everything, the immediate rerun
// regenerates nothing.
func TestRunIdempotentAgainstRealStore(t *testing.T) {
	ctx := context.Background()
	s, err := storage.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if _, _, err := s.SaveDocument(ctx, "liga", "form.csv", []byte("WWDLW")); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	gen := &fakeGenerator{}
	ix := reprediction.New(s, nil)
	r := New(s, ix, gen, 2)
	subjects := []storage.Subject{matchSubject("m1"), matchSubject("m2")}

	first, err := r.Run(ctx, subjects)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if first.FirstTime != 2 || first.Failed != 0 {
		t.Errorf("first run summary: %+v", first)
	}

	second, err := r.Run(ctx, subjects)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.Current != 2 || second.FirstTime != 0 || second.Refreshed != 0 {
		t.Errorf("second run summary: %+v", second)
	}
	if gen.calls != 2 {
		t.Errorf("generator called %d times across both runs, want 2", gen.calls)
	}

	idx, err := ix.CurrentIndex(ctx, subjects[0])
	if err != nil {
		t.Fatalf("CurrentIndex: %v", err)
	}
	if idx != 0 {
		t.Errorf("index after one prediction: got %d, want 0", idx)
	}
}
