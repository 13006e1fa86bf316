// Package staleness decides whether a stored prediction must be
// regenerated because a context document it was based on has changed.
//
// The policy is fail open: a missing document, a lookup failure, or absent
// prediction metadata all resolve to "not stale". A missed regeneration is
// picked up on the next run; a spurious one is paid for on every run.
package staleness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/arnvgh/tippkeeper/internal/storage"
)

// DocumentLookup resolves a normalized document name to its latest stored
// version. It reports storage.ErrNotFound for unknown names.
type DocumentLookup func(ctx context.Context, name string) (storage.Document, error)

// Result is the outcome of one evaluation. Warnings carry per-dependency
// problems (missing documents, lookup failures) that were resolved to
// not-stale.
type Result struct {
	Stale    bool
	Warnings []string
}

// SkipSet holds document names whose churn never triggers regeneration,
// such as a standings table that is rewritten on every run. Matching is
// exact on the normalized name.
type SkipSet map[string]struct{}

// NewSkipSet builds a SkipSet from configured names, normalizing each
// entry so decorated and plain spellings match the same documents.
func NewSkipSet(names []string) SkipSet {
	set := make(SkipSet, len(names))
	for _, n := range names {
		set[NormalizeDocName(n)] = struct{}{}
	}
	return set
}

func (s SkipSet) contains(name string) bool {
	_, ok := s[name]
	return ok
}

// NormalizeDocName strips a trailing parenthesized annotation from a
// recorded dependency name: "standings.csv (league table)" becomes
// "standings.csv". Annotations are provenance labels added at generation
// time, not part of the document's identity. This is the only place the
// convention is parsed.
func NormalizeDocName(name string) string {
	trimmed := strings.TrimRight(name, " ")
	if !strings.HasSuffix(trimmed, ")") {
		return name
	}
	open := strings.LastIndex(trimmed, " (")
	if open < 1 {
		return name
	}
	return trimmed[:open]
}

// Evaluate reports whether the prediction described by meta is stale
// relative to the documents it depended on. A nil meta (no prior
// prediction metadata) is never stale; callers distinguish "never
// predicted" separately via the reprediction index.
//
// A dependency makes the prediction stale iff its document's stored
// created_at is after the prediction's created_at. Skipped names never
// contribute; unresolvable names contribute a warning and nothing else.
// Evaluate itself never fails.
func Evaluate(ctx context.Context, meta *storage.PredictionMeta, lookup DocumentLookup, skip SkipSet) Result {
	if meta == nil {
		return Result{}
	}

	var res Result
	for _, recorded := range meta.DependencyDocs {
		name := NormalizeDocName(recorded)
		if skip.contains(name) {
			continue
		}

		doc, err := lookup(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("dependency not found: %s", name))
			continue
		}
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("dependency lookup failed: %s: %v", name, err))
			continue
		}

		if doc.CreatedAt.After(meta.CreatedAt) {
			res.Stale = true
		}
	}
	return res
}
