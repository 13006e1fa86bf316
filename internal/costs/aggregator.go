// Package costs folds per-index prediction costs into the report buckets
// operators look at: what did first-time predictions cost, what did the
// first repredictions cost, and what has churn beyond that cost.
package costs

import (
	"context"
	"fmt"

	"github.com/arnvgh/tippkeeper/internal/storage"
)

// CostSource is the aggregation read the storage layer provides.
type CostSource interface {
	CostsByIndex(ctx context.Context, kind storage.EntityKind, model, community string, entityIDs []string) (map[int]storage.CostRow, error)
}

// Bucket is a (total cost, billable document count) pair.
type Bucket struct {
	Cost  float64
	Count int
}

func (b *Bucket) add(row storage.CostRow) {
	b.Cost += row.TotalCost
	b.Count += row.Count
}

// Breakdown groups a set of records by reprediction index. Indices 0 and 1
// keep their own bucket; everything from index 2 up folds into Index2Plus.
// Total sums all three.
type Breakdown struct {
	Index0     Bucket
	Index1     Bucket
	Index2Plus Bucket
	Total      Bucket
}

// Add folds one per-index row into the breakdown.
func (bd *Breakdown) Add(index int, row storage.CostRow) {
	switch index {
	case 0:
		bd.Index0.add(row)
	case 1:
		bd.Index1.add(row)
	default:
		bd.Index2Plus.add(row)
	}
	bd.Total.add(row)
}

func (bd *Breakdown) merge(other Breakdown) {
	for _, p := range []struct {
		dst *Bucket
		src Bucket
	}{
		{&bd.Index0, other.Index0},
		{&bd.Index1, other.Index1},
		{&bd.Index2Plus, other.Index2Plus},
		{&bd.Total, other.Total},
	} {
		p.dst.Cost += p.src.Cost
		p.dst.Count += p.src.Count
	}
}

// Detail is one row of the detailed view: the breakdown for a single
// (community, model, category) combination.
type Detail struct {
	Community string
	Model     string
	Kind      storage.EntityKind
	Breakdown Breakdown
}

// Report is the aggregated cost report. Matches and Bonus collapse across
// all models and communities; Details, present only when requested, keeps
// each combination separate.
type Report struct {
	Matches Breakdown
	Bonus   Breakdown
	Details []Detail
}

// Options selects what the report covers. MatchEntityIDs narrows the match
// category to the given entities (e.g. one matchday's matches); bonus
// questions are outside any matchday and are never filtered by it.
type Options struct {
	Models         []string
	Communities    []string
	MatchEntityIDs []string
	Detailed       bool
}

// Aggregator builds cost reports from an indexed cost source.
type Aggregator struct {
	source CostSource
}

func New(source CostSource) *Aggregator {
	return &Aggregator{source: source}
}

// Report queries the source for every (model, community, category)
// combination in opts and folds the rows into buckets. Combinations with
// no records contribute nothing (and no Detail row).
func (a *Aggregator) Report(ctx context.Context, opts Options) (Report, error) {
	var rep Report
	for _, community := range opts.Communities {
		for _, model := range opts.Models {
			for _, kind := range []storage.EntityKind{storage.KindMatch, storage.KindBonus} {
				var filter []string
				if kind == storage.KindMatch {
					filter = opts.MatchEntityIDs
				}

				rows, err := a.source.CostsByIndex(ctx, kind, model, community, filter)
				if err != nil {
					return Report{}, fmt.Errorf("aggregating %s/%s/%s: %w", community, model, kind, err)
				}
				if len(rows) == 0 {
					continue
				}

				var bd Breakdown
				for index, row := range rows {
					bd.Add(index, row)
				}

				switch kind {
				case storage.KindMatch:
					rep.Matches.merge(bd)
				case storage.KindBonus:
					rep.Bonus.merge(bd)
				}
				if opts.Detailed {
					rep.Details = append(rep.Details, Detail{
						Community: community,
						Model:     model,
						Kind:      kind,
						Breakdown: bd,
					})
				}
			}
		}
	}
	return rep, nil
}
