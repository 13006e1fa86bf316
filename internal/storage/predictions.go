package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// maxIndexRetries bounds how often SaveNextPrediction re-reads the latest
// index after losing an insert race before giving up with ErrConflict.
const maxIndexRetries = 3

// LatestIndex returns the highest reprediction index recorded for the
// subject, or -1 if the subject has never been predicted.
func (s *Store) LatestIndex(ctx context.Context, sub Subject) (int, error) {
	var idx int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(reprediction_index), -1) FROM predictions
		WHERE entity_kind = ? AND entity_id = ? AND model = ? AND community = ?`,
		sub.Kind, sub.EntityID, sub.Model, sub.Community,
	).Scan(&idx)
	if err != nil {
		return -1, err
	}
	return idx, nil
}

// LatestPrediction returns the full record at the subject's highest
// reprediction index, or ErrNotFound if the subject has never been
// predicted.
func (s *Store) LatestPrediction(ctx context.Context, sub Subject) (Prediction, error) {
	var p Prediction
	var deps, usage, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT reprediction_index, value, dependency_docs, cost, token_usage, created_at
		FROM predictions
		WHERE entity_kind = ? AND entity_id = ? AND model = ? AND community = ?
		ORDER BY reprediction_index DESC LIMIT 1`,
		sub.Kind, sub.EntityID, sub.Model, sub.Community,
	).Scan(&p.Index, &p.Value, &deps, &p.Cost, &usage, &createdAt)
	if err == sql.ErrNoRows {
		return Prediction{}, ErrNotFound
	}
	if err != nil {
		return Prediction{}, err
	}
	p.Subject = sub
	if err := json.Unmarshal([]byte(deps), &p.DependencyDocs); err != nil {
		return Prediction{}, fmt.Errorf("parsing dependency_docs: %w", err)
	}
	if err := json.Unmarshal([]byte(usage), &p.Usage); err != nil {
		return Prediction{}, fmt.Errorf("parsing token_usage: %w", err)
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Prediction{}, fmt.Errorf("parsing created_at: %w", err)
	}
	p.CreatedAt = t
	return p, nil
}

// PredictionMetadata returns the creation time and dependency document
// names of the subject's latest record without fetching the value payload.
func (s *Store) PredictionMetadata(ctx context.Context, sub Subject) (PredictionMeta, error) {
	var deps, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT dependency_docs, created_at FROM predictions
		WHERE entity_kind = ? AND entity_id = ? AND model = ? AND community = ?
		ORDER BY reprediction_index DESC LIMIT 1`,
		sub.Kind, sub.EntityID, sub.Model, sub.Community,
	).Scan(&deps, &createdAt)
	if err == sql.ErrNoRows {
		return PredictionMeta{}, ErrNotFound
	}
	if err != nil {
		return PredictionMeta{}, err
	}
	var m PredictionMeta
	if err := json.Unmarshal([]byte(deps), &m.DependencyDocs); err != nil {
		return PredictionMeta{}, fmt.Errorf("parsing dependency_docs: %w", err)
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return PredictionMeta{}, fmt.Errorf("parsing created_at: %w", err)
	}
	m.CreatedAt = t
	return m, nil
}

// SavePredictionAt writes the record at p.Index. The insert is conditional
// on the index slot being empty: if another writer already holds the slot,
// nothing is written and ErrConflict is returned.
func (s *Store) SavePredictionAt(ctx context.Context, p Prediction) error {
	deps, err := json.Marshal(p.DependencyDocs)
	if err != nil {
		return fmt.Errorf("marshaling dependency_docs: %w", err)
	}
	usage, err := json.Marshal(p.Usage)
	if err != nil {
		return fmt.Errorf("marshaling token_usage: %w", err)
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO predictions
			(entity_kind, entity_id, model, community, reprediction_index,
			 value, dependency_docs, doc_count, cost, token_usage, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		p.Subject.Kind, p.Subject.EntityID, p.Subject.Model, p.Subject.Community,
		p.Index, p.Value, string(deps), len(p.DependencyDocs), p.Cost,
		string(usage), createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// SaveNextPrediction appends p at the subject's next free index (latest+1,
// or 0 for a never-predicted subject) and returns the index written.
// A lost race re-reads the latest index and retries, bounded by
// maxIndexRetries, after which ErrConflict is surfaced to the caller.
func (s *Store) SaveNextPrediction(ctx context.Context, p Prediction) (int, error) {
	for range maxIndexRetries {
		latest, err := s.LatestIndex(ctx, p.Subject)
		if err != nil {
			return -1, err
		}

		p.Index = latest + 1
		err = s.SavePredictionAt(ctx, p)
		if err == nil {
			return p.Index, nil
		}
		if !errors.Is(err, ErrConflict) {
			return -1, err
		}
	}
	return -1, fmt.Errorf("saving prediction for %s after %d attempts: %w",
		p.Subject.EntityID, maxIndexRetries, ErrConflict)
}

// CostsByIndex sums cost and billable document count per reprediction
// index over every subject of the given kind, model and community. A
// non-empty entityIDs slice narrows the aggregation to those entities.
// Indices with no records have no entry in the result.
func (s *Store) CostsByIndex(ctx context.Context, kind EntityKind, model, community string, entityIDs []string) (map[int]CostRow, error) {
	query := `SELECT reprediction_index, SUM(cost), SUM(doc_count) FROM predictions
		WHERE entity_kind = ? AND model = ? AND community = ?`
	args := []any{kind, model, community}

	if len(entityIDs) > 0 {
		placeholders := strings.Repeat(",?", len(entityIDs)-1)
		query += ` AND entity_id IN (?` + placeholders + `)`
		for _, id := range entityIDs {
			args = append(args, id)
		}
	}
	query += ` GROUP BY reprediction_index`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int]CostRow)
	for rows.Next() {
		var idx int
		var row CostRow
		if err := rows.Scan(&idx, &row.TotalCost, &row.Count); err != nil {
			return nil, err
		}
		result[idx] = row
	}
	return result, rows.Err()
}
