package storage

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveDocument stores content under (scope, name) and returns the version
// now holding that content. If the content is byte-identical to the latest
// stored version, nothing is written and changed is false; otherwise a new
// version (latest+1, or 1 for a new name) is inserted with the write time.
func (s *Store) SaveDocument(ctx context.Context, scope, name string, content []byte) (version int, changed bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	var current int
	var existing []byte
	err = tx.QueryRowContext(ctx, `
		SELECT version, content FROM context_documents
		WHERE scope = ? AND name = ?
		ORDER BY version DESC LIMIT 1`, scope, name,
	).Scan(&current, &existing)
	switch {
	case err == sql.ErrNoRows:
		current = 0
	case err != nil:
		return 0, false, fmt.Errorf("reading latest version of %q: %w", name, err)
	default:
		if bytes.Equal(existing, content) {
			return current, false, nil
		}
	}

	next := current + 1
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO context_documents (scope, name, version, content, created_at)
		VALUES (?, ?, ?, ?, ?)`, scope, name, next, content, now,
	); err != nil {
		return 0, false, fmt.Errorf("inserting version %d of %q: %w", next, name, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("committing save of %q: %w", name, err)
	}
	return next, true, nil
}

// GetDocument returns the latest stored version of the named document, or
// ErrNotFound if the name has never been saved in this scope.
func (s *Store) GetDocument(ctx context.Context, scope, name string) (Document, error) {
	var d Document
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT scope, name, version, content, created_at FROM context_documents
		WHERE scope = ? AND name = ?
		ORDER BY version DESC LIMIT 1`, scope, name,
	).Scan(&d.Scope, &d.Name, &d.Version, &d.Content, &createdAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	d.CreatedAt = t
	return d, nil
}

// ListDocuments returns the latest version of every document in scope,
// ordered by name.
func (s *Store) ListDocuments(ctx context.Context, scope string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scope, name, version, content, created_at FROM context_documents d
		WHERE scope = ? AND version = (
			SELECT MAX(version) FROM context_documents
			WHERE scope = d.scope AND name = d.name
		)
		ORDER BY name ASC`, scope,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var d Document
		var createdAt string
		if err := rows.Scan(&d.Scope, &d.Name, &d.Version, &d.Content, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		d.CreatedAt = t
		results = append(results, d)
	}
	return results, rows.Err()
}
