package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresSynonymStore stores synonym entries in the synonyms table
type PostgresSynonymStore struct {
	db *sql.DB
}

// NewPostgresSynonymStore creates a synonym store
func NewPostgresSynonymStore(db *sql.DB) *PostgresSynonymStore {
	return &PostgresSynonymStore{db: db}
}

const synonymColumns = `id, term, synonyms, created_at, updated_at`

// Lookup returns the entry for term, or nil when none exists
func (s *PostgresSynonymStore) Lookup(ctx context.Context, term string) (*SynonymEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+synonymColumns+`
		FROM synonyms
		WHERE term = $1
	`, term)

	entry, err := scanSynonym(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up synonyms for %q: %w", term, err)
	}
	return entry, nil
}

// Reverse returns entries listing term among their synonyms
func (s *PostgresSynonymStore) Reverse(ctx context.Context, term string) ([]SynonymEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+synonymColumns+`
		FROM synonyms
		WHERE $1 = ANY(synonyms)
		ORDER BY term ASC
	`, term)
	if err != nil {
		return nil, fmt.Errorf("failed to reverse look up %q: %w", term, err)
	}
	defer rows.Close()

	return collectSynonyms(rows)
}

// Upsert inserts or replaces the entry keyed by term
func (s *PostgresSynonymStore) Upsert(ctx context.Context, term string, synonyms []string) (*SynonymEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO synonyms (id, term, synonyms, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (term) DO UPDATE
		SET synonyms = EXCLUDED.synonyms, updated_at = NOW()
		RETURNING `+synonymColumns,
		uuid.New().String(), term, pq.Array(synonyms),
	)

	entry, err := scanSynonym(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert synonyms for %q: %w", term, err)
	}
	return entry, nil
}

// List returns entries ordered by term
func (s *PostgresSynonymStore) List(ctx context.Context, limit, offset int) ([]SynonymEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+synonymColumns+`
		FROM synonyms
		ORDER BY term ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list synonyms: %w", err)
	}
	defer rows.Close()

	return collectSynonyms(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSynonym(row rowScanner) (*SynonymEntry, error) {
	var entry SynonymEntry
	if err := row.Scan(&entry.ID, &entry.Term, pq.Array(&entry.Synonyms), &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return nil, err
	}
	return &entry, nil
}

func collectSynonyms(rows *sql.Rows) ([]SynonymEntry, error) {
	entries := make([]SynonymEntry, 0)
	for rows.Next() {
		entry, err := scanSynonym(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan synonym entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating synonyms: %w", err)
	}
	return entries, nil
}
