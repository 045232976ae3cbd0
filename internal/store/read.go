package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/memstate/internal/journal"
)

// readPageSize bounds how many rows ReadFrom holds before calling back.
// The connection is released between pages so callbacks may write.
const readPageSize = 512

// ReadFrom calls fn for every entry with Sequence >= from, ordered by seq.
// It stops at the first error from fn and returns it unchanged.
func (s *Store) ReadFrom(ctx context.Context, from int64, fn func(journal.Entry) error) error {
	next := from
	for {
		page, err := s.readPage(ctx, `
			SELECT seq, command_id, recorded_at, payload, checksum
			FROM journal
			WHERE seq >= ?
			ORDER BY seq ASC
			LIMIT ?
		`, next, readPageSize)
		if err != nil {
			return err
		}

		for _, e := range page {
			if err := fn(e); err != nil {
				return err
			}
		}

		if len(page) < readPageSize {
			return nil
		}
		next = page[len(page)-1].Sequence + 1
	}
}

// ReadSince calls fn for every entry recorded at or after t, ordered by seq.
func (s *Store) ReadSince(ctx context.Context, t time.Time, fn func(journal.Entry) error) error {
	var first sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(seq) FROM journal WHERE recorded_at >= ?
	`, t.UnixNano()).Scan(&first)
	if err != nil {
		return fmt.Errorf("read since: %w", err)
	}
	if !first.Valid {
		return nil
	}
	return s.ReadFrom(ctx, first.Int64, fn)
}

// Last returns the highest persisted sequence number, 0 when empty.
func (s *Store) Last(ctx context.Context) (int64, error) {
	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM journal`).Scan(&last); err != nil {
		return 0, fmt.Errorf("last sequence: %w", err)
	}
	return last.Int64, nil
}

// Count returns the number of persisted entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM journal`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// readPage runs query and scans every row before returning, so the
// connection is free again when the caller sees the entries.
func (s *Store) readPage(ctx context.Context, query string, args ...any) ([]journal.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []journal.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (journal.Entry, error) {
	var (
		e          journal.Entry
		recordedAt int64
	)
	if err := rows.Scan(&e.Sequence, &e.CommandID, &recordedAt, &e.Payload, &e.Checksum); err != nil {
		return journal.Entry{}, fmt.Errorf("scan journal row: %w", err)
	}
	e.Timestamp = time.Unix(0, recordedAt).UTC()
	return e, nil
}
