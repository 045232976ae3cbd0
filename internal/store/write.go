package store

import (
	"context"
	"fmt"

	"github.com/roach88/memstate/internal/journal"
)

// Append inserts entries in a single transaction.
//
// Either every entry is committed or none is. A sequence number or command
// ID that already exists fails the whole batch; the journal never reuses
// either, so a conflict means two writers share this file.
func (s *Store) Append(ctx context.Context, entries []journal.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO journal (seq, command_id, recorded_at, payload, checksum)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("append: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.Sequence,
			e.CommandID,
			e.Timestamp.UnixNano(),
			e.Payload,
			e.Checksum,
		); err != nil {
			return fmt.Errorf("append: record %d: %w", e.Sequence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append: commit: %w", err)
	}
	return nil
}
