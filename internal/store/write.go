package store

import (
	"context"
	"fmt"

	"github.com/roach88/weft/internal/ir"
)

// SaveSnapshot stores snap under label and returns the new snapshot id.
// All rows are written in one transaction.
func (s *Store) SaveSnapshot(ctx context.Context, label, mode string, commitSeq int64, snap ir.HashSnapshot) (int64, error) {
	if label == "" {
		return 0, fmt.Errorf("save snapshot: empty label")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (label, mode, schema_version, engine_version, commit_seq)
		VALUES (?, ?, ?, ?, ?)
	`, label, mode, ir.HashSchemaVersion, ir.EngineVersion, commitSeq)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO snapshot_hashes (snapshot_id, function_id, hash) VALUES (?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	defer stmt.Close()

	for _, fid := range snap.IDs() {
		h, _ := snap.Get(fid)
		if _, err := stmt.ExecContext(ctx, id, int64(fid), h.String()); err != nil {
			return 0, fmt.Errorf("save snapshot: function %s: %w", fid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	return id, nil
}

// RecordCommit appends a commit to the log.
// Uses ON CONFLICT(seq) DO NOTHING for idempotency.
func (s *Store) RecordCommit(ctx context.Context, c CommitRecord) error {
	functions, err := marshalFunctionIDs(c.Functions)
	if err != nil {
		return fmt.Errorf("record commit: %w", err)
	}
	recompile, err := marshalFunctionIDs(c.Recompile)
	if err != nil {
		return fmt.Errorf("record commit: %w", err)
	}
	hashes, err := marshalHashes(c.Hashes)
	if err != nil {
		return fmt.Errorf("record commit: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO commits (seq, agent, functions, structural, mutations, hashes, recompile)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`, c.Seq, string(c.Agent), functions, c.Structural, c.Mutations, hashes, recompile)
	if err != nil {
		return fmt.Errorf("record commit: %w", err)
	}
	return nil
}

// DeleteSnapshot removes a snapshot and its hashes.
func (s *Store) DeleteSnapshot(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete snapshot %d: %w", id, ErrNotFound)
	}
	return nil
}

// PruneSnapshots keeps the newest keep snapshots for label and mode and
// deletes the rest. It returns how many snapshots were removed. keep below
// one is rejected: the planner always needs a baseline.
func (s *Store) PruneSnapshots(ctx context.Context, label, mode string, keep int) (int64, error) {
	if keep < 1 {
		return 0, fmt.Errorf("prune snapshots: keep must be at least 1, got %d", keep)
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots
		WHERE label = ? AND mode = ? AND id NOT IN (
			SELECT id FROM snapshots
			WHERE label = ? AND mode = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`, label, mode, label, mode, keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	if n > 0 {
		s.logger.Debug("snapshots pruned", "label", label, "mode", mode, "removed", n)
	}
	return n, nil
}
