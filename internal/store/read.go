package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/weft/internal/ir"
)

// ErrNotFound is returned when a requested snapshot does not exist.
var ErrNotFound = errors.New("not found")

const snapshotColumns = `
	s.id, s.label, s.mode, s.schema_version, s.engine_version, s.commit_seq,
	(SELECT COUNT(*) FROM snapshot_hashes h WHERE h.snapshot_id = s.id)
`

func scanSnapshotInfo(row interface{ Scan(...any) error }) (SnapshotInfo, error) {
	var info SnapshotInfo
	err := row.Scan(&info.ID, &info.Label, &info.Mode, &info.SchemaVersion,
		&info.EngineVersion, &info.CommitSeq, &info.Functions)
	return info, err
}

// LoadSnapshot returns the snapshot with the given id.
// Returns ErrNotFound when it does not exist.
func (s *Store) LoadSnapshot(ctx context.Context, id int64) (Snapshot, error) {
	info, err := scanSnapshotInfo(s.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots s WHERE s.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("load snapshot %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot %d: %w", id, err)
	}
	return s.loadHashes(ctx, info)
}

// LatestSnapshot returns the most recent snapshot stored under label and
// mode. ok is false when there is none.
func (s *Store) LatestSnapshot(ctx context.Context, label, mode string) (Snapshot, bool, error) {
	info, err := scanSnapshotInfo(s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots s
		WHERE s.label = ? AND s.mode = ?
		ORDER BY s.id DESC
		LIMIT 1
	`, label, mode))
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("latest snapshot %q: %w", label, err)
	}
	snap, err := s.loadHashes(ctx, info)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// ListSnapshots returns every stored snapshot, oldest first.
// Returns an empty slice (not nil) if none exist.
func (s *Store) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots s ORDER BY s.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	out := []SnapshotInfo{}
	for rows.Next() {
		info, err := scanSnapshotInfo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

func (s *Store) loadHashes(ctx context.Context, info SnapshotInfo) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT function_id, hash FROM snapshot_hashes
		WHERE snapshot_id = ?
		ORDER BY function_id ASC
	`, info.ID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load hashes of snapshot %d: %w", info.ID, err)
	}
	defer rows.Close()

	hashes := make(map[ir.FunctionID]ir.ContentHash)
	for rows.Next() {
		var (
			fid int64
			hex string
		)
		if err := rows.Scan(&fid, &hex); err != nil {
			return Snapshot{}, fmt.Errorf("scan hash: %w", err)
		}
		h, err := ir.ParseContentHash(hex)
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot %d function %d: %w", info.ID, fid, err)
		}
		hashes[ir.FunctionID(fid)] = h
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterate hashes: %w", err)
	}
	return Snapshot{SnapshotInfo: info, Hashes: ir.NewHashSnapshot(hashes)}, nil
}

// ReadCommits returns commits with seq > after, oldest first, at most limit
// rows (limit <= 0 means all). Returns an empty slice (not nil) if none.
func (s *Store) ReadCommits(ctx context.Context, after int64, limit int) ([]CommitRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, agent, functions, structural, mutations, hashes, recompile
		FROM commits
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}
	defer rows.Close()

	out := []CommitRecord{}
	for rows.Next() {
		var (
			c                            CommitRecord
			agent                        string
			functions, hashes, recompile string
		)
		if err := rows.Scan(&c.Seq, &agent, &functions, &c.Structural, &c.Mutations, &hashes, &recompile); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		c.Agent = ir.AgentID(agent)
		if c.Functions, err = unmarshalFunctionIDs(functions); err != nil {
			return nil, fmt.Errorf("commit %d: %w", c.Seq, err)
		}
		if c.Recompile, err = unmarshalFunctionIDs(recompile); err != nil {
			return nil, fmt.Errorf("commit %d: %w", c.Seq, err)
		}
		if c.Hashes, err = unmarshalHashes(hashes); err != nil {
			return nil, fmt.Errorf("commit %d: %w", c.Seq, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}
	return out, nil
}

// LastCommitSeq returns the highest recorded commit seq, or 0.
// The engine resumes its logical clock from here.
func (s *Store) LastCommitSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM commits`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last commit seq: %w", err)
	}
	return seq.Int64, nil
}
