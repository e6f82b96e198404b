package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/roach88/weft/internal/ir"
)

// FunctionIDs returns the function id registry: every name ever registered
// mapped to its id, including functions no longer in the program.
func (s *Store) FunctionIDs(ctx context.Context) (map[string]ir.FunctionID, error) {
	return functionIDs(ctx, s.db)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func functionIDs(ctx context.Context, q querier) (map[string]ir.FunctionID, error) {
	rows, err := q.QueryContext(ctx, `SELECT name, id FROM function_ids ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("function ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]ir.FunctionID)
	for rows.Next() {
		var (
			name string
			id   int64
		)
		if err := rows.Scan(&name, &id); err != nil {
			return nil, fmt.Errorf("scan function id: %w", err)
		}
		out[name] = ir.FunctionID(id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate function ids: %w", err)
	}
	return out, nil
}

// RegisterFunctions assigns ids to the names the registry has not seen, in
// name order above the highest id ever assigned, and returns the whole
// registry. Registered names keep their ids.
func (s *Store) RegisterFunctions(ctx context.Context, names []string) (map[string]ir.FunctionID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("register functions: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	ids, err := functionIDs(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("register functions: %w", err)
	}
	next := NextFunctionID(ids)

	fresh := slices.Clone(names)
	slices.Sort(fresh)
	fresh = slices.Compact(fresh)
	added := 0
	for _, name := range fresh {
		if _, ok := ids[name]; ok || name == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO function_ids (name, id) VALUES (?, ?)`, name, int64(next)); err != nil {
			return nil, fmt.Errorf("register function %q: %w", name, err)
		}
		ids[name] = next
		next++
		added++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("register functions: %w", err)
	}
	if added > 0 {
		s.logger.Debug("functions registered", "added", added, "total", len(ids))
	}
	return ids, nil
}

// RecordFunctionIDs pins ids chosen elsewhere, such as functions created by
// a commit. A name already registered moves to its new id.
func (s *Store) RecordFunctionIDs(ctx context.Context, ids map[string]ir.FunctionID) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record function ids: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO function_ids (name, id) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET id = excluded.id
	`)
	if err != nil {
		return fmt.Errorf("record function ids: %w", err)
	}
	defer stmt.Close()

	names := make([]string, 0, len(ids))
	for name := range ids {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if _, err := stmt.ExecContext(ctx, name, int64(ids[name])); err != nil {
			return fmt.Errorf("record function %q: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record function ids: %w", err)
	}
	return nil
}

// NextFunctionID returns the id registration would assign next: one above
// the highest id in ids.
func NextFunctionID(ids map[string]ir.FunctionID) ir.FunctionID {
	var top ir.FunctionID
	for _, id := range ids {
		top = max(top, id)
	}
	return top + 1
}
