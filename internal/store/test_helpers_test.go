package store

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/weft/internal/ir"
)

// createTestStore opens a file-backed store under t.TempDir so WAL mode is
// real, with logging discarded.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "weft.db"), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// testSnapshot hashes each seed string under the function domain.
func testSnapshot(seeds map[ir.FunctionID]string) ir.HashSnapshot {
	hashes := make(map[ir.FunctionID]ir.ContentHash, len(seeds))
	for fid, seed := range seeds {
		hashes[fid] = ir.HashWithDomain(ir.DomainFunction, []byte(seed))
	}
	return ir.NewHashSnapshot(hashes)
}
