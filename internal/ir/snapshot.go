package ir

import (
	"maps"
	"slices"
)

// HashSnapshot maps functions to their content hashes at a point in time.
// A snapshot is immutable once built: every constructor copies its input
// and With returns a new snapshot.
type HashSnapshot struct {
	hashes map[FunctionID]ContentHash
}

// NewHashSnapshot copies hashes into a new snapshot.
func NewHashSnapshot(hashes map[FunctionID]ContentHash) HashSnapshot {
	return HashSnapshot{hashes: maps.Clone(hashes)}
}

// Get returns the hash recorded for id.
func (s HashSnapshot) Get(id FunctionID) (ContentHash, bool) {
	h, ok := s.hashes[id]
	return h, ok
}

// Has reports whether id is recorded.
func (s HashSnapshot) Has(id FunctionID) bool {
	_, ok := s.hashes[id]
	return ok
}

// Len returns the number of recorded functions.
func (s HashSnapshot) Len() int {
	return len(s.hashes)
}

// IDs returns the recorded function ids in ascending order.
func (s HashSnapshot) IDs() []FunctionID {
	ids := make([]FunctionID, 0, len(s.hashes))
	for id := range s.hashes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// With returns a new snapshot with overrides applied. A zero hash in
// overrides removes the entry.
func (s HashSnapshot) With(overrides map[FunctionID]ContentHash) HashSnapshot {
	out := make(map[FunctionID]ContentHash, len(s.hashes)+len(overrides))
	maps.Copy(out, s.hashes)
	for id, h := range overrides {
		if h.IsZero() {
			delete(out, id)
			continue
		}
		out[id] = h
	}
	return HashSnapshot{hashes: out}
}

// Without returns a new snapshot lacking ids.
func (s HashSnapshot) Without(ids ...FunctionID) HashSnapshot {
	out := maps.Clone(s.hashes)
	if out == nil {
		out = map[FunctionID]ContentHash{}
	}
	for _, id := range ids {
		delete(out, id)
	}
	return HashSnapshot{hashes: out}
}

// Map returns a copy of the underlying mapping.
func (s HashSnapshot) Map() map[FunctionID]ContentHash {
	out := maps.Clone(s.hashes)
	if out == nil {
		out = map[FunctionID]ContentHash{}
	}
	return out
}

// Hex returns the snapshot with hashes rendered as hex strings.
func (s HashSnapshot) Hex() map[FunctionID]string {
	out := make(map[FunctionID]string, len(s.hashes))
	for id, h := range s.hashes {
		out[id] = h.String()
	}
	return out
}

// Equal reports whether both snapshots record the same hashes.
func (s HashSnapshot) Equal(other HashSnapshot) bool {
	return maps.Equal(s.hashes, other.hashes)
}
