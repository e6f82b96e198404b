package lock

import (
	"maps"
	"slices"

	"github.com/roach88/weft/internal/ir"
)

// Mode is a lock mode.
type Mode string

const (
	ModeRead  Mode = "read"
	ModeWrite Mode = "write"
)

// entry is the lock state of one function. A function with no entry is
// unlocked. An entry is either read-locked (readers non-empty) or
// write-locked (holder set), never both.
type entry struct {
	mode Mode

	// Read mode. expiry is the max of all reader expiries.
	readers map[ir.AgentID]Instant

	// Write mode.
	holder      ir.AgentID
	description string
	acquiredAt  Instant

	expiry  Instant
	waiters []ir.AgentID
}

func newReadEntry(agent ir.AgentID, expiry Instant) *entry {
	return &entry{
		mode:    ModeRead,
		readers: map[ir.AgentID]Instant{agent: expiry},
		expiry:  expiry,
	}
}

func newWriteEntry(agent ir.AgentID, description string, now, expiry Instant) *entry {
	return &entry{
		mode:        ModeWrite,
		holder:      agent,
		description: description,
		acquiredAt:  now,
		expiry:      expiry,
	}
}

func (e *entry) clone() *entry {
	if e == nil {
		return nil
	}
	out := *e
	out.readers = maps.Clone(e.readers)
	out.waiters = slices.Clone(e.waiters)
	return &out
}

func (e *entry) expired(now Instant) bool {
	return e.expiry <= now
}

// holds reports whether agent participates in the lock in any mode.
func (e *entry) holds(agent ir.AgentID) bool {
	if e.mode == ModeWrite {
		return e.holder == agent
	}
	_, ok := e.readers[agent]
	return ok
}

// recomputeExpiry resets the shared read expiry to the max of all readers.
func (e *entry) recomputeExpiry() {
	var latest Instant
	first := true
	for _, exp := range e.readers {
		if first || exp > latest {
			latest = exp
			first = false
		}
	}
	e.expiry = latest
}

// pruneReaders drops readers whose own expiry has passed. The entry's
// shared expiry covers the rest.
func (e *entry) pruneReaders(now Instant) {
	if e.mode != ModeRead {
		return
	}
	for agent, exp := range e.readers {
		if exp <= now {
			delete(e.readers, agent)
		}
	}
	if len(e.readers) > 0 {
		e.recomputeExpiry()
	}
}

// sortedReaders returns reader ids ascending.
func (e *entry) sortedReaders() []ir.AgentID {
	out := make([]ir.AgentID, 0, len(e.readers))
	for agent := range e.readers {
		out = append(out, agent)
	}
	slices.Sort(out)
	return out
}

// otherHolder names an agent other than requester that blocks it.
func (e *entry) otherHolder(requester ir.AgentID) ir.AgentID {
	if e.mode == ModeWrite {
		return e.holder
	}
	for _, agent := range e.sortedReaders() {
		if agent != requester {
			return agent
		}
	}
	return ""
}

// enqueue records agent as a waiter and returns its 1-based position.
func (e *entry) enqueue(agent ir.AgentID) int {
	if i := slices.Index(e.waiters, agent); i >= 0 {
		return i + 1
	}
	e.waiters = append(e.waiters, agent)
	return len(e.waiters)
}

// dequeue removes agent from the waiters.
func (e *entry) dequeue(agent ir.AgentID) {
	if i := slices.Index(e.waiters, agent); i >= 0 {
		e.waiters = slices.Delete(e.waiters, i, i+1)
	}
}

// Grant is a successful acquisition.
type Grant struct {
	FunctionID ir.FunctionID `json:"function_id"`
	Agent      ir.AgentID    `json:"agent"`
	Mode       Mode          `json:"mode"`
	// ExpiresAt is the expiry as RFC 3339 wall time, for renewal planning.
	ExpiresAt string `json:"expires_at"`
	// Expires is the monotonic expiry.
	Expires   Instant `json:"-"`
	Upgraded  bool    `json:"upgraded,omitempty"`
	Refreshed bool    `json:"refreshed,omitempty"`
	// Implied marks a read grant synthesized from the agent's own write lock.
	Implied bool `json:"implied,omitempty"`
}

// ReaderStatus is one reader of a read-locked function.
type ReaderStatus struct {
	Agent     ir.AgentID `json:"agent"`
	ExpiresAt string     `json:"expires_at"`
}

// StatusEntry is a read-only view of one function's lock.
type StatusEntry struct {
	FunctionID  ir.FunctionID  `json:"function_id"`
	Mode        Mode           `json:"mode"`
	Holder      ir.AgentID     `json:"holder,omitempty"`
	Description string         `json:"description,omitempty"`
	AcquiredAt  string         `json:"acquired_at,omitempty"`
	Readers     []ReaderStatus `json:"readers,omitempty"`
	ExpiresAt   string         `json:"expires_at"`
	Expired     bool           `json:"expired"`
	Waiters     []ir.AgentID   `json:"waiters"`
}
