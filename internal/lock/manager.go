package lock

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/weft/internal/ir"
)

const (
	// DefaultTTL is the lock lifetime when no TTL option is given.
	DefaultTTL = 5 * time.Minute

	// DefaultShards is the number of lock-map shards.
	DefaultShards = 32
)

type shard struct {
	mu      sync.Mutex
	entries map[ir.FunctionID]*entry
}

// Manager grants per-function read and write locks.
//
// Thread-safety: All methods are safe for concurrent use. Each call holds at
// most one shard mutex at a time.
type Manager struct {
	shards  []*shard
	clock   Clock
	ttl     time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the monotonic clock. Default is NewSystemClock().
func WithClock(c Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithDefaultTTL sets the lock lifetime used when an acquisition carries no
// TTL of its own.
func WithDefaultTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithShards sets the shard count. n < 1 is ignored.
func WithShards(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.shards = makeShards(n)
		}
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

func makeShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{entries: make(map[ir.FunctionID]*entry)}
	}
	return shards
}

// NewManager creates a lock manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		shards: makeShards(DefaultShards),
		clock:  NewSystemClock(),
		ttl:    DefaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AcquireOption adjusts a single acquisition.
type AcquireOption func(*acquireConfig)

type acquireConfig struct {
	ttl    time.Duration
	hasTTL bool
}

// TTL overrides the lock lifetime for one acquisition. A zero or negative
// TTL produces a lock that is already expired, which the next sweep or
// observing acquisition reclaims.
func TTL(d time.Duration) AcquireOption {
	return func(c *acquireConfig) {
		c.ttl = d
		c.hasTTL = true
	}
}

func (m *Manager) expiryFrom(now Instant, opts []AcquireOption) Instant {
	cfg := acquireConfig{ttl: m.ttl}
	for _, opt := range opts {
		opt(&cfg)
	}
	return now.Add(cfg.ttl)
}

func (m *Manager) shardFor(fid ir.FunctionID) *shard {
	// Fibonacci hashing spreads sequential ids across shards.
	h := uint64(fid) * 0x9E3779B97F4A7C15
	return m.shards[h%uint64(len(m.shards))]
}

// Now returns the current monotonic instant.
func (m *Manager) Now() Instant {
	return Instant(m.clock.Elapsed())
}

// ExpiryString renders a monotonic instant as RFC 3339 wall time.
func (m *Manager) ExpiryString(i Instant) string {
	return FormatExpiry(m.clock.WallAt(time.Duration(i)))
}

// TTL returns the default lock lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// observe returns the live entry for fid, reclaiming it first if it has
// expired. Caller holds s.mu.
func (m *Manager) observe(s *shard, fid ir.FunctionID, now Instant) *entry {
	e, ok := s.entries[fid]
	if !ok {
		return nil
	}
	if e.expired(now) {
		delete(s.entries, fid)
		m.metrics.expired(1)
		m.logger.Info("lock expired on access", "function", fid, "mode", e.mode, "holder", e.holder)
		return nil
	}
	e.pruneReaders(now)
	return e
}

func (m *Manager) grant(fid ir.FunctionID, agent ir.AgentID, mode Mode, expiry Instant) Grant {
	return Grant{
		FunctionID: fid,
		Agent:      agent,
		Mode:       mode,
		Expires:    expiry,
		ExpiresAt:  m.ExpiryString(expiry),
	}
}

// TryAcquireRead grants a shared read lock.
//
// Succeeds when fid is unlocked or read-locked, adding or refreshing agent
// as a reader. If agent already holds the write lock, a read grant is
// implied without changing state. Denied when another agent holds the
// write lock.
func (m *Manager) TryAcquireRead(agent ir.AgentID, fid ir.FunctionID, opts ...AcquireOption) (Grant, error) {
	s := m.shardFor(fid)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.Now()
	expiry := m.expiryFrom(now, opts)
	e := m.observe(s, fid, now)

	switch {
	case e == nil:
		s.entries[fid] = newReadEntry(agent, expiry)
	case e.mode == ModeRead:
		_, refreshed := e.readers[agent]
		e.readers[agent] = expiry
		e.recomputeExpiry()
		e.dequeue(agent)
		m.metrics.acquired(ModeRead, "granted")
		g := m.grant(fid, agent, ModeRead, expiry)
		g.Refreshed = refreshed
		return g, nil
	case e.holder == agent:
		m.metrics.acquired(ModeRead, "implied")
		g := m.grant(fid, agent, ModeRead, e.expiry)
		g.Implied = true
		return g, nil
	default:
		return Grant{}, m.deny(e, fid, agent, ModeRead)
	}

	m.metrics.acquired(ModeRead, "granted")
	m.logger.Debug("read lock acquired", "function", fid, "agent", agent)
	return m.grant(fid, agent, ModeRead, expiry), nil
}

// TryAcquireWrite grants an exclusive write lock.
//
// Succeeds when fid is unlocked, when agent is the sole reader (upgrade) or
// when agent already holds the write lock (refresh: extends the TTL and
// replaces the description if one is given). Otherwise denied and agent is
// recorded as a waiter.
func (m *Manager) TryAcquireWrite(agent ir.AgentID, fid ir.FunctionID, description string, opts ...AcquireOption) (Grant, error) {
	s := m.shardFor(fid)
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.acquireWriteLocked(s, agent, fid, description, opts)
}

func (m *Manager) acquireWriteLocked(s *shard, agent ir.AgentID, fid ir.FunctionID, description string, opts []AcquireOption) (Grant, error) {
	now := m.Now()
	expiry := m.expiryFrom(now, opts)
	e := m.observe(s, fid, now)

	g := m.grant(fid, agent, ModeWrite, expiry)
	switch {
	case e == nil:
		s.entries[fid] = newWriteEntry(agent, description, now, expiry)
	case e.mode == ModeRead && len(e.readers) == 1 && e.holds(agent):
		waiters := e.waiters
		upgraded := newWriteEntry(agent, description, now, expiry)
		upgraded.waiters = waiters
		upgraded.dequeue(agent)
		s.entries[fid] = upgraded
		g.Upgraded = true
	case e.mode == ModeWrite && e.holder == agent:
		e.expiry = expiry
		if description != "" {
			e.description = description
		}
		g.Refreshed = true
	default:
		return Grant{}, m.deny(e, fid, agent, ModeWrite)
	}

	m.metrics.acquired(ModeWrite, "granted")
	m.logger.Debug("write lock acquired", "function", fid, "agent", agent,
		"upgraded", g.Upgraded, "refreshed", g.Refreshed)
	return g, nil
}

// deny records agent as a waiter and builds the denial. Caller holds the
// shard mutex.
func (m *Manager) deny(e *entry, fid ir.FunctionID, agent ir.AgentID, requested Mode) *DeniedError {
	pos := e.enqueue(agent)
	m.metrics.acquired(requested, "denied")
	err := &DeniedError{
		FunctionID:    fid,
		Requester:     agent,
		Requested:     requested,
		Holder:        e.otherHolder(agent),
		HolderMode:    e.mode,
		QueuePosition: pos,
	}
	if e.mode == ModeWrite {
		err.Description = e.description
	}
	m.logger.Debug("lock denied", "function", fid, "agent", agent,
		"requested", requested, "holder", err.Holder, "queue_position", pos)
	return err
}

// BatchAcquireWrite write-locks every function in fids or none of them.
//
// Ids are de-duplicated and acquired in ascending order, so overlapping
// batches from different agents cannot deadlock. On the first denial every
// entry the batch touched is restored to its state before the call: locks
// newly taken are dropped, and locks agent already held survive unchanged.
func (m *Manager) BatchAcquireWrite(agent ir.AgentID, fids []ir.FunctionID, description string, opts ...AcquireOption) ([]Grant, error) {
	ids := ir.SortedFunctionIDs(fids)
	grants := make([]Grant, 0, len(ids))

	type touched struct {
		fid   ir.FunctionID
		prior *entry
	}
	var undo []touched

	for _, fid := range ids {
		s := m.shardFor(fid)
		s.mu.Lock()
		prior := m.observe(s, fid, m.Now()).clone()
		g, err := m.acquireWriteLocked(s, agent, fid, description, opts)
		s.mu.Unlock()

		if err != nil {
			rolledBack := make([]ir.FunctionID, 0, len(undo))
			for i := len(undo) - 1; i >= 0; i-- {
				m.restore(agent, undo[i].fid, undo[i].prior)
				rolledBack = append(rolledBack, undo[i].fid)
			}
			slices.Sort(rolledBack)
			m.logger.Info("batch write lock rolled back", "agent", agent, "failed", fid, "rolled_back", len(rolledBack))
			return nil, &BatchError{Agent: agent, Failed: fid, RolledBack: rolledBack, Cause: err}
		}
		undo = append(undo, touched{fid: fid, prior: prior})
		grants = append(grants, g)
	}
	return grants, nil
}

// restore puts fid back to prior, keeping any waiters recorded meanwhile.
// Only an entry agent still holds is restored.
func (m *Manager) restore(agent ir.AgentID, fid ir.FunctionID, prior *entry) {
	s := m.shardFor(fid)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[fid]
	if !ok || !cur.holds(agent) {
		return
	}
	if prior == nil {
		delete(s.entries, fid)
		return
	}
	for _, w := range cur.waiters {
		if !slices.Contains(prior.waiters, w) {
			prior.waiters = append(prior.waiters, w)
		}
	}
	s.entries[fid] = prior
}

// Release drops agent's lock on fid.
//
// A reader is removed from the reader set and the function is unlocked once
// the set is empty; a write holder unlocks the function. Returns
// ErrNotTracked when fid has no lock state at all and *NotHeldError when
// agent does not participate.
func (m *Manager) Release(agent ir.AgentID, fid ir.FunctionID) error {
	s := m.shardFor(fid)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[fid]
	if !ok {
		return ErrNotTracked
	}
	if !e.holds(agent) {
		return &NotHeldError{FunctionID: fid, Agent: agent, Required: e.mode}
	}
	m.releaseLocked(s, e, agent, fid)
	return nil
}

func (m *Manager) releaseLocked(s *shard, e *entry, agent ir.AgentID, fid ir.FunctionID) {
	if e.mode == ModeRead {
		delete(e.readers, agent)
		if len(e.readers) > 0 {
			e.recomputeExpiry()
			m.metrics.released(ModeRead)
			return
		}
	}
	delete(s.entries, fid)
	m.metrics.released(e.mode)
	m.logger.Debug("lock released", "function", fid, "agent", agent, "mode", e.mode)
}

// ReleaseAll drops every lock agent holds and removes it from every waiter
// list. Returns the functions released, ascending.
func (m *Manager) ReleaseAll(agent ir.AgentID) []ir.FunctionID {
	released := make([]ir.FunctionID, 0)
	for _, s := range m.shards {
		s.mu.Lock()
		for fid, e := range s.entries {
			e.dequeue(agent)
			if e.holds(agent) {
				m.releaseLocked(s, e, agent, fid)
				released = append(released, fid)
			}
		}
		s.mu.Unlock()
	}
	slices.Sort(released)
	if len(released) > 0 {
		m.logger.Info("released all locks", "agent", agent, "count", len(released))
	}
	return released
}

// VerifyWriteLocks checks, without changing anything, that agent holds an
// unexpired write lock on every function in fids.
func (m *Manager) VerifyWriteLocks(agent ir.AgentID, fids []ir.FunctionID) error {
	now := m.Now()
	for _, fid := range ir.SortedFunctionIDs(fids) {
		s := m.shardFor(fid)
		s.mu.Lock()
		e, ok := s.entries[fid]
		held := ok && e.mode == ModeWrite && e.holder == agent && !e.expired(now)
		s.mu.Unlock()
		if !held {
			return &NotHeldError{FunctionID: fid, Agent: agent, Required: ModeWrite}
		}
	}
	return nil
}

// Heartbeat extends every live lock agent holds by the TTL and returns the
// renewed grants ordered by function. Locks that already expired are
// reclaimed instead of renewed.
func (m *Manager) Heartbeat(agent ir.AgentID, opts ...AcquireOption) []Grant {
	grants := make([]Grant, 0)
	for _, s := range m.shards {
		s.mu.Lock()
		now := m.Now()
		expiry := m.expiryFrom(now, opts)
		for fid := range s.entries {
			e := m.observe(s, fid, now)
			if e == nil || !e.holds(agent) {
				continue
			}
			if e.mode == ModeRead {
				e.readers[agent] = expiry
				e.recomputeExpiry()
			} else {
				e.expiry = expiry
			}
			g := m.grant(fid, agent, e.mode, expiry)
			g.Refreshed = true
			grants = append(grants, g)
		}
		s.mu.Unlock()
	}
	slices.SortFunc(grants, func(a, b Grant) int { return cmp.Compare(a.FunctionID, b.FunctionID) })
	return grants
}

// Status returns a snapshot of every tracked lock ordered by function.
func (m *Manager) Status() []StatusEntry {
	now := m.Now()
	out := make([]StatusEntry, 0)
	for _, s := range m.shards {
		s.mu.Lock()
		for fid, e := range s.entries {
			out = append(out, m.statusOf(fid, e, now))
		}
		s.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b StatusEntry) int { return cmp.Compare(a.FunctionID, b.FunctionID) })
	return out
}

// StatusOf returns the status of one function. ok is false when unlocked.
func (m *Manager) StatusOf(fid ir.FunctionID) (StatusEntry, bool) {
	s := m.shardFor(fid)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[fid]
	if !ok {
		return StatusEntry{}, false
	}
	return m.statusOf(fid, e, m.Now()), true
}

func (m *Manager) statusOf(fid ir.FunctionID, e *entry, now Instant) StatusEntry {
	st := StatusEntry{
		FunctionID: fid,
		Mode:       e.mode,
		ExpiresAt:  m.ExpiryString(e.expiry),
		Expired:    e.expired(now),
		Waiters:    slices.Clone(e.waiters),
	}
	if st.Waiters == nil {
		st.Waiters = []ir.AgentID{}
	}
	if e.mode == ModeWrite {
		st.Holder = e.holder
		st.Description = e.description
		st.AcquiredAt = m.ExpiryString(e.acquiredAt)
		return st
	}
	for _, agent := range e.sortedReaders() {
		st.Readers = append(st.Readers, ReaderStatus{Agent: agent, ExpiresAt: m.ExpiryString(e.readers[agent])})
	}
	return st
}

// Held returns the number of tracked locks.
func (m *Manager) Held() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// SweepExpired evicts every lock whose expiry has passed and returns the
// freed functions, ascending.
func (m *Manager) SweepExpired() []ir.FunctionID {
	freed := make([]ir.FunctionID, 0)
	for _, s := range m.shards {
		s.mu.Lock()
		now := m.Now()
		for fid, e := range s.entries {
			if e.expired(now) {
				delete(s.entries, fid)
				freed = append(freed, fid)
				continue
			}
			e.pruneReaders(now)
		}
		s.mu.Unlock()
	}
	slices.Sort(freed)
	if len(freed) > 0 {
		m.metrics.expired(len(freed))
		m.logger.Info("swept expired locks", "count", len(freed), "functions", freed)
	}
	return freed
}

// Run sweeps expired locks every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("lock sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("lock sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			m.SweepExpired()
		}
	}
}
