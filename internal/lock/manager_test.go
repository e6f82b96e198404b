package lock

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weft/internal/ir"
	"github.com/roach88/weft/internal/testutil"
)

const (
	agentA ir.AgentID = "agent-a"
	agentB ir.AgentID = "agent-b"
	agentC ir.AgentID = "agent-c"
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *testutil.ManualClock) {
	t.Helper()
	clock := testutil.NewManualClock()
	return NewManager(append([]Option{WithClock(clock)}, opts...)...), clock
}

func TestTryAcquireWrite_MutualExclusion(t *testing.T) {
	m, _ := newTestManager(t)

	g, err := m.TryAcquireWrite(agentA, 1, "rename locals")
	require.NoError(t, err)
	assert.Equal(t, ModeWrite, g.Mode)
	assert.Equal(t, "2025-01-01T00:05:00Z", g.ExpiresAt)

	_, err = m.TryAcquireWrite(agentB, 1, "")
	denied, ok := AsDenied(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, agentA, denied.Holder)
	assert.Equal(t, ModeWrite, denied.HolderMode)
	assert.Equal(t, "rename locals", denied.Description)
	assert.Equal(t, 1, denied.QueuePosition)
	assert.Equal(t, ErrCodeDenied, denied.Code())

	_, err = m.TryAcquireWrite(agentC, 1, "")
	denied, _ = AsDenied(err)
	assert.Equal(t, 2, denied.QueuePosition)

	// Asking again keeps the original place in line.
	_, err = m.TryAcquireWrite(agentB, 1, "")
	denied, _ = AsDenied(err)
	assert.Equal(t, 1, denied.QueuePosition)

	st, ok := m.StatusOf(1)
	require.True(t, ok)
	assert.Equal(t, []ir.AgentID{agentB, agentC}, st.Waiters)
	assert.Equal(t, agentA, st.Holder)
}

func TestTryAcquireRead_SharedAndBlockedByWriter(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.TryAcquireRead(agentA, 1)
	require.NoError(t, err)
	_, err = m.TryAcquireRead(agentB, 1)
	require.NoError(t, err)

	st, _ := m.StatusOf(1)
	require.Len(t, st.Readers, 2)
	assert.Equal(t, agentA, st.Readers[0].Agent)

	_, err = m.TryAcquireWrite(agentC, 2, "")
	require.NoError(t, err)
	_, err = m.TryAcquireRead(agentA, 2)
	assert.True(t, IsDenied(err))
}

func TestTryAcquireRead_ImpliedByOwnWriteLock(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.TryAcquireWrite(agentA, 1, "")
	require.NoError(t, err)

	g, err := m.TryAcquireRead(agentA, 1)
	require.NoError(t, err)
	assert.True(t, g.Implied)

	st, _ := m.StatusOf(1)
	assert.Equal(t, ModeWrite, st.Mode, "implied read leaves the write lock alone")
}

func TestTryAcquireWrite_UpgradeSoleReader(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.TryAcquireRead(agentA, 1)
	require.NoError(t, err)
	_, err = m.TryAcquireRead(agentB, 1)
	require.NoError(t, err)

	_, err = m.TryAcquireWrite(agentA, 1, "inline")
	denied, ok := AsDenied(err)
	require.True(t, ok)
	assert.Equal(t, agentB, denied.Holder)
	assert.Equal(t, ModeRead, denied.HolderMode)

	require.NoError(t, m.Release(agentB, 1))

	g, err := m.TryAcquireWrite(agentA, 1, "inline")
	require.NoError(t, err)
	assert.True(t, g.Upgraded)

	st, _ := m.StatusOf(1)
	assert.Equal(t, ModeWrite, st.Mode)
	assert.Equal(t, agentA, st.Holder)
	assert.Empty(t, st.Waiters, "successful acquisition leaves the queue")
	assert.Empty(t, st.Readers)
}

func TestTryAcquireWrite_Refresh(t *testing.T) {
	m, clock := newTestManager(t)
	_, err := m.TryAcquireWrite(agentA, 1, "first")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	g, err := m.TryAcquireWrite(agentA, 1, "")
	require.NoError(t, err)
	assert.True(t, g.Refreshed)
	assert.Equal(t, Instant(6*time.Minute), g.Expires)

	st, _ := m.StatusOf(1)
	assert.Equal(t, "first", st.Description, "empty description keeps the old one")

	_, err = m.TryAcquireWrite(agentA, 1, "second")
	require.NoError(t, err)
	st, _ = m.StatusOf(1)
	assert.Equal(t, "second", st.Description)
}

func TestBatchAcquireWrite_AllOrNothing(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.TryAcquireWrite(agentB, 3, "held elsewhere")
	require.NoError(t, err)

	_, err = m.BatchAcquireWrite(agentA, []ir.FunctionID{4, 1, 3, 2, 1}, "refactor")
	require.Error(t, err)

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, ir.FunctionID(3), batchErr.Failed)
	assert.Equal(t, []ir.FunctionID{1, 2}, batchErr.RolledBack)
	assert.Equal(t, ErrCodeBatchFailure, batchErr.Code())
	assert.True(t, IsDenied(err), "cause is reachable through the batch error")

	status := m.Status()
	require.Len(t, status, 1)
	assert.Equal(t, ir.FunctionID(3), status[0].FunctionID)
	assert.Equal(t, agentB, status[0].Holder)
	assert.Equal(t, []ir.AgentID{agentA}, status[0].Waiters)

	require.NoError(t, m.Release(agentB, 3))
	grants, err := m.BatchAcquireWrite(agentA, []ir.FunctionID{4, 1, 3, 2, 1}, "refactor")
	require.NoError(t, err)
	require.Len(t, grants, 4)
	assert.Equal(t, ir.FunctionID(1), grants[0].FunctionID)
	assert.Equal(t, ir.FunctionID(4), grants[3].FunctionID)
}

func TestBatchAcquireWrite_ConcurrentOverlappingBatches(t *testing.T) {
	m, _ := newTestManager(t)
	const agents = 16

	for round := range 25 {
		var (
			wg     sync.WaitGroup
			wins   atomic.Int32
			winner atomic.Value
			start  = make(chan struct{})
			wanted = make(map[ir.AgentID][]ir.FunctionID, agents)
		)
		for i := range agents {
			agent := ir.AgentID(fmt.Sprintf("agent-%02d", i))
			// Every batch contains function 1, its lowest id, and overlaps
			// its neighbours above it.
			fids := []ir.FunctionID{ir.FunctionID(2 + i%5), 1, ir.FunctionID(3 + i%7), ir.FunctionID(2 + i%5)}
			wanted[agent] = ir.SortedFunctionIDs(fids)

			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				grants, err := m.BatchAcquireWrite(agent, fids, "overlap")
				if err != nil {
					var batch *BatchError
					assert.True(t, errors.As(err, &batch), "round %d: %v", round, err)
					return
				}
				wins.Add(1)
				winner.Store(agent)
				assert.Len(t, grants, len(ir.SortedFunctionIDs(fids)))
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), wins.Load(), "round %d", round)
		won := winner.Load().(ir.AgentID)

		held := make(map[ir.AgentID][]ir.FunctionID)
		for _, st := range m.Status() {
			assert.Empty(t, st.Readers, "round %d: function %s", round, st.FunctionID)
			if st.Mode == ModeWrite {
				held[st.Holder] = append(held[st.Holder], st.FunctionID)
			}
		}
		assert.Equal(t, map[ir.AgentID][]ir.FunctionID{won: wanted[won]}, held, "round %d: losers hold nothing", round)

		assert.ElementsMatch(t, wanted[won], m.ReleaseAll(won))
	}
}

func TestBatchAcquireWrite_PreHeldLocksSurviveRollback(t *testing.T) {
	m, _ := newTestManager(t)
	g, err := m.TryAcquireWrite(agentA, 1, "mine", TTL(time.Minute))
	require.NoError(t, err)
	_, err = m.TryAcquireRead(agentA, 2)
	require.NoError(t, err)
	_, err = m.TryAcquireWrite(agentB, 3, "")
	require.NoError(t, err)

	_, err = m.BatchAcquireWrite(agentA, []ir.FunctionID{1, 2, 3}, "batch")
	require.True(t, IsBatchFailure(err))

	st, ok := m.StatusOf(1)
	require.True(t, ok)
	assert.Equal(t, agentA, st.Holder)
	assert.Equal(t, "mine", st.Description)
	assert.Equal(t, g.ExpiresAt, st.ExpiresAt, "refresh undone")

	st, ok = m.StatusOf(2)
	require.True(t, ok)
	assert.Equal(t, ModeRead, st.Mode, "upgrade undone")
	require.Len(t, st.Readers, 1)
	assert.Equal(t, agentA, st.Readers[0].Agent)
}

func TestTTL_LazyReclaimOnAcquire(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	m, clock := newTestManager(t, WithMetrics(metrics))

	_, err := m.TryAcquireWrite(agentA, 1, "", TTL(time.Minute))
	require.NoError(t, err)

	clock.Advance(time.Minute)
	g, err := m.TryAcquireWrite(agentB, 1, "")
	require.NoError(t, err, "expiry at exactly now counts as expired")
	assert.False(t, g.Refreshed)
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.expirations))

	assert.True(t, IsNotHeld(m.VerifyWriteLocks(agentA, []ir.FunctionID{1})))
}

func TestTTL_ZeroIsAlreadyExpired(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.TryAcquireWrite(agentA, 1, "", TTL(0))
	require.NoError(t, err)

	st, ok := m.StatusOf(1)
	require.True(t, ok)
	assert.True(t, st.Expired)

	_, err = m.TryAcquireWrite(agentB, 1, "")
	assert.NoError(t, err)
}

func TestSweepExpired(t *testing.T) {
	m, clock := newTestManager(t)
	_, err := m.TryAcquireWrite(agentA, 1, "", TTL(time.Minute))
	require.NoError(t, err)
	_, err = m.TryAcquireWrite(agentA, 2, "", TTL(10*time.Minute))
	require.NoError(t, err)
	_, err = m.TryAcquireRead(agentA, 3, TTL(time.Minute))
	require.NoError(t, err)
	_, err = m.TryAcquireRead(agentB, 3, TTL(10*time.Minute))
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, []ir.FunctionID{1}, m.SweepExpired())
	assert.Equal(t, 2, m.Held())

	st, ok := m.StatusOf(3)
	require.True(t, ok)
	require.Len(t, st.Readers, 1, "expired reader pruned")
	assert.Equal(t, agentB, st.Readers[0].Agent)

	// agent-b is now the sole reader and may upgrade.
	g, err := m.TryAcquireWrite(agentB, 3, "")
	require.NoError(t, err)
	assert.True(t, g.Upgraded)

	assert.Empty(t, m.SweepExpired())
}

func TestHeartbeat(t *testing.T) {
	m, clock := newTestManager(t)
	_, err := m.TryAcquireWrite(agentA, 1, "", TTL(time.Minute))
	require.NoError(t, err)
	_, err = m.TryAcquireRead(agentA, 2, TTL(time.Minute))
	require.NoError(t, err)
	_, err = m.TryAcquireWrite(agentA, 3, "", TTL(10*time.Second))
	require.NoError(t, err)
	_, err = m.TryAcquireWrite(agentB, 4, "")
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	grants := m.Heartbeat(agentA)
	require.Len(t, grants, 2, "expired lock on 3 is reclaimed, not renewed")
	assert.Equal(t, ir.FunctionID(1), grants[0].FunctionID)
	assert.Equal(t, ir.FunctionID(2), grants[1].FunctionID)
	assert.Equal(t, Instant(30*time.Second+DefaultTTL), grants[0].Expires)
	assert.True(t, grants[0].Refreshed)

	clock.Advance(2 * time.Minute)
	assert.NoError(t, m.VerifyWriteLocks(agentA, []ir.FunctionID{1}))
	_, ok := m.StatusOf(3)
	assert.False(t, ok)
}

func TestReleaseAll(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.TryAcquireWrite(agentA, 1, "")
	require.NoError(t, err)
	_, err = m.TryAcquireRead(agentA, 2)
	require.NoError(t, err)
	_, err = m.TryAcquireRead(agentB, 2)
	require.NoError(t, err)
	_, err = m.TryAcquireWrite(agentB, 3, "")
	require.NoError(t, err)
	_, err = m.TryAcquireWrite(agentA, 3, "")
	require.True(t, IsDenied(err))

	assert.Equal(t, []ir.FunctionID{1, 2}, m.ReleaseAll(agentA))

	_, ok := m.StatusOf(1)
	assert.False(t, ok)
	st, _ := m.StatusOf(2)
	require.Len(t, st.Readers, 1)
	assert.Equal(t, agentB, st.Readers[0].Agent)
	st, _ = m.StatusOf(3)
	assert.Empty(t, st.Waiters)

	assert.Empty(t, m.ReleaseAll(agentA))
}

func TestRelease_Errors(t *testing.T) {
	m, _ := newTestManager(t)

	err := m.Release(agentA, 99)
	assert.True(t, errors.Is(err, ErrNotTracked))

	_, err = m.TryAcquireWrite(agentA, 1, "")
	require.NoError(t, err)
	err = m.Release(agentB, 1)
	var notHeld *NotHeldError
	require.ErrorAs(t, err, &notHeld)
	assert.Equal(t, ModeWrite, notHeld.Required)
	assert.Equal(t, ErrCodeNotHeld, notHeld.Code())

	require.NoError(t, m.Release(agentA, 1))
	assert.Equal(t, 0, m.Held())
}

func TestVerifyWriteLocks(t *testing.T) {
	m, clock := newTestManager(t)
	_, err := m.TryAcquireWrite(agentA, 1, "", TTL(time.Minute))
	require.NoError(t, err)
	_, err = m.TryAcquireRead(agentA, 2)
	require.NoError(t, err)

	assert.NoError(t, m.VerifyWriteLocks(agentA, []ir.FunctionID{1}))
	assert.NoError(t, m.VerifyWriteLocks(agentA, nil))

	err = m.VerifyWriteLocks(agentA, []ir.FunctionID{2, 1})
	var notHeld *NotHeldError
	require.ErrorAs(t, err, &notHeld)
	assert.Equal(t, ir.FunctionID(2), notHeld.FunctionID, "read lock is not enough")

	assert.Error(t, m.VerifyWriteLocks(agentB, []ir.FunctionID{1}))

	clock.Advance(time.Minute)
	assert.Error(t, m.VerifyWriteLocks(agentA, []ir.FunctionID{1}))
	assert.Equal(t, 2, m.Held(), "verification never reclaims")
}

func TestConcurrentWritersExactlyOneWins(t *testing.T) {
	m := NewManager()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agent := ir.AgentID("agent-" + string(rune('a'+i%26)) + string(rune('0'+i/26)))
			if _, err := m.TryAcquireWrite(agent, 7, ""); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	st, ok := m.StatusOf(7)
	require.True(t, ok)
	assert.Len(t, st.Waiters, 31)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	m, _ := newTestManager(t, WithMetrics(metrics))
	RegisterHeldGauge(reg, m)

	_, err := m.TryAcquireWrite(agentA, 1, "")
	require.NoError(t, err)
	_, err = m.TryAcquireWrite(agentB, 1, "")
	require.Error(t, err)
	_, err = m.TryAcquireRead(agentB, 2)
	require.NoError(t, err)
	require.NoError(t, m.Release(agentA, 1))

	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.acquisitions.WithLabelValues("write", "granted")))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.acquisitions.WithLabelValues("write", "denied")))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.acquisitions.WithLabelValues("read", "granted")))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.releases.WithLabelValues("write")))

	n, err := promtest.GatherAndCount(reg, "weft_locks_held")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var metrics *Metrics
	metrics.acquired(ModeRead, "granted")
	metrics.released(ModeWrite)
	metrics.expired(3)
}
