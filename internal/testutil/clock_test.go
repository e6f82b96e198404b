package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_StartsAtZero(t *testing.T) {
	clock := NewManualClock()
	assert.Equal(t, time.Duration(0), clock.Elapsed())
	assert.Equal(t, DefaultOrigin, clock.WallAt(0))
}

func TestManualClock_AdvanceIsMonotonic(t *testing.T) {
	clock := NewManualClock()

	clock.Advance(5 * time.Second)
	assert.Equal(t, 5*time.Second, clock.Elapsed())

	clock.Advance(-time.Hour)
	assert.Equal(t, 5*time.Second, clock.Elapsed(), "negative advance ignored")

	assert.Equal(t, DefaultOrigin.Add(5*time.Second), clock.WallAt(clock.Elapsed()))

	clock.Reset()
	assert.Equal(t, time.Duration(0), clock.Elapsed())
}

func TestManualClock_ThreadSafe(t *testing.T) {
	clock := NewManualClock()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Millisecond)
			_ = clock.Elapsed()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50*time.Millisecond, clock.Elapsed())
}
