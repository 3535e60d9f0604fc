package lock

import (
	"sync"
	"testing"
	"time"

	"github.com/phqovo/slimming/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncKey(t *testing.T) {
	key := SyncKey(42, "mi_health", models.CategoryWeight)
	assert.Equal(t, "sync:lock:42:mi_health:weight", key)
}

func TestAcquireRelease(t *testing.T) {
	l := NewMemoryLocker()

	require.True(t, l.Acquire("k", time.Minute))
	assert.True(t, l.IsHeld("k"))
	assert.False(t, l.Acquire("k", time.Minute))

	l.Release("k")
	assert.False(t, l.IsHeld("k"))
	assert.True(t, l.Acquire("k", time.Minute))
}

func TestAcquireIndependentKeys(t *testing.T) {
	l := NewMemoryLocker()
	assert.True(t, l.Acquire("a", time.Minute))
	assert.True(t, l.Acquire("b", time.Minute))
}

func TestExpiredLockIsFree(t *testing.T) {
	l := NewMemoryLocker()
	current := time.Unix(1000, 0)
	l.now = func() time.Time { return current }

	require.True(t, l.Acquire("k", time.Hour))
	assert.False(t, l.Acquire("k", time.Hour))

	current = current.Add(time.Hour + time.Second)
	assert.False(t, l.IsHeld("k"))
	assert.True(t, l.Acquire("k", time.Hour))
}

func TestReleaseUnheldIsNoop(t *testing.T) {
	l := NewMemoryLocker()
	l.Release("never-acquired")
	assert.False(t, l.IsHeld("never-acquired"))
}

func TestCleanup(t *testing.T) {
	l := NewMemoryLocker()
	current := time.Unix(1000, 0)
	l.now = func() time.Time { return current }

	l.Acquire("old", time.Minute)
	current = current.Add(2 * time.Minute)
	l.Acquire("fresh", time.Hour)

	require.Equal(t, 2, l.Size())
	l.Cleanup()
	assert.Equal(t, 1, l.Size())
	assert.True(t, l.IsHeld("fresh"))
}

func TestAcquireExactlyOneWinner(t *testing.T) {
	l := NewMemoryLocker()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Acquire("contested", time.Minute) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}
