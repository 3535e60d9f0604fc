package lock

import (
	"fmt"
	"sync"
	"time"

	"github.com/phqovo/slimming/internal/models"
)

// Locker provides per-key mutual exclusion with a TTL safety valve. Acquire is
// atomic check-and-set; a lock whose TTL has lapsed counts as free, so a
// crashed holder can never block a key forever.
type Locker interface {
	Acquire(key string, ttl time.Duration) bool
	Release(key string)
	IsHeld(key string) bool
}

// SyncKey builds the lock key guarding one user/source/category sync.
func SyncKey(userID int64, dataSource string, category models.Category) string {
	return fmt.Sprintf("sync:lock:%d:%s:%s", userID, dataSource, category)
}

type entry struct {
	expiresAt time.Time
}

// MemoryLocker is the in-process Locker used by the single-node deployment.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Acquire takes the lock if it is free or expired. It returns false without
// blocking when another holder is active.
func (l *MemoryLocker) Acquire(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = time.Hour
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, exists := l.entries[key]; exists && now.Before(e.expiresAt) {
		return false
	}
	l.entries[key] = entry{expiresAt: now.Add(ttl)}
	return true
}

// Release frees the lock. There is no holder token: a run that outlives its
// TTL would release whatever holder owns the key by then, so run timeouts
// must stay under the lock TTL. Releasing a free key is a no-op.
func (l *MemoryLocker) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// IsHeld reports whether the lock is currently held and unexpired.
func (l *MemoryLocker) IsHeld(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, exists := l.entries[key]
	return exists && l.now().Before(e.expiresAt)
}

// Cleanup drops expired entries so long-running processes do not accumulate
// dead keys.
func (l *MemoryLocker) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, e := range l.entries {
		if !now.Before(e.expiresAt) {
			delete(l.entries, key)
		}
	}
}

// Size returns the number of tracked entries, expired included.
func (l *MemoryLocker) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
