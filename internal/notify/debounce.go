package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/phqovo/slimming/internal/models"
)

// Debouncer suppresses repeated failure notifications. A notification for
// the same user and category is sent at most once per window, and overall
// delivery is capped by a token bucket so a burst of failing runs cannot
// flood the chat.
type Debouncer struct {
	mu       sync.Mutex
	lastSent map[string]time.Time
	window   time.Duration

	rate       float64 // tokens per second
	bucketSize float64
	tokens     float64
	lastRefill time.Time

	now func() time.Time
}

// NewDebouncer creates a debouncer. window <= 0 defaults to 30 minutes,
// ratePerMinute <= 0 defaults to 30.
func NewDebouncer(window time.Duration, ratePerMinute int) *Debouncer {
	if window <= 0 {
		window = 30 * time.Minute
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	return &Debouncer{
		lastSent:   make(map[string]time.Time),
		window:     window,
		rate:       float64(ratePerMinute) / 60.0,
		bucketSize: float64(ratePerMinute),
		tokens:     float64(ratePerMinute),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

func debounceKey(userID int64, category models.Category) string {
	return fmt.Sprintf("%d|%s", userID, category)
}

// Allow reports whether a notification for the key may be sent now and
// records it as sent when allowed.
func (d *Debouncer) Allow(userID int64, category models.Category) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	key := debounceKey(userID, category)
	if sent, ok := d.lastSent[key]; ok && now.Sub(sent) < d.window {
		return false
	}

	d.refill(now)
	if d.tokens < 1 {
		return false
	}
	d.tokens--
	d.lastSent[key] = now
	d.gc(now)
	return true
}

func (d *Debouncer) refill(now time.Time) {
	elapsed := now.Sub(d.lastRefill).Seconds()
	d.lastRefill = now
	d.tokens += d.rate * elapsed
	if d.tokens > d.bucketSize {
		d.tokens = d.bucketSize
	}
}

// gc drops entries older than the window so the map does not grow with
// every user that ever failed.
func (d *Debouncer) gc(now time.Time) {
	if len(d.lastSent) < 1024 {
		return
	}
	for key, sent := range d.lastSent {
		if now.Sub(sent) >= d.window {
			delete(d.lastSent, key)
		}
	}
}
