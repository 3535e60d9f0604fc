package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phqovo/slimming/internal/logging"
	"github.com/phqovo/slimming/internal/models"
)

func TestDebouncerSuppressesRepeats(t *testing.T) {
	now := time.Now()
	d := NewDebouncer(30*time.Minute, 30)
	d.now = func() time.Time { return now }

	assert.True(t, d.Allow(7, models.CategoryWeight))
	assert.False(t, d.Allow(7, models.CategoryWeight))

	// Different key is independent.
	assert.True(t, d.Allow(7, models.CategorySleep))
	assert.True(t, d.Allow(8, models.CategoryWeight))

	// After the window the same key passes again.
	now = now.Add(31 * time.Minute)
	assert.True(t, d.Allow(7, models.CategoryWeight))
}

func TestDebouncerTokenBucketCapsBursts(t *testing.T) {
	now := time.Now()
	d := NewDebouncer(time.Minute, 3)
	d.now = func() time.Time { return now }

	assert.True(t, d.Allow(1, models.CategoryWeight))
	assert.True(t, d.Allow(2, models.CategoryWeight))
	assert.True(t, d.Allow(3, models.CategoryWeight))
	assert.False(t, d.Allow(4, models.CategoryWeight))

	// Tokens refill over time.
	now = now.Add(time.Minute)
	assert.True(t, d.Allow(4, models.CategoryWeight))
}

func TestNotifyFailureDebounced(t *testing.T) {
	sender := &fakeSender{}
	n := &TelegramNotifier{
		bot:      sender,
		chatID:   12345,
		debounce: NewDebouncer(30*time.Minute, 30),
		logger:   logging.NewLogger(),
	}

	n.NotifyFailure(7, models.CategoryWeight, "run-1", "boom")
	n.NotifyFailure(7, models.CategoryWeight, "run-2", "boom again")

	require.Len(t, sender.sent, 1)
}
