package notify

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/phqovo/slimming/internal/logging"
	"github.com/phqovo/slimming/internal/models"
)

// sender abstracts the Telegram API so tests never hit the network.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends one-line sync failure messages to a configured chat.
// Delivery is fire-and-forget: a dropped notification never affects the run.
type TelegramNotifier struct {
	bot      sender
	chatID   int64
	debounce *Debouncer
	logger   *logging.Logger
}

// NewTelegramNotifier builds a notifier, or returns nil when the bot token is
// empty so callers can treat notifications as disabled.
func NewTelegramNotifier(token string, chatID int64, logger *logging.Logger) (*TelegramNotifier, error) {
	if strings.TrimSpace(token) == "" || chatID == 0 {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &TelegramNotifier{
		bot:      bot,
		chatID:   chatID,
		debounce: NewDebouncer(0, 0),
		logger:   logger,
	}, nil
}

// NotifyFailure satisfies the orchestrator's Notifier interface. Repeated
// failures for the same user and category within the debounce window are
// dropped.
func (n *TelegramNotifier) NotifyFailure(userID int64, category models.Category, runID string, errMessage string) {
	if n.debounce != nil && !n.debounce.Allow(userID, category) {
		n.logger.Debug("failure notification suppressed",
			"user_id", userID, "category", string(category), "run_id", runID)
		return
	}

	text := fmt.Sprintf("⚠️ Sync failed: user %d, %s\nrun %s\n%s",
		userID, category, runID, errMessage)

	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error("failed to send failure notification",
			"run_id", runID, "error", err.Error())
	}
}
