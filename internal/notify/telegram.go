// Package notify sends out-of-band Telegram alerts for position closes and
// emergency conditions (max-tick guard exhaustion). No alert is sent for a
// ledger load failure.
package notify

import (
	"context"
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tradecopy/engine/internal/ledger"
)

// sender is the slice of *tgbotapi.BotAPI the notifier uses, so tests can
// capture outgoing messages without a live bot connection.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends alerts to a Telegram chat via the Bot API.
type Notifier struct {
	api     sender
	chatID  int64
	enabled bool
}

// NewNotifier connects the Telegram bot. Notifications are enabled only when
// both botToken and chatID are set; with either missing the returned
// Notifier is a silent no-op.
func NewNotifier(botToken string, chatID int64) (*Notifier, error) {
	if botToken == "" || chatID == 0 {
		return &Notifier{}, nil
	}
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("notify: telegram bot: %w", err)
	}
	return &Notifier{api: api, chatID: chatID, enabled: true}, nil
}

// Enabled reports whether the notifier is active.
func (n *Notifier) Enabled() bool { return n.enabled }

// Send posts a message to the configured Telegram chat.
func (n *Notifier) Send(ctx context.Context, text string) error {
	if !n.enabled {
		return nil
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	return nil
}

// NotifyClose sends a position-close alert. Satisfies engine.Notifier.
// Errors are swallowed: a failed Telegram delivery must never block or
// unwind the close it's reporting on.
func (n *Notifier) NotifyClose(ctx context.Context, marketQuestion string, trigger ledger.CloseTrigger, cause ledger.CloseCause, pnl float64) {
	sign := ""
	if pnl > 0 {
		sign = "+"
	}
	msg := fmt.Sprintf(
		"<b>Position Closed</b>\n%s\nTrigger: %s\nCause: %s\nPnL: %s%.2f USD",
		marketQuestion, trigger, cause, sign, pnl,
	)
	if err := n.Send(ctx, msg); err != nil {
		log.Printf("notify: close alert failed: %v", err)
	}
}

// NotifyAlert sends a free-form alert; the engine uses it for max-tick-guard
// exhaustion. Satisfies engine.Notifier.
func (n *Notifier) NotifyAlert(ctx context.Context, msg string) {
	if err := n.Send(ctx, "<b>Alert</b>\n"+msg); err != nil {
		log.Printf("notify: alert failed: %v", err)
	}
}
