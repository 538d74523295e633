package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tradecopy/engine/internal/ledger"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable type")
	}
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{}, nil
}

func newTestNotifier(f *fakeSender) *Notifier {
	return &Notifier{api: f, chatID: 42, enabled: true}
}

func TestNewNotifierDisabledWithoutCredentials(t *testing.T) {
	n, err := NewNotifier("", 0)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	if n.Enabled() {
		t.Fatal("expected disabled notifier with empty credentials")
	}
}

func TestSendDisabled(t *testing.T) {
	n, _ := NewNotifier("", 0)
	if err := n.Send(context.Background(), "test"); err != nil {
		t.Fatalf("disabled send should succeed silently: %v", err)
	}
}

func TestSendDeliversToConfiguredChat(t *testing.T) {
	f := &fakeSender{}
	n := newTestNotifier(f)

	if err := n.Send(context.Background(), "hello world"); err != nil {
		t.Fatalf("send should succeed: %v", err)
	}
	if len(f.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(f.sent))
	}
	if f.sent[0].ChatID != 42 {
		t.Errorf("expected chat id 42, got %d", f.sent[0].ChatID)
	}
	if f.sent[0].Text != "hello world" {
		t.Errorf("expected text=hello world, got %s", f.sent[0].Text)
	}
	if f.sent[0].ParseMode != tgbotapi.ModeHTML {
		t.Errorf("expected HTML parse mode, got %s", f.sent[0].ParseMode)
	}
}

func TestSendWrapsDeliveryError(t *testing.T) {
	f := &fakeSender{err: errors.New("telegram down")}
	n := newTestNotifier(f)

	if err := n.Send(context.Background(), "test"); err == nil {
		t.Fatal("expected error when delivery fails")
	}
}

func TestNotifyCloseDisabled(t *testing.T) {
	n, _ := NewNotifier("", 0)
	// Must not panic or block even though delivery is a no-op.
	n.NotifyClose(context.Background(), "Will it happen?", ledger.TriggerMarketResolution, ledger.CauseWinnerYES, 12.5)
}

func TestNotifyCloseSendsFormattedMessage(t *testing.T) {
	f := &fakeSender{}
	n := newTestNotifier(f)

	n.NotifyClose(context.Background(), "Will it happen?", ledger.TriggerMarketResolution, ledger.CauseWinnerYES, 12.5)
	if len(f.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(f.sent))
	}
	text := f.sent[0].Text
	if !strings.Contains(text, "MARKET_RESOLUTION") || !strings.Contains(text, "WINNER_YES") {
		t.Errorf("expected trigger/cause in message, got %s", text)
	}
	if !strings.Contains(text, "+12.50") {
		t.Errorf("expected signed pnl in message, got %s", text)
	}
}

func TestNotifyCloseSwallowsDeliveryError(t *testing.T) {
	f := &fakeSender{err: errors.New("telegram down")}
	n := newTestNotifier(f)
	// Must not panic: a failed alert never unwinds the close it reports on.
	n.NotifyClose(context.Background(), "Will it happen?", ledger.TriggerUserAction, ledger.CauseManual, -1)
}

func TestNotifyAlertSendsMessage(t *testing.T) {
	f := &fakeSender{}
	n := newTestNotifier(f)

	n.NotifyAlert(context.Background(), "ledger load failed")
	if len(f.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(f.sent))
	}
	if !strings.Contains(f.sent[0].Text, "ledger load failed") {
		t.Errorf("expected alert text in message, got %s", f.sent[0].Text)
	}
}
