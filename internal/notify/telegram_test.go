package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/gatherly/concierge/internal/config"
	"github.com/gatherly/concierge/internal/llm"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	failHTML bool
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, fmt.Errorf("unexpected chattable %T", c)
	}
	if f.failHTML && msg.ParseMode == tgbotapi.ModeHTML {
		return tgbotapi.Message{}, fmt.Errorf("Bad Request: can't parse entities")
	}
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeBot) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tgbotapi.MessageConfig, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestNotifier(bot *fakeBot) *Telegram {
	return &Telegram{
		bot:    bot,
		chatID: 42,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestConfirmationParkedMessage(t *testing.T) {
	bot := &fakeBot{}
	notifier := newTestNotifier(bot)

	err := notifier.ConfirmationParked(context.Background(), "conv-1", llm.ToolCall{
		ID:        "call_5",
		Name:      "create_event",
		Arguments: json.RawMessage(`{"name":"Gala","city":"Lisbon"}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := bot.messages()
	if len(sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sent))
	}
	msg := sent[0]
	if msg.ChatID != 42 {
		t.Errorf("wrong chat id %d", msg.ChatID)
	}
	if msg.ParseMode != tgbotapi.ModeHTML {
		t.Errorf("expected HTML parse mode, got %q", msg.ParseMode)
	}
	for _, want := range []string{"<b>Confirmation needed</b>", "create_event", "conv-1", "<pre>", "Gala"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("message missing %q:\n%s", want, msg.Text)
		}
	}
}

func TestConversationCompletedMessage(t *testing.T) {
	bot := &fakeBot{}
	notifier := newTestNotifier(bot)

	if err := notifier.ConversationCompleted(context.Background(), "conv-1", "evt_9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := bot.messages()
	if len(sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sent))
	}
	for _, want := range []string{"Planning session complete", "evt_9", "conv-1"} {
		if !strings.Contains(sent[0].Text, want) {
			t.Errorf("message missing %q:\n%s", want, sent[0].Text)
		}
	}
}

func TestSendFallsBackToPlainText(t *testing.T) {
	bot := &fakeBot{failHTML: true}
	notifier := newTestNotifier(bot)

	if err := notifier.ConversationCompleted(context.Background(), "conv-1", ""); err != nil {
		t.Fatalf("fallback should succeed: %v", err)
	}

	sent := bot.messages()
	if len(sent) != 1 {
		t.Fatalf("expected one delivered message, got %d", len(sent))
	}
	if sent[0].ParseMode != "" {
		t.Errorf("fallback must drop the parse mode, got %q", sent[0].ParseMode)
	}
}

func TestSendRespectsCancelledContext(t *testing.T) {
	bot := &fakeBot{}
	notifier := newTestNotifier(bot)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := notifier.ConfirmationParked(ctx, "conv-1", llm.ToolCall{Name: "x"}); err == nil {
		t.Errorf("expected context error")
	}
	if len(bot.messages()) != 0 {
		t.Errorf("nothing should be sent after cancellation")
	}
}

func TestNewTelegramDisabledWithoutConfig(t *testing.T) {
	notifier, err := NewTelegram(config.TelegramConfig{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notifier != nil {
		t.Errorf("empty config should disable notifications")
	}
}

func TestSplitMessagePrefersNewlines(t *testing.T) {
	chunks := splitMessage("aaa\nbbb\nccc", 7)
	if len(chunks) != 2 || chunks[0] != "aaa" || chunks[1] != "bbb\nccc" {
		t.Errorf("unexpected chunks: %q", chunks)
	}
}

func TestSplitMessageNeverTearsRunes(t *testing.T) {
	long := strings.Repeat("é", 50)
	for _, chunk := range splitMessage(long, 13) {
		if !utf8.ValidString(chunk) {
			t.Errorf("torn rune in chunk %q", chunk)
		}
		if len(chunk) > 13 {
			t.Errorf("chunk over limit: %d bytes", len(chunk))
		}
	}
}

func TestSplitMessageShortPassthrough(t *testing.T) {
	chunks := splitMessage("short", maxMessageLen)
	if len(chunks) != 1 || chunks[0] != "short" {
		t.Errorf("unexpected chunks: %q", chunks)
	}
}
