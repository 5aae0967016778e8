package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/gatherly/concierge/internal/config"
	"github.com/gatherly/concierge/internal/llm"
)

// maxMessageLen keeps chunks under Telegram's 4096 limit with margin
// for the tags the renderer adds.
const maxMessageLen = 4000

// botSender is the subset of tgbotapi.BotAPI the notifier uses,
// allowing tests to supply a fake without a live connection.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram pushes notifications to one chat.
type Telegram struct {
	bot    botSender
	chatID int64
	logger *slog.Logger
}

// NewTelegram connects the bot. A config without a token or chat id
// returns (nil, nil): notifications are simply off, and callers
// should fall back to Noop.
func NewTelegram(cfg config.TelegramConfig, logger *slog.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" || cfg.ChatID == 0 {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{bot: bot, chatID: cfg.ChatID, logger: logger}, nil
}

// ConfirmationParked tells the organizer a tool call is waiting for
// approval in their chat session.
func (t *Telegram) ConfirmationParked(ctx context.Context, conversationID string, call llm.ToolCall) error {
	var md strings.Builder
	fmt.Fprintf(&md, "**Confirmation needed** in conversation `%s`\n\n", conversationID)
	fmt.Fprintf(&md, "The concierge wants to run **%s**:\n\n", call.Name)
	fmt.Fprintf(&md, "```\n%s\n```\n\n", prettyArgs(call.Arguments))
	md.WriteString("Approve or cancel it from your chat session.")
	return t.send(ctx, md.String())
}

// ConversationCompleted tells the organizer a planning session
// finished.
func (t *Telegram) ConversationCompleted(ctx context.Context, conversationID, entityID string) error {
	var md strings.Builder
	md.WriteString("**Planning session complete**\n\n")
	if entityID != "" {
		fmt.Fprintf(&md, "Event `%s` was created.\n", entityID)
	}
	fmt.Fprintf(&md, "Conversation: `%s`", conversationID)
	return t.send(ctx, md.String())
}

// send renders markdown and delivers it, splitting long messages.
func (t *Telegram) send(ctx context.Context, md string) error {
	rendered := ToTelegramHTML(md)
	for _, chunk := range splitMessage(rendered, maxMessageLen) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(t.chatID, chunk)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if _, err := t.bot.Send(msg); err != nil {
			// Telegram rejects the whole message on a bad entity;
			// resend the chunk as plain text so the ping still lands.
			t.logger.Warn("telegram html send failed, retrying plain", "error", err)
			plain := tgbotapi.NewMessage(t.chatID, chunk)
			if _, err := t.bot.Send(plain); err != nil {
				return fmt.Errorf("telegram send: %w", err)
			}
		}
	}
	return nil
}

// splitMessage cuts text into chunks of at most max bytes, preferring
// newline boundaries and never tearing a rune.
func splitMessage(s string, max int) []string {
	if len(s) <= max {
		return []string{s}
	}
	var chunks []string
	for len(s) > max {
		cut := strings.LastIndexByte(s[:max], '\n')
		if cut <= 0 {
			cut = max
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
			if cut == 0 {
				cut = max
			}
		}
		chunks = append(chunks, strings.TrimRight(s[:cut], "\n"))
		s = strings.TrimLeft(s[cut:], "\n")
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}

func prettyArgs(args json.RawMessage) string {
	if len(args) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, args, "", "  "); err != nil {
		return string(args)
	}
	return buf.String()
}
