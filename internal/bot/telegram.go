package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/donmunna435-dev/Deep-yt/internal/config"
	"github.com/donmunna435-dev/Deep-yt/internal/domain"
	"github.com/donmunna435-dev/Deep-yt/internal/service"
)

const (
	msgSlowDown = "You're sending messages too fast. Please slow down."
	msgBusy     = "I'm still working on your previous messages. Please wait a moment."

	// maxMessageLength is the Bot API limit for a text message.
	maxMessageLength = 4096
)

// SubmitFunc hands an inbound event to the dispatcher.
type SubmitFunc func(domain.Event) error

// Telegram is the Bot API transport. It turns updates into events and
// implements service.Chat for replies.
type Telegram struct {
	api         *tgbotapi.BotAPI
	limiter     *UserLimiter
	pollTimeout int
	logger      *slog.Logger
}

// New connects to the Bot API and verifies the token. A nil client uses
// http.DefaultClient.
func New(cfg config.TelegramConfig, client *http.Client, limiter *UserLimiter, logger *slog.Logger) (*Telegram, error) {
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	api.Debug = cfg.Debug

	pollTimeout := cfg.PollTimeout
	if pollTimeout < 0 {
		pollTimeout = 0
	}

	logger.Info("telegram bot authorized", "username", api.Self.UserName)

	return &Telegram{
		api:         api,
		limiter:     limiter,
		pollTimeout: pollTimeout,
		logger:      logger,
	}, nil
}

// Username returns the bot's username.
func (t *Telegram) Username() string {
	return t.api.Self.UserName
}

// Run long-polls for updates until ctx is cancelled.
func (t *Telegram) Run(ctx context.Context, submit SubmitFunc) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.pollTimeout

	updates := t.api.GetUpdatesChan(u)
	t.logger.Info("polling for updates", "timeout", t.pollTimeout)

	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update, submit)
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update, submit SubmitFunc) {
	ev, ok := ToEvent(update)
	if !ok {
		return
	}
	logger := t.logger.With("user_id", ev.UserID.String(), "kind", ev.Kind)

	if t.limiter != nil {
		allowed, warn := t.limiter.Allow(ev.UserID)
		if !allowed {
			logger.Debug("event rate limited")
			if ev.CallbackID != "" {
				_ = t.AnswerCallback(ctx, ev.CallbackID, msgSlowDown)
			} else if warn {
				t.reply(ctx, ev.ChatID, msgSlowDown)
			}
			return
		}
	}

	if err := submit(ev); err != nil {
		logger.Warn("event rejected", "error", err)
		t.reply(ctx, ev.ChatID, msgBusy)
	}
}

func (t *Telegram) reply(ctx context.Context, chatID int64, text string) {
	if _, err := t.Send(ctx, chatID, service.OutMessage{Text: text}); err != nil {
		t.logger.Warn("failed to send reply", "chat_id", chatID, "error", err)
	}
}

// ToEvent converts an update into an event. Updates without a sender or
// with nothing the bot understands are dropped.
func ToEvent(update tgbotapi.Update) (domain.Event, bool) {
	if cq := update.CallbackQuery; cq != nil {
		if cq.From == nil {
			return domain.Event{}, false
		}
		ev := domain.Event{
			UserID:     domain.UserID(cq.From.ID),
			ChatID:     cq.From.ID,
			Kind:       domain.EventButton,
			Button:     cq.Data,
			CallbackID: cq.ID,
		}
		if cq.Message != nil && cq.Message.Chat != nil {
			ev.ChatID = cq.Message.Chat.ID
			ev.MessageID = cq.Message.MessageID
		}
		return ev, true
	}

	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return domain.Event{}, false
	}

	ev := domain.Event{
		UserID:    domain.UserID(m.From.ID),
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
	}

	media := mediaOf(m)
	switch {
	case media != nil:
		ev.Kind = domain.EventMedia
		ev.Media = media
	case m.IsCommand():
		ev.Kind = domain.EventCommand
		ev.Command = strings.ToLower(m.Command())
		ev.Args = strings.TrimSpace(m.CommandArguments())
	case m.Text != "":
		ev.Kind = domain.EventText
		ev.Text = m.Text
	default:
		return domain.Event{}, false
	}
	return ev, true
}

// mediaOf returns the video-like attachment of a message. Videos sent as
// files arrive as documents and GIF-style clips as animations.
func mediaOf(m *tgbotapi.Message) *domain.Media {
	switch {
	case m.Video != nil:
		return &domain.Media{
			FileID:   m.Video.FileID,
			FileName: m.Video.FileName,
			MimeType: m.Video.MimeType,
			Size:     int64(m.Video.FileSize),
		}
	case m.Document != nil:
		return &domain.Media{
			FileID:   m.Document.FileID,
			FileName: m.Document.FileName,
			MimeType: m.Document.MimeType,
			Size:     int64(m.Document.FileSize),
		}
	case m.Animation != nil:
		return &domain.Media{
			FileID:   m.Animation.FileID,
			FileName: m.Animation.FileName,
			MimeType: m.Animation.MimeType,
			Size:     int64(m.Animation.FileSize),
		}
	}
	return nil
}

// Send posts a text message with an optional inline keyboard.
func (t *Telegram) Send(ctx context.Context, chatID int64, msg service.OutMessage) (int, error) {
	out := tgbotapi.NewMessage(chatID, clip(msg.Text))
	if len(msg.Buttons) > 0 {
		out.ReplyMarkup = keyboard(msg.Buttons)
	}

	sent, err := t.api.Send(out)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return sent.MessageID, nil
}

// Edit replaces the text of a sent message. Editing to identical text is
// not an error.
func (t *Telegram) Edit(ctx context.Context, chatID int64, messageID int, text string) error {
	if _, err := t.api.Request(tgbotapi.NewEditMessageText(chatID, messageID, clip(text))); err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// SendPhoto uploads a PNG image.
func (t *Telegram) SendPhoto(ctx context.Context, chatID int64, png []byte, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "image.png", Bytes: png})
	photo.Caption = caption

	if _, err := t.api.Send(photo); err != nil {
		return fmt.Errorf("send photo: %w", err)
	}
	return nil
}

// FileURL resolves an attachment id to its download URL.
func (t *Telegram) FileURL(ctx context.Context, fileID string) (string, error) {
	link, err := t.api.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("get file: %w", err)
	}
	return link, nil
}

// AnswerCallback stops the button's loading indicator.
func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if _, err := t.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

func keyboard(rows [][]service.Button) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			} else {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
			}
		}
		out = append(out, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}

func clip(text string) string {
	if len(text) <= maxMessageLength {
		return text
	}
	return domain.TruncateRunes(text, maxMessageLength-3) + "..."
}
