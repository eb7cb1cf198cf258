// Package telegram is the production transport: one long-polling bot per
// tenant over the Bot API, translating updates into worker handler calls
// and worker sends into Bot API requests.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/san4s204/AI-ASSISTANT-main/internal/worker"
)

// callbackPrefix routes inline keyboard presses to the confirmation flow.
const callbackPrefix = "cal:"

// Config holds transport settings for one tenant bot.
type Config struct {
	// Token is the bot token from @BotFather (required).
	Token string
	// Logger is optional.
	Logger *slog.Logger
}

// Transport implements worker.Transport over go-telegram/bot with long
// polling. Run builds the bot lazily so a bad token surfaces as a worker
// error, not a constructor failure at boot.
type Transport struct {
	token  string
	logger *slog.Logger

	bot *bot.Bot
}

// New creates a Transport. The token is validated by Telegram on Run.
func New(cfg Config) (*Transport, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram transport: token is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{
		token:  cfg.Token,
		logger: cfg.Logger.With("component", "telegram"),
	}, nil
}

// Run connects the bot and blocks polling for updates until ctx is done.
func (t *Transport) Run(ctx context.Context, h worker.Handlers) error {
	opts := []bot.Option{
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
			if update.Message == nil || update.Message.Text == "" {
				return
			}
			if h.OnMessage != nil {
				h.OnMessage(ctx, worker.InboundMessage{
					ChatID: update.Message.Chat.ID,
					Text:   update.Message.Text,
				})
			}
		}),
	}

	b, err := bot.New(t.token, opts...)
	if err != nil {
		return fmt.Errorf("telegram connect: %w", err)
	}
	t.bot = b

	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, callbackPrefix, bot.MatchTypePrefix,
		func(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
			cb := update.CallbackQuery
			if cb == nil || h.OnCallback == nil {
				return
			}
			var chatID int64
			if cb.Message.Message != nil {
				chatID = cb.Message.Message.Chat.ID
			}
			h.OnCallback(ctx, worker.Callback{
				ID:     cb.ID,
				ChatID: chatID,
				Data:   cb.Data,
			})
		})

	t.logger.Info("polling started")
	b.Start(ctx)
	t.logger.Info("polling stopped")
	return ctx.Err()
}

// SendText delivers an HTML-formatted message without link previews.
func (t *Transport) SendText(ctx context.Context, chatID int64, text string) error {
	if t.bot == nil {
		return fmt.Errorf("telegram transport: not connected")
	}
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:             chatID,
		Text:               text,
		ParseMode:          tgmodels.ParseModeHTML,
		LinkPreviewOptions: &tgmodels.LinkPreviewOptions{IsDisabled: bot.True()},
	})
	return err
}

// SendConfirm attaches the confirm/cancel keyboard for a pending action.
func (t *Transport) SendConfirm(ctx context.Context, chatID int64, text, token string) error {
	if t.bot == nil {
		return fmt.Errorf("telegram transport: not connected")
	}
	keyboard := &tgmodels.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgmodels.InlineKeyboardButton{{
			{Text: "✅ Подтвердить", CallbackData: "cal:ok:" + token},
			{Text: "❌ Отмена", CallbackData: "cal:no:" + token},
		}},
	}
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:             chatID,
		Text:               text,
		ParseMode:          tgmodels.ParseModeHTML,
		LinkPreviewOptions: &tgmodels.LinkPreviewOptions{IsDisabled: bot.True()},
		ReplyMarkup:        keyboard,
	})
	return err
}

// SendPick renders a numbered candidate keyboard, one button per row,
// plus a cancel row.
func (t *Transport) SendPick(ctx context.Context, chatID int64, text, token string, count int) error {
	if t.bot == nil {
		return fmt.Errorf("telegram transport: not connected")
	}
	rows := make([][]tgmodels.InlineKeyboardButton, 0, count+1)
	for i := 0; i < count; i++ {
		rows = append(rows, []tgmodels.InlineKeyboardButton{{
			Text:         strconv.Itoa(i + 1),
			CallbackData: fmt.Sprintf("cal:pick:%s:%d", token, i),
		}})
	}
	rows = append(rows, []tgmodels.InlineKeyboardButton{{
		Text:         "❌ Отмена",
		CallbackData: "cal:no:" + token,
	}})

	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   tgmodels.ParseModeHTML,
		ReplyMarkup: &tgmodels.InlineKeyboardMarkup{InlineKeyboard: rows},
	})
	return err
}

// Typing shows the typing indicator while the pipeline works.
func (t *Transport) Typing(ctx context.Context, chatID int64) error {
	if t.bot == nil {
		return fmt.Errorf("telegram transport: not connected")
	}
	_, err := t.bot.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID: chatID,
		Action: tgmodels.ChatActionTyping,
	})
	return err
}

// AckCallback answers a callback query; alert pops a modal instead of a
// toast.
func (t *Transport) AckCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if t.bot == nil {
		return fmt.Errorf("telegram transport: not connected")
	}
	_, err := t.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       alert,
	})
	return err
}
