package bot

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/hray3182/MedLine/internal/bot/handlers"
	"github.com/hray3182/MedLine/internal/dispatch"
	"github.com/hray3182/MedLine/internal/disposition"
	"github.com/hray3182/MedLine/internal/platform"
	"github.com/hray3182/MedLine/internal/service"
)

type Bot struct {
	api      *tgbotapi.BotAPI
	handlers *handlers.Handlers
	chatID   int64
	log      zerolog.Logger
}

// New connects to Telegram. Only chatID is served and receives reminders.
func New(
	token string,
	chatID int64,
	svc *service.Service,
	tracker *disposition.Tracker,
	queue platform.Queue,
	loc *time.Location,
	log zerolog.Logger,
) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	log = log.With().Str("component", "bot").Logger()

	return &Bot{
		api:      api,
		handlers: handlers.New(api, chatID, svc, tracker, queue, loc, log),
		chatID:   chatID,
		log:      log,
	}, nil
}

// Notify implements dispatch.Notifier.
func (b *Bot) Notify(ctx context.Context, r dispatch.Reminder) error {
	return b.handlers.SendReminder(ctx, r)
}

func (b *Bot) Start(ctx context.Context) error {
	b.log.Info().Str("account", b.api.Self.UserName).Int64("chat_id", b.chatID).Msg("authorized")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	chatID, ok := updateChat(update)
	if !ok || !b.handlers.Authorized(chatID) {
		return
	}

	if update.CallbackQuery != nil {
		b.handlers.HandleCallbackQuery(ctx, update.CallbackQuery)
		return
	}
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}
	b.handlers.HandleCommand(ctx, update.Message)
}

func updateChat(u tgbotapi.Update) (int64, bool) {
	switch {
	case u.Message != nil:
		return u.Message.Chat.ID, true
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil:
		return u.CallbackQuery.Message.Chat.ID, true
	}
	return 0, false
}
