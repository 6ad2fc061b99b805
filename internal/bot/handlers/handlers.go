package handlers

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/hray3182/MedLine/internal/disposition"
	"github.com/hray3182/MedLine/internal/format"
	"github.com/hray3182/MedLine/internal/models"
	"github.com/hray3182/MedLine/internal/platform"
	"github.com/hray3182/MedLine/internal/service"
)

type Handlers struct {
	api     *tgbotapi.BotAPI
	chatID  int64
	service *service.Service
	tracker *disposition.Tracker
	queue   platform.Queue
	loc     *time.Location
	log     zerolog.Logger
}

func New(
	api *tgbotapi.BotAPI,
	chatID int64,
	svc *service.Service,
	tracker *disposition.Tracker,
	queue platform.Queue,
	loc *time.Location,
	log zerolog.Logger,
) *Handlers {
	return &Handlers{
		api:     api,
		chatID:  chatID,
		service: svc,
		tracker: tracker,
		queue:   queue,
		loc:     loc,
		log:     log,
	}
}

// Authorized reports whether updates from chatID should be served.
func (h *Handlers) Authorized(chatID int64) bool {
	return chatID == h.chatID
}

func (h *Handlers) now() time.Time {
	return time.Now().In(h.loc)
}

func (h *Handlers) HandleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		h.handleStart(ctx, msg)
	case "help":
		h.handleHelp(ctx, msg)
	case "today":
		h.handleToday(ctx, msg)
	case "upcoming":
		h.handleUpcoming(ctx, msg)
	case "pending":
		h.handlePending(ctx, msg)
	case "stats":
		h.handleStats(ctx, msg)
	default:
		h.sendMessage(msg.Chat.ID, "Unknown command, see /help")
	}
}

func (h *Handlers) HandleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	cb, err := ParseDoseCallback(callback.Data)
	if err != nil {
		h.log.Warn().Err(err).Str("data", callback.Data).Msg("ignoring callback")
		h.answerCallback(callback.ID, "")
		return
	}

	ev := cb.Event()
	if msg := callback.Message; msg != nil {
		// The reminder is edited once the answer is recorded, with whatever
		// status the log ended up in.
		ev.Reply = func(l *models.NotificationLog, err error) {
			if err != nil {
				h.log.Warn().Err(err).Str("instance", ev.InstanceID()).Msg("response not recorded")
			}
			text := msg.Text + "\n\n" + resultLabel(l, err, h.loc)
			h.editMessageText(msg.Chat.ID, msg.MessageID, text, msg.Entities)
		}
	}

	if err := h.queue.Post(ctx, ev); err != nil {
		h.log.Error().Err(err).Int64("schedule_id", cb.ScheduleID).Msg("failed to queue response")
		h.answerCallbackWithAlert(callback.ID, "Could not record your answer, please try again")
		return
	}
	h.answerCallback(callback.ID, "Answer received")
}

func (h *Handlers) answerCallback(callbackID string, text string) {
	answer := tgbotapi.NewCallback(callbackID, text)
	if _, err := h.api.Request(answer); err != nil {
		h.log.Warn().Err(err).Msg("failed to answer callback")
	}
}

func (h *Handlers) answerCallbackWithAlert(callbackID string, text string) {
	answer := tgbotapi.NewCallbackWithAlert(callbackID, text)
	if _, err := h.api.Request(answer); err != nil {
		h.log.Warn().Err(err).Msg("failed to answer callback with alert")
	}
}

// editMessageText replaces a message's text. Entities of the original text
// stay valid as long as text only appends to it.
func (h *Handlers) editMessageText(chatID int64, messageID int, text string, entities []tgbotapi.MessageEntity) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.Entities = entities
	if _, err := h.api.Send(edit); err != nil {
		h.log.Warn().Err(err).Msg("failed to edit message")
	}
}

func (h *Handlers) sendMessage(chatID int64, text string) {
	parsed := format.ParseMarkdown(text)
	msg := tgbotapi.NewMessage(chatID, parsed.Text)
	msg.Entities = parsed.Entities
	if _, err := h.api.Send(msg); err != nil {
		h.log.Warn().Err(err).Msg("failed to send message")
	}
}

func (h *Handlers) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	name := "there"
	if msg.From != nil && msg.From.FirstName != "" {
		name = msg.From.FirstName
	}
	h.sendMessage(msg.Chat.ID, "👋 Hi "+name+`!

I am MedLine. I remind you when a dose is due and keep track of what you took.

Tap ✅ Taken or ⏭ Skip on a reminder to record it.

Use /help to see all commands`)
}

func (h *Handlers) handleHelp(ctx context.Context, msg *tgbotapi.Message) {
	h.sendMessage(msg.Chat.ID, `📖 **Commands**

/today - doses due today
/upcoming [n] - next reminders
/pending - reminders waiting for an answer
/stats [days] - adherence over the last days (default 7)

Medicines and schedules are managed with the medline command line.`)
}
