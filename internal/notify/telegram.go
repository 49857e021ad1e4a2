package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v3"

	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/metrics"
	"github.com/technosupport/ts-trapnet/internal/queue"
)

type DeliveryLogRepo interface {
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
}

type TelegramLinkRepo interface {
	ConsumeLinkToken(ctx context.Context, token string) (*data.TelegramLinkToken, error)
}

type ChatBinder interface {
	SetTelegramChatID(ctx context.Context, userID, projectID uuid.UUID, chatID int64) error
}

// TelegramWorker delivers notification-telegram messages and runs the /start
// linking poller as a sibling goroutine of the consumer loop.
type TelegramWorker struct {
	Bot    *tele.Bot
	Logs   DeliveryLogRepo
	Links  TelegramLinkRepo
	Binder ChatBinder
}

func NewTelegramWorker(botToken string, logs DeliveryLogRepo, links TelegramLinkRepo, binder ChatBinder) (*TelegramWorker, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:  botToken,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramWorker{Bot: bot, Logs: logs, Links: links, Binder: binder}, nil
}

// StartLinkPoller registers the /start handler and long-polls in the
// background until ctx ends.
func (w *TelegramWorker) StartLinkPoller(ctx context.Context) {
	w.Bot.Handle("/start", func(c tele.Context) error {
		token := strings.TrimSpace(c.Message().Payload)
		if token == "" {
			return c.Send("Send /start <token> using the link from your notification settings.")
		}

		link, err := w.Links.ConsumeLinkToken(ctx, token)
		if err != nil {
			log.Printf("[Telegram] link token rejected: %v", err)
			return c.Send("That linking token is invalid or expired. Generate a new one in your notification settings.")
		}

		if err := w.Binder.SetTelegramChatID(ctx, link.UserID, link.ProjectID, c.Chat().ID); err != nil {
			log.Printf("[Telegram] chat bind failed for user %s: %v", link.UserID, err)
			return c.Send("Linking failed, please try again.")
		}
		log.Printf("[Telegram] chat %d linked for user %s", c.Chat().ID, link.UserID)
		return c.Send("Linked! You will receive camera trap alerts here.")
	})

	go w.Bot.Start()
	go func() {
		<-ctx.Done()
		w.Bot.Stop()
	}()
}

// Handle delivers one queued telegram message. Delivery failures flip the log
// row to failed and ack; only log-row bookkeeping errors nack.
func (w *TelegramWorker) Handle(ctx context.Context, payload []byte) error {
	var msg queue.TelegramMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("[Telegram] malformed message: %v", err)
		return nil
	}

	recipient := &tele.Chat{ID: msg.ChatID}
	var err error
	if msg.AttachmentURL != nil {
		photo := &tele.Photo{File: tele.FromURL(*msg.AttachmentURL), Caption: msg.MessageText}
		_, err = w.Bot.Send(recipient, photo)
		if err != nil {
			// Fall back to text-only if the attachment fetch failed.
			log.Printf("[Telegram] photo send to %d failed (%v), retrying text-only", msg.ChatID, err)
			_, err = w.Bot.Send(recipient, msg.MessageText)
		}
	} else {
		_, err = w.Bot.Send(recipient, msg.MessageText)
	}

	if err != nil {
		log.Printf("[Telegram] delivery to %d failed: %v", msg.ChatID, err)
		metrics.RecordNotification(data.ChannelTelegram, "failed")
		return w.Logs.MarkFailed(ctx, msg.NotificationLogID, err.Error())
	}
	metrics.RecordNotification(data.ChannelTelegram, "sent")
	return w.Logs.MarkSent(ctx, msg.NotificationLogID)
}
