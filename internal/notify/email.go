package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/metrics"
	"github.com/technosupport/ts-trapnet/internal/queue"
)

const smtpTimeout = 10 * time.Second

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailWorker delivers notification-email messages over SMTP.
type EmailWorker struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
	Logs   DeliveryLogRepo
}

func NewEmailWorker(cfg SMTPConfig, logs DeliveryLogRepo) *EmailWorker {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &EmailWorker{cfg: cfg, dialer: d, Logs: logs}
}

func (w *EmailWorker) Handle(ctx context.Context, payload []byte) error {
	var msg queue.EmailMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("[Email] malformed message: %v", err)
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", w.cfg.From)
	m.SetHeader("To", msg.ToEmail)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.BodyText)
	if msg.BodyHTML != nil {
		m.AddAlternative("text/html", *msg.BodyHTML)
	}

	// gomail has no context support; bound the dial+send with a goroutine.
	errCh := make(chan error, 1)
	go func() { errCh <- w.dialer.DialAndSend(m) }()

	var err error
	select {
	case err = <-errCh:
	case <-time.After(smtpTimeout):
		err = context.DeadlineExceeded
	case <-ctx.Done():
		err = ctx.Err()
	}

	if err != nil {
		log.Printf("[Email] delivery to %s failed: %v", msg.ToEmail, err)
		metrics.RecordNotification(data.ChannelEmail, "failed")
		return w.Logs.MarkFailed(ctx, msg.NotificationLogID, err.Error())
	}
	metrics.RecordNotification(data.ChannelEmail, "sent")
	return w.Logs.MarkSent(ctx, msg.NotificationLogID)
}
