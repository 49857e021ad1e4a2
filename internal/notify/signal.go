package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/metrics"
	"github.com/technosupport/ts-trapnet/internal/queue"
)

const signalTimeout = 30 * time.Second

// SignalWorker delivers notification-signal messages through a signal-cli
// REST API gateway.
type SignalWorker struct {
	APIURL string // e.g. http://signal-cli:8080
	Sender string // registered sender number
	Logs   DeliveryLogRepo

	client *http.Client
}

func NewSignalWorker(apiURL, sender string, logs DeliveryLogRepo) *SignalWorker {
	return &SignalWorker{
		APIURL: apiURL,
		Sender: sender,
		Logs:   logs,
		client: &http.Client{Timeout: signalTimeout},
	}
}

type signalSendRequest struct {
	Message    string   `json:"message"`
	Number     string   `json:"number"`
	Recipients []string `json:"recipients"`
}

func (w *SignalWorker) Handle(ctx context.Context, payload []byte) error {
	var msg queue.SignalMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("[Signal] malformed message: %v", err)
		return nil
	}

	text := msg.MessageText
	if msg.AttachmentURL != nil {
		text += "\n" + *msg.AttachmentURL
	}

	body, err := json.Marshal(signalSendRequest{
		Message:    text,
		Number:     w.Sender,
		Recipients: []string{msg.RecipientPhone},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.APIURL+"/v2/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		log.Printf("[Signal] delivery to %s failed: %v", msg.RecipientPhone, err)
		metrics.RecordNotification(data.ChannelSignal, "failed")
		return w.Logs.MarkFailed(ctx, msg.NotificationLogID, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		errMsg := fmt.Sprintf("signal-cli returned %d", resp.StatusCode)
		log.Printf("[Signal] delivery to %s failed: %s", msg.RecipientPhone, errMsg)
		metrics.RecordNotification(data.ChannelSignal, "failed")
		return w.Logs.MarkFailed(ctx, msg.NotificationLogID, errMsg)
	}
	metrics.RecordNotification(data.ChannelSignal, "sent")
	return w.Logs.MarkSent(ctx, msg.NotificationLogID)
}
