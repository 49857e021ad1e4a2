package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-trapnet/internal/metrics"
)

// Logical queue names. Each is one durable FIFO queue on the bus; each worker
// type is a single logical consumer of its input queue.
const (
	QueueImageIngested           = "image-ingested"
	QueueDetectionComplete       = "detection-complete"
	QueueClassificationComplete  = "classification-complete"
	QueueClassificationReprocess = "classification-reprocess"
	QueueNotificationEvents      = "notification-events"
	QueueNotificationSignal      = "notification-signal"
	QueueNotificationTelegram    = "notification-telegram"
	QueueNotificationEmail       = "notification-email"
	QueueFailedJobs              = "failed-jobs"
)

const (
	streamName     = "TRAPNET"
	subjectPrefix  = "trapnet."
	publishRetries = 3
	fetchWait      = 30 * time.Second

	// liveSubject sits outside the stream prefix: plain core-NATS fan-out,
	// no storage, no delivery guarantee. Feeds the operator websocket hub.
	liveSubject = "trapnet-live.events"
)

// LiveEvent mirrors one successfully processed queue message for UI feeds.
type LiveEvent struct {
	Queue     string          `json:"queue"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Bus is a named-queue broker over NATS JetStream: durable file-backed
// stream, one durable pull consumer per queue, explicit acks for
// at-least-once delivery.
type Bus struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// Connect dials NATS and ensures the stream exists.
func Connect(url string) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ">"},
		Storage:   nats.FileStorage,
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		// AddStream races between workers; an existing stream is fine.
		if !strings.Contains(err.Error(), "already in use") {
			nc.Close()
			return nil, fmt.Errorf("stream create: %w", err)
		}
	}

	return &Bus{nc: nc, js: js}, nil
}

func (b *Bus) Close() {
	b.nc.Close()
}

func subject(queue string) string {
	return subjectPrefix + queue
}

// Publish marshals v and publishes with bounded retry and linear backoff.
func (b *Bus) Publish(queue string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	return b.publishRaw(queue, payload)
}

func (b *Bus) publishRaw(queue string, payload []byte) error {
	var err error
	for i := 0; i <= publishRetries; i++ {
		_, err = b.js.Publish(subject(queue), payload)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	return fmt.Errorf("publish to %s failed after %d retries: %w", queue, publishRetries, err)
}

// DeadLetter forwards a failed payload to the failed-jobs queue with the
// origin queue and reason attached.
func (b *Bus) DeadLetter(queue string, payload []byte, reason string) error {
	wrapped, err := json.Marshal(DeadLetterMessage{
		Queue:    queue,
		Reason:   reason,
		Payload:  payload,
		FailedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return b.publishRaw(QueueFailedJobs, wrapped)
}

// emitLive mirrors an acked message onto the transient live subject. Best
// effort only.
func (b *Bus) emitLive(queue string, payload []byte) {
	ev, err := json.Marshal(LiveEvent{
		Queue:     queue,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := b.nc.Publish(liveSubject, ev); err != nil {
		log.Printf("[Queue] live emit failed: %v", err)
	}
}

// SubscribeLive delivers every live event to h until the returned cancel
// function is called.
func (b *Bus) SubscribeLive(h func(payload []byte)) (func(), error) {
	sub, err := b.nc.Subscribe(liveSubject, func(m *nats.Msg) { h(m.Data) })
	if err != nil {
		return nil, fmt.Errorf("live subscribe: %w", err)
	}
	return func() { sub.Unsubscribe() }, nil
}

// Handler processes one message. A nil return acks the message; an error
// nacks it for redelivery (at-least-once).
type Handler func(ctx context.Context, payload []byte) error

// Consume runs a long-poll fetch loop on the queue's durable consumer until
// ctx is cancelled. The in-flight message is always finished before return,
// which is what makes SIGTERM drain safe.
func (b *Bus) Consume(ctx context.Context, queue string, h Handler) error {
	durable := "worker-" + queue
	sub, err := b.js.PullSubscribe(subject(queue), durable,
		nats.AckExplicit(),
		nats.ManualAck(),
	)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", queue, err)
	}
	defer sub.Unsubscribe()

	log.Printf("[Queue] consuming %s (durable %s)", queue, durable)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(fetchWait))
		if err != nil {
			if err == nats.ErrTimeout || err == context.DeadlineExceeded {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[Queue] fetch %s error: %v", queue, err)
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			start := time.Now()
			if err := h(ctx, msg.Data); err != nil {
				log.Printf("[Queue] handler error on %s: %v", queue, err)
				metrics.RecordQueueMessage(queue, "nak", time.Since(start))
				if nakErr := msg.Nak(); nakErr != nil {
					log.Printf("[Queue] nak failed on %s: %v", queue, nakErr)
				}
				continue
			}
			metrics.RecordQueueMessage(queue, "ack", time.Since(start))
			if err := msg.Ack(); err != nil {
				log.Printf("[Queue] ack failed on %s: %v", queue, err)
			}
			b.emitLive(queue, msg.Data)
		}
	}
}
