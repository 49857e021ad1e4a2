package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/queue"
	"github.com/technosupport/ts-trapnet/internal/storage"
)

type PreferenceRepo interface {
	ListEnabledForProject(ctx context.Context, projectID uuid.UUID) ([]*data.Preference, error)
	ListAllEnabled(ctx context.Context) ([]*data.Preference, error)
}

type LogRepo interface {
	Create(ctx context.Context, l *data.NotificationLog) error
}

type ProjectRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*data.Project, error)
}

type Publisher interface {
	Publish(queueName string, v any) error
	DeadLetter(queueName string, payload []byte, reason string) error
}

type URLBuilder interface {
	PublicURL(bucket, objectPath string) string
}

type LinkBuilder func(path string) string

// Router consumes notification-events, applies the per-user rules and fans
// surviving events out to the per-channel queues with a pending log row each.
type Router struct {
	Prefs    PreferenceRepo
	Logs     LogRepo
	Projects ProjectRepo
	Bus      Publisher
	Blobs    URLBuilder
	DeepLink LinkBuilder
}

func (r *Router) Handle(ctx context.Context, payload []byte) error {
	var ev queue.NotificationEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Printf("[Notify] malformed event: %v", err)
		return r.Bus.DeadLetter(queue.QueueNotificationEvents, payload, fmt.Sprintf("malformed: %v", err))
	}

	switch ev.EventType {
	case data.EventSpeciesDetection:
		return r.routeSpeciesDetection(ctx, &ev, payload)
	case data.EventSystemHealth:
		return r.routeSystemHealth(ctx, &ev, payload)
	case "low_battery":
		// Legacy per-camera battery events are superseded by the scheduled
		// digest. Drop silently.
		return nil
	default:
		log.Printf("[Notify] unknown event type %q, dropping", ev.EventType)
		return nil
	}
}

func (r *Router) routeSpeciesDetection(ctx context.Context, ev *queue.NotificationEvent, payload []byte) error {
	// A missing confidence drops the event rather than defaulting to zero.
	if ev.Confidence == nil || ev.DetectionConfidence == nil {
		log.Printf("[Notify] species event for image %s missing confidence, dropping", ev.ImageUUID)
		return nil
	}

	projectID, err := uuid.Parse(ev.ProjectID)
	if err != nil {
		return r.Bus.DeadLetter(queue.QueueNotificationEvents, payload, fmt.Sprintf("bad project uuid %q", ev.ProjectID))
	}
	project, err := r.Projects.GetByID(ctx, projectID)
	if errors.Is(err, data.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	// Both the classification and the originating detection must clear the
	// project threshold.
	if *ev.Confidence < project.DetectionThreshold || *ev.DetectionConfidence < project.DetectionThreshold {
		return nil
	}

	prefs, err := r.Prefs.ListEnabledForProject(ctx, projectID)
	if err != nil {
		return err
	}

	text := renderSpeciesText(ev, r.deepLink("/projects/"+ev.ProjectID+"/images/"+ev.ImageUUID))
	subject := renderSpeciesSubject(ev)

	for _, pref := range prefs {
		settings := pref.Channels.SpeciesDetection
		if !settings.Enabled {
			continue
		}
		if len(settings.Species) > 0 && !contains(settings.Species, ev.Species) {
			continue
		}
		for _, channel := range settings.Channels {
			if err := r.dispatch(ctx, pref, channel, data.EventSpeciesDetection, ev, text, subject); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Router) routeSystemHealth(ctx context.Context, ev *queue.NotificationEvent, payload []byte) error {
	projectID, err := uuid.Parse(ev.ProjectID)
	if err != nil {
		return r.Bus.DeadLetter(queue.QueueNotificationEvents, payload, fmt.Sprintf("bad project uuid %q", ev.ProjectID))
	}

	prefs, err := r.Prefs.ListEnabledForProject(ctx, projectID)
	if err != nil {
		return err
	}

	text := renderSystemHealthText(ev)
	for _, pref := range prefs {
		// System health alerts are server-admin only.
		if !pref.UserIsServerAdmin {
			continue
		}
		settings := pref.Channels.SystemHealth
		if !settings.Enabled || !severityAtLeast(ev.Severity, settings.MinSeverity) {
			continue
		}
		for _, channel := range settings.Channels {
			if err := r.dispatch(ctx, pref, channel, data.EventSystemHealth, ev, text, "System health alert"); err != nil {
				return err
			}
		}
	}
	return nil
}

// dispatch creates the pending log row and enqueues the channel message. A
// channel without a bound recipient (no chat id, no phone) is skipped.
func (r *Router) dispatch(ctx context.Context, pref *data.Preference, channel, kind string, ev *queue.NotificationEvent, text, subject string) error {
	var attachment *string
	if ev.AnnotatedMinioPath != nil && r.Blobs != nil {
		url := r.Blobs.PublicURL(storage.BucketThumbnails, *ev.AnnotatedMinioPath)
		attachment = &url
	}

	switch channel {
	case data.ChannelTelegram:
		if pref.TelegramChatID == nil {
			return nil
		}
	case data.ChannelSignal:
		if pref.SignalPhone == nil {
			return nil
		}
	case data.ChannelEmail:
	default:
		log.Printf("[Notify] unknown channel %q in preference %d", channel, pref.ID)
		return nil
	}

	eventRaw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	entry := &data.NotificationLog{
		UserID:           pref.UserID,
		NotificationType: kind,
		Channel:          channel,
		Event:            eventRaw,
		Message:          text,
	}
	if err := r.Logs.Create(ctx, entry); err != nil {
		return err
	}

	switch channel {
	case data.ChannelTelegram:
		return r.Bus.Publish(queue.QueueNotificationTelegram, queue.TelegramMessage{
			NotificationLogID: entry.ID,
			ChatID:            *pref.TelegramChatID,
			MessageText:       text,
			AttachmentURL:     attachment,
		})
	case data.ChannelSignal:
		return r.Bus.Publish(queue.QueueNotificationSignal, queue.SignalMessage{
			NotificationLogID: entry.ID,
			RecipientPhone:    *pref.SignalPhone,
			MessageText:       text,
			AttachmentURL:     attachment,
		})
	default:
		return r.Bus.Publish(queue.QueueNotificationEmail, queue.EmailMessage{
			NotificationLogID: entry.ID,
			ToEmail:           pref.UserEmail,
			Subject:           subject,
			BodyText:          text,
		})
	}
}

func (r *Router) deepLink(path string) string {
	if r.DeepLink == nil {
		return ""
	}
	return r.DeepLink(path)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// severityAtLeast orders info < warning < critical.
func severityAtLeast(severity, min string) bool {
	rank := map[string]int{"info": 0, "warning": 1, "critical": 2}
	s, okS := rank[severity]
	m, okM := rank[min]
	if !okM {
		m = 1
	}
	if !okS {
		return false
	}
	return s >= m
}
