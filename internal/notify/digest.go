package notify

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/queue"
)

// defaultBatteryThreshold applies when a preference leaves the digest
// threshold unset.
const defaultBatteryThreshold = 30.0

type CameraHealthRepo interface {
	CountLowBattery(ctx context.Context, projectID uuid.UUID, threshold float64) (int, []string, error)
}

// BatteryDigest is the daily 12:00 UTC job: one summary per user with the
// digest enabled and at least one low camera in their project.
type BatteryDigest struct {
	Prefs    PreferenceRepo
	Projects ProjectRepo
	Cameras  CameraHealthRepo
	Logs     LogRepo
	Bus      Publisher
	DeepLink LinkBuilder
}

func (d *BatteryDigest) Run(ctx context.Context) error {
	prefs, err := d.Prefs.ListAllEnabled(ctx)
	if err != nil {
		return err
	}

	sent := 0
	for _, pref := range prefs {
		settings := pref.Channels.BatteryDigest
		if !settings.Enabled {
			continue
		}
		threshold := settings.Threshold
		if threshold <= 0 {
			threshold = defaultBatteryThreshold
		}

		count, names, err := d.Cameras.CountLowBattery(ctx, pref.ProjectID, threshold)
		if err != nil {
			log.Printf("[Notify] battery digest: low-battery count for project %s: %v", pref.ProjectID, err)
			continue
		}
		if count == 0 {
			continue
		}

		project, err := d.Projects.GetByID(ctx, pref.ProjectID)
		if err != nil {
			log.Printf("[Notify] battery digest: project %s lookup: %v", pref.ProjectID, err)
			continue
		}

		link := ""
		if d.DeepLink != nil {
			link = d.DeepLink("/projects/" + pref.ProjectID.String() + "/cameras")
		}
		text := renderBatteryDigestText(project.Name, threshold, names, link)

		for _, channel := range settings.Channels {
			if err := d.dispatch(ctx, pref, channel, text, project.Name); err != nil {
				log.Printf("[Notify] battery digest: dispatch %s for user %s: %v", channel, pref.UserID, err)
				continue
			}
			sent++
		}
	}
	log.Printf("[Notify] battery digest: %d message(s) enqueued", sent)
	return nil
}

func (d *BatteryDigest) dispatch(ctx context.Context, pref *data.Preference, channel, text, projectName string) error {
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
		return nil
	}

	eventRaw, _ := json.Marshal(map[string]string{"event_type": data.EventBatteryDigest, "project_id": pref.ProjectID.String()})
	entry := &data.NotificationLog{
		UserID:           pref.UserID,
		NotificationType: data.EventBatteryDigest,
		Channel:          channel,
		Event:            eventRaw,
		Message:          text,
	}
	if err := d.Logs.Create(ctx, entry); err != nil {
		return err
	}

	switch channel {
	case data.ChannelTelegram:
		return d.Bus.Publish(queue.QueueNotificationTelegram, queue.TelegramMessage{
			NotificationLogID: entry.ID,
			ChatID:            *pref.TelegramChatID,
			MessageText:       text,
		})
	case data.ChannelSignal:
		return d.Bus.Publish(queue.QueueNotificationSignal, queue.SignalMessage{
			NotificationLogID: entry.ID,
			RecipientPhone:    *pref.SignalPhone,
			MessageText:       text,
		})
	default:
		return d.Bus.Publish(queue.QueueNotificationEmail, queue.EmailMessage{
			NotificationLogID: entry.ID,
			ToEmail:           pref.UserEmail,
			Subject:           "Battery digest: " + projectName,
			BodyText:          text,
		})
	}
}
