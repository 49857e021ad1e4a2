package notify_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/notify"
	"github.com/technosupport/ts-trapnet/internal/queue"
)

type mockPrefs struct {
	prefs []*data.Preference
}

func (m *mockPrefs) ListEnabledForProject(ctx context.Context, projectID uuid.UUID) ([]*data.Preference, error) {
	return m.prefs, nil
}

func (m *mockPrefs) ListAllEnabled(ctx context.Context) ([]*data.Preference, error) {
	return m.prefs, nil
}

type mockLogs struct {
	created []*data.NotificationLog
}

func (m *mockLogs) Create(ctx context.Context, l *data.NotificationLog) error {
	l.ID = int64(len(m.created) + 1)
	m.created = append(m.created, l)
	return nil
}

type mockProjects struct {
	project *data.Project
}

func (m *mockProjects) GetByID(ctx context.Context, id uuid.UUID) (*data.Project, error) {
	if m.project == nil {
		return nil, data.ErrRecordNotFound
	}
	return m.project, nil
}

type mockBus struct {
	published map[string][]any
}

func (m *mockBus) Publish(queueName string, v any) error {
	if m.published == nil {
		m.published = make(map[string][]any)
	}
	m.published[queueName] = append(m.published[queueName], v)
	return nil
}

func (m *mockBus) DeadLetter(queueName string, payload []byte, reason string) error {
	return nil
}

type staticURLs struct{}

func (staticURLs) PublicURL(bucket, objectPath string) string {
	return "http://minio.local/" + bucket + "/" + objectPath
}

func ptr[T any](v T) *T { return &v }

func telegramPref(chatID int64, species ...string) *data.Preference {
	return &data.Preference{
		ID: 1, UserID: uuid.New(), Enabled: true,
		TelegramChatID: ptr(chatID),
		UserEmail:      "user@example.org",
		Channels: data.ChannelSettings{
			SpeciesDetection: data.SpeciesDetectionSettings{
				Enabled:  true,
				Channels: []string{data.ChannelTelegram},
				Species:  species,
			},
		},
	}
}

func speciesEvent(projectID uuid.UUID, species string, conf, detConf *float64) []byte {
	annotated := "annotated/img.jpg"
	raw, _ := json.Marshal(queue.NotificationEvent{
		EventType:           data.EventSpeciesDetection,
		ProjectID:           projectID.String(),
		ImageUUID:           uuid.NewString(),
		CameraID:            uuid.NewString(),
		CameraName:          "WUH09",
		Species:             species,
		Confidence:          conf,
		DetectionConfidence: detConf,
		DetectionCount:      1,
		AnnotatedMinioPath:  &annotated,
		Timestamp:           time.Now().UTC(),
	})
	return raw
}

func newRouter(project *data.Project, prefs ...*data.Preference) (*notify.Router, *mockLogs, *mockBus) {
	logs := &mockLogs{}
	bus := &mockBus{}
	r := &notify.Router{
		Prefs:    &mockPrefs{prefs: prefs},
		Logs:     logs,
		Projects: &mockProjects{project: project},
		Bus:      bus,
		Blobs:    staticURLs{},
		DeepLink: func(path string) string { return "https://traps.example.org" + path },
	}
	return r, logs, bus
}

func TestRouterDeliversSpeciesDetection(t *testing.T) {
	project := &data.Project{ID: uuid.New(), Name: "Heath", DetectionThreshold: 0.5}
	r, logs, bus := newRouter(project, telegramPref(42))

	payload := speciesEvent(project.ID, "fox", ptr(0.88), ptr(0.71))
	require.NoError(t, r.Handle(context.Background(), payload))

	require.Len(t, logs.created, 1)
	entry := logs.created[0]
	assert.Equal(t, data.EventSpeciesDetection, entry.NotificationType)
	assert.Equal(t, data.ChannelTelegram, entry.Channel)
	assert.Contains(t, entry.Message, "Fox detected on camera WUH09")

	msgs := bus.published[queue.QueueNotificationTelegram]
	require.Len(t, msgs, 1)
	tm := msgs[0].(queue.TelegramMessage)
	assert.Equal(t, int64(42), tm.ChatID)
	assert.Equal(t, entry.ID, tm.NotificationLogID)
	require.NotNil(t, tm.AttachmentURL)
	assert.Contains(t, *tm.AttachmentURL, "annotated/img.jpg")
}

func TestRouterSuppressesLowDetectionConfidence(t *testing.T) {
	// Classification 0.88 but the originating detection only 0.15 against a
	// 0.5 threshold: both gates must pass.
	project := &data.Project{ID: uuid.New(), DetectionThreshold: 0.5}
	r, logs, bus := newRouter(project, telegramPref(42))

	payload := speciesEvent(project.ID, "fox", ptr(0.88), ptr(0.15))
	require.NoError(t, r.Handle(context.Background(), payload))

	assert.Empty(t, logs.created)
	assert.Empty(t, bus.published)
}

func TestRouterDropsMissingConfidence(t *testing.T) {
	project := &data.Project{ID: uuid.New(), DetectionThreshold: 0.5}
	r, logs, bus := newRouter(project, telegramPref(42))

	payload := speciesEvent(project.ID, "fox", nil, ptr(0.9))
	require.NoError(t, r.Handle(context.Background(), payload))

	assert.Empty(t, logs.created)
	assert.Empty(t, bus.published)
}

func TestRouterSpeciesAllowlist(t *testing.T) {
	project := &data.Project{ID: uuid.New(), DetectionThreshold: 0.5}
	r, logs, _ := newRouter(project, telegramPref(42, "badger"))

	payload := speciesEvent(project.ID, "fox", ptr(0.9), ptr(0.9))
	require.NoError(t, r.Handle(context.Background(), payload))
	assert.Empty(t, logs.created)

	payload = speciesEvent(project.ID, "badger", ptr(0.9), ptr(0.9))
	require.NoError(t, r.Handle(context.Background(), payload))
	assert.Len(t, logs.created, 1)
}

func TestRouterSkipsUnlinkedTelegram(t *testing.T) {
	project := &data.Project{ID: uuid.New(), DetectionThreshold: 0.5}
	pref := telegramPref(0)
	pref.TelegramChatID = nil
	r, logs, bus := newRouter(project, pref)

	payload := speciesEvent(project.ID, "fox", ptr(0.9), ptr(0.9))
	require.NoError(t, r.Handle(context.Background(), payload))

	// No chat bound: no log row, no message.
	assert.Empty(t, logs.created)
	assert.Empty(t, bus.published)
}

func TestRouterIgnoresLegacyLowBattery(t *testing.T) {
	project := &data.Project{ID: uuid.New(), DetectionThreshold: 0.5}
	r, logs, _ := newRouter(project, telegramPref(42))

	raw, _ := json.Marshal(map[string]any{"event_type": "low_battery", "project_id": project.ID.String()})
	require.NoError(t, r.Handle(context.Background(), raw))
	assert.Empty(t, logs.created)
}

func TestRouterSystemHealthAdminOnly(t *testing.T) {
	project := &data.Project{ID: uuid.New()}
	admin := telegramPref(10)
	admin.UserIsServerAdmin = true
	admin.Channels.SystemHealth = data.SystemHealthSettings{
		Enabled: true, Channels: []string{data.ChannelTelegram}, MinSeverity: "warning",
	}
	viewer := telegramPref(20)
	viewer.Channels.SystemHealth = admin.Channels.SystemHealth

	r, logs, bus := newRouter(project, admin, viewer)

	raw, _ := json.Marshal(queue.NotificationEvent{
		EventType: data.EventSystemHealth,
		ProjectID: project.ID.String(),
		CameraName: "WUH09",
		Severity:   "critical",
		Timestamp:  time.Now().UTC(),
	})
	require.NoError(t, r.Handle(context.Background(), raw))

	require.Len(t, logs.created, 1, "only the server admin receives system health alerts")
	msgs := bus.published[queue.QueueNotificationTelegram]
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(10), msgs[0].(queue.TelegramMessage).ChatID)
}
