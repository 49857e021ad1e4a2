package notify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/notify"
	"github.com/technosupport/ts-trapnet/internal/queue"
)

type mockCameraHealth struct {
	names      []string
	thresholds []float64
}

func (m *mockCameraHealth) CountLowBattery(ctx context.Context, projectID uuid.UUID, threshold float64) (int, []string, error) {
	m.thresholds = append(m.thresholds, threshold)
	return len(m.names), m.names, nil
}

func digestPref(projectID uuid.UUID, threshold float64) *data.Preference {
	return &data.Preference{
		ID: 1, UserID: uuid.New(), ProjectID: projectID, Enabled: true,
		UserEmail: "user@example.org",
		Channels: data.ChannelSettings{
			BatteryDigest: data.BatteryDigestSettings{
				Enabled:   true,
				Channels:  []string{data.ChannelEmail},
				Threshold: threshold,
			},
		},
	}
}

func TestBatteryDigestEnqueuesSummary(t *testing.T) {
	projectID := uuid.New()
	logs := &mockLogs{}
	bus := &mockBus{}
	cameras := &mockCameraHealth{names: []string{"WUH09", "WUH11"}}
	d := &notify.BatteryDigest{
		Prefs:    &mockPrefs{prefs: []*data.Preference{digestPref(projectID, 20)}},
		Projects: &mockProjects{project: &data.Project{ID: projectID, Name: "Heath"}},
		Cameras:  cameras,
		Logs:     logs,
		Bus:      bus,
		DeepLink: func(path string) string { return "https://traps.example.org" + path },
	}

	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, []float64{20}, cameras.thresholds)
	require.Len(t, logs.created, 1)
	assert.Equal(t, data.EventBatteryDigest, logs.created[0].NotificationType)

	msgs := bus.published[queue.QueueNotificationEmail]
	require.Len(t, msgs, 1)
	em := msgs[0].(queue.EmailMessage)
	assert.Equal(t, "Battery digest: Heath", em.Subject)
	assert.Contains(t, em.BodyText, "2 camera(s) at or below 20%")
	assert.Contains(t, em.BodyText, "WUH11")
	assert.Contains(t, em.BodyText, "/projects/"+projectID.String()+"/cameras")
}

func TestBatteryDigestDefaultThreshold(t *testing.T) {
	projectID := uuid.New()
	cameras := &mockCameraHealth{names: []string{"WUH09"}}
	d := &notify.BatteryDigest{
		Prefs:    &mockPrefs{prefs: []*data.Preference{digestPref(projectID, 0)}},
		Projects: &mockProjects{project: &data.Project{ID: projectID, Name: "Heath"}},
		Cameras:  cameras,
		Logs:     &mockLogs{},
		Bus:      &mockBus{},
	}

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, []float64{30}, cameras.thresholds, "unset threshold falls back to 30%")
}

type failingCameraHealth struct {
	failFor uuid.UUID
	names   []string
}

func (m *failingCameraHealth) CountLowBattery(ctx context.Context, projectID uuid.UUID, threshold float64) (int, []string, error) {
	if projectID == m.failFor {
		return 0, nil, errors.New("transient db error")
	}
	return len(m.names), m.names, nil
}

func TestBatteryDigestIsolatesFailingProject(t *testing.T) {
	brokenProject := uuid.New()
	healthyProject := uuid.New()
	logs := &mockLogs{}
	bus := &mockBus{}
	d := &notify.BatteryDigest{
		Prefs: &mockPrefs{prefs: []*data.Preference{
			digestPref(brokenProject, 20),
			digestPref(healthyProject, 20),
		}},
		Projects: &mockProjects{project: &data.Project{ID: healthyProject, Name: "Heath"}},
		Cameras:  &failingCameraHealth{failFor: brokenProject, names: []string{"WUH09"}},
		Logs:     logs,
		Bus:      bus,
	}

	// One project's query failing must not abort the rest of the batch.
	require.NoError(t, d.Run(context.Background()))
	require.Len(t, logs.created, 1)
	require.Len(t, bus.published[queue.QueueNotificationEmail], 1)
}

type failOnceBus struct {
	mockBus
	failed bool
}

func (m *failOnceBus) Publish(queueName string, v any) error {
	if !m.failed {
		m.failed = true
		return errors.New("nats unavailable")
	}
	return m.mockBus.Publish(queueName, v)
}

func TestBatteryDigestIsolatesDispatchFailure(t *testing.T) {
	projectID := uuid.New()
	logs := &mockLogs{}
	bus := &failOnceBus{}
	d := &notify.BatteryDigest{
		Prefs: &mockPrefs{prefs: []*data.Preference{
			digestPref(projectID, 20),
			digestPref(projectID, 20),
		}},
		Projects: &mockProjects{project: &data.Project{ID: projectID, Name: "Heath"}},
		Cameras:  &mockCameraHealth{names: []string{"WUH09"}},
		Logs:     logs,
		Bus:      bus,
	}

	require.NoError(t, d.Run(context.Background()))
	require.Len(t, bus.published[queue.QueueNotificationEmail], 1, "second user still enqueued")
}

func TestBatteryDigestSkipsHealthyProjects(t *testing.T) {
	projectID := uuid.New()
	logs := &mockLogs{}
	bus := &mockBus{}
	d := &notify.BatteryDigest{
		Prefs:    &mockPrefs{prefs: []*data.Preference{digestPref(projectID, 30)}},
		Projects: &mockProjects{project: &data.Project{ID: projectID, Name: "Heath"}},
		Cameras:  &mockCameraHealth{},
		Logs:     logs,
		Bus:      bus,
	}

	require.NoError(t, d.Run(context.Background()))
	assert.Empty(t, logs.created)
	assert.Empty(t, bus.published)
}
