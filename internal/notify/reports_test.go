package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/notify"
	"github.com/technosupport/ts-trapnet/internal/queue"
)

type mockStats struct {
	failFor uuid.UUID
	stats   data.PeriodStats
}

func (m *mockStats) PeriodStats(ctx context.Context, projectID uuid.UUID, from, to time.Time) (*data.PeriodStats, error) {
	if projectID == m.failFor {
		return nil, errors.New("transient db error")
	}
	st := m.stats
	return &st, nil
}

func reportPref(projectID uuid.UUID, frequency string) *data.Preference {
	return &data.Preference{
		ID: 1, UserID: uuid.New(), ProjectID: projectID, Enabled: true,
		UserEmail: "user@example.org",
		Channels: data.ChannelSettings{
			EmailReport: data.EmailReportSettings{Enabled: true, Frequency: frequency},
		},
	}
}

func TestReportJobEnqueuesDailyReport(t *testing.T) {
	projectID := uuid.New()
	logs := &mockLogs{}
	bus := &mockBus{}
	j := notify.NewReportJob(
		&mockPrefs{prefs: []*data.Preference{reportPref(projectID, "daily")}},
		&mockProjects{project: &data.Project{ID: projectID, Name: "Heath"}},
		&mockStats{stats: data.PeriodStats{NewImages: 12, TotalImages: 340}},
		logs, bus,
		func(path string) string { return "https://traps.example.org" + path },
	)

	require.NoError(t, j.Run(context.Background()))
	require.Len(t, logs.created, 1)
	assert.Equal(t, data.EventEmailReport, logs.created[0].NotificationType)

	msgs := bus.published[queue.QueueNotificationEmail]
	require.Len(t, msgs, 1)
	em := msgs[0].(queue.EmailMessage)
	assert.Equal(t, "Daily camera trap report: Heath", em.Subject)
	assert.Contains(t, em.BodyText, "12")
}

func TestReportJobIsolatesStatsFailure(t *testing.T) {
	brokenProject := uuid.New()
	healthyProject := uuid.New()
	logs := &mockLogs{}
	bus := &mockBus{}
	j := notify.NewReportJob(
		&mockPrefs{prefs: []*data.Preference{
			reportPref(brokenProject, "daily"),
			reportPref(healthyProject, "daily"),
		}},
		&mockProjects{project: &data.Project{ID: healthyProject, Name: "Heath"}},
		&mockStats{failFor: brokenProject},
		logs, bus, nil,
	)

	// One project's stats query failing must not abort the rest of the batch.
	require.NoError(t, j.Run(context.Background()))
	require.Len(t, logs.created, 1)
	require.Len(t, bus.published[queue.QueueNotificationEmail], 1)
}

func TestReportJobIsolatesEnqueueFailure(t *testing.T) {
	projectID := uuid.New()
	bus := &failOnceBus{}
	j := notify.NewReportJob(
		&mockPrefs{prefs: []*data.Preference{
			reportPref(projectID, "daily"),
			reportPref(projectID, "daily"),
		}},
		&mockProjects{project: &data.Project{ID: projectID, Name: "Heath"}},
		&mockStats{},
		&mockLogs{}, bus, nil,
	)

	require.NoError(t, j.Run(context.Background()))
	require.Len(t, bus.published[queue.QueueNotificationEmail], 1, "second user still enqueued")
}
