package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-trapnet/internal/data"
)

var (
	camA = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	camB = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

func at(minutes int) time.Time {
	return time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC).Add(time.Duration(minutes) * time.Minute)
}

func row(cam uuid.UUID, species string, minutes, count int) data.ObservationRow {
	return data.ObservationRow{CameraID: cam, Species: species, CapturedAt: at(minutes), Count: count}
}

func TestGroupMergesWithinInterval(t *testing.T) {
	rows := []data.ObservationRow{
		row(camA, "fox", 0, 1),
		row(camA, "fox", 10, 2),
		row(camA, "fox", 25, 1),
	}
	events := Group(rows, 30*time.Minute)
	require.Len(t, events, 1)
	require.Equal(t, at(0), events[0].Start)
	require.Equal(t, at(25), events[0].End)
	require.Equal(t, 2, events[0].Count, "event count is the max frame count")
	require.Equal(t, 3, events[0].Frames)
}

func TestGroupSplitsOnGap(t *testing.T) {
	// The gap is measured from the previous observation, not the event
	// start, so a slow trickle keeps extending one event.
	rows := []data.ObservationRow{
		row(camA, "fox", 0, 1),
		row(camA, "fox", 29, 1),
		row(camA, "fox", 58, 1),
		row(camA, "fox", 120, 3),
	}
	events := Group(rows, 30*time.Minute)
	require.Len(t, events, 2)
	require.Equal(t, at(58), events[0].End)
	require.Equal(t, at(120), events[1].Start)
	require.Equal(t, 3, events[1].Count)
}

func TestGroupSeparatesCameraAndSpecies(t *testing.T) {
	rows := []data.ObservationRow{
		row(camA, "fox", 0, 1),
		row(camA, "badger", 5, 1),
		row(camB, "fox", 10, 1),
	}
	events := Group(rows, 30*time.Minute)
	require.Len(t, events, 3)
}

func TestGroupSortsInput(t *testing.T) {
	rows := []data.ObservationRow{
		row(camA, "fox", 20, 1),
		row(camA, "fox", 0, 2),
	}
	events := Group(rows, 30*time.Minute)
	require.Len(t, events, 1)
	require.Equal(t, at(0), events[0].Start)
	require.Equal(t, at(20), events[0].End)
}

func TestGroupEmpty(t *testing.T) {
	require.Nil(t, Group(nil, 30*time.Minute))
}
