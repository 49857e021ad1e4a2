// Package events implements independence-interval event grouping: the
// semantic unit of observation for statistics and exports. Same-species
// same-camera observations closer together than the project's independence
// interval are one event.
package events

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-trapnet/internal/data"
)

// Event is a group of observations of one species at one camera.
type Event struct {
	CameraID uuid.UUID
	Species  string
	Start    time.Time
	End      time.Time
	// Count is the MAX of per-image counts within the event: the same group
	// photographed over multiple frames is counted once at its largest size.
	Count  int
	Frames int
}

// Group folds flattened observation rows into events. An observation opens a
// new event iff the gap to the previous same-species same-camera observation
// is null or greater than the interval. Recomputable purely from stored data.
func Group(rows []data.ObservationRow, interval time.Duration) []Event {
	if len(rows) == 0 {
		return nil
	}

	sorted := make([]data.ObservationRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.CameraID != b.CameraID {
			return a.CameraID.String() < b.CameraID.String()
		}
		if a.Species != b.Species {
			return a.Species < b.Species
		}
		return a.CapturedAt.Before(b.CapturedAt)
	})

	var events []Event
	var cur *Event
	for _, r := range sorted {
		sameTrack := cur != nil && cur.CameraID == r.CameraID && cur.Species == r.Species
		if sameTrack && r.CapturedAt.Sub(cur.End) <= interval {
			cur.End = r.CapturedAt
			cur.Frames++
			if r.Count > cur.Count {
				cur.Count = r.Count
			}
			continue
		}
		events = append(events, Event{
			CameraID: r.CameraID,
			Species:  r.Species,
			Start:    r.CapturedAt,
			End:      r.CapturedAt,
			Count:    r.Count,
			Frames:   1,
		})
		cur = &events[len(events)-1]
	}
	return events
}
