package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/events"
	"github.com/technosupport/ts-trapnet/internal/projects"
)

type StatsHandler struct {
	Stats    data.StatsModel
	Projects *projects.Service
}

// periodRange parses from/to query params (RFC 3339), defaulting to the last
// 30 days.
func periodRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}
	return from, to, nil
}

func (h *StatsHandler) PeriodStats(w http.ResponseWriter, r *http.Request) {
	projectID, ok := urlUUID(w, r, "projectID")
	if !ok {
		return
	}
	from, to, err := periodRange(r)
	if err != nil {
		http.Error(w, "invalid time range", http.StatusBadRequest)
		return
	}

	st, err := h.Stats.PeriodStats(r.Context(), projectID, from, to)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Events recomputes independence-interval event groups from stored
// observation rows with the project's configured interval.
func (h *StatsHandler) Events(w http.ResponseWriter, r *http.Request) {
	projectID, ok := urlUUID(w, r, "projectID")
	if !ok {
		return
	}
	from, to, err := periodRange(r)
	if err != nil {
		http.Error(w, "invalid time range", http.StatusBadRequest)
		return
	}

	project, err := h.Projects.Get(r.Context(), projectID)
	if errors.Is(err, data.ErrRecordNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	rows, err := h.Stats.ObservationRows(r.Context(), projectID, from, to)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	interval := time.Duration(project.IndependenceMinutes) * time.Minute
	grouped := events.Group(rows, interval)
	if grouped == nil {
		grouped = []events.Event{}
	}
	writeJSON(w, http.StatusOK, grouped)
}
