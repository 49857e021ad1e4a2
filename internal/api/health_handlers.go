package api

import (
	"database/sql"
	"net/http"
)

type HealthHandler struct {
	DB *sql.DB
}

// Healthz reports process liveness plus database reachability. A down
// database degrades the response to 503 so load balancers rotate us out.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	dbStatus := "up"
	status := http.StatusOK
	if err := h.DB.PingContext(r.Context()); err != nil {
		dbStatus = "down"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{
		"status":   "ok",
		"database": dbStatus,
	})
}
