package api

import (
	"errors"
	"net/http"

	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/middleware"
	"github.com/technosupport/ts-trapnet/internal/projects"
)

type ProjectHandler struct {
	Projects    *projects.Service
	Memberships data.MembershipModel
}

// List returns every project for server admins and the membership projects
// for everyone else.
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if ac.User.IsServerAdmin {
		all, err := h.Projects.List(r.Context())
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, all)
		return
	}

	mems, err := h.Memberships.ListByUser(r.Context(), ac.User.ID)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	out := make([]*data.Project, 0, len(mems))
	for _, mem := range mems {
		p, err := h.Projects.Get(r.Context(), mem.ProjectID)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var p data.Project
	if !readJSON(w, r, &p) {
		return
	}
	if err := h.Projects.Create(r.Context(), &p); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &p)
}

func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "projectID")
	if !ok {
		return
	}
	p, err := h.Projects.Get(r.Context(), id)
	if errors.Is(err, data.ErrRecordNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Update persists project settings. A changed species list triggers the
// stored-classification reprocess fan-out inside the service.
func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "projectID")
	if !ok {
		return
	}
	var p data.Project
	if !readJSON(w, r, &p) {
		return
	}
	p.ID = id

	err := h.Projects.Update(r.Context(), &p)
	if errors.Is(err, data.ErrRecordNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &p)
}

func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "projectID")
	if !ok {
		return
	}
	err := h.Projects.Delete(r.Context(), id)
	if errors.Is(err, data.ErrRecordNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProjectHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, projects.ErrNameRequired), errors.Is(err, projects.ErrInvalidThreshold):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
