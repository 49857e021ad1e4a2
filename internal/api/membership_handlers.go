package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/technosupport/ts-trapnet/internal/authz"
	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/users"
)

type MembershipHandler struct {
	Memberships data.MembershipModel
	Users       *users.Service
	Authz       *authz.Service
}

func (h *MembershipHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := urlUUID(w, r, "projectID")
	if !ok {
		return
	}
	mems, err := h.Memberships.ListByProject(r.Context(), projectID)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, mems)
}

type PutMembershipRequest struct {
	Role string `json:"role"`
}

// Put sets (or changes) a user's role on the project and drops the cached
// authz decision.
func (h *MembershipHandler) Put(w http.ResponseWriter, r *http.Request) {
	projectID, ok := urlUUID(w, r, "projectID")
	if !ok {
		return
	}
	userID, ok := urlUUID(w, r, "userID")
	if !ok {
		return
	}
	var req PutMembershipRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Role != data.RoleProjectAdmin && req.Role != data.RoleProjectViewer {
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	}

	mem := &data.Membership{UserID: userID, ProjectID: projectID, Role: req.Role}
	if err := h.Memberships.Upsert(r.Context(), mem); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.Authz.Invalidate(r.Context(), userID, projectID)
	writeJSON(w, http.StatusOK, mem)
}

func (h *MembershipHandler) Delete(w http.ResponseWriter, r *http.Request) {
	projectID, ok := urlUUID(w, r, "projectID")
	if !ok {
		return
	}
	userID, ok := urlUUID(w, r, "userID")
	if !ok {
		return
	}
	err := h.Memberships.Delete(r.Context(), userID, projectID)
	if errors.Is(err, data.ErrMembershipNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.Authz.Invalidate(r.Context(), userID, projectID)
	w.WriteHeader(http.StatusNoContent)
}

type InviteRequest struct {
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	ProjectID *uuid.UUID `json:"project_id,omitempty"`
}

// Invite issues a registration invitation. On the project-scoped route the
// URL project wins over the body, so a project admin cannot invite into a
// project they do not administer.
func (h *MembershipHandler) Invite(w http.ResponseWriter, r *http.Request) {
	var req InviteRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		http.Error(w, "email required", http.StatusBadRequest)
		return
	}
	if raw := chi.URLParam(r, "projectID"); raw != "" {
		projectID, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		req.ProjectID = &projectID
	}

	inv, err := h.Users.Invite(r.Context(), req.Email, req.Role, req.ProjectID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}
