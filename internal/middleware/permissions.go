package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/technosupport/ts-trapnet/internal/authz"
)

// ProjectPermission wires the authz service into chi routes that carry a
// {projectID} URL parameter.
type ProjectPermission struct {
	authz *authz.Service
}

func NewProjectPermission(a *authz.Service) *ProjectPermission {
	return &ProjectPermission{authz: a}
}

// RequireRead gates read access to a project. An unknown or inaccessible
// project is a 404 so existence never leaks.
func (p *ProjectPermission) RequireRead(next http.Handler) http.Handler {
	return p.require(next, p.authzRead, http.StatusNotFound)
}

// RequireAdmin gates mutations. The caller can already read the project, so
// a plain 403 is fine here.
func (p *ProjectPermission) RequireAdmin(next http.Handler) http.Handler {
	return p.require(next, p.authzAdmin, http.StatusForbidden)
}

// RequireServerAdmin gates server-level operations.
func (p *ProjectPermission) RequireServerAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := GetAuthContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if !p.authz.CanAdminServer(ac.User) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type check func(r *http.Request, projectID uuid.UUID) (bool, error)

func (p *ProjectPermission) authzRead(r *http.Request, projectID uuid.UUID) (bool, error) {
	ac, _ := GetAuthContext(r.Context())
	return p.authz.CanRead(r.Context(), ac.User, projectID)
}

func (p *ProjectPermission) authzAdmin(r *http.Request, projectID uuid.UUID) (bool, error) {
	ac, _ := GetAuthContext(r.Context())
	return p.authz.CanAdmin(r.Context(), ac.User, projectID)
}

func (p *ProjectPermission) require(next http.Handler, fn check, denyStatus int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetAuthContext(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
		if err != nil {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		ok, err := fn(r, projectID)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, http.StatusText(denyStatus), denyStatus)
			return
		}
		next.ServeHTTP(w, r)
	})
}
