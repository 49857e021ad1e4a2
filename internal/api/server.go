package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-trapnet/internal/middleware"
)

// Server bundles the HTTP surface: auth, project administration, curation,
// notification preferences, stats and the live feed.
type Server struct {
	Auth        *AuthHandler
	Projects    *ProjectHandler
	Memberships *MembershipHandler
	Cameras     *CameraHandler
	Images      *ImageHandler
	Preferences *PreferenceHandler
	Stats       *StatsHandler
	Live        *LiveHandler
	Health      *HealthHandler

	JWT   *middleware.JWTAuth
	Perms *middleware.ProjectPermission
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger)

	r.Get("/healthz", s.Health.Healthz)

	r.Route("/api/v1", func(r chi.Router) {
		// Public auth surface.
		r.Post("/auth/login", s.Auth.Login)
		r.Post("/auth/refresh", s.Auth.Refresh)
		r.Post("/auth/register", s.Auth.Register)

		// Websocket feed authenticates via query token inside the handler.
		r.Get("/live", s.Live.ServeWS)

		r.Group(func(r chi.Router) {
			r.Use(s.JWT.Middleware)

			r.Post("/auth/logout", s.Auth.Logout)

			r.Get("/projects", s.Projects.List)
			r.With(s.Perms.RequireServerAdmin).Post("/projects", s.Projects.Create)
			r.With(s.Perms.RequireServerAdmin).Post("/invitations", s.Memberships.Invite)

			r.Route("/projects/{projectID}", func(r chi.Router) {
				// Read scope.
				r.Group(func(r chi.Router) {
					r.Use(s.Perms.RequireRead)

					r.Get("/", s.Projects.Get)
					r.Get("/cameras", s.Cameras.List)
					r.Get("/cameras/{cameraID}", s.Cameras.Get)
					r.Get("/cameras/{cameraID}/deployments", s.Cameras.ListDeployments)
					r.Get("/images/{imageID}", s.Images.Get)
					r.Get("/stats", s.Stats.PeriodStats)
					r.Get("/events", s.Stats.Events)

					r.Get("/notification-preferences", s.Preferences.Get)
					r.Put("/notification-preferences", s.Preferences.Put)
					r.Post("/notification-preferences/telegram-link", s.Preferences.MintLinkToken)
				})

				// Admin scope.
				r.Group(func(r chi.Router) {
					r.Use(s.Perms.RequireAdmin)

					r.Put("/", s.Projects.Update)
					r.Get("/memberships", s.Memberships.List)
					r.Put("/memberships/{userID}", s.Memberships.Put)
					r.Delete("/memberships/{userID}", s.Memberships.Delete)
					r.Post("/invitations", s.Memberships.Invite)

					r.Post("/images/{imageID}/verify", s.Images.Verify)
					r.Post("/images/{imageID}/observations", s.Images.CreateObservation)
					r.Put("/images/{imageID}/observations/{observationID}", s.Images.UpdateObservation)
					r.Delete("/images/{imageID}/observations/{observationID}", s.Images.DeleteObservation)
				})

				r.With(s.Perms.RequireServerAdmin).Delete("/", s.Projects.Delete)
			})
		})
	})

	return r
}
