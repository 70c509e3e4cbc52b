package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-console/internal/auth"
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Authenticated inside the handler so the token may travel in the query.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			read := s.require(auth.PermConsoleRead)
			manage := s.require(auth.PermConsoleManage)
			invoke := s.require(auth.PermActionInvoke)

			r.Route("/instances", func(r chi.Router) {
				r.With(read).Get("/", s.handleListInstances)
				r.Route("/{id}", func(r chi.Router) {
					r.With(read).Get("/", s.handleGetInstance)
					r.With(manage).Post("/info", s.handleRefreshInstanceInfo)
					r.With(invoke).Post("/actions/{actionId}", s.handleInstanceAction)
				})
			})

			r.With(read).Get("/selection", s.handleGetSelection)
			r.With(manage).Put("/selection", s.handleSetSelection)

			r.Route("/devices", func(r chi.Router) {
				r.With(read).Get("/", s.handleListDevices)
				r.With(manage).Post("/reload", s.handleReloadDevices)
				r.With(manage).Put("/filter", s.handleSetFilter)
				r.Route("/{id}", func(r chi.Router) {
					r.With(read).Get("/", s.handleGetDevice)
					r.With(read).Get("/details", s.handleDeviceDetails)
					r.With(invoke).Post("/actions/{actionId}", s.handleDeviceAction)
					r.With(read).Get("/controls/{controlId}", s.handleGetControl)
					r.With(s.require(auth.PermControlWrite)).Put("/controls/{controlId}", s.handleSetControl)
				})
			})

			r.Route("/sessions", func(r chi.Router) {
				r.With(read).Get("/", s.handleListSessions)
				r.Route("/{origin}", func(r chi.Router) {
					r.With(read).Get("/", s.handleGetSession)
					r.With(invoke).Post("/reply", s.handleReplySession)
					r.With(invoke).Patch("/form", s.handleUpdateForm)
					r.With(invoke).Delete("/", s.handleAbandonSession)
				})
			})

			r.With(s.require(auth.PermAuditRead)).Get("/audit", s.handleListAudit)
		})
	})

	if s.ui != nil {
		r.Handle("/*", s.ui)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	instances := s.live.Instances()
	alive := 0
	for _, in := range instances {
		if in.Alive {
			alive++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"version":           s.version,
		"instances":         len(instances),
		"instances_alive":   alive,
		"selected_instance": s.devices.Selected(),
		"sessions_open":     len(s.actions.Sessions()),
		"websocket_clients": s.hub.ClientCount(),
	})
}
