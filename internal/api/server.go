// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api serves the operator HTTP surface of the daemon: probes,
// metrics, the host websocket endpoint and a small read/command API over
// the live entity registry.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mase1981/uc-intg-emby/internal/api/middleware"
	"github.com/mase1981/uc-intg-emby/internal/config"
	"github.com/mase1981/uc-intg-emby/internal/health"
	"github.com/mase1981/uc-intg-emby/internal/lifecycle"
	"github.com/mase1981/uc-intg-emby/internal/mediaplayer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Controller is the lifecycle surface the API reads and commands.
type Controller interface {
	State() lifecycle.State
	DeviceState() lifecycle.DeviceState
	Settings() config.Settings
	Reconciling() bool
	Entities() []*mediaplayer.Entity
	Lookup(entityID string) (*mediaplayer.Entity, bool)
	HandleCommand(ctx context.Context, entityID string, cmd mediaplayer.Command, params mediaplayer.Params) mediaplayer.Status
}

// HostServer is the host protocol endpoint.
type HostServer interface {
	http.Handler
	Connections() int
	Subscribed() []string
}

// Deps are the collaborators of the API router.
type Deps struct {
	Version    string
	Controller Controller
	Host       HostServer
	Health     *health.Manager

	// TracingService names HTTP server spans; empty disables tracing.
	TracingService string
	// RateLimitRPM bounds /api/v1 requests per client IP and minute.
	RateLimitRPM int
}

// Server holds the API handlers.
type Server struct {
	deps Deps
}

// New creates the API server.
func New(deps Deps) *Server {
	return &Server{deps: deps}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: s.deps.TracingService,
		EnableLogging:  true,
	})

	if s.deps.Health != nil {
		r.Get("/healthz", s.deps.Health.ServeHealth)
		r.Get("/readyz", s.deps.Health.ServeReady)
	}
	r.Handle("/metrics", promhttp.Handler())
	if s.deps.Host != nil {
		r.Get("/ws", s.deps.Host.ServeHTTP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIRateLimit(s.deps.RateLimitRPM))
		r.Get("/status", s.handleStatus)
		r.Get("/entities", s.handleListEntities)
		r.Get("/entities/{id}", s.handleGetEntity)
		r.Post("/entities/{id}/command", s.handleCommand)
	})
	return r
}
