// SPDX-License-Identifier: MIT

package daemon

import (
	"net/http"
	"time"

	"github.com/mase1981/uc-intg-emby/internal/config"
	"github.com/rs/zerolog"
)

// Deps contains dependencies required by the daemon Manager.
type Deps struct {
	// Logger is the structured logger for the daemon
	Logger zerolog.Logger

	// APIHandler serves the operator API and the host websocket
	APIHandler http.Handler

	// MetricsHandler serves Prometheus metrics on the metrics address (if set)
	MetricsHandler http.Handler
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	return nil
}

// ServerConfig holds the HTTP server settings of the daemon.
type ServerConfig struct {
	ListenAddr        string
	MetricsAddr       string
	MaxConnections    int
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

// ServerConfigFrom derives the server settings from the daemon config. No
// write timeout is set: host websocket connections are long-lived.
func ServerConfigFrom(cfg config.AppConfig) ServerConfig {
	return ServerConfig{
		ListenAddr:        cfg.ListenAddr,
		MetricsAddr:       cfg.MetricsAddr,
		MaxConnections:    cfg.MaxConnections,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
	}
}
