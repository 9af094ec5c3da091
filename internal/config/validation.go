// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ValidationError collects every invalid field of one configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks an AppConfig for values the daemon cannot run with.
func Validate(cfg AppConfig) error {
	v := &ValidationError{}

	checkAddr := func(name, addr string, required bool) {
		if addr == "" {
			if required {
				v.Problems = append(v.Problems, name+" is required")
			}
			return
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			v.Problems = append(v.Problems, fmt.Sprintf("%s %q: %v", name, addr, err))
		}
	}
	checkAddr("listenAddr", cfg.ListenAddr, true)
	checkAddr("metricsAddr", cfg.MetricsAddr, false)

	if cfg.MaxConnections < 1 {
		v.Problems = append(v.Problems, "maxConnections must be >= 1")
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"reconcile.interval", cfg.Reconcile.Interval},
		{"reconcile.backoff", cfg.Reconcile.Backoff},
		{"entity.refreshInterval", cfg.Entity.RefreshInterval},
		{"entity.refreshBackoff", cfg.Entity.RefreshBackoff},
		{"entity.commandTimeout", cfg.Entity.CommandTimeout},
		{"emby.timeout", cfg.Emby.Timeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			v.Problems = append(v.Problems, p.name+" must be positive")
		}
	}
	if cfg.Entity.SettleDelay < 0 {
		v.Problems = append(v.Problems, "entity.settleDelay must not be negative")
	}
	if cfg.Emby.MaxRetries < 0 {
		v.Problems = append(v.Problems, "emby.maxRetries must not be negative")
	}
	if cfg.Emby.RateLimit <= 0 || cfg.Emby.RateBurst < 1 {
		v.Problems = append(v.Problems, "emby.rateLimit and emby.rateBurst must be positive")
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.Exporter {
		case "grpc", "http":
		default:
			v.Problems = append(v.Problems, fmt.Sprintf("telemetry.exporter %q must be grpc or http", cfg.Telemetry.Exporter))
		}
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			v.Problems = append(v.Problems, "telemetry.samplingRate must be within [0,1]")
		}
	}

	if len(v.Problems) == 0 {
		return nil
	}
	return v
}

// IsValidationError reports whether err carries configuration problems.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
