// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"time"

	"github.com/mase1981/uc-intg-emby/internal/lifecycle"
)

// StateSource reports the integration lifecycle.
type StateSource interface {
	State() lifecycle.State
	Reconciling() bool
}

// LifecycleChecker maps the lifecycle state to a component status. An
// unconfigured integration is degraded, not unhealthy: it can still be set up.
type LifecycleChecker struct {
	src StateSource
}

// NewLifecycleChecker creates a checker for the lifecycle state.
func NewLifecycleChecker(src StateSource) *LifecycleChecker {
	return &LifecycleChecker{src: src}
}

func (c *LifecycleChecker) Name() string { return "lifecycle" }

func (c *LifecycleChecker) Check(context.Context) CheckResult {
	state := c.src.State()
	switch state {
	case lifecycle.StateReady:
		if !c.src.Reconciling() {
			return CheckResult{Status: StatusDegraded, Message: "ready but session polling stopped"}
		}
		return CheckResult{Status: StatusHealthy, Message: string(state)}
	case lifecycle.StateUnconfigured, lifecycle.StateInitializing:
		return CheckResult{Status: StatusDegraded, Message: string(state)}
	default:
		return CheckResult{Status: StatusUnhealthy, Message: string(state), Error: "initialization failed"}
	}
}

// Pinger tests the Emby connection.
type Pinger interface {
	State() lifecycle.State
	Ping(ctx context.Context) (string, error)
}

// EmbyChecker tests reachability of the configured Emby server. It only
// probes while the integration is READY.
type EmbyChecker struct {
	p       Pinger
	timeout time.Duration
}

// NewEmbyChecker creates a checker bounded by timeout.
func NewEmbyChecker(p Pinger, timeout time.Duration) *EmbyChecker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &EmbyChecker{p: p, timeout: timeout}
}

func (c *EmbyChecker) Name() string { return "emby" }

func (c *EmbyChecker) Check(ctx context.Context) CheckResult {
	if c.p.State() != lifecycle.StateReady {
		return CheckResult{Status: StatusHealthy, Message: "not connected (skipped)"}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	msg, err := c.p.Ping(ctx)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: msg}
}
