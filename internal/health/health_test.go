// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mase1981/uc-intg-emby/internal/config"
	"github.com/mase1981/uc-intg-emby/internal/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string { return m.name }
func (m *mockChecker) Check(context.Context) CheckResult {
	return CheckResult{Status: m.status}
}

type fakeSource struct {
	state       lifecycle.State
	reconciling bool
	pingErr     error
	pings       int
}

func (f *fakeSource) State() lifecycle.State { return f.state }
func (f *fakeSource) Reconciling() bool      { return f.reconciling }
func (f *fakeSource) Ping(context.Context) (string, error) {
	f.pings++
	if f.pingErr != nil {
		return "", f.pingErr
	}
	return "Connected to Mock Emby v4.8.0.0", nil
}

func TestManager_Health(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "ok", status: StatusHealthy})
	m.RegisterChecker(&mockChecker{name: "meh", status: StatusDegraded})

	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.GreaterOrEqual(t, resp.Uptime, int64(0))
	assert.Nil(t, resp.Checks)

	resp = m.Health(context.Background(), true)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)
}

func TestManager_Ready(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []Status
		wantReady bool
		want      Status
	}{
		{name: "no checkers", wantReady: true, want: StatusHealthy},
		{name: "healthy", statuses: []Status{StatusHealthy}, wantReady: true, want: StatusHealthy},
		{name: "degraded", statuses: []Status{StatusHealthy, StatusDegraded}, wantReady: true, want: StatusDegraded},
		{name: "unhealthy wins", statuses: []Status{StatusUnhealthy, StatusDegraded}, wantReady: false, want: StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("v")
			for i, s := range tt.statuses {
				m.RegisterChecker(&mockChecker{name: string(rune('a' + i)), status: s})
			}
			resp := m.Ready(context.Background())
			assert.Equal(t, tt.wantReady, resp.Ready)
			assert.Equal(t, tt.want, resp.Status)
		})
	}
}

func TestManager_ServeReady(t *testing.T) {
	m := NewManager("v")
	m.RegisterChecker(&mockChecker{name: "emby", status: StatusUnhealthy})

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body ReadinessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.False(t, body.Ready)
	assert.Equal(t, StatusUnhealthy, body.Checks["emby"].Status)

	rec = httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "liveness is always 200")
}

func TestLifecycleChecker(t *testing.T) {
	tests := []struct {
		state       lifecycle.State
		reconciling bool
		want        Status
	}{
		{lifecycle.StateReady, true, StatusHealthy},
		{lifecycle.StateReady, false, StatusDegraded},
		{lifecycle.StateUnconfigured, false, StatusDegraded},
		{lifecycle.StateInitializing, false, StatusDegraded},
		{lifecycle.StateError, false, StatusUnhealthy},
	}
	for _, tt := range tests {
		c := NewLifecycleChecker(&fakeSource{state: tt.state, reconciling: tt.reconciling})
		assert.Equal(t, tt.want, c.Check(context.Background()).Status, "state %s", tt.state)
	}
}

func TestEmbyChecker(t *testing.T) {
	src := &fakeSource{state: lifecycle.StateUnconfigured}
	c := NewEmbyChecker(src, time.Second)
	assert.Equal(t, "emby", c.Name())

	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)
	assert.Zero(t, src.pings, "no probe before READY")

	src.state = lifecycle.StateReady
	res := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Contains(t, res.Message, "Mock Emby")

	src.pingErr = errors.New("connection refused")
	res = c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "connection refused", res.Error)
}

func TestPerformStartupChecks(t *testing.T) {
	cfg := config.Defaults()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	require.NoError(t, PerformStartupChecks(cfg))

	info, err := os.Stat(cfg.DataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	cfg.ListenAddr = "9090"
	assert.Error(t, PerformStartupChecks(cfg))

	cfg.ListenAddr = ":9090"
	cfg.MetricsAddr = ":notaport"
	assert.Error(t, PerformStartupChecks(cfg))
}

func TestPerformStartupChecks_DataDirIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	cfg := config.Defaults()
	cfg.DataDir = file
	assert.Error(t, PerformStartupChecks(cfg))
}
