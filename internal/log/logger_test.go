// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureBase(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	Configure(Config{Level: "debug", Output: buf, Service: "test", Version: "v0"})
	t.Cleanup(func() { Configure(Config{}) })
	return buf
}

func TestWithComponent_AttachesFields(t *testing.T) {
	buf := captureBase(t)

	l := WithComponent("reconcile")
	l.Info().Str(FieldEvent, "unit.test").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "reconcile", entry["component"])
	assert.Equal(t, "test", entry["service"])
	assert.Equal(t, "v0", entry["version"])
	assert.Equal(t, "unit.test", entry["event"])
}

func TestContextIDs(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		id   string
	}{
		{name: "nil context", ctx: nil, id: "req-1"},
		{name: "background", ctx: context.Background(), id: "req-2"},
		{name: "empty id", ctx: context.Background(), id: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithRequestID(tt.ctx, tt.id) //nolint:staticcheck // nil context is part of the contract
			assert.Equal(t, tt.id, RequestIDFromContext(ctx))
			ctx = ContextWithConnID(ctx, "conn-"+tt.id)
			assert.Equal(t, "conn-"+tt.id, ConnIDFromContext(ctx))
		})
	}
	assert.Empty(t, RequestIDFromContext(nil)) //nolint:staticcheck
}

func TestWithComponentFromContext(t *testing.T) {
	buf := captureBase(t)

	ctx := ContextWithRequestID(context.Background(), "abc")
	l := WithComponentFromContext(ctx, "api")
	l.Info().Msg("x")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "abc", entry[FieldRequestID])
	assert.Equal(t, "api", entry[FieldComponent])
}

func TestMiddleware_LogsStatus(t *testing.T) {
	buf := captureBase(t)

	h := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "request.handled", entry["event"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
	assert.Equal(t, "/healthz", entry["path"])
	assert.EqualValues(t, 15, entry["bytes"])
}
