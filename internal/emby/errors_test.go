// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package emby

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
)

func TestWrapError_Sentinels(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		status   int
		sentinel error
	}{
		{name: "HTTP 401", status: http.StatusUnauthorized, sentinel: ErrUnauthorized},
		{name: "HTTP 403", status: http.StatusForbidden, sentinel: ErrUnauthorized},
		{name: "HTTP 404", status: http.StatusNotFound, sentinel: ErrNotFound},
		{name: "HTTP 400", status: http.StatusBadRequest, sentinel: ErrRejected},
		{name: "HTTP 503", status: http.StatusServiceUnavailable, sentinel: ErrUpstream},
		{name: "Network Timeout", err: &net.DNSError{IsTimeout: true}, sentinel: ErrTimeout},
		{name: "Context Timeout", err: context.DeadlineExceeded, sentinel: ErrTimeout},
		{name: "Connection refused", err: errors.New("dial tcp: connection refused"), sentinel: ErrUnavailable},
		{name: "Circuit open", err: ErrCircuitOpen, sentinel: ErrCircuitOpen},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := wrapError("op", tc.err, tc.status, "")
			if !errors.Is(err, tc.sentinel) {
				t.Fatalf("expected %v, got %v", tc.sentinel, err)
			}
		})
	}
}

func TestWrapError_SuccessIsNil(t *testing.T) {
	if err := wrapError("op", nil, http.StatusNoContent, ""); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestError_MessageTruncatesBody(t *testing.T) {
	err := wrapError("list_sessions", nil, http.StatusInternalServerError, strings.Repeat("x", 1000))
	var embyErr *Error
	if !errors.As(err, &embyErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if len(embyErr.Body) != 256 {
		t.Errorf("expected body truncated to 256 bytes, got %d", len(embyErr.Body))
	}
	if !strings.Contains(err.Error(), "list_sessions") || !strings.Contains(err.Error(), "HTTP 500") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestErrorType(t *testing.T) {
	if got := errorType(wrapError("op", nil, http.StatusUnauthorized, "")); got != "authorization rejected" {
		t.Errorf("errorType = %q", got)
	}
	if got := errorType(errors.New("plain")); got != "unknown" {
		t.Errorf("errorType = %q, want unknown", got)
	}
}
