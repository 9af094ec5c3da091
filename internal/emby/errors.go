// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package emby

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrUnauthorized = errors.New("emby: authorization rejected")
	ErrNotFound     = errors.New("emby: resource not found")
	ErrUnavailable  = errors.New("emby: host unreachable or transport failure")
	ErrTimeout      = errors.New("emby: request timed out")
	ErrUpstream     = errors.New("emby: internal server error (5xx)")
	ErrRejected     = errors.New("emby: request rejected (4xx)")
	ErrBadResponse  = errors.New("emby: invalid response format or malformed data")
)

// Error is a rich error type that wraps the sentinel errors with context.
type Error struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error // Nested lower-level error (e.g. net.Error)
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("emby: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Sentinel
}

// wrapError classifies a transport error or an HTTP status into a sentinel.
func wrapError(op string, err error, status int, body string) error {
	if err == nil && status >= 200 && status < 300 {
		return nil
	}

	var sentinel error
	switch {
	case err != nil && errors.Is(err, ErrCircuitOpen):
		sentinel = ErrCircuitOpen
	case err != nil && isTimeout(err):
		sentinel = ErrTimeout
	case err != nil:
		sentinel = ErrUnavailable
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		sentinel = ErrUnauthorized
	case status == http.StatusNotFound:
		sentinel = ErrNotFound
	case status >= http.StatusInternalServerError:
		sentinel = ErrUpstream
	default:
		sentinel = ErrRejected
	}

	if len(body) > 256 {
		body = body[:256]
	}
	return &Error{Sentinel: sentinel, Operation: op, Status: status, Body: body, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// errorType names the sentinel of err for span attributes.
func errorType(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Sentinel != nil {
		return strings.TrimPrefix(e.Sentinel.Error(), "emby: ")
	}
	return "unknown"
}
