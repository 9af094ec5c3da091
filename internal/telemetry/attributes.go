// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Emby session attributes
	SessionIDKey     = "emby.session_id"
	SessionDeviceKey = "emby.device_name"
	SessionClientKey = "emby.client"

	// Entity command attributes
	EntityIDKey      = "entity.id"
	CommandKey       = "entity.command"
	ServerCommandKey = "emby.command"
	CommandStatusKey = "entity.command_status"

	// Reconcile attributes
	ReconcileAddedKey   = "reconcile.added"
	ReconcileRemovedKey = "reconcile.removed"
	ReconcileTotalKey   = "reconcile.entities"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// SessionAttributes describes an Emby session. Empty values are omitted.
func SessionAttributes(sessionID, device, client string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if sessionID != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, sessionID))
	}
	if device != "" {
		attrs = append(attrs, attribute.String(SessionDeviceKey, device))
	}
	if client != "" {
		attrs = append(attrs, attribute.String(SessionClientKey, client))
	}
	return attrs
}

// CommandAttributes describes an entity command dispatch.
func CommandAttributes(entityID, command, serverCommand string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(EntityIDKey, entityID),
		attribute.String(CommandKey, command),
	}
	if serverCommand != "" {
		attrs = append(attrs, attribute.String(ServerCommandKey, serverCommand))
	}
	return attrs
}

// ReconcileAttributes summarizes one reconciliation cycle.
func ReconcileAttributes(added, removed, total int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(ReconcileAddedKey, added),
		attribute.Int(ReconcileRemovedKey, removed),
		attribute.Int(ReconcileTotalKey, total),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
