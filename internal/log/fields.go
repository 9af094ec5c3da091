// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldEntityID  = "entity_id"
	FieldRequestID = "request_id"
	FieldConnID    = "conn_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Device fields
	FieldDevice = "device"
	FieldClient = "client"

	// Command fields
	FieldCommand       = "command"
	FieldServerCommand = "server_command"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath      = "path"
	FieldServerURL = "server_url"
)
