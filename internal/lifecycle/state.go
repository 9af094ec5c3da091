// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

// State is the integration lifecycle state.
type State string

const (
	StateUnconfigured State = "UNCONFIGURED"
	StateInitializing State = "INITIALIZING"
	StateReady        State = "READY"
	StateError        State = "ERROR"
)

// DeviceState is the integration state reported to the host.
type DeviceState string

const (
	DeviceConnected    DeviceState = "CONNECTED"
	DeviceConnecting   DeviceState = "CONNECTING"
	DeviceDisconnected DeviceState = "DISCONNECTED"
	DeviceError        DeviceState = "ERROR"
)

// deviceStateFor maps a lifecycle transition to the state pushed to hosts.
func deviceStateFor(s State) DeviceState {
	switch s {
	case StateReady:
		return DeviceConnected
	case StateInitializing:
		return DeviceConnecting
	case StateUnconfigured:
		return DeviceDisconnected
	default:
		return DeviceError
	}
}

// SetupResult is the outcome of processing setup data.
type SetupResult string

const (
	SetupComplete           SetupResult = "OK"
	SetupInvalidInput       SetupResult = "INVALID_INPUT"
	SetupConnectionRefused  SetupResult = "CONNECTION_REFUSED"
	SetupAuthorizationError SetupResult = "AUTHORIZATION_ERROR"
	SetupOther              SetupResult = "OTHER"
)
