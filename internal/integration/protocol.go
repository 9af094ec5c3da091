// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package integration

import (
	"encoding/json"

	"github.com/mase1981/uc-intg-emby/internal/mediaplayer"
)

// Message kinds of the host protocol.
const (
	kindRequest  = "req"
	kindResponse = "resp"
	kindEvent    = "event"
)

// Event categories.
const (
	catDevice = "DEVICE"
	catEntity = "ENTITY"
	catSetup  = "SETUP"
)

// EntityType is the host entity type of every session entity.
const EntityType = "media_player"

// Request and event names sent by the host.
const (
	msgGetDriverVersion     = "get_driver_version"
	msgGetDeviceState       = "get_device_state"
	msgGetAvailableEntities = "get_available_entities"
	msgGetEntityStates      = "get_entity_states"
	msgSubscribeEvents      = "subscribe_events"
	msgUnsubscribeEvents    = "unsubscribe_events"
	msgEntityCommand        = "entity_command"
	msgSetupDriver          = "setup_driver"
	msgSetDriverUserData    = "set_driver_user_data"
	msgAbortDriverSetup     = "abort_driver_setup"

	evConnect      = "connect"
	evDisconnect   = "disconnect"
	evEnterStandby = "enter_standby"
	evExitStandby  = "exit_standby"
)

// Messages sent by the integration.
const (
	msgAuthentication    = "authentication"
	msgDriverVersion     = "driver_version"
	msgAvailableEntities = "available_entities"
	msgEntityStates      = "entity_states"
	msgResult            = "result"

	evDeviceState       = "device_state"
	evEntityAvailable   = "entity_available"
	evEntityRemoved     = "entity_removed"
	evEntityChange      = "entity_change"
	evDriverSetupChange = "driver_setup_change"
)

// inbound is any message received from the host.
type inbound struct {
	Kind    string          `json:"kind"`
	ID      int64           `json:"id,omitempty"`
	Msg     string          `json:"msg"`
	MsgData json.RawMessage `json:"msg_data,omitempty"`
}

type response struct {
	Kind    string `json:"kind"`
	ReqID   int64  `json:"req_id"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	MsgData any    `json:"msg_data"`
}

type event struct {
	Kind    string `json:"kind"`
	Msg     string `json:"msg"`
	Cat     string `json:"cat"`
	MsgData any    `json:"msg_data,omitempty"`
}

type driverVersion struct {
	Name    string            `json:"name"`
	Version driverVersionInfo `json:"version"`
}

type driverVersionInfo struct {
	API    string `json:"api"`
	Driver string `json:"driver"`
}

type deviceStateData struct {
	State string `json:"state"`
}

type entityPayload struct {
	EntityID    string                `json:"entity_id"`
	EntityType  string                `json:"entity_type"`
	DeviceClass string                `json:"device_class,omitempty"`
	Name        map[string]string     `json:"name,omitempty"`
	Features    []mediaplayer.Feature `json:"features,omitempty"`
	Attributes  map[string]any        `json:"attributes,omitempty"`
}

type availableEntities struct {
	AvailableEntities []entityPayload `json:"available_entities"`
}

type entityIDs struct {
	EntityIDs []string `json:"entity_ids"`
}

type entityCommand struct {
	EntityType string             `json:"entity_type"`
	EntityID   string             `json:"entity_id"`
	CmdID      string             `json:"cmd_id"`
	Params     mediaplayer.Params `json:"params,omitempty"`
}

type setupDriver struct {
	Reconfigure bool              `json:"reconfigure"`
	SetupData   map[string]string `json:"setup_data"`
}

type userData struct {
	InputValues map[string]string `json:"input_values"`
	Confirm     bool              `json:"confirm,omitempty"`
}

type abortSetup struct {
	Error string `json:"error"`
}

// Setup progress reported in driver_setup_change events.
const (
	setupEventSetup = "SETUP"
	setupEventStop  = "STOP"

	setupStateSetup      = "SETUP"
	setupStateWaitAction = "WAIT_USER_ACTION"
	setupStateOK         = "OK"
	setupStateError      = "ERROR"
)

type setupChange struct {
	EventType         string      `json:"event_type"`
	State             string      `json:"state"`
	Error             string      `json:"error,omitempty"`
	RequireUserAction *userAction `json:"require_user_action,omitempty"`
}

type userAction struct {
	Input *inputForm `json:"input,omitempty"`
}

type inputForm struct {
	Title    map[string]string `json:"title"`
	Settings []setupField      `json:"settings"`
}

type setupField struct {
	ID    string               `json:"id"`
	Label map[string]string    `json:"label"`
	Field map[string]textField `json:"field"`
}

type textField struct {
	Value       string `json:"value"`
	Regex       string `json:"regex,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}
