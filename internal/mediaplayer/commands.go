// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package mediaplayer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/mase1981/uc-intg-emby/internal/emby"
	xglog "github.com/mase1981/uc-intg-emby/internal/log"
	"github.com/mase1981/uc-intg-emby/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
)

// Command is an abstract media-player command received from the host.
type Command string

const (
	CmdPlayPause   Command = "play_pause"
	CmdStop        Command = "stop"
	CmdNext        Command = "next"
	CmdPrevious    Command = "previous"
	CmdFastForward Command = "fast_forward"
	CmdRewind      Command = "rewind"
	CmdVolumeUp    Command = "volume_up"
	CmdVolumeDown  Command = "volume_down"
	CmdMuteToggle  Command = "mute_toggle"
	CmdVolume      Command = "volume"
	CmdSeek        Command = "seek"
)

// Parameter names carried by volume and seek commands.
const (
	ParamVolume        = "volume"
	ParamMediaPosition = "media_position"
)

// Params are the optional command parameters as decoded from the host.
type Params map[string]any

var (
	// ErrUnsupportedCommand means the command has no mapping, or lacks the
	// parameter its mapping needs.
	ErrUnsupportedCommand = errors.New("mediaplayer: unsupported command")
	// ErrNoCapableCommand means none of a fallback list is supported by the
	// session. Nothing was sent.
	ErrNoCapableCommand = errors.New("mediaplayer: session supports none of the mapped commands")
)

type route struct {
	// candidates in priority order; len > 1 means capability-checked fallback.
	candidates []string
	args       func(Params) (map[string]any, bool)
}

var routes = map[Command]route{
	CmdPlayPause:   {candidates: []string{"PlayPause", "Select"}},
	CmdStop:        {candidates: []string{"Stop", "Back"}},
	CmdNext:        {candidates: []string{"NextTrack", "NextLetter"}},
	CmdPrevious:    {candidates: []string{"PreviousTrack", "PreviousLetter"}},
	CmdFastForward: {candidates: []string{"FastForward", "MoveRight"}},
	CmdRewind:      {candidates: []string{"Rewind", "MoveLeft"}},
	CmdVolumeUp:    {candidates: []string{"VolumeUp"}},
	CmdVolumeDown:  {candidates: []string{"VolumeDown"}},
	CmdMuteToggle:  {candidates: []string{"ToggleMute"}},
	CmdVolume:      {candidates: []string{"SetVolume"}, args: volumeArgs},
	CmdSeek:        {candidates: []string{"Seek"}, args: seekArgs},
}

// Commands lists every command with a mapping.
func Commands() []Command {
	out := make([]Command, 0, len(routes))
	for c := range routes {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

func volumeArgs(p Params) (map[string]any, bool) {
	v, ok := number(p[ParamVolume])
	if !ok {
		return nil, false
	}
	return map[string]any{"Volume": int(math.Round(v))}, true
}

// seekArgs seeks to the start when params are present without a position.
func seekArgs(p Params) (map[string]any, bool) {
	if len(p) == 0 {
		return nil, false
	}
	var secs float64
	if v, present := p[ParamMediaPosition]; present {
		n, ok := number(v)
		if !ok {
			return nil, false
		}
		secs = n
	}
	return map[string]any{"SeekPositionTicks": int64(secs * emby.TicksPerSecond)}, true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// Resolve picks the server command and arguments for cmd given the session's
// supported commands. It never touches the network.
func Resolve(cmd Command, supported []string, params Params) (string, map[string]any, error) {
	r, ok := routes[cmd]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedCommand, cmd)
	}

	var args map[string]any
	if r.args != nil {
		args, ok = r.args(params)
		if !ok {
			return "", nil, fmt.Errorf("%w: %q requires a numeric parameter", ErrUnsupportedCommand, cmd)
		}
	}

	if len(r.candidates) == 1 {
		return r.candidates[0], args, nil
	}
	for _, name := range r.candidates {
		if slices.Contains(supported, name) {
			return name, args, nil
		}
	}
	return "", nil, fmt.Errorf("%w: %v", ErrNoCapableCommand, r.candidates)
}

// CommandSender delivers a server command to a session.
type CommandSender interface {
	SendCommand(ctx context.Context, sessionID, name string, args map[string]any) error
}

// Dispatcher resolves and sends commands, each bounded by a timeout.
type Dispatcher struct {
	sender  CommandSender
	timeout time.Duration
	logger  zerolog.Logger
}

// DefaultCommandTimeout bounds a single command dispatch.
const DefaultCommandTimeout = 5 * time.Second

// NewDispatcher creates a dispatcher. A non-positive timeout selects the default.
func NewDispatcher(sender CommandSender, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Dispatcher{
		sender:  sender,
		timeout: timeout,
		logger:  xglog.WithComponent("dispatch"),
	}
}

// Dispatch resolves cmd and sends it to the session.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, supported []string, cmd Command, params Params) error {
	name, args, err := Resolve(cmd, supported, params)
	if err != nil {
		d.logger.Warn().
			Err(err).
			Str(xglog.FieldEvent, "dispatch.unresolved").
			Str(xglog.FieldSessionID, sessionID).
			Str(xglog.FieldCommand, string(cmd)).
			Strs("supported", supported).
			Msg("command not sent")
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ctx, span := telemetry.Tracer("uc-emby.dispatch").Start(ctx, "mediaplayer.dispatch")
	span.SetAttributes(telemetry.CommandAttributes(EntityIDPrefix+sessionID, string(cmd), name)...)
	span.SetAttributes(telemetry.SessionAttributes(sessionID, "", "")...)
	defer span.End()

	if err := d.sender.SendCommand(ctx, sessionID, name, args); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "dispatch.failed").
			Str(xglog.FieldSessionID, sessionID).
			Str(xglog.FieldCommand, string(cmd)).
			Str(xglog.FieldServerCommand, name).
			Msg("command dispatch failed")
		return fmt.Errorf("dispatch %s as %s: %w", cmd, name, err)
	}

	d.logger.Info().
		Str(xglog.FieldEvent, "dispatch.sent").
		Str(xglog.FieldSessionID, sessionID).
		Str(xglog.FieldCommand, string(cmd)).
		Str(xglog.FieldServerCommand, name).
		Msg("command sent")
	return nil
}
