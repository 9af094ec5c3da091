// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package emby

import "slices"

// TicksPerSecond is the Emby/.NET tick resolution (100ns units).
const TicksPerSecond = 10_000_000

// Session is one entry of the /Sessions response. A session is identified by
// Id for as long as the server reports it; absence from a listing means it ended.
type Session struct {
	ID                string          `json:"Id"`
	DeviceName        string          `json:"DeviceName"`
	DeviceID          string          `json:"DeviceId,omitempty"`
	Client            string          `json:"Client"`
	UserName          string          `json:"UserName,omitempty"`
	SupportedCommands []string        `json:"SupportedCommands"`
	NowPlayingItem    *NowPlayingItem `json:"NowPlayingItem,omitempty"`
	PlayState         PlayState       `json:"PlayState"`
}

// NowPlayingItem describes the media item a session is playing.
type NowPlayingItem struct {
	ID                string            `json:"Id"`
	Name              string            `json:"Name"`
	Type              string            `json:"Type"`
	SeriesName        string            `json:"SeriesName,omitempty"`
	SeasonName        string            `json:"SeasonName,omitempty"`
	ParentIndexNumber *int              `json:"ParentIndexNumber,omitempty"`
	IndexNumber       *int              `json:"IndexNumber,omitempty"`
	ProductionYear    int               `json:"ProductionYear,omitempty"`
	Album             string            `json:"Album,omitempty"`
	Artists           []string          `json:"Artists,omitempty"`
	RunTimeTicks      int64             `json:"RunTimeTicks,omitempty"`
	ImageTags         map[string]string `json:"ImageTags,omitempty"`
}

// PlayState carries the transport state of a session.
type PlayState struct {
	IsPaused      bool  `json:"IsPaused"`
	PositionTicks int64 `json:"PositionTicks,omitempty"`
	VolumeLevel   *int  `json:"VolumeLevel,omitempty"`
	IsMuted       bool  `json:"IsMuted"`
}

// Supports reports whether the session advertises the given command.
func (s Session) Supports(command string) bool {
	return slices.Contains(s.SupportedCommands, command)
}

// SystemInfo is the subset of /System/Info used by the connection test.
type SystemInfo struct {
	ID         string `json:"Id"`
	ServerName string `json:"ServerName"`
	Version    string `json:"Version"`
}
