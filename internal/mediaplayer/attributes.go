// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package mediaplayer turns one Emby session into a media-player entity:
// attribute derivation, command dispatch and the per-entity refresh loop.
package mediaplayer

import (
	"fmt"
	"strings"

	"github.com/mase1981/uc-intg-emby/internal/emby"
)

// State is the media-player state reported to the host.
type State string

const (
	StatePlaying State = "PLAYING"
	StatePaused  State = "PAUSED"
	StateStandby State = "STANDBY"
)

// MediaType classifies the item being played.
type MediaType string

const (
	MediaTypeTVShow MediaType = "TVSHOW"
	MediaTypeMovie  MediaType = "MOVIE"
	MediaTypeMusic  MediaType = "MUSIC"
	MediaTypeVideo  MediaType = "VIDEO"
)

// Attributes are the derived entity attributes. Values are comparable, so
// two derivations of equal snapshots compare ==. Duration and Position are
// whole seconds; zero means not reported.
type Attributes struct {
	State     State
	MediaType MediaType
	Title     string
	Artist    string
	Album     string
	Duration  int64
	Position  int64
	Volume    int
	HasVolume bool
	Muted     bool
	ImageURL  string
}

// ImageResolver builds artwork URLs for item image tags.
type ImageResolver interface {
	PrimaryImageURL(itemID, tag string) string
}

const primaryImageTag = "Primary"

// Derive maps a session snapshot to entity attributes. It performs no I/O;
// images may be nil, in which case no image URL is produced.
func Derive(s emby.Session, images ImageResolver) Attributes {
	attrs := Attributes{
		State: StateStandby,
		Muted: s.PlayState.IsMuted,
	}
	if v := s.PlayState.VolumeLevel; v != nil {
		attrs.Volume = *v
		attrs.HasVolume = true
	}

	item := s.NowPlayingItem
	if item == nil {
		return attrs
	}

	attrs.State = StatePlaying
	if s.PlayState.IsPaused {
		attrs.State = StatePaused
	}

	switch item.Type {
	case "Episode":
		attrs.MediaType = MediaTypeTVShow
		attrs.Title = item.Name
		attrs.Artist = episodeArtist(item)
		attrs.Album = item.SeasonName
	case "Movie":
		attrs.MediaType = MediaTypeMovie
		attrs.Title = item.Name
		if item.ProductionYear != 0 {
			attrs.Title = fmt.Sprintf("%s (%d)", item.Name, item.ProductionYear)
		}
	case "Audio", "MusicAlbum":
		attrs.MediaType = MediaTypeMusic
		attrs.Title = item.Name
		attrs.Artist = strings.Join(item.Artists, ", ")
		attrs.Album = item.Album
	default:
		attrs.MediaType = MediaTypeVideo
		attrs.Title = item.Name
	}

	if item.RunTimeTicks != 0 {
		attrs.Duration = item.RunTimeTicks / emby.TicksPerSecond
	}
	if s.PlayState.PositionTicks != 0 {
		attrs.Position = s.PlayState.PositionTicks / emby.TicksPerSecond
	}

	if tag, ok := item.ImageTags[primaryImageTag]; ok && images != nil {
		attrs.ImageURL = images.PrimaryImageURL(item.ID, tag)
	}
	return attrs
}

func episodeArtist(item *emby.NowPlayingItem) string {
	if item.SeriesName != "" && item.ParentIndexNumber != nil && item.IndexNumber != nil {
		return fmt.Sprintf("%s - S%02dE%02d", item.SeriesName, *item.ParentIndexNumber, *item.IndexNumber)
	}
	if item.SeriesName != "" {
		return item.SeriesName
	}
	return "TV Show"
}

// Fields renders the attributes with the host protocol's attribute names.
// Media fields that were not derived are sent empty so the host clears them.
func (a Attributes) Fields() map[string]any {
	f := map[string]any{
		"state":           string(a.State),
		"media_type":      string(a.MediaType),
		"media_title":     a.Title,
		"media_artist":    a.Artist,
		"media_album":     a.Album,
		"media_image_url": a.ImageURL,
		"muted":           a.Muted,
	}
	if a.Duration != 0 {
		f["media_duration"] = a.Duration
	}
	if a.Position != 0 {
		f["media_position"] = a.Position
	}
	if a.HasVolume {
		f["volume"] = a.Volume
	}
	return f
}
