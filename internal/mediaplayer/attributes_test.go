// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package mediaplayer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mase1981/uc-intg-emby/internal/emby"
	"github.com/stretchr/testify/assert"
)

func TestDerive(t *testing.T) {
	images := &fakeClient{}

	tests := []struct {
		name    string
		session emby.Session
		want    Attributes
	}{
		{
			name:    "idle session is standby",
			session: emby.Session{ID: "s"},
			want:    Attributes{State: StateStandby},
		},
		{
			name: "idle session keeps volume and mute",
			session: emby.Session{PlayState: emby.PlayState{
				VolumeLevel: intPtr(0),
				IsMuted:     true,
			}},
			want: Attributes{State: StateStandby, Volume: 0, HasVolume: true, Muted: true},
		},
		{
			name: "episode with season and episode numbers",
			session: emby.Session{NowPlayingItem: &emby.NowPlayingItem{
				Type: "Episode", Name: "Pilot", SeriesName: "Foo", SeasonName: "Season 2",
				ParentIndexNumber: intPtr(2), IndexNumber: intPtr(5),
			}},
			want: Attributes{
				State: StatePlaying, MediaType: MediaTypeTVShow,
				Title: "Pilot", Artist: "Foo - S02E05", Album: "Season 2",
			},
		},
		{
			name: "episode without numbers falls back to series",
			session: emby.Session{NowPlayingItem: &emby.NowPlayingItem{
				Type: "Episode", Name: "Pilot", SeriesName: "Foo", IndexNumber: intPtr(5),
			}},
			want: Attributes{State: StatePlaying, MediaType: MediaTypeTVShow, Title: "Pilot", Artist: "Foo"},
		},
		{
			name: "episode without series",
			session: emby.Session{NowPlayingItem: &emby.NowPlayingItem{
				Type: "Episode", Name: "Pilot",
				ParentIndexNumber: intPtr(1), IndexNumber: intPtr(1),
			}},
			want: Attributes{State: StatePlaying, MediaType: MediaTypeTVShow, Title: "Pilot", Artist: "TV Show"},
		},
		{
			name: "paused movie with year",
			session: emby.Session{
				NowPlayingItem: &emby.NowPlayingItem{Type: "Movie", Name: "Heat", ProductionYear: 1995},
				PlayState:      emby.PlayState{IsPaused: true},
			},
			want: Attributes{State: StatePaused, MediaType: MediaTypeMovie, Title: "Heat (1995)"},
		},
		{
			name:    "movie without year",
			session: emby.Session{NowPlayingItem: &emby.NowPlayingItem{Type: "Movie", Name: "Heat"}},
			want:    Attributes{State: StatePlaying, MediaType: MediaTypeMovie, Title: "Heat"},
		},
		{
			name: "audio joins artists",
			session: emby.Session{NowPlayingItem: &emby.NowPlayingItem{
				Type: "Audio", Name: "Song", Album: "LP", Artists: []string{"A", "B"},
			}},
			want: Attributes{State: StatePlaying, MediaType: MediaTypeMusic, Title: "Song", Artist: "A, B", Album: "LP"},
		},
		{
			name: "music album",
			session: emby.Session{NowPlayingItem: &emby.NowPlayingItem{
				Type: "MusicAlbum", Name: "LP",
			}},
			want: Attributes{State: StatePlaying, MediaType: MediaTypeMusic, Title: "LP"},
		},
		{
			name:    "other types are video",
			session: emby.Session{NowPlayingItem: &emby.NowPlayingItem{Type: "TvChannel", Name: "News"}},
			want:    Attributes{State: StatePlaying, MediaType: MediaTypeVideo, Title: "News"},
		},
		{
			name: "ticks become whole seconds",
			session: emby.Session{
				NowPlayingItem: &emby.NowPlayingItem{Type: "Video", Name: "Clip", RunTimeTicks: 36000000000},
				PlayState:      emby.PlayState{PositionTicks: 15_999_999},
			},
			want: Attributes{State: StatePlaying, MediaType: MediaTypeVideo, Title: "Clip", Duration: 3600, Position: 1},
		},
		{
			name: "primary image tag builds url",
			session: emby.Session{NowPlayingItem: &emby.NowPlayingItem{
				ID: "i1", Type: "Video", Name: "Clip", ImageTags: map[string]string{"Primary": "t1", "Logo": "t2"},
			}},
			want: Attributes{
				State: StatePlaying, MediaType: MediaTypeVideo, Title: "Clip",
				ImageURL: "http://emby/Items/i1/Images/Primary?tag=t1",
			},
		},
		{
			name: "no primary tag no url",
			session: emby.Session{NowPlayingItem: &emby.NowPlayingItem{
				ID: "i1", Type: "Video", Name: "Clip", ImageTags: map[string]string{"Logo": "t2"},
			}},
			want: Attributes{State: StatePlaying, MediaType: MediaTypeVideo, Title: "Clip"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Derive(tt.session, images)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Derive mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDerive_Deterministic(t *testing.T) {
	build := func() emby.Session {
		return emby.Session{
			ID: "s",
			NowPlayingItem: &emby.NowPlayingItem{
				ID: "i", Type: "Audio", Name: "Song", Artists: []string{"A", "B"},
				ImageTags: map[string]string{"Primary": "t"}, RunTimeTicks: 1_800_000_000,
			},
			PlayState: emby.PlayState{PositionTicks: 300_000_000, VolumeLevel: intPtr(40)},
		}
	}
	assert.True(t, Derive(build(), &fakeClient{}) == Derive(build(), &fakeClient{}))
}

func TestDerive_NilImageResolver(t *testing.T) {
	s := emby.Session{NowPlayingItem: &emby.NowPlayingItem{Type: "Movie", ImageTags: map[string]string{"Primary": "t"}}}
	assert.Empty(t, Derive(s, nil).ImageURL)
}

func TestAttributesFields(t *testing.T) {
	f := Attributes{State: StatePlaying, MediaType: MediaTypeMovie, Title: "Heat", Duration: 60, HasVolume: true, Volume: 0}.Fields()

	assert.Equal(t, "PLAYING", f["state"])
	assert.Equal(t, "MOVIE", f["media_type"])
	assert.Equal(t, int64(60), f["media_duration"])
	assert.Equal(t, 0, f["volume"])
	assert.Equal(t, false, f["muted"])
	assert.NotContains(t, f, "media_position")

	idle := Attributes{State: StateStandby}.Fields()
	assert.NotContains(t, idle, "volume")
	assert.Equal(t, "", idle["media_title"])
}
