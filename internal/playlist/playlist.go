// Package playlist projects eras into playable track lists.
package playlist

import "github.com/justestif/streaming-eras/internal/segment"

// Track is one playlist entry. URI is always null: track URIs are dropped
// during aggregation and never resolved afterwards.
type Track struct {
	TrackName  string  `json:"track_name"`
	ArtistName string  `json:"artist_name"`
	PlayCount  int     `json:"play_count"`
	URI        *string `json:"uri"`
}

// Playlist is the derived track list for one era.
type Playlist struct {
	EraID  int     `json:"era_id"`
	Tracks []Track `json:"tracks"`
}

// Build emits one playlist per era, mirroring the era's top tracks in order.
func Build(eras []segment.Era) []Playlist {
	playlists := make([]Playlist, 0, len(eras))
	for _, era := range eras {
		tracks := make([]Track, 0, len(era.TopTracks))
		for _, t := range era.TopTracks {
			tracks = append(tracks, Track{
				TrackName:  t.Track,
				ArtistName: t.Artist,
				PlayCount:  t.Plays,
			})
		}
		playlists = append(playlists, Playlist{EraID: era.ID, Tracks: tracks})
	}
	return playlists
}
