// Package history parses Spotify extended streaming history exports into
// validated listening events.
package history

import "time"

// MinPlayMs is the minimum playback duration for an event to count as a
// real listen. Shorter plays are skips and are filtered out.
const MinPlayMs = 30_000

// Event is one validated listening occurrence.
type Event struct {
	Timestamp time.Time // UTC
	Artist    string
	Track     string
	MsPlayed  int64
	URI       string // optional Spotify track URI; dropped after aggregation
}
