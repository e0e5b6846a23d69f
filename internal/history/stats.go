package history

import "time"

// AggregateStats holds global counts over the full event list, computed once
// before the events are handed to segmentation.
type AggregateStats struct {
	TotalTracks  int   // distinct (track, artist) pairs
	TotalArtists int   // distinct artists
	TotalMs      int64 // total listening time
	Start        time.Time
	End          time.Time
}

// ComputeStats runs a single pass over events. Start and End are the
// calendar dates of the earliest and latest timestamps, both inclusive.
// Empty input yields the zero value.
func ComputeStats(events []Event) AggregateStats {
	if len(events) == 0 {
		return AggregateStats{}
	}

	type trackKey struct {
		track  string
		artist string
	}
	tracks := make(map[trackKey]struct{})
	artists := make(map[string]struct{})

	stats := AggregateStats{
		Start: events[0].Timestamp,
		End:   events[0].Timestamp,
	}
	for _, e := range events {
		tracks[trackKey{track: e.Track, artist: e.Artist}] = struct{}{}
		artists[e.Artist] = struct{}{}
		stats.TotalMs += e.MsPlayed
		if e.Timestamp.Before(stats.Start) {
			stats.Start = e.Timestamp
		}
		if e.Timestamp.After(stats.End) {
			stats.End = e.Timestamp
		}
	}
	stats.TotalTracks = len(tracks)
	stats.TotalArtists = len(artists)
	stats.Start = stats.Start.Truncate(24 * time.Hour)
	stats.End = stats.End.Truncate(24 * time.Hour)
	return stats
}
