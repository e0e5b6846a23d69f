package segment

import (
	"sort"
	"time"

	"github.com/justestif/streaming-eras/internal/history"
)

// Config holds era detection parameters.
type Config struct {
	SimilarityThreshold float64 // boundary when adjacent-week similarity drops below this
	MaxGapDays          int     // boundary when consecutive weeks are further apart
	MinWeeks            int     // eras shorter than this are dropped
	MinMs               int64   // eras with less listening than this are dropped
}

// DefaultConfig returns the recommended detection parameters.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.3,
		MaxGapDays:          28,
		MinWeeks:            2,
		MinMs:               3_600_000, // one hour
	}
}

// ArtistPlays is one entry of an era's ranked artist list.
type ArtistPlays struct {
	Name  string
	Plays int
}

// TrackPlays is one entry of an era's ranked track list.
type TrackPlays struct {
	Track  string
	Artist string
	Plays  int
}

// Era is a maximal run of consecutive weeks forming one musical period.
type Era struct {
	ID            int // 1-based, sequential after filtering
	StartDate     time.Time
	EndDate       time.Time
	TopArtists    []ArtistPlays // descending by plays, at most 10
	TopTracks     []TrackPlays  // descending by plays, at most 20
	TotalMsPlayed int64
	Title         string // empty until naming completes
	Summary       string
}

const (
	maxTopArtists = 10
	maxTopTracks  = 20
)

// DetectEras runs the full segmentation pipeline: week aggregation, boundary
// detection, era assembly, and significance filtering. An empty result is
// valid and means no distinct eras were found.
func DetectEras(events []history.Event, cfg Config) []Era {
	buckets := AggregateByWeek(events)
	boundaries := detectBoundaries(buckets, cfg)
	eras := assembleEras(buckets, boundaries)
	return filterSignificant(eras, cfg)
}

// detectBoundaries returns bucket indexes that start a new era. The first
// index is always a boundary; later ones split on listening hiatuses longer
// than MaxGapDays or on a similarity drop below the threshold.
func detectBoundaries(buckets []*WeekBucket, cfg Config) []int {
	if len(buckets) == 0 {
		return nil
	}
	boundaries := []int{0}
	for i := 1; i < len(buckets); i++ {
		gapDays := int(buckets[i].WeekStart.Sub(buckets[i-1].WeekStart).Hours() / 24)
		if gapDays > cfg.MaxGapDays {
			boundaries = append(boundaries, i)
			continue
		}
		if Similarity(buckets[i-1], buckets[i]) < cfg.SimilarityThreshold {
			boundaries = append(boundaries, i)
		}
	}
	return boundaries
}

// assembleEras merges the buckets between consecutive boundaries into eras
// with preliminary ids. Every bucket belongs to exactly one era.
func assembleEras(buckets []*WeekBucket, boundaries []int) []Era {
	if len(boundaries) == 0 {
		return nil
	}
	eras := make([]Era, 0, len(boundaries))
	for k, start := range boundaries {
		end := len(buckets)
		if k+1 < len(boundaries) {
			end = boundaries[k+1]
		}
		eras = append(eras, mergeBuckets(buckets[start:end], k+1))
	}
	return eras
}

// mergeBuckets sums a run of week buckets into one era.
func mergeBuckets(run []*WeekBucket, id int) Era {
	artists := make(map[string]int)
	tracks := make(map[TrackKey]int)
	var totalMs int64
	for _, b := range run {
		for name, count := range b.ArtistCounts {
			artists[name] += count
		}
		for key, count := range b.TrackCounts {
			tracks[key] += count
		}
		totalMs += b.TotalMs
	}

	last := run[len(run)-1]
	return Era{
		ID:            id,
		StartDate:     run[0].WeekStart,
		EndDate:       last.WeekStart.AddDate(0, 0, 6),
		TopArtists:    rankArtists(artists),
		TopTracks:     rankTracks(tracks),
		TotalMsPlayed: totalMs,
	}
}

// rankArtists orders artists descending by plays, ties broken by name, and
// keeps at most maxTopArtists.
func rankArtists(counts map[string]int) []ArtistPlays {
	ranked := make([]ArtistPlays, 0, len(counts))
	for name, plays := range counts {
		ranked = append(ranked, ArtistPlays{Name: name, Plays: plays})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Plays != ranked[j].Plays {
			return ranked[i].Plays > ranked[j].Plays
		}
		return ranked[i].Name < ranked[j].Name
	})
	if len(ranked) > maxTopArtists {
		ranked = ranked[:maxTopArtists]
	}
	return ranked
}

// rankTracks orders tracks descending by plays, ties broken by (track,
// artist), and keeps at most maxTopTracks.
func rankTracks(counts map[TrackKey]int) []TrackPlays {
	ranked := make([]TrackPlays, 0, len(counts))
	for key, plays := range counts {
		ranked = append(ranked, TrackPlays{Track: key.Track, Artist: key.Artist, Plays: plays})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Plays != ranked[j].Plays {
			return ranked[i].Plays > ranked[j].Plays
		}
		if ranked[i].Track != ranked[j].Track {
			return ranked[i].Track < ranked[j].Track
		}
		return ranked[i].Artist < ranked[j].Artist
	})
	if len(ranked) > maxTopTracks {
		ranked = ranked[:maxTopTracks]
	}
	return ranked
}

// filterSignificant drops eras that are too short or too quiet and renumbers
// the survivors 1..N in chronological order.
func filterSignificant(eras []Era, cfg Config) []Era {
	kept := make([]Era, 0, len(eras))
	for _, era := range eras {
		if era.Weeks() < cfg.MinWeeks {
			continue
		}
		if era.TotalMsPlayed < cfg.MinMs {
			continue
		}
		kept = append(kept, era)
	}
	for i := range kept {
		kept[i].ID = i + 1
	}
	return kept
}

// Weeks returns the era's duration in whole weeks, minimum one.
func (e Era) Weeks() int {
	days := int(e.EndDate.Sub(e.StartDate).Hours() / 24)
	return days/7 + 1
}

// Days returns the era's inclusive duration in days.
func (e Era) Days() int {
	return int(e.EndDate.Sub(e.StartDate).Hours()/24) + 1
}
