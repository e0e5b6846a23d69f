// Package segment turns a listening history into a timeline of eras:
// contiguous calendar periods with a coherent set of favored artists.
package segment

import (
	"sort"
	"time"

	"github.com/justestif/streaming-eras/internal/history"
)

// WeekKey identifies an ISO week. The ISO year can differ from the calendar
// year at January/December edges, so the pair is the bucket identity.
type WeekKey struct {
	Year int
	Week int
}

// TrackKey identifies a track within play counters.
type TrackKey struct {
	Track  string
	Artist string
}

// WeekBucket aggregates one ISO week of listening.
type WeekBucket struct {
	Key          WeekKey
	WeekStart    time.Time // Monday of the ISO week, midnight UTC
	ArtistCounts map[string]int
	TrackCounts  map[TrackKey]int
	TotalMs      int64
}

// AggregateByWeek groups events by ISO (year, week) and returns buckets
// sorted ascending by week start. Empty input yields nil.
func AggregateByWeek(events []history.Event) []*WeekBucket {
	if len(events) == 0 {
		return nil
	}

	buckets := make(map[WeekKey]*WeekBucket)
	for _, e := range events {
		year, week := e.Timestamp.ISOWeek()
		key := WeekKey{Year: year, Week: week}
		b, ok := buckets[key]
		if !ok {
			b = &WeekBucket{
				Key:          key,
				WeekStart:    isoWeekStart(year, week),
				ArtistCounts: make(map[string]int),
				TrackCounts:  make(map[TrackKey]int),
			}
			buckets[key] = b
		}
		b.ArtistCounts[e.Artist]++
		b.TrackCounts[TrackKey{Track: e.Track, Artist: e.Artist}]++
		b.TotalMs += e.MsPlayed
	}

	out := make([]*WeekBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].WeekStart.Before(out[j].WeekStart)
	})
	return out
}

// isoWeekStart returns the Monday of the given ISO week at midnight UTC.
// ISO week 1 is the week containing January 4, and weeks start on Monday.
func isoWeekStart(year, week int) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	// Days since Monday for Jan 4 (Go's Sunday=0 mapped to Monday=0).
	offset := (int(jan4.Weekday()) + 6) % 7
	firstMonday := jan4.AddDate(0, 0, -offset)
	return firstMonday.AddDate(0, 0, (week-1)*7)
}
