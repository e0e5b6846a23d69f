package llm

import (
	"fmt"
	"strings"

	"github.com/justestif/streaming-eras/internal/segment"
)

// BuildPrompt formats an era into the naming prompt. The output is fully
// deterministic for a given era.
func BuildPrompt(era segment.Era) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are analyzing someone's music listening history. Based on this era's data, create a creative title and summary.\n\n")
	fmt.Fprintf(&b, "Era: %s (%s)\n", formatDateRange(era), formatDuration(era.Days()))
	fmt.Fprintf(&b, "Total listening time: %s\n\n", formatListeningTime(era.TotalMsPlayed))

	b.WriteString("Top Artists:\n")
	for i, artist := range era.TopArtists {
		if i == 5 {
			break
		}
		fmt.Fprintf(&b, "%d. %s (%d plays)\n", i+1, artist.Name, artist.Plays)
	}

	b.WriteString("\nTop Tracks:\n")
	for i, track := range era.TopTracks {
		if i == 10 {
			break
		}
		fmt.Fprintf(&b, "%d. %s by %s (%d plays)\n", i+1, track.Track, track.Artist, track.Plays)
	}

	b.WriteString("\nCreate a JSON response with:\n")
	b.WriteString(`- "title": A creative, evocative 2-5 word title that captures the mood/vibe. Avoid generic titles like "Musical Journey", "Eclectic Mix", or "Summer Vibes".` + "\n")
	b.WriteString(`- "summary": A 2-3 sentence summary describing the musical mood, themes, or story of this era.` + "\n\n")
	b.WriteString(`Respond ONLY with valid JSON: {"title": "...", "summary": "..."}`)

	return b.String()
}

// formatDateRange renders the era's span as month names, collapsing to a
// single month when start and end fall in the same one.
func formatDateRange(era segment.Era) string {
	start := era.StartDate.Format("January 2006")
	end := era.EndDate.Format("January 2006")
	if start == end {
		return start
	}
	return start + " - " + end
}

// formatDuration renders a day count in days, weeks, or months.
func formatDuration(days int) string {
	switch {
	case days < 14:
		return fmt.Sprintf("%d days", days)
	case days < 60:
		weeks := days / 7
		return fmt.Sprintf("%d %s", weeks, plural("week", weeks))
	default:
		months := days / 30
		return fmt.Sprintf("%d %s", months, plural("month", months))
	}
}

func formatListeningTime(ms int64) string {
	hours := int(ms / 3_600_000)
	return fmt.Sprintf("%d %s", hours, plural("hour", hours))
}

func plural(unit string, n int) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}
