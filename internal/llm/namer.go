package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/justestif/streaming-eras/internal/segment"
)

const (
	maxTitleLen      = 50
	maxSummaryLen    = 500
	minSummaryLen    = 20
	chatTemperature  = 0.7
	chatMaxTokens    = 300
	progressBandLow  = 40
	progressBandHigh = 70
)

// Namer produces era titles and summaries, replacing unusable or failed
// model output with deterministic fallbacks. The provider is constructed on
// first use so a missing credential fails at naming time, not at startup.
type Namer struct {
	cfg Config
	log zerolog.Logger

	buildOnce   sync.Once
	provider    Provider
	providerErr error

	// Backoff delays between retry attempts; shortened in tests.
	delays []time.Duration
}

// NewNamer creates a Namer for the given provider configuration.
func NewNamer(cfg Config, logger zerolog.Logger) *Namer {
	return &Namer{
		cfg:    cfg,
		log:    logger,
		delays: []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
	}
}

// NameAll names every era sequentially. Per-era failures are logged and
// replaced with fallbacks; processing always continues. After each era,
// onProgress receives a non-decreasing percent within [40, 70].
func (n *Namer) NameAll(ctx context.Context, eras []segment.Era, onProgress func(percent int)) []segment.Era {
	named := make([]segment.Era, len(eras))
	copy(named, eras)
	for i := range named {
		title, summary, err := n.NameEra(ctx, named[i])
		if err != nil {
			n.log.Warn().Err(err).Int("era_id", named[i].ID).Msg("era naming failed, using fallback")
			title, summary = Fallback(named[i])
		}
		named[i].Title = title
		named[i].Summary = summary
		if onProgress != nil {
			span := progressBandHigh - progressBandLow
			onProgress(progressBandLow + span*(i+1)/len(named))
		}
	}
	return named
}

// NameEra asks the provider for a title and summary for one era. Unusable
// model output degrades to the fallback without error; only call failures
// (including a missing credential) are returned.
func (n *Namer) NameEra(ctx context.Context, era segment.Era) (title, summary string, err error) {
	provider, err := n.getProvider()
	if err != nil {
		return "", "", err
	}
	if provider == nil {
		// Naming disabled; fallbacks only.
		title, summary = Fallback(era)
		return title, summary, nil
	}

	content, err := n.chatWithRetry(ctx, provider, BuildPrompt(era))
	if err != nil {
		return "", "", err
	}

	candidate, err := parseCandidate(content)
	if err != nil {
		n.log.Warn().Err(err).Int("era_id", era.ID).Msg("unparseable model response, using fallback")
		title, summary = Fallback(era)
		return title, summary, nil
	}

	title = cleanTitle(candidate.Title)
	summary = cleanSummary(candidate.Summary)
	fbTitle, fbSummary := Fallback(era)
	if title == "" {
		title = fbTitle
	}
	if summary == "" {
		summary = fbSummary
	}
	return title, summary, nil
}

// getProvider lazily builds the configured provider exactly once.
func (n *Namer) getProvider() (Provider, error) {
	n.buildOnce.Do(func() {
		n.provider, n.providerErr = NewProvider(n.cfg)
	})
	return n.provider, n.providerErr
}

// chatWithRetry performs up to three attempts with exponential backoff,
// retrying only transient failures.
func (n *Namer) chatWithRetry(ctx context.Context, provider Provider, prompt string) (string, error) {
	opts := ChatOptions{Temperature: chatTemperature, MaxTokens: chatMaxTokens}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(n.delays[attempt-1]):
			}
		}

		content, err := provider.Chat(ctx, prompt, opts)
		if err == nil {
			return content, nil
		}
		if !retryable(err) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// candidate is the JSON object the prompt asks the model to produce.
type candidate struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// parseCandidate decodes the model's content. On a strict decode failure it
// extracts the first top-level {...} substring, greedy across newlines, and
// tries once more.
func parseCandidate(content string) (candidate, error) {
	var c candidate
	if err := json.Unmarshal([]byte(content), &c); err == nil {
		return c, nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return candidate{}, fmt.Errorf("no JSON object in model response")
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &c); err != nil {
		return candidate{}, fmt.Errorf("decoding extracted JSON: %w", err)
	}
	return c, nil
}

const quoteChars = "\"'“”‘’"

// cleanTitle trims, dequotes, strips newlines, and truncates to 50
// characters. Returns "" when nothing usable remains.
func cleanTitle(s string) string {
	s = strings.Trim(strings.TrimSpace(s), quoteChars)
	s = strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
	s = strings.TrimSpace(truncate(s, maxTitleLen))
	return s
}

// cleanSummary trims, dequotes, collapses whitespace runs, and truncates to
// 500 characters. Returns "" when shorter than 20 characters.
func cleanSummary(s string) string {
	s = strings.Trim(strings.TrimSpace(s), quoteChars)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimSpace(truncate(s, maxSummaryLen))
	if len(s) < minSummaryLen {
		return ""
	}
	return s
}

// truncate limits s to n runes without splitting a multibyte character.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Fallback derives a title and summary from the era alone. It is total:
// every era yields non-empty output within the length bounds.
func Fallback(era segment.Era) (title, summary string) {
	title = truncate(fmt.Sprintf("Era %d: %s", era.ID, era.StartDate.Format("January 2006")), maxTitleLen)

	featured := "a varied mix of artists"
	if len(era.TopArtists) > 0 {
		featured = era.TopArtists[0].Name + " and more"
	}
	summary = truncate(fmt.Sprintf("A %s period featuring %s.", formatDuration(era.Days()), featured), maxSummaryLen)
	return title, summary
}
