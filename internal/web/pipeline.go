package web

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/justestif/streaming-eras/internal/history"
	"github.com/justestif/streaming-eras/internal/llm"
	"github.com/justestif/streaming-eras/internal/playlist"
	"github.com/justestif/streaming-eras/internal/segment"
)

// Pipeline turns a parsed session into named eras and playlists. One Run
// executes per session, on its own goroutine; distinct sessions run in
// parallel, sharing only the store.
type Pipeline struct {
	store *Store
	namer *llm.Namer
	cfg   segment.Config
	log   zerolog.Logger
}

// NewPipeline creates the driver used by the process endpoint.
func NewPipeline(store *Store, namer *llm.Namer, cfg segment.Config, logger zerolog.Logger) *Pipeline {
	return &Pipeline{store: store, namer: namer, cfg: cfg, log: logger}
}

// Run executes parse-to-playlist processing for one session. Any panic or
// fatal error transitions the session to the error stage; Run never
// propagates failures to the caller.
func (p *Pipeline) Run(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("session_id", id).Interface("panic", r).Msg("pipeline panicked")
			p.store.SetProgress(id, StageError, 100, fmt.Sprintf("internal error: %v", r))
		}
	}()

	var events []history.Event
	ok := p.store.Update(id, func(s *Session) {
		events = s.Events
		s.applyProgress(Progress{Stage: StageSegmenting, Percent: 20})
	})
	if !ok {
		p.log.Warn().Str("session_id", id).Msg("session vanished before processing")
		return
	}

	stats := history.ComputeStats(events)
	eras := segment.DetectEras(events, p.cfg)
	if len(eras) == 0 {
		p.store.SetProgress(id, StageError, 100, "No distinct eras found")
		return
	}

	p.store.Update(id, func(s *Session) {
		s.Stats = stats
		s.Eras = eras
		s.Events = nil // reclaim the event buffer, it is no longer needed
		s.applyProgress(Progress{Stage: StageSegmented, Percent: 40})
	})
	p.log.Info().Str("session_id", id).Int("eras", len(eras)).Msg("segmentation complete")

	named := p.namer.NameAll(ctx, eras, func(percent int) {
		p.store.SetProgress(id, StageNaming, percent, "")
	})
	p.store.Update(id, func(s *Session) {
		s.Eras = named
		s.applyProgress(Progress{Stage: StageNamed, Percent: 70})
	})

	p.store.SetProgress(id, StagePlaylists, 80, "")
	playlists := playlist.Build(named)
	p.store.Update(id, func(s *Session) {
		s.Playlists = playlists
		s.applyProgress(Progress{Stage: StageComplete, Percent: 100})
	})
	p.log.Info().Str("session_id", id).Msg("processing complete")
}
