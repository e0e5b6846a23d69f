// Package web provides the HTTP server, session store, and processing
// pipeline for the streaming-eras service.
package web

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/justestif/streaming-eras/internal/history"
	"github.com/justestif/streaming-eras/internal/playlist"
	"github.com/justestif/streaming-eras/internal/segment"
)

// Stage labels the pipeline's current position for one session.
type Stage string

const (
	StageUploading  Stage = "uploading"
	StageParsed     Stage = "parsed"
	StageSegmenting Stage = "segmenting"
	StageSegmented  Stage = "segmented"
	StageNaming     Stage = "naming"
	StageNamed      Stage = "named"
	StagePlaylists  Stage = "playlists"
	StageComplete   Stage = "complete"
	StageError      Stage = "error"
)

// Terminal reports whether a stage ends the session's pipeline.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageError
}

// Progress is the snapshot served to progress readers.
type Progress struct {
	Stage   Stage  `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// Session is the per-upload workspace. It is owned exclusively by the
// store; all access goes through store methods under the store's lock.
// Events are released after segmentation; Stats, Eras and Playlists are
// read-only once assigned.
type Session struct {
	ID        string
	Events    []history.Event
	Stats     history.AggregateStats
	Eras      []segment.Era
	Playlists []playlist.Playlist

	progress   Progress
	createdAt  time.Time
	lastAccess time.Time
}

// applyProgress replaces the progress snapshot, forcing percent to be
// monotonically non-decreasing.
func (s *Session) applyProgress(p Progress) {
	if p.Percent < s.progress.Percent {
		p.Percent = s.progress.Percent
	}
	s.progress = p
}

// Progress returns the current snapshot.
func (s *Session) Progress() Progress {
	return s.progress
}

// Store owns every session. Each operation takes one short lock around the
// map access and field mutation, and touches the session's last-access time.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration

	now func() time.Time // stubbed in tests
	log zerolog.Logger
}

// NewStore creates a session store whose sweeper reclaims sessions idle for
// longer than ttl.
func NewStore(ttl time.Duration, logger zerolog.Logger) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
		log:      logger,
	}
}

// Create registers a freshly parsed upload and returns its session id.
func (s *Store) Create(events []history.Event) string {
	id := uuid.NewString()
	now := s.now()
	session := &Session{
		ID:         id,
		Events:     events,
		progress:   Progress{Stage: StageParsed, Percent: 20},
		createdAt:  now,
		lastAccess: now,
	}
	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()
	return id
}

// View runs fn on the session under the store lock and reports whether the
// session exists. fn must not retain references to session fields.
func (s *Store) View(id string, fn func(*Session)) bool {
	return s.with(id, fn)
}

// Update runs fn on the session under the store lock. Identical locking to
// View; the split is for call-site intent.
func (s *Store) Update(id string, fn func(*Session)) bool {
	return s.with(id, fn)
}

func (s *Store) with(id string, fn func(*Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return false
	}
	session.lastAccess = s.now()
	if fn != nil {
		fn(session)
	}
	return true
}

// SetProgress updates the session's progress snapshot.
func (s *Store) SetProgress(id string, stage Stage, percent int, message string) bool {
	return s.Update(id, func(session *Session) {
		session.applyProgress(Progress{Stage: stage, Percent: percent, Message: message})
	})
}

// Progress returns the session's current snapshot.
func (s *Store) Progress(id string) (Progress, bool) {
	var p Progress
	ok := s.View(id, func(session *Session) {
		p = session.Progress()
	})
	return p, ok
}

// Sweep removes sessions idle for longer than the TTL and returns how many
// were reclaimed.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, session := range s.sessions {
		if session.lastAccess.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// RunSweeper sweeps on the given interval until ctx is canceled.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.log.Info().Int("sessions", n).Msg("swept expired sessions")
			}
		}
	}
}
