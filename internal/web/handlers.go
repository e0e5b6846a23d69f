package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/justestif/streaming-eras/internal/history"
	"github.com/justestif/streaming-eras/internal/playlist"
	"github.com/justestif/streaming-eras/internal/segment"
)

const (
	// maxUploadBytes caps the upload request body.
	maxUploadBytes = 500 << 20 // 500 MiB

	// multipartMemory is how much of the multipart form stays in memory
	// before spilling to temp files.
	multipartMemory = 32 << 20

	dateFormat = "2006-01-02"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	store    *Store
	pipeline *Pipeline
	log      zerolog.Logger

	// Stream pacing; shortened in tests.
	pollInterval      time.Duration
	keepaliveInterval time.Duration
	streamCeiling     time.Duration
}

// NewHandlers creates a Handlers instance with default stream pacing.
func NewHandlers(store *Store, pipeline *Pipeline, logger zerolog.Logger) *Handlers {
	return &Handlers{
		store:             store,
		pipeline:          pipeline,
		log:               logger,
		pollInterval:      500 * time.Millisecond,
		keepaliveInterval: 15 * time.Second,
		streamCeiling:     5 * time.Minute,
	}
}

// errorResponse is the JSON shape of every error.
type errorResponse struct {
	Error string `json:"error"`
}

// notReadyResponse is the 425 payload for reads before completion.
type notReadyResponse struct {
	Error string `json:"error"`
	Stage Stage  `json:"stage"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Upload handles POST /upload: multipart field "file", parsed synchronously
// into a new session.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Reading upload: "+err.Error())
		return
	}

	kind, err := history.DetectKind(data, header.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := history.Parse(data, kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := h.store.Create(events)
	h.log.Info().Str("session_id", id).Int("events", len(events)).Str("kind", string(kind)).Msg("upload parsed")
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

// Process handles POST /process/{session_id}. It acknowledges immediately;
// outcomes are observed through the progress stream.
func (h *Handlers) Process(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	accepted := false
	found := h.store.Update(id, func(s *Session) {
		if s.Progress().Stage == StageParsed {
			s.applyProgress(Progress{Stage: StageSegmenting, Percent: 20})
			accepted = true
		}
	})
	if !found {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if !accepted {
		writeError(w, http.StatusBadRequest, "Processing already started")
		return
	}

	go h.pipeline.Run(context.Background(), id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ProgressStream handles GET /progress/{session_id} as server-sent events.
// It emits one data frame per poll, a comment keepalive every 15 s, and
// terminates on a terminal stage, the server-side ceiling, or client
// disconnect.
func (h *Handlers) ProgressStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	if _, ok := h.store.Progress(id); !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	emit := func() (Stage, bool) {
		snapshot, ok := h.store.Progress(id)
		if !ok {
			return StageError, false
		}
		payload, err := json.Marshal(snapshot)
		if err != nil {
			return StageError, false
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		return snapshot.Stage, true
	}

	if stage, ok := emit(); !ok || stage.Terminal() {
		return
	}

	poll := time.NewTicker(h.pollInterval)
	defer poll.Stop()
	keepalive := time.NewTicker(h.keepaliveInterval)
	defer keepalive.Stop()
	ceiling := time.NewTimer(h.streamCeiling)
	defer ceiling.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ceiling.C:
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-poll.C:
			if stage, ok := emit(); !ok || stage.Terminal() {
				return
			}
		}
	}
}

// sessionData is the read-only copy served by the read endpoints.
type sessionData struct {
	progress  Progress
	stats     history.AggregateStats
	eras      []segment.Era
	playlists []playlist.Playlist
}

// readSession fetches a consistent snapshot and handles the 404/400/425
// gating shared by all read endpoints. Returns ok=false when a response has
// already been written.
func (h *Handlers) readSession(w http.ResponseWriter, id string) (sessionData, bool) {
	var data sessionData
	found := h.store.View(id, func(s *Session) {
		data = sessionData{
			progress:  s.Progress(),
			stats:     s.Stats,
			eras:      s.Eras,
			playlists: s.Playlists,
		}
	})
	if !found {
		writeError(w, http.StatusNotFound, "Session not found")
		return sessionData{}, false
	}
	switch data.progress.Stage {
	case StageComplete:
		return data, true
	case StageError:
		writeError(w, http.StatusBadRequest, data.progress.Message)
		return sessionData{}, false
	default:
		writeJSON(w, http.StatusTooEarly, notReadyResponse{
			Error: "Processing not complete",
			Stage: data.progress.Stage,
		})
		return sessionData{}, false
	}
}

type dateRangeDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type summaryDTO struct {
	TotalEras            int          `json:"total_eras"`
	DateRange            dateRangeDTO `json:"date_range"`
	TotalListeningTimeMs int64        `json:"total_listening_time_ms"`
	TotalTracks          int          `json:"total_tracks"`
	TotalArtists         int          `json:"total_artists"`
}

// Summary handles GET /session/{session_id}/summary.
func (h *Handlers) Summary(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readSession(w, chi.URLParam(r, "sessionID"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, summaryDTO{
		TotalEras: len(data.eras),
		DateRange: dateRangeDTO{
			Start: data.stats.Start.Format(dateFormat),
			End:   data.stats.End.Format(dateFormat),
		},
		TotalListeningTimeMs: data.stats.TotalMs,
		TotalTracks:          data.stats.TotalTracks,
		TotalArtists:         data.stats.TotalArtists,
	})
}

type artistDTO struct {
	Name  string `json:"name"`
	Plays int    `json:"plays"`
}

type trackDTO struct {
	Track  string `json:"track"`
	Artist string `json:"artist"`
	Plays  int    `json:"plays"`
}

type eraSummaryDTO struct {
	ID                 int         `json:"id"`
	Title              string      `json:"title"`
	StartDate          string      `json:"start_date"`
	EndDate            string      `json:"end_date"`
	TopArtists         []artistDTO `json:"top_artists"`
	PlaylistTrackCount int         `json:"playlist_track_count"`
}

// Eras handles GET /session/{session_id}/eras: the summary-form era list,
// ascending by start date.
func (h *Handlers) Eras(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readSession(w, chi.URLParam(r, "sessionID"))
	if !ok {
		return
	}

	trackCounts := make(map[int]int, len(data.playlists))
	for _, pl := range data.playlists {
		trackCounts[pl.EraID] = len(pl.Tracks)
	}

	out := make([]eraSummaryDTO, 0, len(data.eras))
	for _, era := range data.eras {
		out = append(out, eraSummaryDTO{
			ID:                 era.ID,
			Title:              era.Title,
			StartDate:          era.StartDate.Format(dateFormat),
			EndDate:            era.EndDate.Format(dateFormat),
			TopArtists:         artistDTOs(era.TopArtists, 3),
			PlaylistTrackCount: trackCounts[era.ID],
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type eraDetailDTO struct {
	ID            int                `json:"id"`
	Title         string             `json:"title"`
	Summary       string             `json:"summary"`
	StartDate     string             `json:"start_date"`
	EndDate       string             `json:"end_date"`
	TotalMsPlayed int64              `json:"total_ms_played"`
	TopArtists    []artistDTO        `json:"top_artists"`
	TopTracks     []trackDTO         `json:"top_tracks"`
	Playlist      *playlist.Playlist `json:"playlist"`
}

// EraDetail handles GET /session/{session_id}/eras/{era_id}.
func (h *Handlers) EraDetail(w http.ResponseWriter, r *http.Request) {
	eraID, err := strconv.Atoi(chi.URLParam(r, "eraID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid era ID")
		return
	}

	data, ok := h.readSession(w, chi.URLParam(r, "sessionID"))
	if !ok {
		return
	}

	var era *segment.Era
	for i := range data.eras {
		if data.eras[i].ID == eraID {
			era = &data.eras[i]
			break
		}
	}
	if era == nil {
		writeError(w, http.StatusNotFound, "Era not found")
		return
	}

	var pl *playlist.Playlist
	for i := range data.playlists {
		if data.playlists[i].EraID == eraID {
			pl = &data.playlists[i]
			break
		}
	}

	tracks := make([]trackDTO, 0, len(era.TopTracks))
	for _, t := range era.TopTracks {
		tracks = append(tracks, trackDTO{Track: t.Track, Artist: t.Artist, Plays: t.Plays})
	}
	writeJSON(w, http.StatusOK, eraDetailDTO{
		ID:            era.ID,
		Title:         era.Title,
		Summary:       era.Summary,
		StartDate:     era.StartDate.Format(dateFormat),
		EndDate:       era.EndDate.Format(dateFormat),
		TotalMsPlayed: era.TotalMsPlayed,
		TopArtists:    artistDTOs(era.TopArtists, len(era.TopArtists)),
		TopTracks:     tracks,
		Playlist:      pl,
	})
}

func artistDTOs(artists []segment.ArtistPlays, limit int) []artistDTO {
	if limit > len(artists) {
		limit = len(artists)
	}
	out := make([]artistDTO, 0, limit)
	for _, a := range artists[:limit] {
		out = append(out, artistDTO{Name: a.Name, Plays: a.Plays})
	}
	return out
}
