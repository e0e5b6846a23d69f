package web

import (
	"bufio"
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/justestif/streaming-eras/internal/llm"
	"github.com/justestif/streaming-eras/internal/segment"
)

// newTestServer builds a fully wired server with naming disabled and a
// relaxed segmenter so small fixtures form eras.
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := segment.DefaultConfig()
	cfg.MinWeeks = 1
	cfg.MinMs = 0
	srv := NewServer(ServerConfig{
		AllowedOrigins: []string{"*"},
		LLM:            llm.Config{Provider: llm.ProviderOff},
		Segment:        cfg,
		Logger:         zerolog.Nop(),
	})
	ts := httptest.NewServer(srv.router)
	t.Cleanup(ts.Close)
	return srv, ts
}

func historyJSON() string {
	entries := make([]string, 0, 3)
	for i, track := range []string{"One More Time", "Digital Love", "Around the World"} {
		entries = append(entries, fmt.Sprintf(
			`{"ts":"2023-01-09T1%d:00:00Z","master_metadata_track_name":%q,"master_metadata_album_artist_name":"Daft Punk","ms_played":200000}`,
			i, track))
	}
	return "[" + strings.Join(entries, ",") + "]"
}

// uploadFile posts a multipart body and returns the decoded response.
func uploadFile(t *testing.T, ts *httptest.Server, filename, content string) (*http.Response, map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("writing form file: %v", err)
	}
	mw.Close()

	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("posting upload: %v", err)
	}
	defer resp.Body.Close()

	body := make(map[string]string)
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding upload response: %v", err)
	}
	return resp, body
}

// waitComplete blocks until the session reaches a terminal stage.
func waitComplete(t *testing.T, srv *Server, id string) Progress {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p, ok := srv.store.Progress(id)
		if !ok {
			t.Fatal("session vanished while waiting")
		}
		if p.Stage.Terminal() {
			return p
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session never reached a terminal stage")
	return Progress{}
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)
	var body map[string]string
	resp := getJSON(t, ts.URL+"/health", &body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("unexpected health response: %d %v", resp.StatusCode, body)
	}
}

func TestUpload_Success(t *testing.T) {
	_, ts := newTestServer(t)
	resp, body := uploadFile(t, ts, "history.json", historyJSON())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["session_id"] == "" {
		t.Error("missing session_id in response")
	}
}

func TestUpload_NoFile(t *testing.T) {
	_, ts := newTestServer(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("other", "value")
	mw.Close()

	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("posting upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUpload_UnrecognizedFormat(t *testing.T) {
	_, ts := newTestServer(t)
	resp, _ := uploadFile(t, ts, "notes.txt", "hello")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestProcess_UnknownSession(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/process/does-not-exist", "", nil)
	if err != nil {
		t.Fatalf("posting process: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestProcess_DoubleStart(t *testing.T) {
	srv, ts := newTestServer(t)
	_, body := uploadFile(t, ts, "history.json", historyJSON())
	id := body["session_id"]

	resp1, err := http.Post(ts.URL+"/process/"+id, "", nil)
	if err != nil {
		t.Fatalf("posting process: %v", err)
	}
	resp1.Body.Close()
	if resp1.StatusCode != http.StatusOK {
		t.Fatalf("first process: expected 200, got %d", resp1.StatusCode)
	}

	resp2, err := http.Post(ts.URL+"/process/"+id, "", nil)
	if err != nil {
		t.Fatalf("posting process again: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("second process: expected 400, got %d", resp2.StatusCode)
	}
	waitComplete(t, srv, id)
}

func TestReads_BeforeProcessing(t *testing.T) {
	_, ts := newTestServer(t)
	_, body := uploadFile(t, ts, "history.json", historyJSON())
	id := body["session_id"]

	var notReady notReadyResponse
	resp := getJSON(t, ts.URL+"/session/"+id+"/summary", &notReady)
	if resp.StatusCode != http.StatusTooEarly {
		t.Fatalf("expected 425, got %d", resp.StatusCode)
	}
	if notReady.Stage != StageParsed {
		t.Errorf("expected stage parsed, got %s", notReady.Stage)
	}
}

func TestReads_UnknownSession(t *testing.T) {
	_, ts := newTestServer(t)
	for _, path := range []string{"/summary", "/eras", "/eras/1"} {
		resp := getJSON(t, ts.URL+"/session/missing"+path, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestFullFlow(t *testing.T) {
	srv, ts := newTestServer(t)
	_, body := uploadFile(t, ts, "history.json", historyJSON())
	id := body["session_id"]

	resp, err := http.Post(ts.URL+"/process/"+id, "", nil)
	if err != nil {
		t.Fatalf("posting process: %v", err)
	}
	resp.Body.Close()

	final := waitComplete(t, srv, id)
	if final.Stage != StageComplete {
		t.Fatalf("expected complete, got %s (%s)", final.Stage, final.Message)
	}

	var summary summaryDTO
	if resp := getJSON(t, ts.URL+"/session/"+id+"/summary", &summary); resp.StatusCode != http.StatusOK {
		t.Fatalf("summary: expected 200, got %d", resp.StatusCode)
	}
	if summary.TotalEras != 1 {
		t.Errorf("expected 1 era, got %d", summary.TotalEras)
	}
	if summary.DateRange.Start != "2023-01-09" || summary.DateRange.End != "2023-01-09" {
		t.Errorf("unexpected date range %+v", summary.DateRange)
	}
	if summary.TotalListeningTimeMs != 600_000 {
		t.Errorf("unexpected listening time %d", summary.TotalListeningTimeMs)
	}
	if summary.TotalTracks != 3 || summary.TotalArtists != 1 {
		t.Errorf("unexpected counts: %d tracks, %d artists", summary.TotalTracks, summary.TotalArtists)
	}

	var eras []eraSummaryDTO
	if resp := getJSON(t, ts.URL+"/session/"+id+"/eras", &eras); resp.StatusCode != http.StatusOK {
		t.Fatalf("eras: expected 200, got %d", resp.StatusCode)
	}
	if len(eras) != 1 {
		t.Fatalf("expected 1 era, got %d", len(eras))
	}
	era := eras[0]
	if era.ID != 1 || era.Title == "" {
		t.Errorf("unexpected era summary %+v", era)
	}
	if len(era.TopArtists) != 1 || era.TopArtists[0].Name != "Daft Punk" {
		t.Errorf("unexpected top artists %+v", era.TopArtists)
	}
	if era.PlaylistTrackCount != 3 {
		t.Errorf("expected 3 playlist tracks, got %d", era.PlaylistTrackCount)
	}

	var detail eraDetailDTO
	if resp := getJSON(t, ts.URL+"/session/"+id+"/eras/1", &detail); resp.StatusCode != http.StatusOK {
		t.Fatalf("era detail: expected 200, got %d", resp.StatusCode)
	}
	if detail.Summary == "" {
		t.Error("era detail missing summary")
	}
	if len(detail.TopTracks) != 3 {
		t.Errorf("expected 3 top tracks, got %d", len(detail.TopTracks))
	}
	if detail.Playlist == nil || len(detail.Playlist.Tracks) != 3 {
		t.Errorf("unexpected playlist %+v", detail.Playlist)
	}
	if detail.Playlist != nil && detail.Playlist.Tracks[0].URI != nil {
		t.Error("expected null track uri")
	}
}

func TestEraDetail_BadID(t *testing.T) {
	srv, ts := newTestServer(t)
	_, body := uploadFile(t, ts, "history.json", historyJSON())
	id := body["session_id"]

	resp, err := http.Post(ts.URL+"/process/"+id, "", nil)
	if err != nil {
		t.Fatalf("posting process: %v", err)
	}
	resp.Body.Close()
	waitComplete(t, srv, id)

	if resp := getJSON(t, ts.URL+"/session/"+id+"/eras/abc", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("non-integer id: expected 400, got %d", resp.StatusCode)
	}
	if resp := getJSON(t, ts.URL+"/session/"+id+"/eras/99", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing era: expected 404, got %d", resp.StatusCode)
	}
}

func TestReads_AfterPipelineError(t *testing.T) {
	srv, ts := newTestServer(t)
	// Valid JSON with no qualifying plays parses to zero events.
	_, body := uploadFile(t, ts, "history.json", "[]")
	id := body["session_id"]

	resp, err := http.Post(ts.URL+"/process/"+id, "", nil)
	if err != nil {
		t.Fatalf("posting process: %v", err)
	}
	resp.Body.Close()

	final := waitComplete(t, srv, id)
	if final.Stage != StageError {
		t.Fatalf("expected error stage, got %s", final.Stage)
	}

	var errBody errorResponse
	getResp := getJSON(t, ts.URL+"/session/"+id+"/summary", &errBody)
	if getResp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", getResp.StatusCode)
	}
	if errBody.Error != "No distinct eras found" {
		t.Errorf("unexpected error message %q", errBody.Error)
	}
}

func TestProgressStream_EmitsUntilTerminal(t *testing.T) {
	cfg := segment.DefaultConfig()
	cfg.MinWeeks = 1
	cfg.MinMs = 0
	srv := NewServer(ServerConfig{
		AllowedOrigins: []string{"*"},
		LLM:            llm.Config{Provider: llm.ProviderOff},
		Segment:        cfg,
		Logger:         zerolog.Nop(),
	})
	srv.handlers.pollInterval = 10 * time.Millisecond
	srv.handlers.streamCeiling = 2 * time.Second
	ts := httptest.NewServer(srv.router)
	defer ts.Close()

	_, body := uploadFile(t, ts, "history.json", historyJSON())
	id := body["session_id"]

	resp, err := http.Post(ts.URL+"/process/"+id, "", nil)
	if err != nil {
		t.Fatalf("posting process: %v", err)
	}
	resp.Body.Close()

	stream, err := http.Get(ts.URL + "/progress/" + id)
	if err != nil {
		t.Fatalf("opening stream: %v", err)
	}
	defer stream.Body.Close()
	if ct := stream.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var frames []Progress
	scanner := bufio.NewScanner(stream.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var p Progress
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &p); err != nil {
			t.Fatalf("decoding frame %q: %v", line, err)
		}
		frames = append(frames, p)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("reading stream: %v", err)
	}

	if len(frames) == 0 {
		t.Fatal("no frames received")
	}
	last := frames[len(frames)-1]
	if last.Stage != StageComplete || last.Percent != 100 {
		t.Errorf("expected final frame complete/100, got %s/%d", last.Stage, last.Percent)
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].Percent < frames[i-1].Percent {
			t.Errorf("percent regressed at frame %d: %v", i, frames)
		}
	}
}

func TestProgressStream_UnknownSession(t *testing.T) {
	_, ts := newTestServer(t)
	resp := getJSON(t, ts.URL+"/progress/missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}
