package history

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// maxArchiveBytes caps the sum of declared uncompressed member sizes in an
// uploaded ZIP. Anything larger is treated as a zip bomb.
const maxArchiveBytes = 1 << 30 // 1 GiB

// historyFileGlob matches the basename of extended streaming history files
// inside a Spotify data export.
const historyFileGlob = "*Streaming_History_Audio_*.json"

// Kind identifies the upload format.
type Kind string

const (
	KindJSON Kind = "json"
	KindZip  Kind = "zip"
)

// zipMagic is the local-file-header signature that starts every ZIP archive.
var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// ParseError is returned for any decode failure, archive-validity failure,
// or defense-triggered rejection. The message is safe to show to users.
type ParseError struct {
	msg string
}

func (e *ParseError) Error() string { return e.msg }

func parseErrorf(format string, args ...any) *ParseError {
	return &ParseError{msg: fmt.Sprintf(format, args...)}
}

// DetectKind identifies the upload format by magic bytes first, falling back
// to the file extension. Returns a ParseError for unrecognized uploads.
func DetectKind(data []byte, filename string) (Kind, error) {
	if bytes.HasPrefix(data, zipMagic) {
		return KindZip, nil
	}
	switch strings.ToLower(path.Ext(filename)) {
	case ".zip":
		return KindZip, nil
	case ".json":
		return KindJSON, nil
	}
	// A bare JSON array uploaded without an extension is still acceptable.
	if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '[' {
		return KindJSON, nil
	}
	return "", parseErrorf("Unrecognized file type: expected .json or .zip")
}

// Parse decodes uploaded bytes of the given kind into validated events,
// deduplicated by (timestamp, track, artist) keeping the first occurrence
// and sorted ascending by timestamp.
func Parse(data []byte, kind Kind) ([]Event, error) {
	var (
		events []Event
		err    error
	)
	switch kind {
	case KindJSON:
		events, err = parseJSON(data)
	case KindZip:
		events, err = parseZip(data)
	default:
		return nil, parseErrorf("Unknown upload kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return dedupeAndSort(events), nil
}

// rawEntry mirrors one object of the extended streaming history format.
// Unknown keys are ignored; pointer fields distinguish null from absent.
type rawEntry struct {
	TS       string  `json:"ts"`
	Track    *string `json:"master_metadata_track_name"`
	Artist   *string `json:"master_metadata_album_artist_name"`
	MsPlayed int64   `json:"ms_played"`
	URI      *string `json:"spotify_track_uri"`
}

// parseJSON decodes a single streaming history JSON array. Entries with
// missing names, short plays, or unparseable timestamps are skipped.
func parseJSON(data []byte) ([]Event, error) {
	var entries []rawEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, parseErrorf("Invalid JSON: %v", err)
	}

	events := make([]Event, 0, len(entries))
	for _, e := range entries {
		if e.Track == nil || *e.Track == "" || e.Artist == nil || *e.Artist == "" {
			continue
		}
		if e.MsPlayed < MinPlayMs {
			continue
		}
		if e.TS == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, e.TS)
		if err != nil {
			continue
		}
		uri := ""
		if e.URI != nil {
			uri = *e.URI
		}
		events = append(events, Event{
			Timestamp: ts.UTC(),
			Artist:    *e.Artist,
			Track:     *e.Track,
			MsPlayed:  e.MsPlayed,
			URI:       uri,
		})
	}
	return events, nil
}

// parseZip decodes an in-memory Spotify export archive. Members are never
// extracted to disk. Hostile member names and oversized archives are
// rejected before any member is read.
func parseZip(data []byte) ([]Event, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, parseErrorf("Invalid ZIP archive: %v", err)
	}

	var events []Event
	var declared uint64
	for _, f := range r.File {
		if unsafeMemberName(f.Name) {
			return nil, parseErrorf("Unsafe path in archive: %s", f.Name)
		}
		declared += f.UncompressedSize64
		if declared > maxArchiveBytes {
			return nil, parseErrorf("Archive too large: declared size exceeds 1 GiB")
		}
		if !isHistoryFile(f.Name) {
			continue
		}
		content, err := readMember(f)
		if err != nil {
			return nil, parseErrorf("Reading archive member %s: %v", f.Name, err)
		}
		parsed, err := parseJSON(content)
		if err != nil {
			return nil, err
		}
		events = append(events, parsed...)
	}
	return events, nil
}

// unsafeMemberName reports whether an archive member name could escape an
// extraction root: absolute paths and any ".." segment are rejected even
// though members are only ever read in memory.
func unsafeMemberName(name string) bool {
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "\\") {
		return true
	}
	// Windows drive-letter absolute paths.
	if len(name) >= 2 && name[1] == ':' {
		return true
	}
	for _, seg := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// isHistoryFile reports whether a member basename matches the streaming
// history naming convention. Nested subfolders are allowed.
func isHistoryFile(name string) bool {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	ok, err := path.Match(historyFileGlob, base)
	return err == nil && ok
}

// readMember decompresses one archive member fully into memory.
func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// dedupKey identifies an event for deduplication.
type dedupKey struct {
	ts     int64
	track  string
	artist string
}

// dedupeAndSort removes duplicate (timestamp, track, artist) triples keeping
// the first occurrence, then sorts ascending by timestamp.
func dedupeAndSort(events []Event) []Event {
	seen := make(map[dedupKey]struct{}, len(events))
	out := events[:0]
	for _, e := range events {
		k := dedupKey{ts: e.Timestamp.UnixNano(), track: e.Track, artist: e.Artist}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
