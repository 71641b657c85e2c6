package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tunedl/tunedl/download/archive"
	"github.com/tunedl/tunedl/download/audio"
	"github.com/tunedl/tunedl/download/batch"
	"github.com/tunedl/tunedl/download/config"
	"github.com/tunedl/tunedl/download/logging"
	"github.com/tunedl/tunedl/download/progress"
	"github.com/tunedl/tunedl/download/resolver"
	"github.com/tunedl/tunedl/download/store"
)

// fakeExtractor answers every extraction with a small file.
type fakeExtractor struct {
	probeErr   error
	extractErr error
}

func (f *fakeExtractor) Probe(ctx context.Context, url string) (*audio.Metadata, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return &audio.Metadata{Title: "Probed Title", Artist: "Probed Artist", Duration: 212}, nil
}

func (f *fakeExtractor) ListPlaylist(ctx context.Context, url string, max int) (*audio.PlaylistListing, error) {
	return &audio.PlaylistListing{
		Title: "Fake Playlist",
		Entries: []audio.PlaylistEntry{
			{Title: "One", URL: "https://youtu.be/a1"},
			{Title: "Two", URL: "https://youtu.be/b2"},
		},
	}, nil
}

func (f *fakeExtractor) Extract(ctx context.Context, req audio.Request) (*audio.Result, error) {
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	name := req.Query
	if name == "" {
		name = "item"
	}
	path := filepath.Join(req.OutputDir, name+".mp3")
	if err := os.WriteFile(path, []byte("audio"), 0644); err != nil {
		return nil, err
	}
	return &audio.Result{FilePath: path, FileSize: 5}, nil
}

type fakeLister struct{ ext *fakeExtractor }

func (l fakeLister) ListPlaylist(ctx context.Context, url string, max int) (*resolver.Listing, error) {
	listing, err := l.ext.ListPlaylist(ctx, url, max)
	if err != nil {
		return nil, err
	}
	out := &resolver.Listing{Title: listing.Title}
	for _, e := range listing.Entries {
		out.Entries = append(out.Entries, resolver.ListingEntry{Title: e.Title, URL: e.URL})
	}
	return out, nil
}

func newTestServer(t *testing.T) (*APIServer, *store.Store) {
	t.Helper()

	var cfg config.Config
	cfg.SetDefaults()
	cfg.Download.Dir = t.TempDir()

	logger := logging.NewNop()
	jobStore := store.New()
	ext := &fakeExtractor{}
	res := resolver.New(nil, fakeLister{ext})

	executor := batch.NewExecutor(jobStore, ext, logger, cfg.Download.Dir)
	executor.ItemTimeout = 5 * time.Second

	api := NewAPIServer(&cfg, logger, jobStore, res, ext, executor,
		progress.NewPublisher(jobStore), archive.NewAssembler(jobStore, logger), nil)
	return api, jobStore
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	api, _ := newTestServer(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode(t, rec)["status"]; got != "healthy" {
		t.Errorf("status field = %v", got)
	}
}

func TestQualities(t *testing.T) {
	api, _ := newTestServer(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/qualities", nil)
	body := decode(t, rec)
	if body["default"] != "192" {
		t.Errorf("default = %v", body["default"])
	}
	qualities, ok := body["qualities"].(map[string]interface{})
	if !ok || len(qualities) != 4 {
		t.Errorf("qualities = %v", body["qualities"])
	}
}

func TestDownload_InvalidQuality(t *testing.T) {
	api, _ := newTestServer(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/download",
		map[string]string{"url": "https://youtu.be/abc", "quality": "999"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDownload_UnsupportedURL(t *testing.T) {
	api, _ := newTestServer(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/download",
		map[string]string{"url": "https://example.com/nope"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDownload_SingleTrackFlow(t *testing.T) {
	api, jobStore := newTestServer(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/download",
		map[string]string{"url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	id, _ := body["download_id"].(string)
	if id == "" {
		t.Fatalf("no download_id in %v", body)
	}
	if body["total_items"] != float64(1) {
		t.Errorf("total_items = %v", body["total_items"])
	}

	waitForTerminal(t, jobStore, id)

	rec = doJSON(t, handler, http.MethodGet, "/api/progress/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("progress status = %d", rec.Code)
	}
	snap := decode(t, rec)
	if snap["overall_status"] != "completed" {
		t.Errorf("overall_status = %v", snap["overall_status"])
	}
	if snap["overall_progress"] != float64(100) {
		t.Errorf("overall_progress = %v", snap["overall_progress"])
	}
}

func TestDownload_PlaylistFlow(t *testing.T) {
	api, jobStore := newTestServer(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/download-playlist",
		map[string]string{"url": "https://www.youtube.com/playlist?list=PL123", "quality": "320"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	id := body["download_id"].(string)
	if body["total_items"] != float64(2) {
		t.Errorf("total_items = %v", body["total_items"])
	}

	waitForTerminal(t, jobStore, id)

	job, err := jobStore.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if job.CompletedCount != 2 {
		t.Errorf("completed = %d", job.CompletedCount)
	}
}

func waitForTerminal(t *testing.T, s *store.Store, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		if job.Status.Terminal() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("batch did not reach a terminal state")
}

func TestProgress_Unknown(t *testing.T) {
	api, _ := newTestServer(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/progress/unknown-id", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestProgressStream_TerminalBatch(t *testing.T) {
	api, jobStore := newTestServer(t)
	id := jobStore.CreateBatch(store.BatchMeta{Title: "T"}, []string{"a"})
	if err := jobStore.SetError(id, "boom"); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/progress-stream/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "data: ") || !strings.Contains(body, `"overall_status":"failed"`) {
		t.Errorf("stream body = %q", body)
	}
}

func TestProgressStream_Unknown(t *testing.T) {
	api, _ := newTestServer(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/progress-stream/unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCancel_Unknown(t *testing.T) {
	api, _ := newTestServer(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/cancel/unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCreateZip_InProgress(t *testing.T) {
	api, jobStore := newTestServer(t)
	id := jobStore.CreateBatch(store.BatchMeta{Title: "T"}, []string{"a"})

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/create-zip/"+id, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestZipAndCleanupFlow(t *testing.T) {
	api, jobStore := newTestServer(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/download",
		map[string]string{"url": "https://youtu.be/dQw4w9WgXcQ"})
	id := decode(t, rec)["download_id"].(string)
	waitForTerminal(t, jobStore, id)

	rec = doJSON(t, handler, http.MethodPost, "/api/create-zip/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("create-zip status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if decode(t, rec)["archive_path"] == "" {
		t.Error("no archive_path in response")
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/cleanup/"+id+"?keep_zip=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cleanup status = %d", rec.Code)
	}
	if _, err := jobStore.Get(id); !errors.Is(err, store.ErrNotFound) {
		t.Error("batch survived cleanup")
	}
}

func TestDownloadFile_RejectsTraversal(t *testing.T) {
	api, _ := newTestServer(t)
	// Encoded separators so the mux does not clean the path before the
	// handler sees it.
	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/download-file/..%2F..%2Fetc%2Fpasswd", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDownloadFile_ServesFile(t *testing.T) {
	api, _ := newTestServer(t)
	path := filepath.Join(api.cfg.Download.Dir, "song.mp3")
	if err := os.WriteFile(path, []byte("audio-bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/download-file/song.mp3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "audio-bytes" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "song.mp3") {
		t.Errorf("content disposition = %q", cd)
	}
}

func TestListFiles(t *testing.T) {
	api, _ := newTestServer(t)
	sub := filepath.Join(api.cfg.Download.Dir, "Album [album] [spotify]")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "track.mp3"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/list-files", nil)
	body := decode(t, rec)
	if body["count"] != float64(1) {
		t.Errorf("count = %v, files = %v", body["count"], body["files"])
	}
	filesList, _ := body["files"].([]interface{})
	if len(filesList) != 1 {
		t.Fatalf("files = %v", body["files"])
	}
	entry, _ := filesList[0].(map[string]interface{})
	if entry["name"] != "track.mp3" {
		t.Errorf("name = %v", entry["name"])
	}
	if entry["path"] != "Album [album] [spotify]/track.mp3" {
		t.Errorf("path = %v", entry["path"])
	}

	rec = doJSON(t, api.Handler(), http.MethodGet, "/api/list-files?folder=missing", nil)
	if decode(t, rec)["count"] != float64(0) {
		t.Errorf("folder filter count = %v", decode(t, rec)["count"])
	}

	rec = doJSON(t, api.Handler(), http.MethodGet, "/api/list-files?folder=..%2Felsewhere", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("traversal folder status = %d", rec.Code)
	}
}

func TestInfo_SingleVideoProbed(t *testing.T) {
	api, _ := newTestServer(t)
	rec := doJSON(t, api.Handler(), http.MethodGet,
		"/api/info?url=https%3A%2F%2Fyoutu.be%2FdQw4w9WgXcQ", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["title"] != "Probed Title" || body["artist"] != "Probed Artist" {
		t.Errorf("body = %v", body)
	}
}

func TestPlaylistInfo(t *testing.T) {
	api, _ := newTestServer(t)
	rec := doJSON(t, api.Handler(), http.MethodGet,
		"/api/playlist-info?url=https%3A%2F%2Fwww.youtube.com%2Fplaylist%3Flist%3DPL123", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["total_tracks"] != float64(2) {
		t.Errorf("total_tracks = %v", body["total_tracks"])
	}
}

type fixedCatalog struct{ playlist *resolver.CollectionInfo }

func (c fixedCatalog) Track(ctx context.Context, url string) (*resolver.TrackInfo, error) {
	return nil, errors.New("not a track")
}

func (c fixedCatalog) Album(ctx context.Context, url string) (*resolver.CollectionInfo, error) {
	return nil, errors.New("not an album")
}

func (c fixedCatalog) Playlist(ctx context.Context, url string) (*resolver.CollectionInfo, error) {
	return c.playlist, nil
}

func TestPlaylistInfo_CappedPlaylistReportsTrueTotal(t *testing.T) {
	api, _ := newTestServer(t)
	playlist := &resolver.CollectionInfo{Title: "Megamix"}
	for i := 0; i < 60; i++ {
		playlist.Tracks = append(playlist.Tracks, resolver.TrackInfo{Title: fmt.Sprintf("Song %d", i)})
	}
	api.resolver = resolver.New(fixedCatalog{playlist}, nil)

	rec := doJSON(t, api.Handler(), http.MethodGet,
		"/api/playlist-info?url=https%3A%2F%2Fopen.spotify.com%2Fplaylist%2Fbigone1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["total_tracks"] != float64(60) {
		t.Errorf("total_tracks = %v, want 60", body["total_tracks"])
	}
	if body["limited"] != true {
		t.Errorf("limited = %v", body["limited"])
	}
	if tracks, _ := body["tracks"].([]interface{}); len(tracks) != 50 {
		t.Errorf("tracks length = %d, want 50", len(tracks))
	}
}

func TestCORSPreflight(t *testing.T) {
	api, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/download", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("missing CORS header")
	}
}

func TestHistory_Disabled(t *testing.T) {
	api, _ := newTestServer(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if decode(t, rec)["enabled"] != false {
		t.Error("history should report disabled")
	}
}
