package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tunedl/tunedl/download/archive"
	"github.com/tunedl/tunedl/download/audio"
	"github.com/tunedl/tunedl/download/resolver"
	"github.com/tunedl/tunedl/download/store"
)

// resolveTimeout bounds metadata lookups for info and download requests.
const resolveTimeout = 60 * time.Second

// sseHeartbeatInterval keeps idle SSE connections alive through proxies.
const sseHeartbeatInterval = 15 * time.Second

type downloadRequest struct {
	URL     string `json:"url"`
	Quality string `json:"quality"`
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "healthy",
		"uptime_seconds":   int(time.Since(s.startedAt).Seconds()),
		"active_downloads": len(s.store.List()),
		"ws_clients":       s.events.ClientCount(),
	})
}

func (s *APIServer) qualitiesHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"qualities": audio.Qualities(),
		"default":   s.cfg.Download.DefaultQuality,
	})
}

func (s *APIServer) infoHandler(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		s.writeError(w, http.StatusBadRequest, "url parameter is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), resolveTimeout)
	defer cancel()

	plan, err := s.resolver.Resolve(ctx, url)
	if err != nil {
		s.writeResolveError(w, err)
		return
	}

	resp := map[string]interface{}{
		"title":        plan.Meta.Title,
		"platform":     plan.Meta.Platform,
		"type":         plan.Meta.Type,
		"total_items":  len(plan.Items),
		"total_tracks": plan.TotalTracks,
		"limited":      plan.Limited,
	}
	// Single direct links get probed for richer metadata.
	if len(plan.Items) == 1 && plan.Items[0].SourceURL != "" {
		if meta, probeErr := s.extractor.Probe(ctx, plan.Items[0].SourceURL); probeErr == nil {
			resp["title"] = meta.Title
			resp["artist"] = meta.Artist
			resp["duration"] = meta.Duration
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) playlistInfoHandler(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		s.writeError(w, http.StatusBadRequest, "url parameter is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), resolveTimeout)
	defer cancel()

	plan, err := s.resolver.Resolve(ctx, url)
	if err != nil {
		s.writeResolveError(w, err)
		return
	}

	names := make([]string, len(plan.Items))
	for i, item := range plan.Items {
		names[i] = item.Name
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"title":        plan.Meta.Title,
		"platform":     plan.Meta.Platform,
		"type":         plan.Meta.Type,
		"total_tracks": plan.TotalTracks,
		"limited":      plan.Limited,
		"tracks":       names,
	})
}

// downloadHandler starts a download batch. Single tracks and playlists go
// through the same path; a track is just a one-item batch.
func (s *APIServer) downloadHandler(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	quality, err := audio.ParseQuality(req.Quality)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), resolveTimeout)
	defer cancel()

	plan, err := s.resolver.Resolve(ctx, req.URL)
	if err != nil {
		s.writeResolveError(w, err)
		return
	}

	names := make([]string, len(plan.Items))
	for i, item := range plan.Items {
		names[i] = item.Name
	}
	id := s.store.CreateBatch(plan.Meta, names)
	s.logger.InfoBatch("download", id, fmt.Sprintf("accepted %q (%d items)", plan.Meta.Title, len(plan.Items)))

	// The request context dies with this response; the batch runs on its own.
	go s.executor.Run(context.Background(), id, plan, quality)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"download_id":  id,
		"title":        plan.Meta.Title,
		"total_items":  len(plan.Items),
		"total_tracks": plan.TotalTracks,
		"limited":      plan.Limited,
	})
}

func (s *APIServer) writeResolveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, resolver.ErrUnsupportedURL):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, "metadata lookup timed out")
	default:
		var resErr *resolver.ResolutionError
		if errors.As(err, &resErr) {
			s.writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *APIServer) progressHandler(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "download not found")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// progressStreamHandler streams progress snapshots over SSE until the batch
// reaches a terminal state or the client disconnects.
func (s *APIServer) progressStreamHandler(w http.ResponseWriter, r *http.Request) {
	snapshots, err := s.publisher.Subscribe(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "download not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)
	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case job, ok := <-snapshots:
			if !ok {
				return
			}
			data, err := json.Marshal(job)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			if flusher != nil {
				flusher.Flush()
			}
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			if flusher != nil {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *APIServer) activeDownloadsHandler(w http.ResponseWriter, r *http.Request) {
	jobs := s.store.List()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"downloads": jobs,
		"count":     len(jobs),
	})
}

func (s *APIServer) cancelHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Cancel(id); err != nil {
		s.writeError(w, http.StatusNotFound, "download not found")
		return
	}
	s.logger.InfoBatch("cancel", id, "cancellation requested")
	s.writeJSON(w, http.StatusOK, map[string]string{
		"download_id": id,
		"status":      "cancelling",
	})
}

func (s *APIServer) createZipHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	zipPath, err := s.assembler.Create(id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "download not found")
		case errors.Is(err, archive.ErrNotCompleted):
			s.writeError(w, http.StatusConflict, "download not completed")
		case errors.Is(err, archive.ErrNoFiles):
			s.writeError(w, http.StatusBadRequest, "no downloaded files to archive")
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	job, err := s.store.Get(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "download not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"archive_path": filepath.Base(zipPath),
		"archive_size": job.ArchiveSize,
	})
}

func (s *APIServer) cleanupHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	keepZip := r.URL.Query().Get("keep_zip") == "true"
	if err := s.assembler.Cleanup(id, keepZip); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"download_id": id,
		"kept_zip":    keepZip,
	})
}

// downloadFileHandler serves a finished file from the downloads directory.
// The path is validated to stay inside it.
func (s *APIServer) downloadFileHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	full, ok := s.safeJoin(name)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(full)))
	http.ServeFile(w, r, full)
}

func (s *APIServer) listFilesHandler(w http.ResponseWriter, r *http.Request) {
	type fileInfo struct {
		Name     string `json:"name"`
		Size     int64  `json:"size"`
		Path     string `json:"path"`
		Modified int64  `json:"modified"`
	}
	files := []fileInfo{}

	base, err := filepath.Abs(s.cfg.Download.Dir)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to resolve downloads directory")
		return
	}
	root := base
	if folder := r.URL.Query().Get("folder"); folder != "" {
		sub, ok := s.safeJoin(folder)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "invalid folder")
			return
		}
		root = sub
	}
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		// Paths stay relative to the downloads dir so they feed straight
		// into the download-file endpoint.
		rel, relErr := filepath.Rel(base, path)
		if relErr != nil {
			return nil
		}
		files = append(files, fileInfo{
			Name:     info.Name(),
			Size:     info.Size(),
			Path:     filepath.ToSlash(rel),
			Modified: info.ModTime().Unix(),
		})
		return nil
	})

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"files": files,
		"count": len(files),
	})
}

func (s *APIServer) historyHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"history": []struct{}{}, "enabled": false})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries, "enabled": true})
}

// safeJoin resolves name under the downloads directory, rejecting anything
// that escapes it.
func (s *APIServer) safeJoin(name string) (string, bool) {
	if name == "" || strings.Contains(name, "..") {
		return "", false
	}
	root, err := filepath.Abs(s.cfg.Download.Dir)
	if err != nil {
		return "", false
	}
	full := filepath.Join(root, filepath.FromSlash(name))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}
