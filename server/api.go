package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/tunedl/tunedl/download/archive"
	"github.com/tunedl/tunedl/download/audio"
	"github.com/tunedl/tunedl/download/batch"
	"github.com/tunedl/tunedl/download/config"
	"github.com/tunedl/tunedl/download/history"
	"github.com/tunedl/tunedl/download/logging"
	"github.com/tunedl/tunedl/download/progress"
	"github.com/tunedl/tunedl/download/resolver"
	"github.com/tunedl/tunedl/download/store"
)

// APIServer wires the download pipeline behind the HTTP API.
type APIServer struct {
	cfg       *config.Config
	logger    *logging.Logger
	store     *store.Store
	resolver  *resolver.Resolver
	extractor audio.Extractor
	executor  *batch.Executor
	publisher *progress.Publisher
	assembler *archive.Assembler
	history   *history.Store
	events    *EventsHub

	startedAt time.Time
}

// NewAPIServer assembles the server from its parts. history may be nil when
// disabled.
func NewAPIServer(cfg *config.Config, logger *logging.Logger, s *store.Store,
	res *resolver.Resolver, ext audio.Extractor, exec *batch.Executor,
	pub *progress.Publisher, asm *archive.Assembler, hist *history.Store) *APIServer {
	return &APIServer{
		cfg:       cfg,
		logger:    logger,
		store:     s,
		resolver:  res,
		extractor: ext,
		executor:  exec,
		publisher: pub,
		assembler: asm,
		history:   hist,
		events:    NewEventsHub(),
		startedAt: time.Now(),
	}
}

// Handler builds the routed HTTP handler with middleware applied.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.healthHandler)
	mux.HandleFunc("GET /api/qualities", s.qualitiesHandler)

	mux.HandleFunc("GET /api/info", s.infoHandler)
	mux.HandleFunc("GET /api/playlist-info", s.playlistInfoHandler)

	mux.HandleFunc("POST /api/download", s.downloadHandler)
	mux.HandleFunc("POST /api/download-playlist", s.downloadHandler)

	mux.HandleFunc("GET /api/progress/{id}", s.progressHandler)
	mux.HandleFunc("GET /api/progress-stream/{id}", s.progressStreamHandler)
	mux.HandleFunc("GET /api/multi-progress/{id}", s.progressHandler)
	mux.HandleFunc("GET /api/multi-progress-stream/{id}", s.progressStreamHandler)
	mux.HandleFunc("GET /api/active-downloads", s.activeDownloadsHandler)

	mux.HandleFunc("POST /api/cancel/{id}", s.cancelHandler)
	mux.HandleFunc("POST /api/create-zip/{id}", s.createZipHandler)
	mux.HandleFunc("POST /api/cleanup/{id}", s.cleanupHandler)

	mux.HandleFunc("GET /api/download-file/{filename...}", s.downloadFileHandler)
	mux.HandleFunc("GET /api/list-files", s.listFilesHandler)

	mux.HandleFunc("GET /api/history", s.historyHandler)
	mux.HandleFunc("GET /api/ws/events", s.events.HandleWebSocket)

	return s.corsMiddleware(s.recoveryMiddleware(mux))
}

// corsMiddleware adds CORS headers and answers preflight requests.
func (s *APIServer) corsMiddleware(next http.Handler) http.Handler {
	origins := s.cfg.Server.AllowedOrigins
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "":
			for _, o := range origins {
				if o == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware converts handler panics into 500 responses.
func (s *APIServer) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error(fmt.Sprintf("panic in %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack()), nil)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", err)
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"detail": msg})
}
