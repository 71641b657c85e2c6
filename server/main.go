// Command server runs the music download API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tunedl/tunedl/download/archive"
	"github.com/tunedl/tunedl/download/audio"
	"github.com/tunedl/tunedl/download/batch"
	"github.com/tunedl/tunedl/download/config"
	"github.com/tunedl/tunedl/download/history"
	"github.com/tunedl/tunedl/download/logging"
	"github.com/tunedl/tunedl/download/metadata"
	"github.com/tunedl/tunedl/download/progress"
	"github.com/tunedl/tunedl/download/resolver"
	"github.com/tunedl/tunedl/download/spotify"
	"github.com/tunedl/tunedl/download/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	logger, err := logging.NewLogger(cfg.LogPath, "download-server")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log: %v\n", err)
		return 1
	}
	defer logger.Close()

	if err := os.MkdirAll(cfg.Download.Dir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create downloads directory: %v\n", err)
		return 1
	}

	jobStore := store.New()
	extractor := &audio.Provider{Bin: cfg.Download.YtDlpPath}

	var catalog resolver.Catalog
	if cfg.Spotify.Configured() {
		spotifyCatalog, err := spotify.NewCatalog(spotify.Config{
			ClientID:          cfg.Spotify.ClientID,
			ClientSecret:      cfg.Spotify.ClientSecret,
			CacheMaxSize:      cfg.Spotify.CacheMaxSize,
			CacheTTL:          cfg.Spotify.CacheTTL(),
			RateLimitEnabled:  cfg.Spotify.RateLimitEnabled,
			RateLimitRequests: cfg.Spotify.RateLimitRequests,
			RateLimitWindow:   cfg.Spotify.RateLimitWindowDuration(),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create spotify client: %v\n", err)
			return 1
		}
		catalog = spotifyCatalog
	} else {
		logger.Warn("spotify credentials not configured, spotify links will be rejected")
	}

	res := resolver.New(catalog, playlistLister{extractor})

	executor := batch.NewExecutor(jobStore, extractor, logger, cfg.Download.Dir)
	executor.ItemTimeout = cfg.ItemTimeout()
	executor.Tagger = metadata.NewEmbedder()

	var hist *history.Store
	if cfg.HistoryPath != "" {
		hist, err = history.Open(cfg.HistoryPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open history database: %v\n", err)
			return 1
		}
		defer hist.Close()
		executor.Recorder = hist
	}

	publisher := progress.NewPublisher(jobStore)
	assembler := archive.NewAssembler(jobStore, logger)

	api := NewAPIServer(cfg, logger, jobStore, res, extractor, executor, publisher, assembler, hist)
	logger.SetBroadcast(api.events.PublishLog)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.Handler(),
		ReadTimeout:  30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.Addr())
		fmt.Printf("Download server listening on %s\n", cfg.Addr())
		errCh <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigCh:
		logger.Infof("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", err)
			return 1
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			return 1
		}
	}
	return 0
}

// playlistLister adapts the audio provider to the resolver's listing
// interface.
type playlistLister struct {
	provider *audio.Provider
}

func (l playlistLister) ListPlaylist(ctx context.Context, url string, max int) (*resolver.Listing, error) {
	listing, err := l.provider.ListPlaylist(ctx, url, max)
	if err != nil {
		return nil, err
	}
	out := &resolver.Listing{
		Title:    listing.Title,
		Uploader: listing.Uploader,
	}
	for _, entry := range listing.Entries {
		out.Entries = append(out.Entries, resolver.ListingEntry{
			Title:    entry.Title,
			Uploader: entry.Uploader,
			URL:      entry.URL,
		})
	}
	return out, nil
}
