// Package batch runs resolved download plans to completion, one item at a
// time, reporting progress through the job store.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tunedl/tunedl/download/audio"
	"github.com/tunedl/tunedl/download/logging"
	"github.com/tunedl/tunedl/download/resolver"
	"github.com/tunedl/tunedl/download/store"
)

// DefaultItemTimeout bounds how long a single track extraction may run.
const DefaultItemTimeout = 10 * time.Minute

// Tagger embeds metadata into a finished audio file. Tagging is best effort;
// failures are logged and never fail the item.
type Tagger interface {
	Tag(path string, meta audio.Metadata) error
}

// Record summarizes a finished batch for the download history.
type Record struct {
	BatchID    string
	Title      string
	Platform   string
	Type       string
	URL        string
	Status     string
	Completed  int
	Failed     int
	Total      int
	FinishedAt time.Time
}

// Recorder persists finished batch summaries. Implemented by the history
// package.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Executor drives a resolved plan through extraction. Items run sequentially
// in plan order; one failing item never aborts the rest.
type Executor struct {
	store     *store.Store
	extractor audio.Extractor
	logger    *logging.Logger

	// Tagger and Recorder are optional hooks.
	Tagger   Tagger
	Recorder Recorder

	// BaseDir is where per-batch folders are created.
	BaseDir string

	// ItemTimeout bounds each extraction; zero means DefaultItemTimeout.
	ItemTimeout time.Duration
}

// NewExecutor creates an executor writing downloads under baseDir.
func NewExecutor(s *store.Store, extractor audio.Extractor, logger *logging.Logger, baseDir string) *Executor {
	return &Executor{
		store:     s,
		extractor: extractor,
		logger:    logger,
		BaseDir:   baseDir,
	}
}

// Run executes the plan for an already-created batch until every item is
// terminal or the batch is cancelled. It is meant to be called in its own
// goroutine; all outcomes are reported through the store, never returned.
func (e *Executor) Run(ctx context.Context, batchID string, plan *resolver.Plan, quality audio.Quality) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorBatch("batch", batchID, "batch execution panicked", fmt.Errorf("%v", r))
			_ = e.store.SetError(batchID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	folder, err := e.ensureFolder(plan.Meta)
	if err != nil {
		e.logger.ErrorBatch("batch", batchID, "failed to create download folder", err)
		_ = e.store.SetError(batchID, "failed to create download folder: "+err.Error())
		return
	}
	_ = e.store.SetFolder(batchID, folder)
	_ = e.store.SetStatus(batchID, store.BatchStatusDownloading, "")

	e.logger.InfoBatch("batch", batchID,
		fmt.Sprintf("starting %s download: %q (%d items, %skbps)", plan.Meta.Platform, plan.Meta.Title, len(plan.Items), quality))

	cancelled := false
	for _, item := range plan.Items {
		if e.store.Cancelled(batchID) || ctx.Err() != nil {
			cancelled = true
			break
		}
		e.runItem(ctx, batchID, folder, item, quality)
	}

	e.finish(ctx, batchID, plan, cancelled)
}

// runItem downloads one item, classifying failures without ever letting
// them escape to the batch loop.
func (e *Executor) runItem(ctx context.Context, batchID, folder string, item resolver.Item, quality audio.Quality) {
	if err := e.store.MarkItemDownloading(batchID, item.Index); err != nil {
		return
	}

	timeout := e.ItemTimeout
	if timeout <= 0 {
		timeout = DefaultItemTimeout
	}
	itemCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Propagate a store-level cancel into the in-flight extraction.
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-e.store.CancelSignal(batchID):
			cancel()
		case <-stopWatch:
		case <-itemCtx.Done():
		}
	}()

	result, err := e.extractor.Extract(itemCtx, audio.Request{
		URL:       item.SourceURL,
		Query:     item.Query,
		Quality:   quality,
		OutputDir: folder,
		Progress: func(percent int) {
			_ = e.store.SetItemProgress(batchID, item.Index, percent)
		},
	})
	if err != nil {
		e.failItem(batchID, item, timeout, err)
		return
	}

	if e.Tagger != nil {
		if tagErr := e.Tagger.Tag(result.FilePath, result.Metadata); tagErr != nil {
			e.logger.WarnBatch("tag", batchID,
				fmt.Sprintf("failed to tag %q: %v", filepath.Base(result.FilePath), tagErr))
		}
	}

	_ = e.store.MarkItemCompleted(batchID, item.Index, filepath.Base(result.FilePath))
	e.logger.InfoBatch("item", batchID, fmt.Sprintf("downloaded %q", item.Name))
}

func (e *Executor) failItem(batchID string, item resolver.Item, timeout time.Duration, err error) {
	var msg string
	switch {
	case e.store.Cancelled(batchID) || audio.IsCancelled(err):
		msg = "cancelled"
	case audio.IsTimeout(err):
		msg = fmt.Sprintf("timed out after %s", timeout)
	default:
		msg = err.Error()
	}
	_ = e.store.MarkItemFailed(batchID, item.Index, msg)
	e.logger.WarnBatch("item", batchID, fmt.Sprintf("failed %q: %s", item.Name, msg))
}

// finish fails the interrupted item on cancellation, sets the terminal batch
// status, and records history.
func (e *Executor) finish(ctx context.Context, batchID string, plan *resolver.Plan, cancelled bool) {
	if !cancelled {
		cancelled = e.store.Cancelled(batchID)
	}

	job, err := e.store.Get(batchID)
	if err != nil {
		return
	}

	if cancelled {
		// Only the in-flight item is failed; items never started stay pending.
		for _, item := range job.Items {
			if item.Status == store.ItemStatusDownloading {
				_ = e.store.MarkItemFailed(batchID, item.Index, "cancelled")
			}
		}
		_ = e.store.SetStatus(batchID, store.BatchStatusCancelled, "download cancelled")
		e.logger.InfoBatch("batch", batchID, "batch cancelled")
	} else if job.CompletedCount > 0 {
		_ = e.store.SetStatus(batchID, store.BatchStatusCompleted, "")
		e.logger.InfoBatch("batch", batchID,
			fmt.Sprintf("batch finished: %d completed, %d failed", job.CompletedCount, job.FailedCount))
	} else {
		_ = e.store.SetError(batchID, "all downloads failed")
		e.logger.WarnBatch("batch", batchID, "batch failed: no item succeeded")
	}

	if e.Recorder != nil {
		final, err := e.store.Get(batchID)
		if err != nil {
			return
		}
		rec := Record{
			BatchID:    batchID,
			Title:      plan.Meta.Title,
			Platform:   plan.Meta.Platform,
			Type:       plan.Meta.Type,
			URL:        plan.Meta.URL,
			Status:     string(final.Status),
			Completed:  final.CompletedCount,
			Failed:     final.FailedCount,
			Total:      final.TotalItems(),
			FinishedAt: time.Now(),
		}
		if recErr := e.Recorder.Record(ctx, rec); recErr != nil {
			e.logger.ErrorBatch("history", batchID, "failed to record download history", recErr)
		}
	}
}

// ensureFolder creates the per-batch download folder named after the batch,
// e.g. "Discovery [album] [spotify]".
func (e *Executor) ensureFolder(meta store.BatchMeta) (string, error) {
	name := SanitizeName(fmt.Sprintf("%s [%s] [%s]", meta.Title, meta.Type, meta.Platform))
	folder := filepath.Join(e.BaseDir, name)
	if err := os.MkdirAll(folder, 0755); err != nil {
		return "", err
	}
	return folder, nil
}

var unsafeNameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// SanitizeName strips characters that are unsafe in file and folder names
// and trims the result to a reasonable length.
func SanitizeName(name string) string {
	clean := unsafeNameChars.ReplaceAllString(name, "")
	clean = strings.TrimSpace(clean)
	clean = strings.Trim(clean, ".")
	if clean == "" {
		clean = "untitled"
	}
	if len(clean) > 200 {
		clean = strings.TrimSpace(clean[:200])
	}
	return clean
}
