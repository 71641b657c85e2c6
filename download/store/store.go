// Package store is the process-wide registry of download batches. It is the
// only shared mutable state in the orchestration core: writes to a batch are
// serialized through the store mutex and every read returns a deep-copied
// snapshot, so observers never see a half-applied update.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store maps download identifiers to batch jobs.
type Store struct {
	mu      sync.RWMutex
	batches map[string]*record
	seq     uint64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		batches: make(map[string]*record),
	}
}

// CreateBatch allocates a fresh download identifier and registers a batch in
// "starting" status with every item pending. Identifiers are random opaque
// tokens, never reused and never derived from a counter.
func (s *Store) CreateBatch(meta BatchMeta, itemNames []string) string {
	now := time.Now()
	items := make([]ItemJob, len(itemNames))
	for i, name := range itemNames {
		items[i] = ItemJob{Index: i, Name: name, Status: ItemStatusPending}
	}

	id := uuid.NewString()
	job := BatchJob{
		ID:        id,
		Title:     meta.Title,
		Platform:  meta.Platform,
		Type:      meta.Type,
		URL:       meta.URL,
		Items:     items,
		Status:    BatchStatusStarting,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	job.Seq = s.seq
	s.batches[id] = &record{
		job:      job,
		cancelCh: make(chan struct{}),
		watchers: make(map[chan struct{}]struct{}),
	}
	return id
}

// Get returns a snapshot of the batch, or ErrNotFound.
func (s *Store) Get(id string) (BatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.batches[id]
	if !ok {
		return BatchJob{}, ErrNotFound
	}
	return rec.job.clone(), nil
}

// List returns snapshots of all known batches.
func (s *Store) List() []BatchJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]BatchJob, 0, len(s.batches))
	for _, rec := range s.batches {
		out = append(out, rec.job.clone())
	}
	return out
}

// Delete removes a batch from the registry. Unknown identifiers are a no-op
// so cleanup stays idempotent.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.batches[id]
	if !ok {
		return
	}
	for ch := range rec.watchers {
		close(ch)
	}
	delete(s.batches, id)
}

// MarkItemDownloading transitions an item to downloading and points the
// batch's current-item tracking at it.
func (s *Store) MarkItemDownloading(id string, index int) error {
	return s.updateItem(id, index, func(job *BatchJob, item *ItemJob) {
		if item.Status.Terminal() {
			return
		}
		item.Status = ItemStatusDownloading
		item.Progress = 0
		job.CurrentIndex = index
		job.CurrentName = item.Name
		job.CurrentProgress = 0
	})
}

// SetItemProgress records the in-flight item's own download progress. It is
// surfaced separately from the aggregate so the aggregate stays monotonic.
func (s *Store) SetItemProgress(id string, index, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return s.updateItem(id, index, func(job *BatchJob, item *ItemJob) {
		if item.Status.Terminal() {
			return
		}
		item.Progress = progress
		if job.CurrentIndex == index {
			job.CurrentProgress = progress
		}
	})
}

// MarkItemCompleted transitions an item to completed and records the produced
// file name on the item itself.
func (s *Store) MarkItemCompleted(id string, index int, filename string) error {
	return s.updateItem(id, index, func(job *BatchJob, item *ItemJob) {
		if item.Status.Terminal() {
			return
		}
		item.Status = ItemStatusCompleted
		item.Progress = 100
		item.Filename = filename
	})
}

// MarkItemFailed transitions an item to failed with a human-readable error.
func (s *Store) MarkItemFailed(id string, index int, errMsg string) error {
	return s.updateItem(id, index, func(job *BatchJob, item *ItemJob) {
		if item.Status.Terminal() {
			return
		}
		item.Status = ItemStatusFailed
		item.Error = errMsg
	})
}

// SetStatus sets the batch's overall status and message.
func (s *Store) SetStatus(id string, status BatchStatus, message string) error {
	return s.update(id, func(job *BatchJob) {
		job.Status = status
		job.Message = message
	})
}

// SetError records a batch-level error and marks the batch failed.
func (s *Store) SetError(id string, errMsg string) error {
	return s.update(id, func(job *BatchJob) {
		job.Status = BatchStatusFailed
		job.Error = errMsg
		job.Message = errMsg
	})
}

// SetFolder records the filesystem folder holding the batch's files.
func (s *Store) SetFolder(id, folder string) error {
	return s.update(id, func(job *BatchJob) {
		job.Folder = folder
	})
}

// SetArchive records the packaged archive reference on the batch.
func (s *Store) SetArchive(id, path string, size int64) error {
	return s.update(id, func(job *BatchJob) {
		job.ArchivePath = path
		job.ArchiveSize = size
	})
}

// Cancel requests cooperative cancellation of a batch. The executor observes
// the flag between items and the signal channel inside the current item.
// Cancelling an already-terminal batch is a no-op.
func (s *Store) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.batches[id]
	if !ok {
		return ErrNotFound
	}
	if rec.cancelled || rec.job.Status.Terminal() {
		return nil
	}
	rec.cancelled = true
	close(rec.cancelCh)
	return nil
}

// Cancelled reports whether cancellation has been requested for the batch.
func (s *Store) Cancelled(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.batches[id]
	return ok && rec.cancelled
}

// CancelSignal returns a channel closed when the batch is cancelled. For an
// unknown identifier it returns an already-closed channel so callers waiting
// on it do not hang.
func (s *Store) CancelSignal(id string) <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.batches[id]
	if !ok {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return rec.cancelCh
}

// Watch registers a change-notification channel for the batch. The channel
// receives a coalesced signal after each mutation and is closed when the
// batch is deleted. The returned cancel func unregisters the watcher.
func (s *Store) Watch(id string) (<-chan struct{}, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.batches[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	ch := make(chan struct{}, 1)
	rec.watchers[ch] = struct{}{}
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.batches[id]; ok {
			if _, registered := cur.watchers[ch]; registered {
				delete(cur.watchers, ch)
				close(ch)
			}
		}
	}
	return ch, cancel, nil
}

// update applies fn to the batch under the store lock, then recomputes the
// derived aggregates and notifies watchers in the same critical section.
func (s *Store) update(id string, fn func(*BatchJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.batches[id]
	if !ok {
		return ErrNotFound
	}
	fn(&rec.job)
	s.finishUpdate(rec)
	return nil
}

func (s *Store) updateItem(id string, index int, fn func(*BatchJob, *ItemJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.batches[id]
	if !ok {
		return ErrNotFound
	}
	if index < 0 || index >= len(rec.job.Items) {
		return ErrNotFound
	}
	fn(&rec.job, &rec.job.Items[index])
	s.finishUpdate(rec)
	return nil
}

// finishUpdate recomputes aggregates, bumps the sequence number, and signals
// watchers. Callers must hold the store lock.
func (s *Store) finishUpdate(rec *record) {
	job := &rec.job
	completed, failed := 0, 0
	for i := range job.Items {
		switch job.Items[i].Status {
		case ItemStatusCompleted:
			completed++
		case ItemStatusFailed:
			failed++
		}
	}
	job.CompletedCount = completed
	job.FailedCount = failed
	if total := len(job.Items); total > 0 {
		job.OverallProgress = 100 * (completed + failed) / total
	}
	job.UpdatedAt = time.Now()

	s.seq++
	job.Seq = s.seq

	for ch := range rec.watchers {
		select {
		case ch <- struct{}{}:
		default:
			// Watcher already has a pending signal.
		}
	}
}
