package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a download identifier is unknown.
var ErrNotFound = errors.New("download not found")

// ItemStatus represents the status of a single item in a batch.
type ItemStatus string

const (
	ItemStatusPending     ItemStatus = "pending"
	ItemStatusDownloading ItemStatus = "downloading"
	ItemStatusCompleted   ItemStatus = "completed"
	ItemStatusFailed      ItemStatus = "failed"
)

// Terminal reports whether the status is a terminal item state.
func (s ItemStatus) Terminal() bool {
	return s == ItemStatusCompleted || s == ItemStatusFailed
}

// BatchStatus represents the overall status of a batch download.
type BatchStatus string

const (
	BatchStatusStarting    BatchStatus = "starting"
	BatchStatusDownloading BatchStatus = "downloading"
	BatchStatusCompleted   BatchStatus = "completed"
	BatchStatusFailed      BatchStatus = "failed"
	BatchStatusCancelled   BatchStatus = "cancelled"
)

// Terminal reports whether the status is a terminal batch state.
func (s BatchStatus) Terminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed || s == BatchStatusCancelled
}

// ItemJob tracks one downloadable item within a batch.
type ItemJob struct {
	Index    int        `json:"index"`
	Name     string     `json:"name"`
	Status   ItemStatus `json:"status"`
	Progress int        `json:"progress"`
	Error    string     `json:"error,omitempty"`
	Filename string     `json:"filename,omitempty"`
}

// BatchMeta carries the resolved description of a batch, set once at creation.
type BatchMeta struct {
	Title    string
	Platform string
	Type     string
	URL      string
}

// BatchJob is the mutable tracking state for one download identifier.
// All mutation goes through Store methods; readers only ever see copies.
type BatchJob struct {
	ID              string      `json:"download_id"`
	Title           string      `json:"title"`
	Platform        string      `json:"platform"`
	Type            string      `json:"type"`
	URL             string      `json:"url"`
	Folder          string      `json:"folder,omitempty"`
	Items           []ItemJob   `json:"items"`
	Status          BatchStatus `json:"overall_status"`
	OverallProgress int         `json:"overall_progress"`
	CompletedCount  int         `json:"completed_files"`
	FailedCount     int         `json:"failed_files"`
	CurrentIndex    int         `json:"current_file_index"`
	CurrentName     string      `json:"current_file_name,omitempty"`
	CurrentProgress int         `json:"current_file_progress"`
	Message         string      `json:"message,omitempty"`
	Error           string      `json:"error,omitempty"`
	ArchivePath     string      `json:"archive_path,omitempty"`
	ArchiveSize     int64       `json:"archive_size,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`

	// Seq increases on every mutation of this batch. Subscribers use it to
	// detect changes and to keep emitted snapshots in order.
	Seq uint64 `json:"-"`
}

// TotalItems returns the number of items in the batch.
func (b *BatchJob) TotalItems() int {
	return len(b.Items)
}

// clone returns a deep copy safe to hand to concurrent readers.
func (b *BatchJob) clone() BatchJob {
	out := *b
	out.Items = make([]ItemJob, len(b.Items))
	copy(out.Items, b.Items)
	return out
}

// record bundles a batch with its cancellation and change-notification state.
type record struct {
	job       BatchJob
	cancelled bool
	cancelCh  chan struct{}
	watchers  map[chan struct{}]struct{}
}
