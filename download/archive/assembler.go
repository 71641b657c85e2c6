// Package archive packages finished batch downloads into zip files and
// cleans up batch folders afterwards.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tunedl/tunedl/download/logging"
	"github.com/tunedl/tunedl/download/store"
)

var (
	// ErrNotCompleted is returned when archiving is requested for a batch
	// that did not finish with at least one completed item.
	ErrNotCompleted = errors.New("download not completed")
	// ErrNoFiles is returned when no completed item left a file to pack.
	ErrNoFiles = errors.New("no downloaded files to archive")
)

// Assembler creates and removes batch archives.
type Assembler struct {
	store  *store.Store
	logger *logging.Logger
}

// NewAssembler creates an assembler over the given store.
func NewAssembler(s *store.Store, logger *logging.Logger) *Assembler {
	return &Assembler{store: s, logger: logger}
}

// Create packs the completed item files into a zip next to the batch folder
// and records the archive on the batch. Calling it again for an
// already-archived batch returns the existing archive path.
func (a *Assembler) Create(id string) (string, error) {
	job, err := a.store.Get(id)
	if err != nil {
		return "", err
	}
	if job.Status != store.BatchStatusCompleted {
		return "", ErrNotCompleted
	}
	if job.ArchivePath != "" {
		if _, statErr := os.Stat(job.ArchivePath); statErr == nil {
			return job.ArchivePath, nil
		}
		// Stale reference from a removed archive; rebuild.
	}
	if job.Folder == "" {
		return "", ErrNoFiles
	}

	var files []string
	for _, item := range job.Items {
		if item.Status == store.ItemStatusCompleted && item.Filename != "" {
			files = append(files, item.Filename)
		}
	}
	if len(files) == 0 {
		return "", ErrNoFiles
	}

	zipPath := job.Folder + ".zip"
	size, err := packFiles(job.Folder, files, zipPath)
	if err != nil {
		_ = os.Remove(zipPath)
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	if err := a.store.SetArchive(id, zipPath, size); err != nil {
		return "", err
	}
	a.logger.InfoBatch("archive", id, fmt.Sprintf("created %s (%d bytes)", filepath.Base(zipPath), size))
	return zipPath, nil
}

// Cleanup removes the batch folder and drops the batch from the store. When
// keepArchive is set an existing zip survives. Cleanup is idempotent.
func (a *Assembler) Cleanup(id string, keepArchive bool) error {
	job, err := a.store.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	if job.Folder != "" {
		if err := os.RemoveAll(job.Folder); err != nil {
			return fmt.Errorf("failed to remove download folder: %w", err)
		}
	}
	if !keepArchive && job.ArchivePath != "" {
		if err := os.Remove(job.ArchivePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove archive: %w", err)
		}
	}

	a.store.Delete(id)
	a.logger.InfoBatch("cleanup", id, fmt.Sprintf("cleaned up (keep_zip=%t)", keepArchive))
	return nil
}

// packFiles zips the named files from folder and returns the archive size.
func packFiles(folder string, names []string, zipPath string) (int64, error) {
	out, err := os.Create(zipPath)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, name := range names {
		if err := addFile(zw, folder, name); err != nil {
			zw.Close()
			return 0, err
		}
	}
	if err := zw.Close(); err != nil {
		return 0, err
	}

	info, err := os.Stat(zipPath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func addFile(zw *zip.Writer, folder, name string) error {
	src, err := os.Open(filepath.Join(folder, name))
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	return err
}
