// Package audio defines the extraction capability boundary: given a source
// URL or search query, produce an audio file at a requested bitrate plus
// title/artist/duration metadata, or fail with a classified error. The
// orchestration core depends only on the Extractor interface; the yt-dlp
// implementation lives alongside it.
package audio

import (
	"context"
	"errors"
	"fmt"
)

// Quality is an audio bitrate in kbps. Only the enumerated values are valid;
// anything else fails validation rather than silently substituting a default.
type Quality string

const (
	Quality96      Quality = "96"
	Quality128     Quality = "128"
	Quality192     Quality = "192"
	Quality320     Quality = "320"
	DefaultQuality         = Quality192
)

// ErrInvalidQuality is returned when a bitrate outside the supported set is
// requested.
var ErrInvalidQuality = errors.New("unsupported audio quality")

// ParseQuality validates a quality string. Empty input yields the default.
func ParseQuality(s string) (Quality, error) {
	if s == "" {
		return DefaultQuality, nil
	}
	switch Quality(s) {
	case Quality96, Quality128, Quality192, Quality320:
		return Quality(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidQuality, s)
}

// Bitrate returns the quality as a yt-dlp/ffmpeg bitrate argument.
func (q Quality) Bitrate() string {
	return string(q) + "k"
}

// Qualities returns the supported quality set with descriptions, for the API.
func Qualities() map[Quality]string {
	return map[Quality]string{
		Quality96:  "Low quality",
		Quality128: "Standard quality",
		Quality192: "High quality",
		Quality320: "Maximum quality",
	}
}

// Metadata describes one resolvable audio item.
type Metadata struct {
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album,omitempty"`
	Duration int    `json:"duration"` // seconds
	Platform string `json:"platform"`
}

// Request asks for one item to be extracted.
type Request struct {
	// URL is the direct source URL when known; Query is a search string used
	// to re-resolve the item when no direct URL is available. One of the two
	// must be set.
	URL   string
	Query string

	Quality   Quality
	OutputDir string

	// Progress, when non-nil, receives the item's own download percentage.
	Progress func(percent int)
}

// Result is a successfully extracted item.
type Result struct {
	FilePath string
	FileSize int64
	Metadata Metadata
}

// PlaylistEntry is one listed item of a playlist or album.
type PlaylistEntry struct {
	Title    string
	Uploader string
	URL      string
}

// PlaylistListing is the flat listing of a playlist without downloading it.
type PlaylistListing struct {
	Title    string
	Uploader string
	Entries  []PlaylistEntry
}

// Extractor is the external collaborator that turns a source reference into
// an audio file. Implementations must honor ctx cancellation and deadlines.
type Extractor interface {
	// Probe fetches metadata for a single item without downloading.
	Probe(ctx context.Context, url string) (*Metadata, error)

	// Extract downloads one item and returns the produced file.
	Extract(ctx context.Context, req Request) (*Result, error)

	// ListPlaylist enumerates up to max entries of a playlist in
	// platform-listing order.
	ListPlaylist(ctx context.Context, url string, max int) (*PlaylistListing, error)
}
