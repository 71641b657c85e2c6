// Package resolver turns submitted music links into ordered download plans.
// A single track resolves to a one-item plan; albums and playlists resolve
// to one item per track, capped at MaxBatchItems.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/tunedl/tunedl/download/store"
)

// MaxBatchItems caps how many tracks a single batch may contain. Plans over
// the cap are truncated and flagged as limited.
const MaxBatchItems = 50

// ErrUnsupportedURL is returned for links that match no known platform shape.
var ErrUnsupportedURL = errors.New("unsupported or unrecognized URL")

// ResolutionError wraps upstream catalog or listing failures.
type ResolutionError struct {
	Kind     LinkKind
	Original error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve %s link: %v", e.Kind, e.Original)
}

func (e *ResolutionError) Unwrap() error { return e.Original }

// TrackInfo describes one track from a catalog lookup.
type TrackInfo struct {
	Title    string
	Artist   string
	Album    string
	Duration int
}

// CollectionInfo describes an album or playlist and its tracks in
// platform order.
type CollectionInfo struct {
	Title  string
	Owner  string
	Tracks []TrackInfo
}

// Catalog looks up Spotify metadata. Implemented by the spotify package.
type Catalog interface {
	Track(ctx context.Context, url string) (*TrackInfo, error)
	Album(ctx context.Context, url string) (*CollectionInfo, error)
	Playlist(ctx context.Context, url string) (*CollectionInfo, error)
}

// Lister enumerates YouTube playlists. Implemented by the audio provider.
type Lister interface {
	ListPlaylist(ctx context.Context, url string, max int) (*Listing, error)
}

// Listing mirrors the audio package's playlist shape without importing it,
// so the resolver stays decoupled from the extraction layer.
type Listing struct {
	Title    string
	Uploader string
	Entries  []ListingEntry
}

// ListingEntry is one playlist row.
type ListingEntry struct {
	Title    string
	Uploader string
	URL      string
}

// Item is one planned download within a batch.
type Item struct {
	// Index is the zero-based position within the batch.
	Index int
	// Name is the display name shown in progress updates.
	Name string
	// SourceURL is a direct link when the platform provides one.
	SourceURL string
	// Query is a search fallback used when no direct link exists
	// (Spotify tracks are fetched by searching "artist title").
	Query string
}

// Plan is a fully resolved batch ready for execution.
type Plan struct {
	Meta  store.BatchMeta
	Items []Item
	// TotalTracks is the source collection size before the batch cap was
	// applied; equal to len(Items) when nothing was trimmed.
	TotalTracks int
	Limited     bool
}

// Resolver classifies URLs and expands collections into plans.
type Resolver struct {
	catalog Catalog
	lister  Lister
}

// New creates a resolver. catalog may be nil when Spotify credentials are
// not configured; Spotify links then fail with a ResolutionError.
func New(catalog Catalog, lister Lister) *Resolver {
	return &Resolver{catalog: catalog, lister: lister}
}

// Resolve normalizes, classifies, and expands a URL into a Plan. Item order
// matches the platform's listing order.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*Plan, error) {
	url := NormalizeURL(rawURL)
	kind := Classify(url)
	if kind == KindUnknown {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedURL, rawURL)
	}

	switch kind {
	case KindSpotifyTrack:
		return r.resolveSpotifyTrack(ctx, url, kind)
	case KindSpotifyAlbum, KindSpotifyPlaylist:
		return r.resolveSpotifyCollection(ctx, url, kind)
	case KindYouTubePlaylist, KindYTMusicPlaylist:
		return r.resolveYouTubePlaylist(ctx, url, kind)
	default:
		return r.resolveSingleVideo(url, kind), nil
	}
}

func (r *Resolver) resolveSpotifyTrack(ctx context.Context, url string, kind LinkKind) (*Plan, error) {
	if r.catalog == nil {
		return nil, &ResolutionError{Kind: kind, Original: errors.New("spotify catalog not configured")}
	}
	track, err := r.catalog.Track(ctx, url)
	if err != nil {
		return nil, &ResolutionError{Kind: kind, Original: err}
	}
	name := trackName(track.Artist, track.Title)
	return &Plan{
		Meta: store.BatchMeta{
			Title:    name,
			Platform: kind.Platform(),
			Type:     "track",
			URL:      url,
		},
		Items:       []Item{{Index: 0, Name: name, Query: name}},
		TotalTracks: 1,
	}, nil
}

func (r *Resolver) resolveSpotifyCollection(ctx context.Context, url string, kind LinkKind) (*Plan, error) {
	if r.catalog == nil {
		return nil, &ResolutionError{Kind: kind, Original: errors.New("spotify catalog not configured")}
	}

	var (
		info *CollectionInfo
		err  error
		typ  string
	)
	if kind == KindSpotifyAlbum {
		info, err = r.catalog.Album(ctx, url)
		typ = "album"
	} else {
		info, err = r.catalog.Playlist(ctx, url)
		typ = "playlist"
	}
	if err != nil {
		return nil, &ResolutionError{Kind: kind, Original: err}
	}
	if len(info.Tracks) == 0 {
		return nil, &ResolutionError{Kind: kind, Original: errors.New("collection has no tracks")}
	}

	tracks := info.Tracks
	total := len(tracks)
	limited := false
	if len(tracks) > MaxBatchItems {
		tracks = tracks[:MaxBatchItems]
		limited = true
	}

	items := make([]Item, len(tracks))
	for i, t := range tracks {
		name := trackName(t.Artist, t.Title)
		items[i] = Item{Index: i, Name: name, Query: name}
	}
	return &Plan{
		Meta: store.BatchMeta{
			Title:    info.Title,
			Platform: kind.Platform(),
			Type:     typ,
			URL:      url,
		},
		Items:       items,
		TotalTracks: total,
		Limited:     limited,
	}, nil
}

func (r *Resolver) resolveYouTubePlaylist(ctx context.Context, url string, kind LinkKind) (*Plan, error) {
	if r.lister == nil {
		return nil, &ResolutionError{Kind: kind, Original: errors.New("playlist lister not configured")}
	}
	// Ask for one past the cap so truncation is detectable.
	listing, err := r.lister.ListPlaylist(ctx, url, MaxBatchItems+1)
	if err != nil {
		return nil, &ResolutionError{Kind: kind, Original: err}
	}
	if len(listing.Entries) == 0 {
		return nil, &ResolutionError{Kind: kind, Original: errors.New("playlist has no entries")}
	}

	// The lister only fetches one entry past the cap, so this count is a
	// lower bound for very long playlists.
	entries := listing.Entries
	total := len(entries)
	limited := false
	if len(entries) > MaxBatchItems {
		entries = entries[:MaxBatchItems]
		limited = true
	}

	items := make([]Item, len(entries))
	for i, e := range entries {
		name := e.Title
		if name == "" {
			name = e.URL
		}
		items[i] = Item{Index: i, Name: name, SourceURL: e.URL}
	}

	title := listing.Title
	if title == "" {
		title = "Playlist"
	}
	return &Plan{
		Meta: store.BatchMeta{
			Title:    title,
			Platform: kind.Platform(),
			Type:     "playlist",
			URL:      url,
		},
		Items:       items,
		TotalTracks: total,
		Limited:     limited,
	}, nil
}

func (r *Resolver) resolveSingleVideo(url string, kind LinkKind) *Plan {
	return &Plan{
		Meta: store.BatchMeta{
			Title:    url,
			Platform: kind.Platform(),
			Type:     "track",
			URL:      url,
		},
		Items:       []Item{{Index: 0, Name: url, SourceURL: url}},
		TotalTracks: 1,
	}
}

func trackName(artist, title string) string {
	if artist == "" {
		return title
	}
	return artist + " - " + title
}
