// Package spotify resolves Spotify links to track metadata through the
// spotigo client, with response caching and proactive rate limiting.
package spotify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sv4u/spotigo"

	"github.com/tunedl/tunedl/download/resolver"
)

// Config holds Spotify API credentials and client tuning.
type Config struct {
	ClientID     string
	ClientSecret string

	CacheMaxSize int
	CacheTTL     time.Duration

	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Catalog implements resolver.Catalog against the Spotify Web API.
type Catalog struct {
	client  *spotigo.Client
	cache   *ttlCache
	limiter *rateLimiter
}

// NewCatalog creates a catalog using client-credentials auth.
func NewCatalog(cfg Config) (*Catalog, error) {
	auth, err := spotigo.NewClientCredentials(cfg.ClientID, cfg.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create spotify auth: %w", err)
	}
	client, err := spotigo.NewClient(auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create spotify client: %w", err)
	}

	maxSize := cfg.CacheMaxSize
	if maxSize <= 0 {
		maxSize = 256
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	requests := cfg.RateLimitRequests
	if requests <= 0 {
		requests = 10
	}
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Second
	}

	return &Catalog{
		client:  client,
		cache:   newTTLCache(maxSize, ttl),
		limiter: newRateLimiter(cfg.RateLimitEnabled, requests, window),
	}, nil
}

// Track resolves a single track link.
func (c *Catalog) Track(ctx context.Context, url string) (*resolver.TrackInfo, error) {
	id, err := spotigo.GetID(url, "track")
	if err != nil {
		return nil, &APIError{Message: "invalid track URL", Original: err}
	}

	cacheKey := "track:" + id
	if cached := c.cache.get(cacheKey); cached != nil {
		if info, ok := cached.(*resolver.TrackInfo); ok {
			return info, nil
		}
	}

	if err := c.limiter.wait(ctx); err != nil {
		return nil, err
	}
	track, err := c.client.Track(ctx, url)
	if err != nil {
		return nil, c.wrapErr(err)
	}

	info := &resolver.TrackInfo{
		Title:  track.Name,
		Artist: firstArtist(track.Artists),
	}
	if track.Album != nil {
		info.Album = track.Album.Name
	}
	c.cache.set(cacheKey, info)
	return info, nil
}

// Album resolves an album link with all its tracks, paginating as needed.
func (c *Catalog) Album(ctx context.Context, url string) (*resolver.CollectionInfo, error) {
	id, err := spotigo.GetID(url, "album")
	if err != nil {
		return nil, &APIError{Message: "invalid album URL", Original: err}
	}

	cacheKey := "album:" + id
	if cached := c.cache.get(cacheKey); cached != nil {
		if info, ok := cached.(*resolver.CollectionInfo); ok {
			return info, nil
		}
	}

	if err := c.limiter.wait(ctx); err != nil {
		return nil, err
	}
	album, err := c.client.Album(ctx, url)
	if err != nil {
		return nil, c.wrapErr(err)
	}

	info := &resolver.CollectionInfo{
		Title: album.Name,
		Owner: firstArtist(album.Artists),
	}
	albumArtist := firstArtist(album.Artists)

	paging := album.Tracks
	for paging != nil {
		for _, track := range paging.Items {
			artist := firstSimplifiedArtist(track.Artists)
			if artist == "" {
				artist = albumArtist
			}
			info.Tracks = append(info.Tracks, resolver.TrackInfo{
				Title:  track.Name,
				Artist: artist,
				Album:  album.Name,
			})
		}
		if paging.GetNext() == nil {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.limiter.wait(ctx); err != nil {
			return nil, err
		}
		paging, err = spotigo.NextGeneric[spotigo.SimplifiedTrack](c.client, ctx, paging)
		if err != nil {
			return nil, c.wrapErr(err)
		}
		if paging == nil {
			break
		}
	}

	c.cache.set(cacheKey, info)
	return info, nil
}

// Playlist resolves a playlist link with all its tracks, paginating as
// needed. Local tracks are skipped since they cannot be downloaded.
func (c *Catalog) Playlist(ctx context.Context, url string) (*resolver.CollectionInfo, error) {
	id, err := spotigo.GetID(url, "playlist")
	if err != nil {
		return nil, &APIError{Message: "invalid playlist URL", Original: err}
	}

	cacheKey := "playlist:" + id
	if cached := c.cache.get(cacheKey); cached != nil {
		if info, ok := cached.(*resolver.CollectionInfo); ok {
			return info, nil
		}
	}

	if err := c.limiter.wait(ctx); err != nil {
		return nil, err
	}
	playlist, err := c.client.Playlist(ctx, url, nil)
	if err != nil {
		return nil, c.wrapErr(err)
	}

	info := &resolver.CollectionInfo{Title: playlist.Name}

	if err := c.limiter.wait(ctx); err != nil {
		return nil, err
	}
	paging, err := c.client.PlaylistTracks(ctx, id, nil)
	if err != nil {
		return nil, c.wrapErr(err)
	}
	for paging != nil {
		for _, item := range paging.Items {
			title, artist, ok := playlistTrackFields(item)
			if !ok {
				continue
			}
			info.Tracks = append(info.Tracks, resolver.TrackInfo{Title: title, Artist: artist})
		}
		if paging.GetNext() == nil {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.limiter.wait(ctx); err != nil {
			return nil, err
		}
		paging, err = spotigo.NextGeneric[spotigo.PlaylistTrack](c.client, ctx, paging)
		if err != nil {
			return nil, c.wrapErr(err)
		}
		if paging == nil {
			break
		}
	}

	c.cache.set(cacheKey, info)
	return info, nil
}

// ClearCache drops all cached catalog responses.
func (c *Catalog) ClearCache() {
	c.cache.clear()
}

// playlistTrackFields unpacks the track inside a playlist entry, which
// spotigo surfaces as either a Track or a SimplifiedTrack.
func playlistTrackFields(item spotigo.PlaylistTrack) (title, artist string, ok bool) {
	switch t := item.Track.(type) {
	case *spotigo.Track:
		if t == nil || t.IsLocal {
			return "", "", false
		}
		return t.Name, firstArtist(t.Artists), true
	case spotigo.Track:
		if t.IsLocal {
			return "", "", false
		}
		return t.Name, firstArtist(t.Artists), true
	case *spotigo.SimplifiedTrack:
		if t == nil || t.IsLocal {
			return "", "", false
		}
		return t.Name, firstSimplifiedArtist(t.Artists), true
	case spotigo.SimplifiedTrack:
		if t.IsLocal {
			return "", "", false
		}
		return t.Name, firstSimplifiedArtist(t.Artists), true
	default:
		return "", "", false
	}
}

func firstArtist(artists []spotigo.Artist) string {
	if len(artists) == 0 {
		return ""
	}
	return artists[0].Name
}

func firstSimplifiedArtist(artists []spotigo.SimplifiedArtist) string {
	if len(artists) == 0 {
		return ""
	}
	return artists[0].Name
}

func (c *Catalog) wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if isRateLimited(err) {
		return &RateLimitError{RetryAfter: retryAfter(err), Original: err}
	}
	return &APIError{Message: "request failed", Original: err}
}

func isRateLimited(err error) bool {
	if httpErr, ok := err.(interface{ StatusCode() int }); ok {
		return httpErr.StatusCode() == http.StatusTooManyRequests
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}

func retryAfter(err error) int {
	if httpErr, ok := err.(interface{ RetryAfter() int }); ok {
		if after := httpErr.RetryAfter(); after > 0 {
			return after
		}
	}
	return 1
}
