package resolver

import (
	"regexp"
	"strings"
)

// LinkKind identifies what a submitted URL points at.
type LinkKind string

const (
	KindUnknown         LinkKind = ""
	KindSpotifyTrack    LinkKind = "spotify_track"
	KindSpotifyAlbum    LinkKind = "spotify_album"
	KindSpotifyPlaylist LinkKind = "spotify_playlist"
	KindYouTubeVideo    LinkKind = "youtube_video"
	KindYouTubePlaylist LinkKind = "youtube_playlist"
	KindYTMusicTrack    LinkKind = "youtube_music_track"
	KindYTMusicPlaylist LinkKind = "youtube_music_playlist"
)

// Platform returns the platform label used in API responses and folder names.
func (k LinkKind) Platform() string {
	switch k {
	case KindSpotifyTrack, KindSpotifyAlbum, KindSpotifyPlaylist:
		return "spotify"
	case KindYTMusicTrack, KindYTMusicPlaylist:
		return "youtube_music"
	case KindYouTubeVideo, KindYouTubePlaylist:
		return "youtube"
	default:
		return "unknown"
	}
}

// Batch reports whether the kind resolves to more than one item.
func (k LinkKind) Batch() bool {
	switch k {
	case KindSpotifyAlbum, KindSpotifyPlaylist, KindYouTubePlaylist, KindYTMusicPlaylist:
		return true
	}
	return false
}

// Spotify URLs may carry a locale segment (open.spotify.com/intl-de/track/...)
// which the API does not accept.
var spotifyIntlRe = regexp.MustCompile(`open\.spotify\.com/intl-[a-zA-Z-]+/`)

var (
	spotifyTrackRe    = regexp.MustCompile(`open\.spotify\.com/track/[a-zA-Z0-9]+`)
	spotifyAlbumRe    = regexp.MustCompile(`open\.spotify\.com/album/[a-zA-Z0-9]+`)
	spotifyPlaylistRe = regexp.MustCompile(`open\.spotify\.com/playlist/[a-zA-Z0-9]+`)

	ytMusicWatchRe    = regexp.MustCompile(`music\.youtube\.com/watch\?`)
	ytMusicPlaylistRe = regexp.MustCompile(`music\.youtube\.com/playlist\?`)

	youtubePlaylistRe = regexp.MustCompile(`(?:www\.)?youtube\.com/playlist\?`)
	youtubeWatchRe    = regexp.MustCompile(`(?:www\.)?youtube\.com/(?:watch\?|embed/|shorts/)|youtu\.be/`)
)

// NormalizeURL strips Spotify locale segments and whitespace so downstream
// clients see canonical links.
func NormalizeURL(rawURL string) string {
	url := strings.TrimSpace(rawURL)
	return spotifyIntlRe.ReplaceAllString(url, "open.spotify.com/")
}

// Classify determines the link kind of a URL. The URL should be normalized
// first; spotify: URIs are accepted as-is.
func Classify(url string) LinkKind {
	switch {
	case strings.HasPrefix(url, "spotify:track:"):
		return KindSpotifyTrack
	case strings.HasPrefix(url, "spotify:album:"):
		return KindSpotifyAlbum
	case strings.HasPrefix(url, "spotify:playlist:"):
		return KindSpotifyPlaylist
	case spotifyTrackRe.MatchString(url):
		return KindSpotifyTrack
	case spotifyAlbumRe.MatchString(url):
		return KindSpotifyAlbum
	case spotifyPlaylistRe.MatchString(url):
		return KindSpotifyPlaylist
	case ytMusicPlaylistRe.MatchString(url):
		return KindYTMusicPlaylist
	case ytMusicWatchRe.MatchString(url):
		return KindYTMusicTrack
	case youtubePlaylistRe.MatchString(url):
		return KindYouTubePlaylist
	case youtubeWatchRe.MatchString(url):
		return KindYouTubeVideo
	}
	return KindUnknown
}
