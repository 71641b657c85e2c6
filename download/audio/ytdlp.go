package audio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ytDlpEntry is the subset of yt-dlp's JSON output the provider cares about.
type ytDlpEntry struct {
	ID         string  `json:"id,omitempty"`
	Title      string  `json:"title,omitempty"`
	Uploader   string  `json:"uploader,omitempty"`
	Artist     string  `json:"artist,omitempty"`
	Album      string  `json:"album,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
	WebpageURL string  `json:"webpage_url,omitempty"`
	URL        string  `json:"url,omitempty"`
}

// Provider implements Extractor by shelling out to yt-dlp.
type Provider struct {
	// Bin is the yt-dlp executable; defaults to "yt-dlp" on PATH.
	Bin string
}

// NewProvider creates a yt-dlp backed extractor.
func NewProvider() *Provider {
	return &Provider{Bin: "yt-dlp"}
}

func (p *Provider) bin() string {
	if p.Bin != "" {
		return p.Bin
	}
	return "yt-dlp"
}

// Probe fetches metadata for a single item without downloading it.
func (p *Provider) Probe(ctx context.Context, url string) (*Metadata, error) {
	args := []string{
		"--quiet",
		"--no-warnings",
		"--no-playlist",
		"--skip-download",
		"--dump-json",
		url,
	}
	out, err := exec.CommandContext(ctx, p.bin(), args...).Output()
	if err != nil {
		return nil, classifyExecErr("metadata probe failed", err, ctx)
	}

	var entry ytDlpEntry
	if err := json.Unmarshal(firstLine(out), &entry); err != nil {
		return nil, &ExtractionError{Message: "failed to parse yt-dlp metadata", Original: err}
	}
	return &Metadata{
		Title:    entry.Title,
		Artist:   entryArtist(entry),
		Album:    entry.Album,
		Duration: int(entry.Duration),
		Platform: platformFromURL(url),
	}, nil
}

// ListPlaylist enumerates playlist entries in platform-listing order without
// downloading anything.
func (p *Provider) ListPlaylist(ctx context.Context, url string, max int) (*PlaylistListing, error) {
	args := []string{
		"--quiet",
		"--no-warnings",
		"--flat-playlist",
		"--dump-json",
	}
	if max > 0 {
		args = append(args, "--playlist-end", strconv.Itoa(max))
	}
	args = append(args, url)

	out, err := exec.CommandContext(ctx, p.bin(), args...).Output()
	if err != nil {
		return nil, classifyExecErr("playlist listing failed", err, ctx)
	}

	listing := &PlaylistListing{}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		var entry ytDlpEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		entryURL := entry.WebpageURL
		if entryURL == "" {
			entryURL = entry.URL
		}
		listing.Entries = append(listing.Entries, PlaylistEntry{
			Title:    entry.Title,
			Uploader: entry.Uploader,
			URL:      entryURL,
		})
		if listing.Title == "" && entry.Uploader != "" {
			listing.Uploader = entry.Uploader
		}
	}
	if len(listing.Entries) == 0 {
		return nil, &ExtractionError{Message: "no entries found in playlist"}
	}
	return listing, nil
}

// Extract downloads one item as mp3 at the requested bitrate. Progress lines
// from yt-dlp are parsed and forwarded to req.Progress.
func (p *Provider) Extract(ctx context.Context, req Request) (*Result, error) {
	target := req.URL
	if target == "" {
		if req.Query == "" {
			return nil, &ExtractionError{Message: "no URL or search query provided"}
		}
		target = "ytsearch1:" + req.Query
	}

	template := filepath.Join(req.OutputDir,
		fmt.Sprintf("%%(artist,uploader)s - %%(title)s [%skbps].%%(ext)s", req.Quality))
	args := []string{
		"--no-warnings",
		"--newline",
		"--no-playlist",
		"--extract-audio",
		"--audio-format", "mp3",
		"--audio-quality", req.Quality.Bitrate(),
		"--output", template,
		target,
	}

	cmd := exec.CommandContext(ctx, p.bin(), args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ExtractionError{Message: "failed to open yt-dlp pipe", Original: err}
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, &ExtractionError{Message: "failed to start yt-dlp", Original: err}
	}

	filePath := ""
	var tail []string
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tail = append(tail, line)
		if len(tail) > 20 {
			tail = tail[1:]
		}
		if pct, ok := parseProgressLine(line); ok && req.Progress != nil {
			req.Progress(pct)
		}
		if dest, ok := parseDestinationLine(line); ok {
			filePath = dest
		}
	}

	if err := cmd.Wait(); err != nil {
		joined := strings.Join(tail, "\n")
		if strings.Contains(joined, "429") || strings.Contains(joined, "rate limit") {
			return nil, &ExtractionError{Message: "rate limited by provider", Original: err}
		}
		return nil, classifyExecErr(fmt.Sprintf("yt-dlp failed: %s", joined), err, ctx)
	}

	if filePath == "" {
		return nil, &ExtractionError{Message: "yt-dlp reported no output file"}
	}
	// yt-dlp reports the pre-conversion destination; the final file is mp3.
	if ext := filepath.Ext(filePath); ext != ".mp3" {
		filePath = strings.TrimSuffix(filePath, ext) + ".mp3"
	}

	info, statErr := os.Stat(filePath)
	if statErr != nil {
		return nil, &ExtractionError{Message: "downloaded file missing", Original: statErr}
	}

	if req.Progress != nil {
		req.Progress(100)
	}
	return &Result{
		FilePath: filePath,
		FileSize: info.Size(),
		Metadata: Metadata{
			Title:    strings.TrimSuffix(filepath.Base(filePath), ".mp3"),
			Platform: platformFromURL(req.URL),
		},
	}, nil
}

// parseProgressLine extracts the percentage from a "[download]  43.2% of ..."
// line.
func parseProgressLine(line string) (int, bool) {
	if !strings.HasPrefix(line, "[download]") {
		return 0, false
	}
	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.HasSuffix(fields[1], "%") {
		return 0, false
	}
	pct, err := strconv.ParseFloat(strings.TrimSuffix(fields[1], "%"), 64)
	if err != nil {
		return 0, false
	}
	return int(pct), true
}

// parseDestinationLine extracts the output path from destination lines
// emitted by the downloader and the audio extractor stages.
func parseDestinationLine(line string) (string, bool) {
	for _, prefix := range []string{"[ExtractAudio] Destination: ", "[download] Destination: "} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimPrefix(line, prefix), true
		}
	}
	return "", false
}

func classifyExecErr(msg string, err error, ctx context.Context) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return context.DeadlineExceeded
	case context.Canceled:
		return ErrCancelled
	}
	return &ExtractionError{Message: msg, Original: err}
}

func entryArtist(e ytDlpEntry) string {
	if e.Artist != "" {
		return e.Artist
	}
	return e.Uploader
}

func firstLine(out []byte) []byte {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return []byte(s)
}

func platformFromURL(url string) string {
	switch {
	case strings.Contains(url, "music.youtube.com"):
		return "youtube_music"
	case strings.Contains(url, "youtube.com"), strings.Contains(url, "youtu.be"):
		return "youtube"
	case strings.Contains(url, "spotify.com"), strings.HasPrefix(url, "spotify:"):
		return "spotify"
	default:
		return "unknown"
	}
}
