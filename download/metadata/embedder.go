// Package metadata embeds ID3 tags into downloaded mp3 files. Tagging is
// best effort; callers treat failures as warnings.
package metadata

import (
	"fmt"
	"strings"

	"github.com/bogem/id3v2/v2"

	"github.com/tunedl/tunedl/download/audio"
)

// MetadataError wraps tagging failures.
type MetadataError struct {
	Message  string
	Original error
}

func (e *MetadataError) Error() string {
	if e.Original != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Original)
	}
	return e.Message
}

func (e *MetadataError) Unwrap() error { return e.Original }

// Embedder writes track metadata into finished files. It implements the
// batch executor's Tagger hook.
type Embedder struct{}

// NewEmbedder creates an embedder.
func NewEmbedder() *Embedder {
	return &Embedder{}
}

// Tag writes title, artist, album and source platform into the file's ID3
// tag. Only mp3 files are tagged; other extensions are skipped silently.
func (e *Embedder) Tag(path string, meta audio.Metadata) error {
	if !strings.HasSuffix(strings.ToLower(path), ".mp3") {
		return nil
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		tag, err = id3v2.Open(path, id3v2.Options{Parse: false})
		if err != nil {
			return &MetadataError{Message: "failed to open mp3 for tagging", Original: err}
		}
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)

	if meta.Title != "" {
		tag.SetTitle(meta.Title)
	}
	if meta.Artist != "" {
		tag.SetArtist(meta.Artist)
	}
	if meta.Album != "" {
		tag.SetAlbum(meta.Album)
	}
	if meta.Platform != "" {
		tag.AddTextFrame(tag.CommonID("TENC"), id3v2.EncodingUTF8, meta.Platform)
	}

	if err := tag.Save(); err != nil {
		return &MetadataError{Message: "failed to save mp3 metadata", Original: err}
	}
	return nil
}
