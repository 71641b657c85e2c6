package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bogem/id3v2/v2"

	"github.com/tunedl/tunedl/download/audio"
)

func TestTag_SkipsNonMP3(t *testing.T) {
	e := NewEmbedder()
	path := filepath.Join(t.TempDir(), "song.flac")
	if err := os.WriteFile(path, []byte("not audio"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := e.Tag(path, audio.Metadata{Title: "X"}); err != nil {
		t.Errorf("non-mp3 should be skipped, got %v", err)
	}
}

func TestTag_WritesAndReadsBack(t *testing.T) {
	e := NewEmbedder()
	path := filepath.Join(t.TempDir(), "song.mp3")
	// An empty file is enough for id3v2 to prepend a tag to.
	if err := os.WriteFile(path, []byte{}, 0644); err != nil {
		t.Fatal(err)
	}

	meta := audio.Metadata{
		Title:    "Harder Better Faster Stronger",
		Artist:   "Daft Punk",
		Album:    "Discovery",
		Platform: "spotify",
	}
	if err := e.Tag(path, meta); err != nil {
		t.Fatal(err)
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		t.Fatal(err)
	}
	defer tag.Close()

	if got := tag.Title(); got != meta.Title {
		t.Errorf("title = %q", got)
	}
	if got := tag.Artist(); got != meta.Artist {
		t.Errorf("artist = %q", got)
	}
	if got := tag.Album(); got != meta.Album {
		t.Errorf("album = %q", got)
	}
}

func TestTag_MissingFile(t *testing.T) {
	e := NewEmbedder()
	err := e.Tag(filepath.Join(t.TempDir(), "absent.mp3"), audio.Metadata{Title: "X"})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, ok := err.(*MetadataError); !ok {
		t.Errorf("want MetadataError, got %T", err)
	}
}
