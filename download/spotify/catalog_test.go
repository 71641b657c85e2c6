package spotify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sv4u/spotigo"
)

func TestTTLCache_SetGet(t *testing.T) {
	c := newTTLCache(4, time.Minute)
	c.set("k", "v")
	if got := c.get("k"); got != "v" {
		t.Errorf("get = %v", got)
	}
	if got := c.get("missing"); got != nil {
		t.Errorf("missing key returned %v", got)
	}
}

func TestTTLCache_Expiry(t *testing.T) {
	c := newTTLCache(4, 10*time.Millisecond)
	c.set("k", "v")
	time.Sleep(20 * time.Millisecond)
	if got := c.get("k"); got != nil {
		t.Errorf("expired entry returned %v", got)
	}
	if c.size() != 0 {
		t.Errorf("expired entry not removed, size = %d", c.size())
	}
}

func TestTTLCache_EvictsAtCapacity(t *testing.T) {
	c := newTTLCache(2, time.Minute)
	c.set("a", 1)
	c.set("b", 2)
	c.set("c", 3)
	if c.size() != 2 {
		t.Errorf("size = %d, want 2", c.size())
	}
	if c.get("c") == nil {
		t.Error("newest entry was evicted")
	}
}

func TestTTLCache_Clear(t *testing.T) {
	c := newTTLCache(4, time.Minute)
	c.set("a", 1)
	c.clear()
	if c.size() != 0 || c.get("a") != nil {
		t.Error("clear did not empty the cache")
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := newRateLimiter(false, 1, time.Hour)
	for i := 0; i < 10; i++ {
		if err := rl.wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRateLimiter_BlocksAtLimit(t *testing.T) {
	rl := newRateLimiter(true, 2, 100*time.Millisecond)
	ctx := context.Background()
	if err := rl.wait(ctx); err != nil {
		t.Fatal(err)
	}
	if err := rl.wait(ctx); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := rl.wait(ctx); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("third request should have waited, took %s", elapsed)
	}
}

func TestRateLimiter_RespectsContext(t *testing.T) {
	rl := newRateLimiter(true, 1, time.Hour)
	ctx := context.Background()
	if err := rl.wait(ctx); err != nil {
		t.Fatal(err)
	}

	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := rl.wait(cancelCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("want DeadlineExceeded, got %v", err)
	}
}

func TestFirstArtist(t *testing.T) {
	if got := firstArtist(nil); got != "" {
		t.Errorf("empty slice = %q", got)
	}
	full := []spotigo.Artist{{Name: "Nina"}, {Name: "Other"}}
	if got := firstArtist(full); got != "Nina" {
		t.Errorf("firstArtist = %q", got)
	}
	simplified := []spotigo.SimplifiedArtist{{Name: "Miles"}}
	if got := firstSimplifiedArtist(simplified); got != "Miles" {
		t.Errorf("firstSimplifiedArtist = %q", got)
	}
}

func TestPlaylistTrackFields_ArtistTypes(t *testing.T) {
	full := spotigo.PlaylistTrack{Track: spotigo.Track{
		Name:    "So What",
		Artists: []spotigo.Artist{{Name: "Miles"}},
	}}
	title, artist, ok := playlistTrackFields(full)
	if !ok || title != "So What" || artist != "Miles" {
		t.Errorf("full track = (%q, %q, %v)", title, artist, ok)
	}

	simple := spotigo.PlaylistTrack{Track: spotigo.SimplifiedTrack{
		Name:    "Freddie Freeloader",
		Artists: []spotigo.SimplifiedArtist{{Name: "Miles"}},
	}}
	title, artist, ok = playlistTrackFields(simple)
	if !ok || title != "Freddie Freeloader" || artist != "Miles" {
		t.Errorf("simplified track = (%q, %q, %v)", title, artist, ok)
	}
}

type statusErr struct{ code int }

func (e *statusErr) Error() string   { return "http error" }
func (e *statusErr) StatusCode() int { return e.code }

func TestWrapErr_RateLimit(t *testing.T) {
	c := &Catalog{}
	err := c.wrapErr(&statusErr{code: 429})
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("want RateLimitError, got %T", err)
	}

	err = c.wrapErr(errors.New("too many requests"))
	if !errors.As(err, &rlErr) {
		t.Fatalf("message-based rate limit not detected: %v", err)
	}
}

func TestWrapErr_General(t *testing.T) {
	c := &Catalog{}
	upstream := errors.New("boom")
	err := c.wrapErr(upstream)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want APIError, got %T", err)
	}
	if !errors.Is(err, upstream) {
		t.Error("APIError does not unwrap to the upstream error")
	}
}
