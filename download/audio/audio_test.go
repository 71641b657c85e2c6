package audio

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseQuality(t *testing.T) {
	cases := []struct {
		in      string
		want    Quality
		wantErr bool
	}{
		{"", DefaultQuality, false},
		{"96", Quality96, false},
		{"128", Quality128, false},
		{"192", Quality192, false},
		{"320", Quality320, false},
		{"256", "", true},
		{"high", "", true},
	}
	for _, tc := range cases {
		got, err := ParseQuality(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidQuality) {
				t.Errorf("ParseQuality(%q): want ErrInvalidQuality, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseQuality(%q): unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseQuality(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestQualityBitrate(t *testing.T) {
	if got := Quality320.Bitrate(); got != "320k" {
		t.Errorf("Bitrate() = %q, want %q", got, "320k")
	}
}

func TestQualitiesListing(t *testing.T) {
	qs := Qualities()
	for _, q := range []Quality{Quality96, Quality128, Quality192, Quality320} {
		if _, ok := qs[q]; !ok {
			t.Errorf("Qualities() missing %q", q)
		}
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(&TimeoutError{Timeout: 5 * time.Minute}) {
		t.Error("TimeoutError not recognized as timeout")
	}
	if !IsTimeout(context.DeadlineExceeded) {
		t.Error("DeadlineExceeded not recognized as timeout")
	}
	if IsTimeout(&ExtractionError{Message: "boom"}) {
		t.Error("ExtractionError misclassified as timeout")
	}
}

func TestIsCancelled(t *testing.T) {
	if !IsCancelled(ErrCancelled) {
		t.Error("ErrCancelled not recognized")
	}
	if !IsCancelled(context.Canceled) {
		t.Error("context.Canceled not recognized")
	}
	if IsCancelled(context.DeadlineExceeded) {
		t.Error("DeadlineExceeded misclassified as cancellation")
	}
}

func TestExtractionErrorUnwrap(t *testing.T) {
	inner := errors.New("exit status 1")
	err := &ExtractionError{Message: "yt-dlp failed", Original: inner}
	if !errors.Is(err, inner) {
		t.Error("ExtractionError does not unwrap to its original error")
	}
}

func TestParseProgressLine(t *testing.T) {
	cases := []struct {
		line string
		want int
		ok   bool
	}{
		{"[download]  43.2% of 3.52MiB at 1.2MiB/s ETA 00:02", 43, true},
		{"[download] 100% of 3.52MiB in 00:03", 100, true},
		{"[download] Destination: /tmp/song.webm", 0, false},
		{"[ExtractAudio] Destination: /tmp/song.mp3", 0, false},
		{"random noise", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseProgressLine(tc.line)
		if ok != tc.ok || got != tc.want {
			t.Errorf("parseProgressLine(%q) = (%d, %v), want (%d, %v)", tc.line, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseDestinationLine(t *testing.T) {
	dest, ok := parseDestinationLine("[ExtractAudio] Destination: /music/a - b [192kbps].mp3")
	if !ok || dest != "/music/a - b [192kbps].mp3" {
		t.Errorf("parseDestinationLine = (%q, %v)", dest, ok)
	}
	if _, ok := parseDestinationLine("[download]  43.2% of 3.52MiB"); ok {
		t.Error("progress line misread as destination")
	}
}
