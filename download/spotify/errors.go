package spotify

import "fmt"

// RateLimitError is returned when the Spotify API asks us to back off.
type RateLimitError struct {
	RetryAfter int
	Original   error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("spotify rate limited, retry after %ds: %v", e.RetryAfter, e.Original)
	}
	return fmt.Sprintf("spotify rate limited: %v", e.Original)
}

func (e *RateLimitError) Unwrap() error { return e.Original }

// APIError wraps other Spotify API failures.
type APIError struct {
	Message  string
	Original error
}

func (e *APIError) Error() string {
	if e.Original != nil {
		return fmt.Sprintf("spotify: %s: %v", e.Message, e.Original)
	}
	return "spotify: " + e.Message
}

func (e *APIError) Unwrap() error { return e.Original }
