package audio

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCancelled classifies an extraction aborted by a cancellation request.
var ErrCancelled = errors.New("download cancelled")

// ExtractionError represents an opaque downstream extraction failure.
type ExtractionError struct {
	Message  string
	Original error
}

func (e *ExtractionError) Error() string {
	if e.Original != nil {
		return fmt.Sprintf("extraction error: %s: %v", e.Message, e.Original)
	}
	return fmt.Sprintf("extraction error: %s", e.Message)
}

func (e *ExtractionError) Unwrap() error {
	return e.Original
}

// TimeoutError classifies an extraction that exceeded its per-item timeout.
// The executor records it as an item failure; it never aborts the batch.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("extraction timed out after %s", e.Timeout)
}

// IsTimeout reports whether err is timeout-classified.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded)
}

// IsCancelled reports whether err is cancellation-classified.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
