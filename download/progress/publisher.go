// Package progress fans out job store snapshots to streaming subscribers.
package progress

import (
	"context"
	"time"

	"github.com/tunedl/tunedl/download/store"
)

// DefaultPollInterval is the fallback snapshot cadence when no store change
// notification arrives.
const DefaultPollInterval = 250 * time.Millisecond

// Publisher turns the store's change notifications into per-subscriber
// snapshot streams.
type Publisher struct {
	store        *store.Store
	pollInterval time.Duration
}

// NewPublisher creates a publisher over the given store.
func NewPublisher(s *store.Store) *Publisher {
	return &Publisher{store: s, pollInterval: DefaultPollInterval}
}

// Subscribe returns a channel of snapshots for one batch. The current
// snapshot is delivered immediately, then a new one on every observed
// change. After a terminal snapshot is delivered the channel is closed.
// The channel is also closed when ctx is done or the batch is deleted.
//
// Snapshots are deduplicated by sequence number, so a slow consumer sees
// coalesced state rather than every intermediate mutation.
func (p *Publisher) Subscribe(ctx context.Context, id string) (<-chan store.BatchJob, error) {
	first, err := p.store.Get(id)
	if err != nil {
		return nil, err
	}
	notify, stopWatch, err := p.store.Watch(id)
	if err != nil {
		return nil, err
	}

	out := make(chan store.BatchJob, 1)
	go func() {
		defer close(out)
		defer stopWatch()

		if !p.send(ctx, out, first) {
			return
		}
		if first.Status.Terminal() {
			return
		}
		lastSeq := first.Seq

		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-notify:
				if !ok {
					// Batch was deleted.
					return
				}
			case <-ticker.C:
			}

			job, err := p.store.Get(id)
			if err != nil {
				return
			}
			if job.Seq == lastSeq {
				continue
			}
			lastSeq = job.Seq
			if !p.send(ctx, out, job) {
				return
			}
			if job.Status.Terminal() {
				return
			}
		}
	}()
	return out, nil
}

func (p *Publisher) send(ctx context.Context, out chan<- store.BatchJob, job store.BatchJob) bool {
	select {
	case out <- job:
		return true
	case <-ctx.Done():
		return false
	}
}
