// Package stats holds the cache engine's shared counters. Updates come
// from many worker goroutines concurrently, so every counter is a
// sync/atomic value rather than a mutex-guarded struct field (spec.md §5:
// "statistics counters are shared; updates must be atomic").
package stats

import (
	"errors"
	"sync/atomic"

	"github.com/metaswitch/homestead-cache/internal/cache/impustore"
	"github.com/metaswitch/homestead-cache/internal/cache/reconciler"
)

// Snapshot is a point-in-time read of every counter.
type Snapshot struct {
	Queued         uint64
	QueueRejected  uint64
	Succeeded      uint64
	NotFound       uint64
	ContentionFail uint64
	OtherErrors    uint64
}

// Registry is the process-wide counter set. The zero value is ready to use.
type Registry struct {
	queued         atomic.Uint64
	queueRejected  atomic.Uint64
	succeeded      atomic.Uint64
	notFound       atomic.Uint64
	contentionFail atomic.Uint64
	otherErrors    atomic.Uint64
}

// New returns a ready-to-use, zeroed Registry.
func New() *Registry {
	return &Registry{}
}

// IncQueued records a job accepted onto the worker pool.
func (r *Registry) IncQueued() { r.queued.Add(1) }

// IncQueueRejected records a job rejected because the queue was full.
func (r *Registry) IncQueueRejected() { r.queueRejected.Add(1) }

// RecordOutcome classifies err (nil, not-found, cas-exhausted, or other)
// and increments the matching counter. Called once per completed job.
func (r *Registry) RecordOutcome(err error) {
	switch {
	case err == nil:
		r.succeeded.Add(1)
	case errors.Is(err, reconciler.ErrNotFound), errors.Is(err, impustore.ErrNotFound):
		r.notFound.Add(1)
	case errors.Is(err, reconciler.ErrContentionExhausted):
		r.contentionFail.Add(1)
	default:
		r.otherErrors.Add(1)
	}
}

// Snapshot reads every counter at once (each individually atomic, but not
// mutually consistent across counters - acceptable for a stats endpoint).
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		Queued:         r.queued.Load(),
		QueueRejected:  r.queueRejected.Load(),
		Succeeded:      r.succeeded.Load(),
		NotFound:       r.notFound.Load(),
		ContentionFail: r.contentionFail.Load(),
		OtherErrors:    r.otherErrors.Load(),
	}
}
