// Package processor implements the Cache Processor: an async façade over
// the Reconciler, submitting each request as a job on a worker pool and
// invoking the caller's callback with the result. It is the Go analogue of
// original_source/src/hss_cache_processor.cpp's HssCacheProcessor, which
// wraps HssCache methods in std::function closures submitted to a
// FunctorThreadPool.
package processor

import (
	"context"
	"log/slog"

	"github.com/metaswitch/homestead-cache/internal/cache/model"
	"github.com/metaswitch/homestead-cache/internal/cache/reconciler"
	"github.com/metaswitch/homestead-cache/internal/cache/stats"
	"github.com/metaswitch/homestead-cache/internal/cache/workerpool"
)

// Status reports the outcome of submitting a request to the processor
// itself (distinct from the eventual result of the work, delivered via
// callback).
type Status int

const (
	// StatusAccepted means the job was queued.
	StatusAccepted Status = iota
	// StatusQueueFull means the worker pool's queue was at capacity and
	// the request was rejected without running.
	StatusQueueFull
)

// IRSCallback receives the outcome of an IRS-returning operation.
type IRSCallback func(irs *model.IRS, err error)

// IRSListCallback receives the outcome of a multi-IRS lookup.
type IRSListCallback func(irss []*model.IRS, err error)

// ErrCallback receives the outcome of an operation with no return value.
type ErrCallback func(err error)

// SubscriptionCallback receives the outcome of a subscription lookup.
type SubscriptionCallback func(sub *model.IMSSubscription, err error)

// Processor is the async façade the HSS Orchestrator calls into (the HTTP
// API reaches it only through the Orchestrator). Every method returns immediately with a Status; the actual result
// arrives later via the supplied callback, invoked on a worker goroutine.
type Processor struct {
	pool        *workerpool.Pool
	reconciler  *reconciler.Reconciler
	stats       *stats.Registry
	log         *slog.Logger
}

// New builds a Processor submitting work for r to pool.
func New(pool *workerpool.Pool, r *reconciler.Reconciler, st *stats.Registry, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{pool: pool, reconciler: r, stats: st, log: log}
}

func (p *Processor) submit(job workerpool.Job) Status {
	if err := p.pool.Submit(job); err != nil {
		p.stats.IncQueueRejected()
		return StatusQueueFull
	}
	p.stats.IncQueued()
	return StatusAccepted
}

// GetIRS asynchronously fetches the IRS owning impu.
func (p *Processor) GetIRS(impu string, cb IRSCallback) Status {
	return p.submit(func(ctx context.Context) {
		irs, err := p.reconciler.GetIRS(ctx, impu)
		p.stats.RecordOutcome(err)
		cb(irs, err)
	})
}

// GetIRSsForIMPIs asynchronously composes the IRSs reachable from impis.
func (p *Processor) GetIRSsForIMPIs(impis []string, cb IRSListCallback) Status {
	return p.submit(func(ctx context.Context) {
		irss, err := p.reconciler.GetIRSsForIMPIs(ctx, impis)
		p.stats.RecordOutcome(err)
		cb(irss, err)
	})
}

// GetIRSsForIMPUs asynchronously composes the IRSs reachable from impus.
func (p *Processor) GetIRSsForIMPUs(impus []string, cb IRSListCallback) Status {
	return p.submit(func(ctx context.Context) {
		irss, err := p.reconciler.GetIRSsForIMPUs(ctx, impus)
		p.stats.RecordOutcome(err)
		cb(irss, err)
	})
}

// PutIRS asynchronously writes irs out: the local tier first, then every
// remote best-effort. progress, if non-nil, is invoked on the worker
// goroutine once the local write has durably committed, before the remote
// fan-out begins (spec.md §4.E/§6/§5: "across stores the local store
// completes before remotes begin (so the progress callback fires on local
// durability)").
func (p *Processor) PutIRS(irs *model.IRS, progress func(), cb ErrCallback) Status {
	return p.submit(func(ctx context.Context) {
		err := p.reconciler.PutIRS(ctx, irs, progress)
		p.stats.RecordOutcome(err)
		cb(err)
	})
}

// DeleteIRS asynchronously removes irs: local tier first, then every remote
// best-effort, with the same local-durability progress checkpoint as PutIRS.
func (p *Processor) DeleteIRS(irs *model.IRS, progress func(), cb ErrCallback) Status {
	return p.submit(func(ctx context.Context) {
		err := p.reconciler.DeleteIRS(ctx, irs, progress)
		p.stats.RecordOutcome(err)
		cb(err)
	})
}

// DeleteIRSs asynchronously removes every IRS in irss; progress fires once
// per IRS as its local delete commits.
func (p *Processor) DeleteIRSs(irss []*model.IRS, progress func(), cb ErrCallback) Status {
	return p.submit(func(ctx context.Context) {
		err := p.reconciler.DeleteIRSs(ctx, irss, progress)
		p.stats.RecordOutcome(err)
		cb(err)
	})
}

// GetIMSSubscription asynchronously assembles the subscription for impi.
func (p *Processor) GetIMSSubscription(impi string, cb SubscriptionCallback) Status {
	return p.submit(func(ctx context.Context) {
		sub, err := p.reconciler.GetIMSSubscription(ctx, impi)
		p.stats.RecordOutcome(err)
		cb(sub, err)
	})
}

// PutIMSSubscription asynchronously writes every IRS in sub back out;
// progress fires once per IRS as its local write commits.
func (p *Processor) PutIMSSubscription(sub *model.IMSSubscription, progress func(), cb ErrCallback) Status {
	return p.submit(func(ctx context.Context) {
		err := p.reconciler.PutIMSSubscription(ctx, sub, progress)
		p.stats.RecordOutcome(err)
		cb(err)
	})
}

// Stop drains the underlying worker pool.
func (p *Processor) Stop() {
	p.pool.Stop()
}
