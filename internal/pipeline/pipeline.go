// Package pipeline implements the ingestion and delivery coordinators and
// the facade the scheduler and command surface drive.
//
// Ingestion fans out over source adapters, normalizes each candidate and
// records new canonical links in the identity store. Delivery reads pending
// offers newest first, renders them and publishes them one at a time,
// falling back from photo to text, and marks each offer sent as soon as a
// send succeeds.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"offerbot/internal/normalize"
	"offerbot/internal/offer"
	"offerbot/internal/sources"
	"offerbot/internal/storage"
	logx "offerbot/pkg/logx"
)

const (
	DefaultBatchSize    = 10
	DefaultParallelism  = 4
	DefaultFetchTimeout = 30 * time.Second
	DefaultSendTimeout  = 20 * time.Second
)

// Renderer produces the delivery payload for an offer. It never fails;
// internal errors degrade to a caption-only payload.
type Renderer interface {
	Render(ctx context.Context, o offer.Offer) offer.Payload
}

// Publisher sends to the delivery channel. Errors are *TransportError.
type Publisher interface {
	SendPhoto(ctx context.Context, target string, image []byte, caption string) error
	SendText(ctx context.Context, target, caption string) error
}

// Observer receives per-source and per-delivery outcomes (metrics).
type Observer interface {
	SourceDone(r SourceReport)
	Delivered(tier Op)
	DeliveryFailed()
	PendingCount(n int)
}

type nopObserver struct{}

func (nopObserver) SourceDone(SourceReport) {}
func (nopObserver) Delivered(Op)            {}
func (nopObserver) DeliveryFailed()         {}
func (nopObserver) PendingCount(int)        {}

// Options are the hot-reloadable knobs.
type Options struct {
	Target       string
	BatchSize    int
	Parallelism  int
	FetchTimeout time.Duration
	SendTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Parallelism <= 0 {
		o.Parallelism = DefaultParallelism
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	return o
}

type Deps struct {
	Store      storage.Store
	Normalizer *normalize.Normalizer
	Renderer   Renderer
	Publisher  Publisher
	Observer   Observer
	Log        logx.Logger
}

type Pipeline struct {
	store storage.Store
	pub   Publisher
	obs   Observer
	log   logx.Logger

	mu       sync.RWMutex
	opts     Options
	adapters []sources.Adapter
	norm     *normalize.Normalizer
	render   Renderer
}

func New(d Deps, opts Options, adapters []sources.Adapter) *Pipeline {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Observer == nil {
		d.Observer = nopObserver{}
	}
	if d.Normalizer == nil {
		d.Normalizer = normalize.New(normalize.Options{})
	}
	return &Pipeline{
		store:    d.Store,
		pub:      d.Publisher,
		obs:      d.Observer,
		log:      d.Log,
		opts:     opts.withDefaults(),
		adapters: adapters,
		norm:     d.Normalizer,
		render:   d.Renderer,
	}
}

// Apply swaps options and adapters for subsequent runs. A run in progress
// keeps the values it started with.
func (p *Pipeline) Apply(opts Options, adapters []sources.Adapter, norm *normalize.Normalizer, r Renderer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts = opts.withDefaults()
	p.adapters = adapters
	if norm != nil {
		p.norm = norm
	}
	if r != nil {
		p.render = r
	}
}

func (p *Pipeline) snapshot() (Options, []sources.Adapter, *normalize.Normalizer, Renderer) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.opts, p.adapters, p.norm, p.render
}

func (p *Pipeline) Options() Options {
	opts, _, _, _ := p.snapshot()
	return opts
}

func (p *Pipeline) Adapters() []sources.Adapter {
	_, a, _, _ := p.snapshot()
	return append([]sources.Adapter(nil), a...)
}

// CycleReport summarizes one ingestion plus delivery pass.
type CycleReport struct {
	Ingest   IngestReport
	Deliver  DeliverReport
	Started  time.Time
	Finished time.Time
	Err      error
}

func (r CycleReport) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// RunCycle checks the store, ingests from every configured adapter and
// delivers one batch. Only a store failure (or cancellation) during
// ingestion skips delivery.
func (p *Pipeline) RunCycle(ctx context.Context) (CycleReport, error) {
	rep := CycleReport{Started: time.Now()}
	finish := func(err error) (CycleReport, error) {
		rep.Finished = time.Now()
		rep.Err = err
		return rep, err
	}

	if err := p.store.Ping(ctx); err != nil {
		return finish(storeErr("ping", err))
	}

	ing, err := p.RunIngestion(ctx, nil)
	rep.Ingest = ing
	if err != nil {
		return finish(err)
	}

	del, err := p.RunDelivery(ctx, 0)
	rep.Deliver = del
	if err != nil {
		return finish(err)
	}
	if st, err := p.store.Stats(ctx); err == nil {
		p.obs.PendingCount(st.Pending)
	}
	return finish(nil)
}

func (p *Pipeline) Stats(ctx context.Context) (offer.Stats, error) {
	st, err := p.store.Stats(ctx)
	if err != nil {
		return offer.Stats{}, storeErr("stats", err)
	}
	return st, nil
}

// PurgeAll removes every offer. Administrative only.
func (p *Pipeline) PurgeAll(ctx context.Context) (int64, error) {
	n, err := p.store.PurgeAll(ctx)
	if err != nil {
		return 0, storeErr("purge", err)
	}
	p.obs.PendingCount(0)
	return n, nil
}

// ListPending is read-only; nothing is marked.
func (p *Pipeline) ListPending(ctx context.Context, limit int) ([]offer.Offer, error) {
	out, err := p.store.ListPending(ctx, limit)
	if err != nil {
		return nil, storeErr("list pending", err)
	}
	return out, nil
}

// Preview renders an offer without publishing it.
func (p *Pipeline) Preview(ctx context.Context, o offer.Offer) offer.Payload {
	_, _, _, r := p.snapshot()
	if r == nil {
		return offer.Payload{Caption: o.Title}
	}
	return r.Render(ctx, o)
}

// IsStoreUnavailable reports whether err aborted a cycle at the store.
func IsStoreUnavailable(err error) bool { return errors.Is(err, ErrStoreUnavailable) }
