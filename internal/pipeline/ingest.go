package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"offerbot/internal/normalize"
	"offerbot/internal/offer"
	"offerbot/internal/sources"
	logx "offerbot/pkg/logx"
)

// SourceReport is the outcome of one adapter within an ingestion pass.
type SourceReport struct {
	Source     string
	Fetched    int
	Rejected   int
	Duplicates int
	New        int
	Duration   time.Duration
	// Err is a *sources.FetchError when the adapter failed.
	Err error
}

type IngestReport struct {
	Sources    []SourceReport
	Fetched    int
	Rejected   int
	Duplicates int
	New        int
	Failed     int
}

func (r *IngestReport) add(s SourceReport) {
	r.Sources = append(r.Sources, s)
	r.Fetched += s.Fetched
	r.Rejected += s.Rejected
	r.Duplicates += s.Duplicates
	r.New += s.New
	if s.Err != nil {
		r.Failed++
	}
}

// RunIngestion fetches from adapters (the configured set when nil) with
// bounded parallelism. Adapter failures are isolated and reported; a store
// failure cancels the remaining adapters and is returned wrapped in
// ErrStoreUnavailable.
func (p *Pipeline) RunIngestion(ctx context.Context, adapters []sources.Adapter) (IngestReport, error) {
	opts, configured, norm, _ := p.snapshot()
	if adapters == nil {
		adapters = configured
	}
	log := p.log.With(logx.String("comp", "ingest"))

	reports := make([]SourceReport, len(adapters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)
	for i, a := range adapters {
		i, a := i, a
		g.Go(func() error {
			rep, err := p.ingestOne(gctx, a, norm, opts.FetchTimeout, log)
			reports[i] = rep
			return err
		})
	}
	err := g.Wait()

	var out IngestReport
	for _, r := range reports {
		if r.Source == "" {
			continue
		}
		out.add(r)
	}
	if err != nil {
		return out, err
	}
	log.Info("ingestion done",
		logx.Int("sources", len(adapters)),
		logx.Int("fetched", out.Fetched),
		logx.Int("new", out.New),
		logx.Int("duplicates", out.Duplicates),
		logx.Int("rejected", out.Rejected),
		logx.Int("failed", out.Failed),
	)
	return out, nil
}

func (p *Pipeline) ingestOne(ctx context.Context, a sources.Adapter, norm *normalize.Normalizer, timeout time.Duration, log logx.Logger) (SourceReport, error) {
	name := a.Name()
	rep := SourceReport{Source: name}
	start := time.Now()

	fctx, cancel := context.WithTimeout(ctx, timeout)
	items, err := fetchIsolated(fctx, a)
	cancel()
	if err != nil {
		rep.Err = err
		rep.Duration = time.Since(start)
		// A cancelled parent means a sibling hit the store or the caller gave up.
		if ctx.Err() == nil {
			log.Warn("source failed", logx.String("source", name), logx.Err(err))
			p.obs.SourceDone(rep)
		}
		return rep, nil
	}
	rep.Fetched = len(items)

	base := a.BaseURL()
	for _, c := range items {
		if strings.TrimSpace(c.Source) == "" {
			c.Source = name
		}
		o, err := norm.Normalize(c, base)
		if err != nil {
			rep.Rejected++
			if rj, ok := normalize.AsRejection(err); ok {
				log.Debug("candidate rejected",
					logx.String("source", name),
					logx.String("reason", string(rj.Reason)),
					logx.String("link", rj.Link),
				)
			}
			continue
		}
		created, err := p.store.InsertIfNew(ctx, o)
		if err != nil {
			rep.Duration = time.Since(start)
			return rep, storeErr("insert", err)
		}
		if created {
			rep.New++
		} else {
			rep.Duplicates++
		}
	}
	rep.Duration = time.Since(start)
	log.Debug("source done",
		logx.String("source", name),
		logx.Int("fetched", rep.Fetched),
		logx.Int("new", rep.New),
		logx.Duration("took", rep.Duration),
	)
	p.obs.SourceDone(rep)
	return rep, nil
}

type fetchResult struct {
	items []offer.RawCandidate
	err   error
}

// fetchIsolated runs a.Fetch on its own goroutine so an adapter that
// ignores ctx still cannot hold the pass past its deadline. Panics become
// FetchErrors of kind panic.
func fetchIsolated(ctx context.Context, a sources.Adapter) ([]offer.RawCandidate, error) {
	name := a.Name()
	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchResult{err: &sources.FetchError{
					Source: name,
					Kind:   sources.KindPanic,
					Err:    fmt.Errorf("panic: %v", r),
				}}
			}
		}()
		items, err := a.Fetch(ctx)
		done <- fetchResult{items: items, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, sources.Classify(name, res.err)
		}
		return res.items, nil
	case <-ctx.Done():
		return nil, sources.Classify(name, ctx.Err())
	}
}
