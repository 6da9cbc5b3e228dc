// Package cycle owns the single-flight ingestion+delivery cycle.
//
// Timer ticks and manual requests go through Trigger. At most one cycle
// runs at a time; a trigger that arrives while a cycle is running is
// coalesced and reported with ErrCycleInProgress.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"offerbot/internal/eventbus"
	"offerbot/internal/pipeline"
	logx "offerbot/pkg/logx"
)

var ErrCycleInProgress = errors.New("a cycle is already running")

type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Reason says who asked for a cycle.
type Reason string

const (
	ReasonTimer   Reason = "timer"
	ReasonStartup Reason = "startup"
	ReasonManual  Reason = "manual"
	ReasonCLI     Reason = "cli"
)

const (
	EventStarted   = "cycle.started"
	EventFinished  = "cycle.finished"
	EventCoalesced = "cycle.coalesced"
)

// Outcome labels a finished cycle.
const (
	OutcomeOK               = "ok"
	OutcomeStoreUnavailable = "store_unavailable"
	OutcomeCanceled         = "canceled"
	OutcomeError            = "error"
)

// Runner runs one cycle. *pipeline.Pipeline implements it.
type Runner interface {
	RunCycle(ctx context.Context) (pipeline.CycleReport, error)
}

type Observer interface {
	CycleDone(outcome string, d time.Duration)
	Coalesced()
}

type nopObserver struct{}

func (nopObserver) CycleDone(string, time.Duration) {}
func (nopObserver) Coalesced()                      {}

type Config struct {
	Schedule   string
	RunOnStart bool
	Timezone   string
	// Timeout bounds a whole cycle; 0 means no bound beyond per-call timeouts.
	Timeout time.Duration
}

// Result describes one finished cycle.
type Result struct {
	ID       string
	Reason   Reason
	Outcome  string
	Report   pipeline.CycleReport
	Err      error
	Started  time.Time
	Finished time.Time
}

// Status is a point-in-time view for operators.
type Status struct {
	State     State
	Schedule  string
	Next      time.Time
	Last      *Result
	Coalesced uint64
	Runs      uint64
}

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }
func WithBus(b eventbus.Bus) Option     { return func(s *Scheduler) { s.bus = b } }
func WithObserver(o Observer) Option    { return func(s *Scheduler) { s.obs = o } }

type Scheduler struct {
	state     atomic.Int32
	coalesced atomic.Uint64
	runs      atomic.Uint64

	runner Runner
	log    logx.Logger
	bus    eventbus.Bus
	obs    Observer

	mu      sync.Mutex
	cfg     Config
	spec    Spec
	loc     *time.Location
	c       *cron.Cron
	entry   cron.EntryID
	baseCtx context.Context
	last    *Result
}

func New(cfg Config, runner Runner, opts ...Option) (*Scheduler, error) {
	spec, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{runner: runner, cfg: cfg, spec: spec, obs: nopObserver{}}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "cycle"))
	return s, nil
}

func (s *Scheduler) State() State { return State(s.state.Load()) }

// Trigger runs a cycle now, synchronously, unless one is already running.
func (s *Scheduler) Trigger(ctx context.Context, reason Reason) (Result, error) {
	if !s.state.CompareAndSwap(int32(Idle), int32(Running)) {
		n := s.coalesced.Add(1)
		s.obs.Coalesced()
		s.publish(EventCoalesced, map[string]any{"reason": string(reason), "coalesced": n})
		s.log.Debug("trigger coalesced", logx.String("reason", string(reason)))
		return Result{Reason: reason}, ErrCycleInProgress
	}
	defer s.state.Store(int32(Idle))

	s.mu.Lock()
	timeout := s.cfg.Timeout
	s.mu.Unlock()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res := Result{ID: uuid.NewString(), Reason: reason, Started: time.Now()}
	log := s.log.With(logx.String("cycle", res.ID), logx.String("reason", string(reason)))
	s.runs.Add(1)
	s.publish(EventStarted, map[string]any{"id": res.ID, "reason": string(reason)})
	log.Info("cycle started")

	res.Report, res.Err = s.runSafe(ctx)
	res.Finished = time.Now()
	res.Outcome = outcome(res.Err)

	s.mu.Lock()
	last := res
	s.last = &last
	s.mu.Unlock()

	s.obs.CycleDone(res.Outcome, res.Finished.Sub(res.Started))
	s.publish(EventFinished, map[string]any{
		"id":        res.ID,
		"outcome":   res.Outcome,
		"new":       res.Report.Ingest.New,
		"delivered": res.Report.Deliver.Delivered,
	})

	fields := []logx.Field{
		logx.String("outcome", res.Outcome),
		logx.Int("new", res.Report.Ingest.New),
		logx.Int("delivered", res.Report.Deliver.Delivered),
		logx.Int("failed_sources", res.Report.Ingest.Failed),
		logx.Duration("took", res.Finished.Sub(res.Started)),
	}
	if res.Err != nil {
		log.Warn("cycle aborted", append(fields, logx.Err(res.Err))...)
	} else {
		log.Info("cycle finished", fields...)
	}
	return res, res.Err
}

func (s *Scheduler) runSafe(ctx context.Context) (rep pipeline.CycleReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return s.runner.RunCycle(ctx)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, pipeline.ErrStoreUnavailable):
		return OutcomeStoreUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}

// Start arms the timer. ctx is the parent of every timer-triggered cycle.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.baseCtx = ctx
	s.loc = loadLocation(s.cfg.Timezone, s.log)
	s.c = cron.New(cron.WithLocation(s.loc), cron.WithParser(cronParser))
	if err := s.armLocked(); err != nil {
		s.c = nil
		return err
	}
	s.c.Start()
	s.log.Info("scheduler started",
		logx.String("schedule", s.spec.String()),
		logx.String("tz", s.loc.String()),
		logx.Time("next", s.c.Entry(s.entry).Next),
	)

	if s.cfg.RunOnStart {
		go func() {
			if _, err := s.Trigger(ctx, ReasonStartup); err != nil && !errors.Is(err, ErrCycleInProgress) {
				s.log.Debug("startup cycle ended with error", logx.Err(err))
			}
		}()
	}
	return nil
}

func (s *Scheduler) armLocked() error {
	sched, err := s.spec.schedule()
	if err != nil {
		return err
	}
	ctx := s.baseCtx
	s.entry = s.c.Schedule(sched, cron.FuncJob(func() {
		_, _ = s.Trigger(ctx, ReasonTimer)
	}))
	return nil
}

// Stop disarms the timer and waits for a running timer job to return, or
// for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// Reschedule applies a new configuration. A running cycle is not affected.
func (s *Scheduler) Reschedule(cfg Config) error {
	spec, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := spec.String() != s.spec.String() || strings.TrimSpace(cfg.Timezone) != strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	s.spec = spec
	if s.c == nil || !changed {
		return nil
	}

	// Not waiting: a running timer job needs s.mu to record its result.
	s.c.Stop()
	s.loc = loadLocation(cfg.Timezone, s.log)
	s.c = cron.New(cron.WithLocation(s.loc), cron.WithParser(cronParser))
	if err := s.armLocked(); err != nil {
		return err
	}
	s.c.Start()
	s.log.Info("scheduler rescheduled",
		logx.String("schedule", spec.String()),
		logx.Time("next", s.c.Entry(s.entry).Next),
	)
	return nil
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:     s.State(),
		Schedule:  s.spec.String(),
		Coalesced: s.coalesced.Load(),
		Runs:      s.runs.Load(),
	}
	if s.c != nil {
		st.Next = s.c.Entry(s.entry).Next
	}
	if s.last != nil {
		last := *s.last
		st.Last = &last
	}
	return st
}

func (s *Scheduler) publish(typ string, data map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
