// Package app wires the daemon together: config, logging, store, pipeline,
// scheduler, bot and the observability server, all under one supervisor.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"offerbot/internal/config"
	"offerbot/internal/cycle"
	"offerbot/internal/eventbus"
	"offerbot/internal/observability"
	"offerbot/internal/runtime/supervisor"
	"offerbot/internal/transport/telegram"
	logx "offerbot/pkg/logx"
	"offerbot/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	core *Core
	log  logx.Logger

	bus      eventbus.Bus
	sched    *cycle.Scheduler
	handlers *telegram.Handlers
	server   *observability.Server

	sup *supervisor.Supervisor
}

// New loads the config and builds every component without starting any.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	core, err := Open(cfg, Options{Telegram: true})
	if err != nil {
		return nil, err
	}
	return assemble(cfgm, core)
}

func assemble(cfgm *config.Manager, core *Core) (*App, error) {
	cfg := core.Config()
	log := core.Log
	cfgm.SetLogger(log)

	bus := eventbus.New()
	sched, err := cycle.New(mapCycle(cfg), core.Pipe,
		cycle.WithLogger(log),
		cycle.WithBus(bus),
		cycle.WithObserver(core.Metrics),
	)
	if err != nil {
		core.Close()
		return nil, err
	}
	return &App{
		cfgm:     cfgm,
		core:     core,
		log:      log,
		bus:      bus,
		sched:    sched,
		handlers: telegram.NewHandlers(core.Pipe, sched, cfg.Telegram.OwnerUserIDs, log),
		server:   observability.NewServer(mapObservability(cfg), core.Metrics.Registry(), core.Health, log),
	}, nil
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err is the first fatal task error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()
	cfg := a.core.Config()

	// Reload requests may carry new sources or schedule, so they are
	// validated by building the components once before commit.
	a.cfgm.SetValidator(func(_ context.Context, next *config.Config) error {
		if _, _, _, err := buildComponents(next, logx.Nop()); err != nil {
			return err
		}
		_, err := cycle.ParseSchedule(next.Pipeline.ScheduleOrDefault())
		return err
	})

	if bot := a.core.Bot; bot != nil && cfg.Telegram.CommandsEnabled() {
		if err := bot.Register(run, a.handlers); err != nil {
			a.log.Warn("command menu not published", logx.Err(err))
		}
		a.sup.GoRestart("telegram.poll", bot.Run)
	}

	if err := a.sched.Start(run); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	a.server.Start(run)

	events, unsub := a.bus.Subscribe(64, "cycle.*")
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		a.logEvents(c, events)
	})

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := systemd.Watchdog(c, a.core.Health); err != nil {
			a.log.Warn("systemd watchdog disabled", logx.Err(err))
		}
	})
	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}

	st := a.sched.Status()
	a.log.Info("offerbot started",
		logx.String("channel", cfg.Telegram.Channel),
		logx.String("schedule", st.Schedule),
		logx.Time("next", st.Next),
	)
	return nil
}

func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			fields := []logx.Field{logx.String("type", e.Type)}
			for _, k := range []string{"id", "reason", "outcome", "new", "delivered", "coalesced"} {
				if v, ok := e.Data[k]; ok {
					fields = append(fields, logx.Any(k, v))
				}
			}
			a.log.Debug("event", fields...)
			if e.Type == cycle.EventFinished {
				a.notifyStatus(e)
			}
		}
	}
}

func (a *App) notifyStatus(e eventbus.Event) {
	outcome, _ := e.Data["outcome"].(string)
	msg := "last cycle " + outcome + " at " + e.Time.Format(time.RFC3339)
	_, _ = systemd.Status(msg)
}

// reloadLoop applies committed configs. Bursts collapse to the newest.
func (a *App) reloadLoop(ctx context.Context) {
	sub, unsub := a.cfgm.Subscribe(4)
	defer unsub()
	last := a.core.Config()
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			next = c
		}
	drain:
		for {
			select {
			case c := <-sub:
				if c != nil {
					next = c
				}
			default:
				break drain
			}
		}
		a.apply(ctx, last, next)
		last = next
	}
}

func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	ch := config.Summarize(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(ch.Restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", ch.Restart))
	}

	var errs []error
	if err := a.core.Apply(next); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: %w", err))
	}
	if err := a.sched.Reschedule(mapCycle(next)); err != nil {
		errs = append(errs, fmt.Errorf("schedule: %w", err))
	}
	a.handlers.SetOwners(next.Telegram.OwnerUserIDs)
	a.server.Reconfigure(ctx, mapObservability(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	if err := errors.Join(errs...); err != nil {
		a.log.Error("config reload partly applied", append(fields, logx.Err(err))...)
		return
	}
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order. Each step is bounded so
// one stuck component cannot hold the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.core.Close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()
	a.sup.Cancel()

	a.step(ctx, "scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "observability", time.Second, func(c context.Context) error { a.server.Stop(c); return nil })
	a.step(ctx, "supervisor", 5*time.Second, a.sup.Wait)

	a.log.Info("stopped", logx.String("reason", string(reason)))
	a.core.Close()
	return nil
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped (deadline)", logx.String("name", name))
		return
	}
	sctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(sctx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-sctx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
