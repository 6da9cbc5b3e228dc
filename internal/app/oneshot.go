package app

import (
	"context"

	"offerbot/internal/config"
	"offerbot/internal/cycle"
)

// WithCore loads the config at cfgPath, opens a Core, runs fn and closes
// everything. One-shot CLI commands go through here.
func WithCore(cfgPath string, opts Options, fn func(*Core) error) error {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return err
	}
	core, err := Open(cfg, opts)
	if err != nil {
		return err
	}
	defer core.Close()
	return fn(core)
}

// Once runs a single full cycle with the same bookkeeping as a timer cycle
// (id, logs, metrics).
func (c *Core) Once(ctx context.Context) (cycle.Result, error) {
	s, err := cycle.New(mapCycle(c.Config()), c.Pipe,
		cycle.WithLogger(c.Log),
		cycle.WithObserver(c.Metrics),
	)
	if err != nil {
		return cycle.Result{}, err
	}
	return s.Trigger(ctx, cycle.ReasonCLI)
}
