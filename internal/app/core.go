package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"offerbot/internal/config"
	"offerbot/internal/normalize"
	"offerbot/internal/observability"
	"offerbot/internal/pipeline"
	"offerbot/internal/render"
	"offerbot/internal/sources"
	"offerbot/internal/storage"
	"offerbot/internal/transport/telegram"
	logx "offerbot/pkg/logx"
)

// Core is what every entry point shares: logging, the identity store, the
// pipeline and, when asked for, the Telegram bot as publisher.
type Core struct {
	Log     logx.Logger
	Logs    *logx.Service
	Store   storage.Store
	Pipe    *pipeline.Pipeline
	Metrics *observability.Metrics
	// Bot is nil for offline commands.
	Bot *telegram.Bot

	mu  sync.Mutex
	cfg *config.Config
}

type Options struct {
	// Telegram connects the bot for publishing and the operator log sink.
	Telegram bool
	// Store overrides storage.Open (tests).
	Store storage.Store
}

// Open builds a Core from a validated config. On error everything already
// opened is closed.
func Open(cfg *config.Config, opts Options) (_ *Core, err error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	logs, root := logx.New(mapLogging(cfg))
	c := &Core{
		Log:     root.With(logx.String("comp", "app")),
		Logs:    logs,
		Metrics: observability.NewMetrics(),
		cfg:     cfg,
	}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if opts.Telegram {
		if err := cfg.RequireTelegram(); err != nil {
			return nil, err
		}
		bot, err := telegram.New(mapTelegram(cfg), root)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		c.Bot = bot
		logs.SetSender(bot)
	}

	c.Store = opts.Store
	if c.Store == nil {
		st, err := storage.Open(mapStorage(cfg), root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		c.Store = st
	}

	adapters, norm, r, err := buildComponents(cfg, root)
	if err != nil {
		return nil, err
	}
	deps := pipeline.Deps{
		Store:      c.Store,
		Normalizer: norm,
		Renderer:   r,
		Observer:   c.Metrics,
		Log:        root,
	}
	if c.Bot != nil {
		deps.Publisher = c.Bot
	}
	c.Pipe = pipeline.New(deps, mapPipeline(cfg), adapters)

	c.Log.Info("core ready",
		logx.String("storage", mapStorage(cfg).Driver),
		logx.Int("sources", len(adapters)),
		logx.String("render", string(r.Mode())),
		logx.Bool("telegram", c.Bot != nil),
	)
	return c, nil
}

// buildComponents creates the pieces that follow the hot-reloadable parts of
// the config. Adapters and the renderer share one HTTP client.
func buildComponents(cfg *config.Config, log logx.Logger) ([]sources.Adapter, *normalize.Normalizer, *render.Renderer, error) {
	client := sources.NewClient(mapClient(cfg), log)
	adapters, err := sources.Build(cfg.SourceSpecs(), client)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("sources: %w", err)
	}
	r, err := render.New(mapRender(cfg), client, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("render: %w", err)
	}
	return adapters, mapNormalizer(cfg), r, nil
}

func (c *Core) Config() *config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Apply swaps in the hot-reloadable parts of cfg. A cycle in progress keeps
// what it started with.
func (c *Core) Apply(cfg *config.Config) error {
	adapters, norm, r, err := buildComponents(cfg, c.Logs.Logger())
	if err != nil {
		return err
	}
	c.Logs.Apply(mapLogging(cfg))
	c.Pipe.Apply(mapPipeline(cfg), adapters, norm, r)
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	return nil
}

// Health reports whether the store answers.
func (c *Core) Health(ctx context.Context) error {
	if c.Store == nil {
		return errors.New("store not open")
	}
	return c.Store.Ping(ctx)
}

func (c *Core) Close() {
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			c.Log.Warn("store close failed", logx.Err(err))
		}
	}
	if c.Logs != nil {
		_ = c.Logs.Close()
	}
}
