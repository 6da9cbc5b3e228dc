package app

import (
	"strings"
	"time"

	"offerbot/internal/config"
	"offerbot/internal/cycle"
	"offerbot/internal/normalize"
	"offerbot/internal/observability"
	"offerbot/internal/pipeline"
	"offerbot/internal/render"
	"offerbot/internal/sources"
	"offerbot/internal/storage"
	"offerbot/internal/transport/telegram"
	logx "offerbot/pkg/logx"
)

// The map* helpers assume cfg passed config.Validate; parse errors fall back
// to defaults instead of failing twice.

const (
	defaultBusyTimeout = 5 * time.Second
	defaultDBPath      = "./offerbot.db"
)

func mapLogging(cfg *config.Config) logx.Config {
	chatID, _ := cfg.Telegram.GroupLogID()
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled && chatID != 0,
			ChatID:     chatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapStorage(cfg *config.Config) storage.Config {
	s := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	path := strings.TrimSpace(s.Path)
	if path == "" && (driver == "" || strings.HasPrefix(driver, "sqlite")) {
		path = defaultDBPath
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		DSN:         strings.TrimSpace(s.DSN),
		BusyTimeout: config.Duration(s.BusyTimeout, defaultBusyTimeout),
	}
}

func mapClient(cfg *config.Config) sources.ClientOptions {
	h := cfg.HTTP
	return sources.ClientOptions{
		UserAgent:     h.UserAgent,
		Timeout:       config.Duration(h.Timeout, 0),
		RatePerSec:    h.RatePerSec,
		RespectRobots: h.RespectRobots,
	}
}

func mapNormalizer(cfg *config.Config) *normalize.Normalizer {
	return normalize.New(normalize.Options{TitleMax: cfg.Pipeline.TitleMax})
}

func mapRender(cfg *config.Config) render.Options {
	mode, err := render.ParseMode(cfg.Render.Mode)
	if err != nil {
		mode = render.ModeAlways
	}
	return render.Options{
		Mode:         mode,
		Footer:       cfg.Render.Footer,
		AccentColors: cfg.Render.AccentColors,
		AssetTimeout: config.Duration(cfg.Render.AssetTimeout, render.DefaultAssetTimeout),
	}
}

func mapPipeline(cfg *config.Config) pipeline.Options {
	p := cfg.Pipeline
	return pipeline.Options{
		Target:       strings.TrimSpace(cfg.Telegram.Channel),
		BatchSize:    p.BatchSize,
		Parallelism:  p.Parallelism,
		FetchTimeout: config.Duration(p.FetchTimeout, pipeline.DefaultFetchTimeout),
		SendTimeout:  config.Duration(p.SendTimeout, pipeline.DefaultSendTimeout),
	}
}

func mapCycle(cfg *config.Config) cycle.Config {
	p := cfg.Pipeline
	return cycle.Config{
		Schedule:   p.ScheduleOrDefault(),
		RunOnStart: p.RunOnStart,
		Timezone:   strings.TrimSpace(p.Timezone),
		Timeout:    config.Duration(p.CycleTimeout, 0),
	}
}

func mapTelegram(cfg *config.Config) telegram.Config {
	t := cfg.Telegram
	return telegram.Config{
		Token:       t.Token,
		PollTimeout: config.Duration(t.PollTimeout, 0),
		SendTimeout: config.Duration(cfg.Pipeline.SendTimeout, pipeline.DefaultSendTimeout),
		RatePerSec:  t.RatePerSec,
	}
}

func mapObservability(cfg *config.Config) observability.Config {
	o := cfg.Observability
	return observability.Config{
		Enabled: o.Enabled,
		Addr:    strings.TrimSpace(o.Addr),
		Token:   strings.TrimSpace(o.Token),
		Pprof:   o.Pprof,
	}
}
