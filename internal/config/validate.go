package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"offerbot/internal/cycle"
	"offerbot/internal/observability"
	"offerbot/internal/render"
	"offerbot/internal/sources"
	"offerbot/internal/transport/telegram"
)

const (
	EnvToken   = "OFFERBOT_TELEGRAM_TOKEN"
	EnvChannel = "OFFERBOT_CHANNEL"

	DefaultSchedule = "60m"
)

// ApplyEnv fills secrets from the environment. A set variable wins over the
// file value.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(os.Getenv(EnvToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvChannel)); v != "" {
		cfg.Telegram.Channel = v
	}
}

// ScheduleOrDefault returns the configured schedule or the default.
func (p PipelineConfig) ScheduleOrDefault() string {
	if s := strings.TrimSpace(p.Schedule); s != "" {
		return s
	}
	return DefaultSchedule
}

// GroupLogID parses telegram.group_log; 0 when unset.
func (t TelegramConfig) GroupLogID() (int64, error) {
	s := strings.TrimSpace(t.GroupLog)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.group_log: want a numeric chat id, got %q", t.GroupLog)
	}
	return id, nil
}

// SourceSpecs converts the sources section for sources.Build.
func (c *Config) SourceSpecs() []sources.Spec {
	out := make([]sources.Spec, 0, len(c.Sources))
	for _, s := range c.Sources {
		spec := sources.Spec{
			Name:     strings.TrimSpace(s.Name),
			Kind:     strings.ToLower(strings.TrimSpace(s.Kind)),
			URL:      strings.TrimSpace(s.URL),
			BaseURL:  strings.TrimSpace(s.BaseURL),
			Category: strings.TrimSpace(s.Category),
			Limit:    s.Limit,
		}
		if sel := s.Selectors; sel != nil {
			spec.Selectors = sources.Selectors{
				Container:   sel.Container,
				Title:       sel.Title,
				Link:        sel.Link,
				Price:       sel.Price,
				Image:       sel.Image,
				Description: sel.Description,
			}
		}
		out = append(out, spec)
	}
	return out
}

// RequireTelegram checks what every command that talks to Telegram needs.
// Offline commands (ingest, stats, purge) skip it.
func (c *Config) RequireTelegram() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram.token is required (or set %s)", EnvToken))
	}
	if strings.TrimSpace(c.Telegram.Channel) == "" {
		errs = append(errs, fmt.Errorf("telegram.channel is required (or set %s)", EnvChannel))
	}
	return errors.Join(errs...)
}

// Validate reports every problem at once. It does not touch the network or
// the store.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Channel) != "" {
		if _, err := telegram.ParseTarget(cfg.Telegram.Channel); err != nil {
			add(fmt.Errorf("telegram.channel: %w", err))
		}
	}
	_, err := cfg.Telegram.GroupLogID()
	add(err)
	_, err = ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)
	if cfg.Telegram.RatePerSec < 0 {
		add(errors.New("telegram.rate_per_sec must be >= 0"))
	}
	if cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.GroupLog) == "" {
		add(errors.New("logging.telegram.enabled requires telegram.group_log"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "memory":
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add(errors.New("storage.dsn is required for postgres"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	_, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)

	p := cfg.Pipeline
	if _, err := cycle.ParseSchedule(p.ScheduleOrDefault()); err != nil {
		add(fmt.Errorf("pipeline.schedule: %w", err))
	}
	if tz := strings.TrimSpace(p.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("pipeline.timezone: %w", err))
		}
	}
	if p.BatchSize < 0 {
		add(errors.New("pipeline.batch_size must be >= 0"))
	}
	if p.Parallelism < 0 {
		add(errors.New("pipeline.parallelism must be >= 0"))
	}
	if p.TitleMax != 0 && (p.TitleMax < 100 || p.TitleMax > 200) {
		add(errors.New("pipeline.title_max must be 0 or between 100 and 200"))
	}
	for _, f := range [][2]string{
		{"pipeline.fetch_timeout", p.FetchTimeout},
		{"pipeline.send_timeout", p.SendTimeout},
		{"pipeline.cycle_timeout", p.CycleTimeout},
		{"http.timeout", cfg.HTTP.Timeout},
		{"render.asset_timeout", cfg.Render.AssetTimeout},
	} {
		_, err := ParseDurationField(f[0], f[1])
		add(err)
	}

	seen := map[string]bool{}
	for i, s := range cfg.SourceSpecs() {
		if err := s.Validate(); err != nil {
			add(fmt.Errorf("sources[%d]: %w", i, err))
			continue
		}
		if seen[s.Name] {
			add(fmt.Errorf("sources[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
		if s.Limit < 0 {
			add(fmt.Errorf("sources[%d]: limit must be >= 0", i))
		}
	}
	if cfg.HTTP.RatePerSec < 0 {
		add(errors.New("http.rate_per_sec must be >= 0"))
	}

	if _, err := render.ParseMode(cfg.Render.Mode); err != nil {
		add(fmt.Errorf("render.mode: %w", err))
	}
	for k, v := range cfg.Render.AccentColors {
		if _, err := render.ParseHex(v); err != nil {
			add(fmt.Errorf("render.accent_colors[%s]: %w", k, err))
		}
	}

	if o := cfg.Observability; o.Enabled {
		addr := strings.TrimSpace(o.Addr)
		if addr == "" {
			addr = observability.DefaultAddr
		}
		if err := observability.CheckBind(addr, o.Token); err != nil {
			add(fmt.Errorf("observability.addr %s: %w", addr, err))
		}
	}

	return errors.Join(errs...)
}
