package config

// Config is the whole on-disk configuration. Every duration is a Go duration
// string ("30s", "2m").
type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Logging       LoggingConfig       `json:"logging"`
	Storage       StorageConfig       `json:"storage"`
	Pipeline      PipelineConfig      `json:"pipeline"`
	Sources       []SourceConfig      `json:"sources"`
	HTTP          HTTPConfig          `json:"http"`
	Render        RenderConfig        `json:"render"`
	Observability ObservabilityConfig `json:"observability"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied through OFFERBOT_TELEGRAM_TOKEN.
	Token string `json:"token"`
	// Channel is the delivery target: "@name" or a numeric chat id.
	Channel      string  `json:"channel"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the operator chat id for forwarded warnings.
	GroupLog    string  `json:"group_log"`
	PollTimeout string  `json:"poll_timeout"`
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
	// Commands toggles the command surface; nil means enabled.
	Commands *bool `json:"commands,omitempty"`
}

// CommandsEnabled reports whether the bot should poll for commands.
func (t TelegramConfig) CommandsEnabled() bool {
	return t.Commands == nil || *t.Commands
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the identity store. Changes need a restart.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./offerbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type PipelineConfig struct {
	// Schedule is a cron expression, a duration ("60m"), "HH:MM" or a
	// prefixed form ("cron:...", "interval:..."). Default "60m".
	Schedule     string `json:"schedule"`
	RunOnStart   bool   `json:"run_on_start"`
	Timezone     string `json:"timezone,omitempty"`
	BatchSize    int    `json:"batch_size"`
	FetchTimeout string `json:"fetch_timeout,omitempty"`
	SendTimeout  string `json:"send_timeout,omitempty"`
	CycleTimeout string `json:"cycle_timeout,omitempty"`
	Parallelism  int    `json:"parallelism,omitempty"`
	// TitleMax is 0 (default) or between 100 and 200 runes.
	TitleMax int `json:"title_max,omitempty"`
}

type SourceConfig struct {
	Name      string           `json:"name"`
	Kind      string           `json:"kind"`
	URL       string           `json:"url"`
	BaseURL   string           `json:"base_url,omitempty"`
	Category  string           `json:"category,omitempty"`
	Limit     int              `json:"limit,omitempty"`
	Selectors *SelectorsConfig `json:"selectors,omitempty"`
}

// SelectorsConfig holds goquery selectors for html sources.
type SelectorsConfig struct {
	Container   string `json:"container"`
	Title       string `json:"title"`
	Link        string `json:"link,omitempty"`
	Price       string `json:"price,omitempty"`
	Image       string `json:"image,omitempty"`
	Description string `json:"description,omitempty"`
}

type HTTPConfig struct {
	UserAgent     string  `json:"user_agent,omitempty"`
	Timeout       string  `json:"timeout,omitempty"`
	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
	RespectRobots bool    `json:"respect_robots"`
}

type RenderConfig struct {
	// Mode is always, with_image or never.
	Mode         string            `json:"mode"`
	Footer       string            `json:"footer,omitempty"`
	AccentColors map[string]string `json:"accent_colors,omitempty"`
	AssetTimeout string            `json:"asset_timeout,omitempty"`
}

// ObservabilityConfig controls the metrics/health server.
//
// Prefer a loopback address. A non-loopback addr requires a token.
type ObservabilityConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"` // do not log
	Pprof   bool   `json:"pprof,omitempty"`
}
