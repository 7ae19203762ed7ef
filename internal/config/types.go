package config

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings ("90s", "5m"); empty means the component default.
//
// Secrets may be left out of the file and supplied through the environment
// (see env.go).
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Summarizer SummarizerConfig `json:"summarizer"`
	Watch      WatchConfig      `json:"watch"`
	Fetch      FetchConfig      `json:"fetch"`
	Notify     NotifyConfig     `json:"notify"`
	Storage    StorageConfig    `json:"storage"`
	Logging    LoggingConfig    `json:"logging"`
	HTTP       HTTPConfig       `json:"http"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	APIURL      string `json:"api_url,omitempty"`
	// Offline skips the getMe call at startup.
	Offline bool `json:"offline,omitempty"`
	// CommandWorkers bounds concurrently running chat commands.
	CommandWorkers int    `json:"command_workers,omitempty"`
	CheckTimeout   string `json:"check_timeout,omitempty"`
}

// SummarizerConfig points at any OpenAI-compatible chat completions API.
type SummarizerConfig struct {
	BaseURL       string   `json:"base_url,omitempty"`
	APIKey        string   `json:"api_key"`
	Model         string   `json:"model,omitempty"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	SystemPrompt  string   `json:"system_prompt,omitempty"`
	Prompt        string   `json:"prompt,omitempty"` // {{old}} and {{new}} are substituted
	MaxInputChars int      `json:"max_input_chars,omitempty"`
	Timeout       string   `json:"timeout,omitempty"`
	// BreakerTrip consecutive failures open the breaker; negative disables.
	BreakerTrip     int    `json:"breaker_trip,omitempty"`
	BreakerCooldown string `json:"breaker_cooldown,omitempty"`
}

type WatchConfig struct {
	URLs []string `json:"urls"`
	// Schedule is a cron expression, a descriptor ("@daily", "@every 6h") or
	// an interval ("24h", "06:00").
	Schedule   string `json:"schedule,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	Workers    int    `json:"workers,omitempty"`
	RunOnStart bool   `json:"run_on_start,omitempty"`
}

type FetchConfig struct {
	Driver    string        `json:"driver,omitempty"`  // http | browser
	Extract   string        `json:"extract,omitempty"` // text | markdown | readability
	Selector  string        `json:"selector,omitempty"`
	UserAgent string        `json:"user_agent,omitempty"`
	MaxBytes  int64         `json:"max_bytes,omitempty"`
	Timeout   string        `json:"timeout,omitempty"`
	Browser   BrowserConfig `json:"browser,omitempty"`
}

type BrowserConfig struct {
	Bin       string `json:"bin,omitempty"`
	RemoteURL string `json:"remote_url,omitempty"`
	Stealth   bool   `json:"stealth,omitempty"`
	IdleWait  string `json:"idle_wait,omitempty"`
}

type NotifyConfig struct {
	Workers       int    `json:"workers,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	SuppressQuiet bool   `json:"suppress_quiet,omitempty"`
}

// StorageConfig selects the persistence driver.
//
//	"storage": { "driver": "file", "path": "./data" }
//	"storage": { "driver": "sqlite", "path": "./data/pagewatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level,omitempty"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Forward LoggingForward `json:"forward"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LoggingForward sends records at or above MinLevel to a Telegram chat.
type LoggingForward struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// HTTPConfig controls the optional admin API.
type HTTPConfig struct {
	Enabled        bool   `json:"enabled"`
	Addr           string `json:"addr,omitempty"`
	Token          string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure  bool   `json:"allow_insecure,omitempty"`
	Pprof          bool   `json:"pprof,omitempty"`
	ReadTimeout    string `json:"read_timeout,omitempty"`
	WriteTimeout   string `json:"write_timeout,omitempty"`
	IdleTimeout    string `json:"idle_timeout,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Watch:   WatchConfig{Schedule: "@every 24h"},
		Storage: StorageConfig{Driver: "file", Path: "./data"},
		Logging: LoggingConfig{Level: "info", Console: true},
	}
}
