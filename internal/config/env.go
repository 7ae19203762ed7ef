package config

import (
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides are read from the process environment after the file.
// Non-empty values win.
type envOverrides struct {
	TelegramToken string   `env:"TELEGRAM_TOKEN"`
	OpenAIKey     string   `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string   `env:"OPENAI_BASE_URL"`
	OpenAIModel   string   `env:"OPENAI_MODEL"`
	TargetURLs    []string `env:"TARGET_URLS" envSeparator:","`
	Schedule      string   `env:"WATCH_SCHEDULE"`
	Timezone      string   `env:"WATCH_TIMEZONE"`
	DataDir       string   `env:"PAGEWATCH_DATA_DIR"`
	LogLevel      string   `env:"LOG_LEVEL"`
	HTTPToken     string   `env:"PAGEWATCH_HTTP_TOKEN"`
}

// ApplyEnv overlays environment overrides onto cfg. A nil environ reads
// the process environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	var o envOverrides
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return err
	}

	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, o.TelegramToken)
	set(&cfg.Summarizer.APIKey, o.OpenAIKey)
	set(&cfg.Summarizer.BaseURL, o.OpenAIBaseURL)
	set(&cfg.Summarizer.Model, o.OpenAIModel)
	set(&cfg.Watch.Schedule, o.Schedule)
	set(&cfg.Watch.Timezone, o.Timezone)
	set(&cfg.Storage.Path, o.DataDir)
	set(&cfg.Logging.Level, o.LogLevel)
	set(&cfg.HTTP.Token, o.HTTPToken)

	var urls []string
	for _, u := range o.TargetURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) > 0 {
		cfg.Watch.URLs = urls
	}
	return nil
}
