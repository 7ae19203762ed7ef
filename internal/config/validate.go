package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var ErrMissing = errors.New("missing required setting")

// Validate reports every problem at once, joined.
func (c *Config) Validate() error {
	var errs []error
	missing := func(key, envName string) {
		errs = append(errs, fmt.Errorf("%w: %s (or %s)", ErrMissing, key, envName))
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		missing("telegram.token", "TELEGRAM_TOKEN")
	}
	if strings.TrimSpace(c.Summarizer.APIKey) == "" {
		missing("summarizer.api_key", "OPENAI_API_KEY")
	}
	if len(c.Watch.URLs) == 0 {
		missing("watch.urls", "TARGET_URLS")
	}
	for i, raw := range c.Watch.URLs {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("watch.urls[%d]: %q is not an http(s) URL", i, raw))
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Logging.Forward.Enabled && c.Logging.Forward.ChatID == 0 {
		errs = append(errs, errors.New("logging.forward.chat_id: required when forwarding is enabled"))
	}

	durations := map[string]string{
		"telegram.poll_timeout":       c.Telegram.PollTimeout,
		"telegram.check_timeout":      c.Telegram.CheckTimeout,
		"summarizer.timeout":          c.Summarizer.Timeout,
		"summarizer.breaker_cooldown": c.Summarizer.BreakerCooldown,
		"fetch.timeout":               c.Fetch.Timeout,
		"fetch.browser.idle_wait":     c.Fetch.Browser.IdleWait,
		"notify.send_timeout":         c.Notify.SendTimeout,
		"storage.busy_timeout":        c.Storage.BusyTimeout,
		"http.read_timeout":           c.HTTP.ReadTimeout,
		"http.write_timeout":          c.HTTP.WriteTimeout,
		"http.idle_timeout":           c.HTTP.IdleTimeout,
		"http.request_timeout":        c.HTTP.RequestTimeout,
	}
	for _, path := range sortedKeys(durations) {
		if _, err := Duration(path, durations[path], time.Second); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
