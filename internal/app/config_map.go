package app

import (
	"fmt"
	"strings"
	"time"

	"pagewatch/internal/config"
	"pagewatch/internal/fetch"
	"pagewatch/internal/httpapi"
	"pagewatch/internal/storage"
	"pagewatch/internal/summarize"
	telegram "pagewatch/internal/transport/telegram/adapter"
	"pagewatch/internal/watch"
	logx "pagewatch/pkg/logx"
)

// settings is the typed form of config.Config after durations are parsed
// and defaults applied.
type settings struct {
	logging      logx.Config
	forwardChat  int64
	telegram     telegram.Config
	cmdWorkers   int
	checkTimeout time.Duration
	storage      storage.Config
	fetch        fetch.Config
	summarizer   summarize.Config
	breaker      summarize.BreakerConfig
	detector     watch.DetectorConfig
	notifier     watch.NotifierConfig
	scheduler    watch.SchedulerConfig
	http         httpapi.Config
}

func mapConfig(cfg *config.Config) (settings, error) {
	var s settings
	var err error
	dur := func(path, raw string, def time.Duration) time.Duration {
		if err != nil {
			return 0
		}
		var d time.Duration
		d, err = config.Duration(path, raw, def)
		return d
	}

	s.logging = mapLogging(cfg.Logging)
	s.forwardChat = cfg.Logging.Forward.ChatID

	s.telegram = telegram.Config{
		Token:       strings.TrimSpace(cfg.Telegram.Token),
		PollTimeout: dur("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second),
		APIURL:      strings.TrimSpace(cfg.Telegram.APIURL),
		Offline:     cfg.Telegram.Offline,
	}
	s.cmdWorkers = cfg.Telegram.CommandWorkers
	s.checkTimeout = dur("telegram.check_timeout", cfg.Telegram.CheckTimeout, 5*time.Minute)

	s.storage, err = mapStorage(cfg.Storage)
	if err != nil {
		return settings{}, err
	}

	s.fetch = fetch.Config{
		Driver:    cfg.Fetch.Driver,
		Extract:   cfg.Fetch.Extract,
		Selector:  cfg.Fetch.Selector,
		UserAgent: cfg.Fetch.UserAgent,
		MaxBytes:  cfg.Fetch.MaxBytes,
		Timeout:   dur("fetch.timeout", cfg.Fetch.Timeout, 0),
		Browser: fetch.BrowserConfig{
			Bin:       cfg.Fetch.Browser.Bin,
			RemoteURL: cfg.Fetch.Browser.RemoteURL,
			Stealth:   cfg.Fetch.Browser.Stealth,
			IdleWait:  dur("fetch.browser.idle_wait", cfg.Fetch.Browser.IdleWait, 0),
		},
	}

	sc := cfg.Summarizer
	s.summarizer = summarize.Config{
		BaseURL:       sc.BaseURL,
		APIKey:        strings.TrimSpace(sc.APIKey),
		Model:         sc.Model,
		MaxTokens:     sc.MaxTokens,
		Temperature:   sc.Temperature,
		SystemPrompt:  sc.SystemPrompt,
		Prompt:        sc.Prompt,
		MaxInputChars: sc.MaxInputChars,
	}
	s.breaker = summarize.BreakerConfig{
		Trip:      sc.BreakerTrip,
		BaseDelay: dur("summarizer.breaker_cooldown", sc.BreakerCooldown, 0),
	}
	summarizeTimeout := dur("summarizer.timeout", sc.Timeout, watch.DefaultSummarizeTimeout)
	s.detector = watch.DetectorConfig{
		FetchTimeout:     s.fetch.Timeout,
		SummarizeTimeout: summarizeTimeout,
	}
	if s.detector.FetchTimeout <= 0 {
		s.detector.FetchTimeout = watch.DefaultFetchTimeout
	}

	s.notifier = mapNotifier(cfg.Notify, &err)
	s.scheduler = mapScheduler(cfg.Watch)
	s.http = mapHTTP(cfg.HTTP, &err)

	if err != nil {
		return settings{}, err
	}
	return s, nil
}

func mapLogging(lc config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Forward: logx.ForwardConfig{
			Enabled:    lc.Forward.Enabled && lc.Forward.ChatID != 0,
			MinLevel:   lc.Forward.MinLevel,
			RatePerSec: lc.Forward.RatePerSec,
		},
	}
}

func mapStorage(sc config.StorageConfig) (storage.Config, error) {
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file":
		if path == "" {
			path = "./data"
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.Duration("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapNotifier(nc config.NotifyConfig, errp *error) watch.NotifierConfig {
	timeout, err := config.Duration("notify.send_timeout", nc.SendTimeout, 10*time.Second)
	if err != nil && *errp == nil {
		*errp = err
	}
	return watch.NotifierConfig{
		Workers:       nc.Workers,
		RatePerSec:    nc.RatePerSec,
		SendTimeout:   timeout,
		SuppressQuiet: nc.SuppressQuiet,
	}
}

func mapScheduler(wc config.WatchConfig) watch.SchedulerConfig {
	return watch.SchedulerConfig{
		URLs:       wc.URLs,
		Schedule:   wc.Schedule,
		Timezone:   wc.Timezone,
		Workers:    wc.Workers,
		RunOnStart: wc.RunOnStart,
	}
}

func mapHTTP(hc config.HTTPConfig, errp *error) httpapi.Config {
	out := httpapi.Config{
		Enabled:       hc.Enabled,
		Addr:          strings.TrimSpace(hc.Addr),
		Token:         strings.TrimSpace(hc.Token),
		AllowInsecure: hc.AllowInsecure,
		Pprof:         hc.Pprof,
	}
	for _, f := range []struct {
		path string
		raw  string
		dst  *time.Duration
		def  time.Duration
	}{
		{"http.read_timeout", hc.ReadTimeout, &out.ReadTimeout, 30 * time.Second},
		{"http.write_timeout", hc.WriteTimeout, &out.WriteTimeout, 0},
		{"http.idle_timeout", hc.IdleTimeout, &out.IdleTimeout, 2 * time.Minute},
		{"http.request_timeout", hc.RequestTimeout, &out.RequestTimeout, 5 * time.Minute},
	} {
		d, err := config.Duration(f.path, f.raw, f.def)
		if err != nil && *errp == nil {
			*errp = err
		}
		*f.dst = d
	}
	return out
}

// validateLive rejects reloads the running components could not apply.
func validateLive(cfg *config.Config) error {
	if _, err := mapConfig(cfg); err != nil {
		return err
	}
	sched := strings.TrimSpace(cfg.Watch.Schedule)
	if sched == "" {
		sched = watch.DefaultSchedule
	}
	if _, err := watch.ParseSchedule(sched); err != nil {
		return fmt.Errorf("watch.schedule: %w", err)
	}
	if tz := strings.TrimSpace(cfg.Watch.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("watch.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}
