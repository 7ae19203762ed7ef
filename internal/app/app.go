// Package app wires configuration, storage, fetching, summarizing,
// scheduling and the Telegram surface into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"pagewatch/internal/commands"
	"pagewatch/internal/config"
	"pagewatch/internal/fetch"
	"pagewatch/internal/httpapi"
	rtsup "pagewatch/internal/runtime/supervisor"
	"pagewatch/internal/storage"
	"pagewatch/internal/summarize"
	kit "pagewatch/internal/transport"
	telegram "pagewatch/internal/transport/telegram/adapter"
	"pagewatch/internal/transport/telegram/router"
	"pagewatch/internal/watch"
	logx "pagewatch/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	// forwardChat is the Telegram chat that receives forwarded log records.
	forwardChat atomic.Int64

	stores   *storage.Stores
	adapter  *telegram.Adapter
	fetcher  fetch.Fetcher
	notifier *watch.Notifier
	sched    *watch.Scheduler
	router   *router.Router
	handlers *commands.Handlers
	api      *httpapi.Service
	apiCfg   httpapi.Config

	updates chan kit.Update
}

// New builds every component from the manager's current config, loading
// it first if needed. Nothing runs until Start.
func New(cfgm *config.Manager) (_ *App, err error) {
	cfg := cfgm.Get()
	if cfg == nil {
		if cfg, err = cfgm.Load(); err != nil {
			return nil, err
		}
	}
	if err := validateLive(cfg); err != nil {
		return nil, err
	}
	s, err := mapConfig(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(s.logging)
	log := root.With(logx.String("comp", "app"))
	a := &App{cfgm: cfgm, log: log, logs: logSvc, apiCfg: s.http, updates: make(chan kit.Update, 256)}
	a.forwardChat.Store(s.forwardChat)

	// Undo partial construction on error.
	defer func() {
		if err == nil {
			return
		}
		if a.fetcher != nil {
			_ = a.fetcher.Close()
		}
		if a.stores != nil {
			_ = a.stores.Close()
		}
		_ = logSvc.Close()
	}()

	a.adapter, err = telegram.New(s.telegram, root.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	logSvc.SetForwarder(a.forwardLog)

	a.stores, err = storage.Open(s.storage, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", a.stores.Driver), logx.String("path", s.storage.Path))

	a.fetcher, err = fetch.New(s.fetch, root.With(logx.String("comp", "fetch")))
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	sumLog := root.With(logx.String("comp", "summarizer"))
	summarizer := summarize.NewBreaker(summarize.NewOpenAI(s.summarizer, nil, sumLog), s.breaker, sumLog)

	detector := watch.NewDetector(s.detector, a.fetcher, summarizer, a.stores.Snapshots, root.With(logx.String("comp", "detector")))
	a.notifier = watch.NewNotifier(s.notifier, a.stores.Subscribers, a.adapter, root.With(logx.String("comp", "notifier")))
	a.sched, err = watch.NewScheduler(s.scheduler, detector, a.notifier, root.With(logx.String("comp", "scheduler")))
	if err != nil {
		return nil, err
	}

	a.router = router.New(root.With(logx.String("comp", "commands")), a.adapter, router.Options{Workers: s.cmdWorkers})
	a.handlers = commands.New(a.stores.Subscribers, a.sched, root.With(logx.String("comp", "commands")))
	a.handlers.CheckTimeout = s.checkTimeout
	a.api = httpapi.New(s.http, a.sched, a.stores.Subscribers, root.With(logx.String("comp", "http")))

	return a, nil
}

// forwardLog sends one log record to the configured chat.
func (a *App) forwardLog(ctx context.Context, text string) error {
	chat := a.forwardChat.Load()
	if chat == 0 {
		return nil
	}
	return a.adapter.Deliver(ctx, strconv.FormatInt(chat, 10), text)
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Scheduler exposes the watch scheduler.
func (a *App) Scheduler() *watch.Scheduler { return a.sched }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validateLive(cfg) })

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.router.SetCommands(run, a.handlers.Commands())
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	if err := a.sched.Start(run); err != nil {
		return err
	}
	if a.apiCfg.Enabled {
		if err := a.api.Reconfigure(run, a.apiCfg); err != nil {
			return fmt.Errorf("http api: %w", err)
		}
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	st := a.sched.Status()
	a.log.Info("app started",
		logx.Int("urls", len(st.URLs)),
		logx.String("schedule", st.Schedule),
		logx.Time("next_run", st.NextRun),
	)
	return nil
}

// Stop cancels the run context, then stops components in dependency order:
// admin API, scheduler (waits for the in-flight pass), Telegram, fetcher,
// storage. Each step is bounded so one stuck component cannot stall the
// rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx := ctx
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > max {
			var cancel context.CancelFunc
			sctx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

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
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("http", 2*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	step("scheduler", 10*time.Second, a.sched.Stop)

	a.sup.Cancel()

	step("adapter", 3*time.Second, a.adapter.Stop)
	step("fetcher", 3*time.Second, func(context.Context) error { return a.fetcher.Close() })
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", 2*time.Second, func(context.Context) error { return a.stores.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
