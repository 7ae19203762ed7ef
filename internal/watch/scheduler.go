package watch

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	logx "pagewatch/pkg/logx"
)

type SchedulerConfig struct {
	URLs       []string
	Schedule   string
	Timezone   string
	Workers    int
	RunOnStart bool
}

// PassInfo describes the most recent completed pass.
type PassInfo struct {
	ID         string         `json:"id"`
	Trigger    string         `json:"trigger"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Counts     map[string]int `json:"counts"`
}

// SchedulerStatus is a point-in-time view of the scheduler.
type SchedulerStatus struct {
	Schedule string    `json:"schedule"`
	Timezone string    `json:"timezone"`
	URLs     []string  `json:"urls"`
	Started  bool      `json:"started"`
	Running  int       `json:"running_passes"`
	NextRun  time.Time `json:"next_run,omitempty"`
	LastPass *PassInfo `json:"last_pass,omitempty"`
}

// Scheduler runs checks over every watched URL, either on the cron schedule
// (results are broadcast) or on demand (results go back to the requester).
type Scheduler struct {
	checker  Checker
	notifier Broadcaster
	log      logx.Logger

	mu      sync.Mutex
	cfg     SchedulerConfig
	sched   Schedule
	loc     *time.Location
	c       *cron.Cron
	entry   cron.EntryID
	baseCtx context.Context
	cancel  context.CancelFunc
	stopped bool
	last    *PassInfo

	passes    sync.WaitGroup
	running   atomic.Int32
	timerBusy atomic.Bool
}

func NewScheduler(cfg SchedulerConfig, checker Checker, notifier Broadcaster, log logx.Logger) (*Scheduler, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = normalizeSchedulerConfig(cfg)
	sched, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		checker:  checker,
		notifier: notifier,
		log:      log,
		cfg:      cfg,
		sched:    sched,
		loc:      loadLocation(cfg.Timezone, log),
	}, nil
}

func normalizeSchedulerConfig(cfg SchedulerConfig) SchedulerConfig {
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	cfg.URLs = normalizeURLs(cfg.URLs)
	return cfg
}

// normalizeURLs trims entries, drops empty ones and removes duplicates while
// keeping the configured order.
func normalizeURLs(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, u := range in {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Start begins timer-driven passes. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.c != nil {
		return nil
	}
	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.startCronLocked()

	s.log.Info("scheduler started",
		logx.String("schedule", s.cfg.Schedule),
		logx.String("tz", s.loc.String()),
		logx.Int("urls", len(s.cfg.URLs)),
	)
	if s.cfg.RunOnStart {
		s.passes.Add(1)
		go func() {
			defer s.passes.Done()
			s.timerPass("start")
		}()
	}
	return nil
}

func (s *Scheduler) startCronLocked() {
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{log: s.log}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: s.log})),
	)
	s.entry = c.Schedule(s.sched.sched, cron.FuncJob(func() { s.timerPass("schedule") }))
	c.Start()
	s.c = c
}

// Apply swaps the URL list, worker count and schedule. The cron is rebuilt
// only when the schedule or timezone changed.
func (s *Scheduler) Apply(cfg SchedulerConfig) error {
	cfg = normalizeSchedulerConfig(cfg)
	sched, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	restart := cfg.Schedule != s.cfg.Schedule || strings.TrimSpace(cfg.Timezone) != strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	s.sched = sched
	if restart {
		s.loc = loadLocation(cfg.Timezone, s.log)
	}
	if restart && s.c != nil {
		// Passes already running are tracked by s.passes, not by the old cron.
		s.c.Stop()
		s.startCronLocked()
		s.log.Info("schedule changed", logx.String("schedule", cfg.Schedule), logx.String("tz", s.loc.String()))
	}
	return nil
}

// SetURLs replaces the watched URL list. Passes already running keep the
// list they started with.
func (s *Scheduler) SetURLs(urls []string) {
	urls = normalizeURLs(urls)
	s.mu.Lock()
	s.cfg.URLs = urls
	s.mu.Unlock()
	s.log.Info("url list updated", logx.Int("urls", len(urls)))
}

func (s *Scheduler) URLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.cfg.URLs)
}

// Stop stops the cron and waits for running passes so their store writes
// complete. When ctx expires first, running passes are canceled.
func (s *Scheduler) Stop(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	done := make(chan struct{})
	go func() {
		s.passes.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		s.log.Warn("stop deadline reached; canceling running passes", logx.Int("running", int(s.running.Load())))
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	return err
}

// CheckNow runs a pass over every URL and hands each result to reply as it
// completes. Calls to reply are serialized. Results are not broadcast.
func (s *Scheduler) CheckNow(ctx context.Context, reply func(CheckResult)) ([]CheckResult, error) {
	pctx, release, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.pass(pctx, "manual", s.URLs(), reply), nil
}

// CheckURL checks a single watched URL without broadcasting.
func (s *Scheduler) CheckURL(ctx context.Context, url string) (CheckResult, error) {
	url = strings.TrimSpace(url)
	if !slices.Contains(s.URLs(), url) {
		return CheckResult{}, fmt.Errorf("%w: %s", ErrUnknownURL, url)
	}
	pctx, release, err := s.begin(ctx)
	if err != nil {
		return CheckResult{}, err
	}
	defer release()
	return s.checker.Check(pctx, url), nil
}

// begin registers a manual pass. The returned context is canceled when the
// caller's ctx ends or when Stop gives up waiting.
func (s *Scheduler) begin(ctx context.Context) (context.Context, func(), error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, nil, ErrStopped
	}
	base := s.baseCtx
	s.passes.Add(1)
	s.mu.Unlock()

	pctx, cancel := context.WithCancel(ctx)
	stop := func() bool { return false }
	if base != nil {
		stop = context.AfterFunc(base, cancel)
	}
	return pctx, func() {
		stop()
		cancel()
		s.passes.Done()
	}, nil
}

func (s *Scheduler) timerPass(trigger string) {
	if !s.timerBusy.CompareAndSwap(false, true) {
		s.log.Info("previous pass still running; skipping", logx.String("trigger", trigger))
		return
	}
	defer s.timerBusy.Store(false)

	s.mu.Lock()
	if s.stopped || s.baseCtx == nil {
		s.mu.Unlock()
		return
	}
	ctx := s.baseCtx
	urls := slices.Clone(s.cfg.URLs)
	s.passes.Add(1)
	s.mu.Unlock()
	defer s.passes.Done()

	s.pass(ctx, trigger, urls, func(res CheckResult) {
		if s.notifier == nil {
			return
		}
		rep := s.notifier.Notify(ctx, res)
		if rep.Err != nil {
			s.log.Warn("notify incomplete", logx.String("url", res.URL), logx.Int("failed", rep.Failed), logx.Int("total", rep.Total), logx.Err(rep.Err))
		}
	})
}

// pass checks urls with at most cfg.Workers checks in flight. Results are
// returned in the order of urls.
func (s *Scheduler) pass(ctx context.Context, trigger string, urls []string, each func(CheckResult)) []CheckResult {
	s.mu.Lock()
	workers := s.cfg.Workers
	s.mu.Unlock()

	s.running.Add(1)
	defer s.running.Add(-1)

	info := PassInfo{ID: uuid.NewString(), Trigger: trigger, StartedAt: time.Now(), Counts: map[string]int{}}
	log := s.log.With(logx.String("pass", info.ID), logx.String("trigger", trigger))
	log.Info("pass started", logx.Int("urls", len(urls)))

	results := make([]CheckResult, len(urls))
	sem := make(chan struct{}, max(1, workers))
	var (
		wg     sync.WaitGroup
		eachMu sync.Mutex
	)
	for i, u := range urls {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			res := s.checker.Check(ctx, u)
			results[i] = res
			if each != nil {
				eachMu.Lock()
				each(res)
				eachMu.Unlock()
			}
		}()
	}
	wg.Wait()

	for _, r := range results {
		info.Counts[r.Status.String()]++
	}
	info.FinishedAt = time.Now()
	s.mu.Lock()
	s.last = &info
	s.mu.Unlock()

	log.Info("pass finished", logx.Any("counts", info.Counts), logx.Duration("took", info.FinishedAt.Sub(info.StartedAt)))
	return results
}

// Status returns a snapshot for status surfaces.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SchedulerStatus{
		Schedule: s.cfg.Schedule,
		Timezone: s.loc.String(),
		URLs:     slices.Clone(s.cfg.URLs),
		Started:  s.c != nil,
		Running:  int(s.running.Load()),
	}
	if s.c != nil {
		st.NextRun = s.c.Entry(s.entry).Next
	}
	if s.last != nil {
		cp := *s.last
		cp.Counts = make(map[string]int, len(s.last.Counts))
		for k, v := range s.last.Counts {
			cp.Counts[k] = v
		}
		st.LastPass = &cp
	}
	return st
}

// cronLogger routes robfig/cron logs into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
