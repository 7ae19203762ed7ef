package summarize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logx "pagewatch/pkg/logx"
)

// ErrCircuitOpen is returned while the breaker is cooling down.
var ErrCircuitOpen = errors.New("summarizer circuit open")

// Summarizer matches watch.Summarizer.
type Summarizer interface {
	Summarize(ctx context.Context, previous, current string) (string, error)
}

// BreakerConfig configures a consecutive-failure breaker. Trip 0 means 5;
// a negative Trip disables the breaker.
type BreakerConfig struct {
	Trip       int
	BaseDelay  time.Duration // first cooldown, doubled per further failure
	MaxDelay   time.Duration
	ResetAfter time.Duration // failures older than this are forgotten
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Trip == 0 {
		c.Trip = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 30 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Minute
	}
	if c.ResetAfter <= 0 {
		c.ResetAfter = time.Hour
	}
	return c
}

// Breaker stops calling a failing summarizer for a while so an API outage
// costs one fast failure per changed page instead of a full timeout.
// An expired deadline counts as a failure; cancellation does not.
type Breaker struct {
	next Summarizer
	cfg  BreakerConfig
	log  logx.Logger
	now  func() time.Time

	mu          sync.Mutex
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

func NewBreaker(next Summarizer, cfg BreakerConfig, log logx.Logger) *Breaker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Breaker{next: next, cfg: cfg.withDefaults(), log: log, now: time.Now}
}

func (b *Breaker) Summarize(ctx context.Context, previous, current string) (string, error) {
	if b.cfg.Trip < 0 {
		return b.next.Summarize(ctx, previous, current)
	}
	if until, open := b.isOpen(); open {
		return "", fmt.Errorf("%w until %s", ErrCircuitOpen, until.Format(time.RFC3339))
	}
	out, err := b.next.Summarize(ctx, previous, current)
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		return out, err
	}
	b.record(err)
	return out, err
}

func (b *Breaker) isOpen() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.expireLocked(now)
	if !b.openUntil.IsZero() && now.Before(b.openUntil) {
		return b.openUntil, true
	}
	return time.Time{}, false
}

func (b *Breaker) expireLocked(now time.Time) {
	if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.cfg.ResetAfter {
		b.fails = 0
		b.openUntil = time.Time{}
		b.lastFailure = time.Time{}
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.expireLocked(now)

	if err == nil {
		if b.fails >= b.cfg.Trip {
			b.log.Info("summarizer recovered", logx.Int("failures", b.fails))
		}
		b.fails = 0
		b.openUntil = time.Time{}
		b.lastFailure = time.Time{}
		return
	}

	b.fails++
	b.lastFailure = now
	if b.fails < b.cfg.Trip {
		return
	}
	d := b.cfg.BaseDelay
	for i := 0; i < b.fails-b.cfg.Trip && d < b.cfg.MaxDelay; i++ {
		d *= 2
	}
	d = min(d, b.cfg.MaxDelay)
	b.openUntil = now.Add(d)
	b.log.Warn("summarizer circuit opened", logx.Int("failures", b.fails), logx.Duration("cooldown", d), logx.Err(err))
}
