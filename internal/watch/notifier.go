package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "pagewatch/pkg/logx"
)

type NotifierConfig struct {
	Workers     int
	RatePerSec  int
	SendTimeout time.Duration
	// SuppressQuiet skips broadcasting unchanged and first-observation results.
	SuppressQuiet bool
}

func (c NotifierConfig) withDefaults() NotifierConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// DeliveryReport summarizes one broadcast.
type DeliveryReport struct {
	URL       string            `json:"url,omitempty"`
	Status    Status            `json:"status,omitempty"`
	Total     int               `json:"total"`
	Delivered int               `json:"delivered"`
	Failed    int               `json:"failed"`
	Skipped   bool              `json:"skipped,omitempty"`
	Err       error             `json:"-"`
	Failures  []DeliveryFailure `json:"failures,omitempty"`
}

type DeliveryFailure struct {
	Recipient string `json:"recipient"`
	Err       error  `json:"-"`
}

// Notifier fans a message out to every subscriber.
type Notifier struct {
	recipients Recipients
	messenger  Messenger
	log        logx.Logger

	mu      sync.Mutex
	cfg     NotifierConfig
	limiter *rate.Limiter
}

func NewNotifier(cfg NotifierConfig, recipients Recipients, messenger Messenger, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{recipients: recipients, messenger: messenger, log: log}
	n.Apply(cfg)
	return n
}

// Apply swaps worker count, rate and timeouts. Broadcasts already running
// keep the settings they started with.
func (n *Notifier) Apply(cfg NotifierConfig) {
	cfg = cfg.withDefaults()
	n.mu.Lock()
	n.cfg = cfg
	n.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	n.mu.Unlock()
}

// Notify renders res and delivers it to every current subscriber.
func (n *Notifier) Notify(ctx context.Context, res CheckResult) DeliveryReport {
	n.mu.Lock()
	suppress := n.cfg.SuppressQuiet
	n.mu.Unlock()

	if suppress && res.Status.Quiet() {
		n.log.Debug("broadcast suppressed", logx.String("url", res.URL), logx.String("status", res.Status.String()))
		return DeliveryReport{URL: res.URL, Status: res.Status, Skipped: true}
	}
	rep := n.Broadcast(ctx, Render(res))
	rep.URL = res.URL
	rep.Status = res.Status
	return rep
}

// Broadcast delivers text to the subscriber list as it is right now. It
// returns after every delivery finished or failed. A failing recipient never
// stops the others and nothing is retried.
func (n *Notifier) Broadcast(ctx context.Context, text string) DeliveryReport {
	n.mu.Lock()
	cfg := n.cfg
	lim := n.limiter
	n.mu.Unlock()

	ids, err := n.recipients.List(ctx)
	if err != nil {
		n.log.Error("subscriber list failed", logx.Err(err))
		return DeliveryReport{Err: fmt.Errorf("%w: list subscribers: %w", ErrDelivery, err)}
	}
	rep := DeliveryReport{Total: len(ids)}
	if len(ids) == 0 {
		return rep
	}

	start := time.Now()
	jobs := make(chan string)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	workers := min(cfg.Workers, len(ids))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				err := n.sendOne(ctx, lim, cfg.SendTimeout, id, text)
				mu.Lock()
				if err != nil {
					rep.Failed++
					rep.Failures = append(rep.Failures, DeliveryFailure{Recipient: id, Err: err})
				} else {
					rep.Delivered++
				}
				mu.Unlock()
			}
		}()
	}
	for _, id := range ids {
		jobs <- id
	}
	close(jobs)
	wg.Wait()

	fields := []logx.Field{
		logx.Int("total", rep.Total),
		logx.Int("delivered", rep.Delivered),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", time.Since(start)),
	}
	if rep.Failed > 0 {
		rep.Err = fmt.Errorf("%w: %d of %d recipients", ErrDelivery, rep.Failed, rep.Total)
		n.log.Warn("broadcast finished with failures", fields...)
	} else {
		n.log.Info("broadcast finished", fields...)
	}
	return rep
}

func (n *Notifier) sendOne(ctx context.Context, lim *rate.Limiter, timeout time.Duration, id, text string) error {
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := n.messenger.Deliver(sctx, id, text); err != nil {
		n.log.Warn("delivery failed", logx.String("recipient", id), logx.Err(err))
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return nil
}
