package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	logx "pagewatch/pkg/logx"
)

const (
	DefaultFetchTimeout     = 60 * time.Second
	DefaultSummarizeTimeout = 90 * time.Second
)

type DetectorConfig struct {
	FetchTimeout     time.Duration
	SummarizeTimeout time.Duration
}

// Detector fetches a URL, compares it with the stored snapshot and records
// the new content.
type Detector struct {
	cfg        DetectorConfig
	fetcher    Fetcher
	summarizer Summarizer
	store      Snapshots
	log        logx.Logger
	locks      *keyLock
	now        func() time.Time
}

func NewDetector(cfg DetectorConfig, fetcher Fetcher, summarizer Summarizer, store Snapshots, log logx.Logger) *Detector {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.SummarizeTimeout <= 0 {
		cfg.SummarizeTimeout = DefaultSummarizeTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Detector{
		cfg:        cfg,
		fetcher:    fetcher,
		summarizer: summarizer,
		store:      store,
		log:        log,
		locks:      newKeyLock(),
		now:        time.Now,
	}
}

// Check never returns an error: failures are reported as result variants.
// Checks of the same URL are serialized; different URLs run in parallel.
func (d *Detector) Check(ctx context.Context, url string) (res CheckResult) {
	start := d.now()
	res = CheckResult{URL: url, CheckedAt: start}
	defer func() { res.Took = d.now().Sub(start) }()

	unlock, err := d.locks.Lock(ctx, url)
	if err != nil {
		res.Status = StatusFetchFailed
		res.Err = fmt.Errorf("%w: %w", ErrFetch, err)
		return res
	}
	defer unlock()

	log := d.log.With(logx.String("url", url))

	current, err := d.fetch(ctx, url)
	if err != nil {
		log.Warn("fetch failed", logx.Err(err))
		res.Status = StatusFetchFailed
		res.Err = err
		return res
	}

	prev, ok, err := d.store.Get(ctx, url)
	if err != nil {
		// Leave the stored snapshot alone; the next pass retries.
		log.Warn("snapshot read failed", logx.Err(err))
		res.Status = StatusFetchFailed
		res.Err = fmt.Errorf("%w: read snapshot: %w", ErrFetch, err)
		return res
	}

	switch {
	case !ok:
		res.Status = StatusFirstObservation
	case prev.Content == current:
		res.Status = StatusUnchanged
		log.Debug("no change", logx.Int("len", len(current)))
		return res
	default:
		summary, err := d.summarize(ctx, prev.Content, current)
		if err != nil {
			log.Warn("summarize failed", logx.Err(err))
			res.Status = StatusSummarizeFailed
			res.Err = err
		} else {
			res.Status = StatusChanged
			res.Summary = summary
		}
	}

	if err := d.store.Put(ctx, url, current); err != nil {
		log.Error("snapshot write failed", logx.String("status", res.Status.String()), logx.Err(err))
		res.PersistErr = err
	}
	log.Info("checked", logx.String("status", res.Status.String()), logx.Int("len", len(current)))
	return res
}

func (d *Detector) fetch(ctx context.Context, url string) (string, error) {
	fctx, cancel := context.WithTimeout(ctx, d.cfg.FetchTimeout)
	defer cancel()
	text, err := d.fetcher.Fetch(fctx, url)
	if err != nil {
		if errors.Is(err, ErrFetch) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return text, nil
}

func (d *Detector) summarize(ctx context.Context, previous, current string) (string, error) {
	sctx, cancel := context.WithTimeout(ctx, d.cfg.SummarizeTimeout)
	defer cancel()
	summary, err := d.summarizer.Summarize(sctx, previous, current)
	if err != nil {
		if errors.Is(err, ErrSummarize) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrSummarize, err)
	}
	return summary, nil
}
