package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	logx "pagewatch/pkg/logx"
)

const innerTextJS = `() => document.body ? document.body.innerText.trim() : ""`
const outerHTMLJS = `() => document.documentElement.outerHTML`

// BrowserFetcher renders pages in headless Chrome. The browser is started on
// first use and shared by all fetches. Starting runs in the background under
// the fetcher's lifetime; callers wait for it only until their own deadline.
type BrowserFetcher struct {
	cfg Config
	log logx.Logger

	life context.Context
	stop context.CancelFunc
	// start launches or connects to Chrome; replaced in tests.
	start func(ctx context.Context) (*rod.Browser, func(), error)

	mu       sync.Mutex
	browser  *rod.Browser
	release  func()
	starting chan struct{}
	startErr error
	closed   bool
}

const connectTimeout = 30 * time.Second

func NewBrowser(cfg Config, log logx.Logger) *BrowserFetcher {
	life, stop := context.WithCancel(context.Background())
	f := &BrowserFetcher{cfg: cfg.withDefaults(), log: log, life: life, stop: stop}
	f.start = f.startChrome
	return f
}

func (f *BrowserFetcher) Fetch(ctx context.Context, url string) (string, error) {
	ctx, cancel := withTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	b, err := f.ensureBrowser(ctx)
	if err != nil {
		return "", err
	}

	bctx := b.Context(ctx)
	var page *rod.Page
	if f.cfg.Browser.Stealth {
		page, err = stealth.Page(bctx)
	} else {
		page, err = bctx.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		if ctx.Err() == nil {
			f.reset(b)
		}
		return "", fmt.Errorf("browser: create tab: %w", err)
	}
	defer func() {
		cctx, ccancel := context.WithTimeout(f.life, 5*time.Second)
		defer ccancel()
		_ = page.Context(cctx).Close()
	}()

	p := page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return "", fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return "", fmt.Errorf("browser: wait load %s: %w", url, err)
	}
	if err := p.WaitIdle(f.cfg.Browser.IdleWait); err != nil && ctx.Err() == nil {
		f.log.Debug("browser: page not idle; reading anyway", logx.String("url", url), logx.Err(err))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if f.cfg.Extract == ExtractText && f.cfg.Selector == "" {
		res, err := p.Eval(innerTextJS)
		if err != nil {
			return "", fmt.Errorf("browser: read text: %w", err)
		}
		return res.Value.Str(), nil
	}

	res, err := p.Eval(outerHTMLJS)
	if err != nil {
		return "", fmt.Errorf("browser: read dom: %w", err)
	}
	return Extract(res.Value.Str(), url, f.cfg.Extract, f.cfg.Selector)
}

// ensureBrowser returns the shared browser, starting it if needed. Concurrent
// callers share one start attempt; a failed attempt is retried by the next
// caller.
func (f *BrowserFetcher) ensureBrowser(ctx context.Context) (*rod.Browser, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, errClosed
	}
	if f.browser != nil {
		b := f.browser
		f.mu.Unlock()
		return b, nil
	}
	ch := f.starting
	if ch == nil {
		ch = make(chan struct{})
		f.starting = ch
		f.startErr = nil
		go f.launch(ch)
	}
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("browser: waiting for start: %w", ctx.Err())
	case <-ch:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		return f.browser, nil
	}
	if f.startErr != nil {
		return nil, f.startErr
	}
	return nil, errClosed
}

var errClosed = errors.New("browser: closed")

func (f *BrowserFetcher) launch(done chan struct{}) {
	b, release, err := f.start(f.life)

	f.mu.Lock()
	defer f.mu.Unlock()
	defer close(done)
	f.starting = nil
	if err == nil && f.closed {
		_ = b.Close()
		release()
		return
	}
	if err != nil {
		f.startErr = err
		return
	}
	f.browser, f.release = b, release
}

func (f *BrowserFetcher) startChrome(life context.Context) (*rod.Browser, func(), error) {
	release := func() {}
	wsURL := strings.TrimSpace(f.cfg.Browser.RemoteURL)
	if wsURL == "" {
		// The launcher context owns the Chrome process.
		l := launcher.New().Context(life).Headless(true).Set("disable-blink-features", "AutomationControlled")
		if bin := strings.TrimSpace(f.cfg.Browser.Bin); bin != "" {
			l = l.Bin(bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		release = l.Cleanup
		f.log.Info("browser: launched local chrome", logx.String("url", wsURL))
	} else {
		f.log.Info("browser: connecting to remote", logx.String("url", wsURL))
	}

	cctx, cancel := context.WithTimeout(life, connectTimeout)
	defer cancel()
	b := rod.New().Context(cctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		release()
		return nil, nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b.Context(life), release, nil
}

// reset drops b so the next fetch starts a fresh browser. A browser that was
// already replaced is left alone.
func (f *BrowserFetcher) reset(b *rod.Browser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser == b {
		f.cleanupLocked()
	}
}

func (f *BrowserFetcher) cleanupLocked() {
	if f.browser != nil {
		_ = f.browser.Close()
		f.browser = nil
	}
	if f.release != nil {
		f.release()
		f.release = nil
	}
}

func (f *BrowserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.stop()
	f.cleanupLocked()
	return nil
}
