// Package fetch retrieves the visible text of web pages.
//
// Two drivers exist: "http" downloads the document and extracts text from
// the parsed HTML; "browser" renders the page in headless Chrome and reads
// what a user would see, which also covers pages built by scripts.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "pagewatch/pkg/logx"
)

var (
	ErrSelectorNotFound = errors.New("fetch: selector matched nothing")
	ErrTooLarge         = errors.New("fetch: response too large")
)

const (
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36 pagewatch"
	DefaultMaxBytes  = 8 << 20
)

// Extract modes.
const (
	ExtractText        = "text"
	ExtractMarkdown    = "markdown"
	ExtractReadability = "readability"
)

type Config struct {
	Driver    string // "http" (default) | "browser"
	Extract   string // "text" (default) | "markdown" | "readability"
	Selector  string // XPath; empty means the whole body
	UserAgent string
	MaxBytes  int64
	Timeout   time.Duration // per request, on top of the caller's deadline
	Browser   BrowserConfig
}

type BrowserConfig struct {
	Bin       string // local Chrome binary; empty lets rod locate or download one
	RemoteURL string // DevTools websocket of an already running Chrome
	Stealth   bool
	IdleWait  time.Duration
}

func (c Config) withDefaults() Config {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	if c.Driver == "" {
		c.Driver = "http"
	}
	c.Extract = strings.ToLower(strings.TrimSpace(c.Extract))
	if c.Extract == "" {
		c.Extract = ExtractText
	}
	c.Selector = strings.TrimSpace(c.Selector)
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.Browser.IdleWait <= 0 {
		c.Browser.IdleWait = 2 * time.Second
	}
	return c
}

// Fetcher returns page text. Close releases driver resources.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
	Close() error
}

// New builds the fetcher selected by cfg.Driver.
func New(cfg Config, log logx.Logger) (Fetcher, error) {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	switch cfg.Extract {
	case ExtractText, ExtractMarkdown, ExtractReadability:
	default:
		return nil, fmt.Errorf("unknown extract mode %q", cfg.Extract)
	}

	switch cfg.Driver {
	case "http":
		return NewHTTP(cfg, nil, log), nil
	case "browser", "rod", "chrome":
		return NewBrowser(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown fetch driver %q", cfg.Driver)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
