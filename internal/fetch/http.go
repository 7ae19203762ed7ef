package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/carlmjohnson/requests"

	logx "pagewatch/pkg/logx"
)

// HTTPFetcher downloads a document and extracts its text.
type HTTPFetcher struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

// NewHTTP uses http.DefaultClient when client is nil.
func NewHTTP(cfg Config, client *http.Client, log logx.Logger) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{cfg: cfg.withDefaults(), client: client, log: log}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	ctx, cancel := withTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	var body string
	err := requests.URL(url).
		Client(f.client).
		UserAgent(f.cfg.UserAgent).
		Accept("text/html,application/xhtml+xml;q=0.9,*/*;q=0.8").
		Handle(f.readLimited(&body)).
		Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", url, err)
	}

	text, err := Extract(body, url, f.cfg.Extract, f.cfg.Selector)
	if err != nil {
		return "", err
	}
	f.log.Debug("fetched", logx.String("url", url), logx.Int("html_len", len(body)), logx.Int("text_len", len(text)))
	return text, nil
}

func (f *HTTPFetcher) readLimited(dst *string) requests.ResponseHandler {
	limit := f.cfg.MaxBytes
	return func(res *http.Response) error {
		defer res.Body.Close()
		b, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
		if err != nil {
			return err
		}
		if int64(len(b)) > limit {
			return fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
		}
		*dst = string(b)
		return nil
	}
}

func (f *HTTPFetcher) Close() error { return nil }
