package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pagewatch/internal/watch"
	logx "pagewatch/pkg/logx"
)

type fakeWatcher struct {
	urls    []string
	stopped bool
}

func (f *fakeWatcher) CheckNow(_ context.Context, reply func(watch.CheckResult)) ([]watch.CheckResult, error) {
	if f.stopped {
		return nil, watch.ErrStopped
	}
	var out []watch.CheckResult
	for _, u := range f.urls {
		out = append(out, watch.CheckResult{URL: u, Status: watch.StatusUnchanged})
	}
	return out, nil
}

func (f *fakeWatcher) CheckURL(_ context.Context, url string) (watch.CheckResult, error) {
	for _, u := range f.urls {
		if u == url {
			return watch.CheckResult{URL: u, Status: watch.StatusFetchFailed, Err: errors.New("boom")}, nil
		}
	}
	return watch.CheckResult{}, watch.ErrUnknownURL
}

func (f *fakeWatcher) Status() watch.SchedulerStatus {
	return watch.SchedulerStatus{Schedule: "@every 24h", URLs: f.urls, Started: true}
}

type fakeSubs []string

func (f fakeSubs) List(context.Context) ([]string, error) { return f, nil }

func newTestServer(t *testing.T, cfg Config, w *fakeWatcher) *httptest.Server {
	t.Helper()
	svc := New(cfg, w, fakeSubs{"1", "2"}, logx.Nop())
	ts := httptest.NewServer(svc.Handler(cfg))
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, token string) (*http.Response, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(method, url, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&body)
	}
	return resp, body
}

func TestEndpoints(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Config{Token: "s3cret"}, &fakeWatcher{urls: []string{"https://a", "https://b"}})

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"health is open", http.MethodGet, "/healthz", "", http.StatusOK},
		{"status needs token", http.MethodGet, "/api/status", "", http.StatusUnauthorized},
		{"wrong token", http.MethodGet, "/api/status", "nope", http.StatusUnauthorized},
		{"status", http.MethodGet, "/api/status", "s3cret", http.StatusOK},
		{"subscribers", http.MethodGet, "/api/subscribers", "s3cret", http.StatusOK},
		{"check all", http.MethodPost, "/api/check", "s3cret", http.StatusOK},
		{"check one", http.MethodPost, "/api/check?url=https://b", "s3cret", http.StatusOK},
		{"check unknown", http.MethodPost, "/api/check?url=https://zzz", "s3cret", http.StatusNotFound},
		{"check is POST only", http.MethodGet, "/api/check", "s3cret", http.StatusMethodNotAllowed},
		{"pprof not mounted", http.MethodGet, "/debug/pprof/", "s3cret", http.StatusNotFound},
	}
	for _, tc := range cases {
		resp, _ := do(t, tc.method, ts.URL+tc.path, tc.token)
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: status=%d want %d", tc.name, resp.StatusCode, tc.want)
		}
	}
}

func TestCheckBody(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Config{}, &fakeWatcher{urls: []string{"https://a", "https://b"}})

	_, body := do(t, http.MethodPost, ts.URL+"/api/check", "")
	results, _ := body["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("results=%v", body)
	}
	first := results[0].(map[string]any)
	if first["url"] != "https://a" || first["status"] != "unchanged" {
		t.Fatalf("first=%v", first)
	}

	_, body = do(t, http.MethodPost, ts.URL+"/api/check?url=https://b", "")
	one := body["results"].([]any)[0].(map[string]any)
	if one["status"] != "fetch_failed" || one["error"] != "boom" {
		t.Fatalf("one=%v", one)
	}

	_, body = do(t, http.MethodGet, ts.URL+"/api/subscribers", "")
	if body["count"] != float64(2) {
		t.Fatalf("subscribers=%v", body)
	}
}

func TestCheckWhileStopping(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Config{}, &fakeWatcher{stopped: true})
	resp, _ := do(t, http.MethodPost, ts.URL+"/api/check", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestStartRefusesPublicAddrWithoutToken(t *testing.T) {
	t.Parallel()

	svc := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, &fakeWatcher{}, fakeSubs{}, logx.Nop())
	if err := svc.Start(context.Background()); err == nil {
		t.Fatalf("expected refusal")
	}
}

func TestStartStopReconfigure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc := New(Config{}, &fakeWatcher{}, fakeSubs{}, logx.Nop())
	if err := svc.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	addr := svc.Addr()
	if addr == "" {
		t.Fatalf("not listening")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()

	if err := svc.Reconfigure(ctx, Config{Enabled: false}); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if svc.Addr() != "" {
		t.Fatalf("still listening after disable")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:1":    true,
		"[::1]:9":        true,
		"0.0.0.0:8080":   false,
		":8080":          false,
		"10.0.0.5:80":    false,
	}
	for in, want := range cases {
		if got := isLoopbackAddr(in); got != want {
			t.Fatalf("isLoopbackAddr(%q)=%v want %v", in, got, want)
		}
	}
}
