package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	logx "pagewatch/pkg/logx"
)

const validYAML = `
telegram:
  token: "123:abc"
summarizer:
  api_key: "sk-test"
  model: gpt-4o-mini
watch:
  urls:
    - https://example.com/pricing
  schedule: "@every 6h"
storage:
  driver: sqlite
  path: ./data/pagewatch.db
logging:
  level: debug
  console: true
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("pagewatch.yaml", []byte(validYAML))
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if cfg.Watch.Schedule != "@every 6h" || cfg.Storage.Driver != "sqlite" || cfg.Logging.Level != "debug" {
		t.Fatalf("yaml decoded wrong: %+v", cfg)
	}

	js := `{"telegram":{"token":"t"},"summarizer":{"api_key":"k"},"watch":{"urls":["https://a.example"]}}`
	cfg, err = Decode("pagewatch.json", []byte(js))
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	// Defaults fill what the document leaves out.
	if cfg.Watch.Schedule != "@every 24h" || cfg.Storage.Driver != "file" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name, path, body string
	}{
		{"unknown field", "c.json", `{"telegram":{"token":"t","owner":1}}`},
		{"trailing data", "c.json", `{} {}`},
		{"bad yaml", "c.yaml", "watch: [unterminated"},
		{"unknown yaml key", "c.yml", "plugins: {}"},
	}
	for _, tc := range cases {
		if _, err := Decode(tc.path, []byte(tc.body)); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Telegram.Token = "from-file"
	err := ApplyEnv(cfg, map[string]string{
		"TELEGRAM_TOKEN": "from-env",
		"OPENAI_API_KEY": "sk-env",
		"TARGET_URLS":    "https://a.example, https://b.example,,",
		"WATCH_SCHEDULE": "0 9 * * *",
	})
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Telegram.Token != "from-env" || cfg.Summarizer.APIKey != "sk-env" || cfg.Watch.Schedule != "0 9 * * *" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if want := []string{"https://a.example", "https://b.example"}; !reflect.DeepEqual(cfg.Watch.URLs, want) {
		t.Fatalf("urls=%q want %q", cfg.Watch.URLs, want)
	}

	// Empty environment leaves the file values alone.
	cfg2 := Default()
	cfg2.Telegram.Token = "keep"
	if err := ApplyEnv(cfg2, map[string]string{}); err != nil {
		t.Fatal(err)
	}
	if cfg2.Telegram.Token != "keep" {
		t.Fatalf("token=%q", cfg2.Telegram.Token)
	}
}

func TestValidateNamesEveryMissingKey(t *testing.T) {
	t.Parallel()

	err := Default().Validate()
	if !errors.Is(err, ErrMissing) {
		t.Fatalf("err=%v", err)
	}
	for _, key := range []string{"TELEGRAM_TOKEN", "OPENAI_API_KEY", "TARGET_URLS"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error does not name %s: %v", key, err)
		}
	}
}

func TestValidateFieldErrors(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("c.yaml", []byte(validYAML))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg.Watch.URLs = append(cfg.Watch.URLs, "ftp://x")
	cfg.Fetch.Timeout = "soon"
	cfg.Storage.Driver = "mongo"
	err = cfg.Validate()
	for _, want := range []string{"watch.urls[1]", "fetch.timeout", "storage.driver"} {
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %s in %v", want, err)
		}
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 5 * time.Second, false},
		{"0s", 5 * time.Second, false},
		{"90s", 90 * time.Second, false},
		{"-1s", 0, true},
		{"later", 0, true},
	}
	for _, tc := range cases {
		got, err := Duration("x", tc.raw, 5*time.Second)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("Duration(%q)=%v,%v", tc.raw, got, err)
		}
	}
}

func TestManagerLoadWithoutFile(t *testing.T) {
	t.Parallel()

	m := NewManager("")
	m.SetEnviron(map[string]string{
		"TELEGRAM_TOKEN": "t",
		"OPENAI_API_KEY": "k",
		"TARGET_URLS":    "https://a.example",
	})
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg || cfg.Watch.URLs[0] != "https://a.example" {
		t.Fatalf("not committed: %+v", cfg)
	}

	m.SetEnviron(map[string]string{})
	if _, err := m.Load(); err == nil {
		t.Fatalf("expected missing-key error")
	}
}

func TestManagerWatchPublishesValidReloads(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "pagewatch.yaml", validYAML)

	m := NewManager(path)
	m.SetEnviron(map[string]string{})
	m.SetLogger(logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// fsnotify needs a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Invalid content is rejected and never published.
	writeFile(t, dir, "pagewatch.yaml", "watch: {urls: []}\n")
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg)
	case <-time.After(600 * time.Millisecond):
	}

	writeFile(t, dir, "pagewatch.yaml", strings.Replace(validYAML, "@every 6h", "@every 1h", 1))
	select {
	case cfg := <-ch:
		if cfg.Watch.Schedule != "@every 1h" {
			t.Fatalf("schedule=%q", cfg.Watch.Schedule)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("reload not published")
	}
	if m.Get().Watch.Schedule != "@every 1h" {
		t.Fatalf("reload not committed")
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()

	a, _ := Decode("c.yaml", []byte(validYAML))
	b, _ := Decode("c.yaml", []byte(validYAML))
	b.Watch.URLs = append(b.Watch.URLs, "https://b.example")
	b.Telegram.Token = "rotated"

	changed, fields := SummarizeChange(a, b)
	if !reflect.DeepEqual(changed, []string{"telegram", "watch"}) {
		t.Fatalf("changed=%v", changed)
	}
	if len(fields) == 0 {
		t.Fatalf("no fields")
	}
	if got := RestartRequired(changed); !reflect.DeepEqual(got, []string{"telegram"}) {
		t.Fatalf("restart=%v", got)
	}
}
