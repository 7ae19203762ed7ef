package commands

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	kit "pagewatch/internal/transport"
	"pagewatch/internal/transport/telegram/router"
	"pagewatch/internal/watch"
	logx "pagewatch/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sent...)
}

type memSubs struct {
	mu     sync.Mutex
	ids    map[string]bool
	addErr error
}

func newMemSubs() *memSubs { return &memSubs{ids: map[string]bool{}} }

func (m *memSubs) Add(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return false, m.addErr
	}
	if m.ids[id] {
		return false, nil
	}
	m.ids[id] = true
	return true, nil
}

func (m *memSubs) Remove(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ids[id] {
		return false, nil
	}
	delete(m.ids, id)
	return true, nil
}

func (m *memSubs) Contains(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ids[id], nil
}

func (m *memSubs) List(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.ids))
	for id := range m.ids {
		out = append(out, id)
	}
	return out, nil
}

type fakeWatcher struct {
	urls    []string
	stopped bool
}

func (w *fakeWatcher) result(url string) watch.CheckResult {
	return watch.CheckResult{URL: url, Status: watch.StatusChanged, Summary: "new price for " + url}
}

func (w *fakeWatcher) CheckNow(_ context.Context, reply func(watch.CheckResult)) ([]watch.CheckResult, error) {
	if w.stopped {
		return nil, watch.ErrStopped
	}
	var out []watch.CheckResult
	for _, u := range w.urls {
		r := w.result(u)
		out = append(out, r)
		if reply != nil {
			reply(r)
		}
	}
	return out, nil
}

func (w *fakeWatcher) CheckURL(_ context.Context, url string) (watch.CheckResult, error) {
	for _, u := range w.urls {
		if u == url {
			return w.result(u), nil
		}
	}
	return watch.CheckResult{}, watch.ErrUnknownURL
}

func (w *fakeWatcher) Status() watch.SchedulerStatus {
	return watch.SchedulerStatus{
		Schedule: "@every 24h",
		URLs:     w.urls,
		Started:  true,
		NextRun:  time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC),
		LastPass: &watch.PassInfo{Trigger: "schedule", FinishedAt: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC), Counts: map[string]int{"unchanged": 2}},
	}
}

func newReq(ad *fakeAdapter, chat int64, args ...string) *router.Request {
	return &router.Request{
		Chat:    kit.ChatTarget{ChatID: chat},
		FromID:  chat,
		Args:    args,
		Adapter: ad,
		Logger:  logx.Nop(),
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	subs := newMemSubs()
	h := New(subs, &fakeWatcher{}, logx.Nop())
	ad := &fakeAdapter{}

	steps := []struct {
		fn   func(context.Context, *router.Request) error
		want string
	}{
		{h.subscribe, msgSubscribed},
		{h.subscribe, msgAlreadySub},
		{h.unsubscribe, msgUnsubscribed},
		{h.unsubscribe, msgNotSubscribed},
	}
	for i, s := range steps {
		if err := s.fn(ctx, newReq(ad, -100)); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		got := ad.texts()
		if got[len(got)-1] != s.want {
			t.Fatalf("step %d reply=%q want %q", i, got[len(got)-1], s.want)
		}
	}
}

func TestSubscribeStoreFailureReplies(t *testing.T) {
	t.Parallel()

	subs := newMemSubs()
	subs.addErr = errors.New("disk full")
	h := New(subs, &fakeWatcher{}, logx.Nop())
	ad := &fakeAdapter{}

	if err := h.subscribe(context.Background(), newReq(ad, 5)); err == nil {
		t.Fatalf("expected error")
	}
	if got := ad.texts(); len(got) != 1 || got[0] != msgStoreFailed {
		t.Fatalf("replies=%q", got)
	}
}

func TestCheckRepliesOncePerURL(t *testing.T) {
	t.Parallel()

	w := &fakeWatcher{urls: []string{"https://a", "https://b"}}
	h := New(newMemSubs(), w, logx.Nop())
	ad := &fakeAdapter{}

	if err := h.check(context.Background(), newReq(ad, 1)); err != nil {
		t.Fatalf("check: %v", err)
	}
	got := ad.texts()
	if len(got) != 3 || got[0] != msgChecking {
		t.Fatalf("replies=%q", got)
	}
	for i, u := range w.urls {
		if !strings.Contains(got[i+1], u) {
			t.Fatalf("reply %d missing %s: %q", i+1, u, got[i+1])
		}
	}
}

func TestCheckSingleURL(t *testing.T) {
	t.Parallel()

	w := &fakeWatcher{urls: []string{"https://a", "https://b"}}
	h := New(newMemSubs(), w, logx.Nop())
	ad := &fakeAdapter{}

	if err := h.check(context.Background(), newReq(ad, 1, "https://b", "https://zzz")); err != nil {
		t.Fatalf("check: %v", err)
	}
	got := ad.texts()
	if len(got) != 3 {
		t.Fatalf("replies=%q", got)
	}
	if !strings.Contains(got[1], "https://b") || strings.Contains(got[1], "https://a") {
		t.Fatalf("wrong result reply: %q", got[1])
	}
	if !strings.Contains(got[2], "not on the watch list") {
		t.Fatalf("unknown url reply: %q", got[2])
	}
}

func TestCheckWhileStopping(t *testing.T) {
	t.Parallel()

	h := New(newMemSubs(), &fakeWatcher{stopped: true}, logx.Nop())
	ad := &fakeAdapter{}
	if err := h.check(context.Background(), newReq(ad, 1)); err != nil {
		t.Fatalf("check: %v", err)
	}
	if got := ad.texts(); len(got) != 2 || got[1] != msgShuttingDown {
		t.Fatalf("replies=%q", got)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	subs := newMemSubs()
	_, _ = subs.Add(context.Background(), "1")
	h := New(subs, &fakeWatcher{urls: []string{"https://a?x=1&y=2"}}, logx.Nop())
	ad := &fakeAdapter{}

	if err := h.status(context.Background(), newReq(ad, 1)); err != nil {
		t.Fatalf("status: %v", err)
	}
	got := ad.texts()[0]
	for _, want := range []string{
		"https://a?x=1&amp;y=2",
		"<code>@every 24h</code>",
		"unchanged=2",
		"<b>Subscribers</b> 1",
		"This chat is subscribed.",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("status missing %q:\n%s", want, got)
		}
	}
}

func TestCommandsRegistry(t *testing.T) {
	t.Parallel()

	h := New(newMemSubs(), &fakeWatcher{}, logx.Nop())
	names := map[string]bool{}
	for _, c := range h.Commands() {
		if c.Handle == nil {
			t.Fatalf("%s has no handler", c.Name)
		}
		if c.Long != (c.Name == "check") {
			t.Fatalf("/%s long=%v; only /check may use the long pool", c.Name, c.Long)
		}
		names[c.Name] = true
	}
	for _, want := range []string{"start", "subscribe", "unsubscribe", "check", "status"} {
		if !names[want] {
			t.Fatalf("missing /%s", want)
		}
	}
}
