package router

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	kit "pagewatch/internal/transport"
	logx "pagewatch/pkg/logx"
)

type sentText struct {
	To   kit.ChatTarget
	Text string
	Opt  *kit.SendOptions
}

type fakeAdapter struct {
	mu   sync.Mutex
	sent []sentText
	menu chan []kit.BotCommand
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{menu: make(chan []kit.BotCommand, 4)}
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, sentText{To: to, Text: text, Opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	a.menu <- cmds
	return nil
}

func (a *fakeAdapter) texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.sent))
	for _, s := range a.sent {
		out = append(out, s.Text)
	}
	return out
}

func msg(chat int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chat, FromID: chat, Text: text}}
}

func startRouter(t *testing.T, r *Router) chan<- kit.Update {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"/check", []string{"/check"}},
		{"/check  https://a   https://b", []string{"/check", "https://a", "https://b"}},
		{`/check "https://a b" 'x y'`, []string{"/check", "https://a b", "x y"}},
		{`/check a\ b`, []string{"/check", "a b"}},
		{"/check --force https://a", []string{"/check", "--force", "https://a"}},
	}
	for _, tc := range cases {
		if got := tokenizeCommandLine(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("tokenize(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"check":                 "check",
		"Check-Now":             "check_now",
		" status! ":             "status",
		"__x__":                 "x",
		strings.Repeat("a", 40): strings.Repeat("a", 32),
	}
	for in, want := range cases {
		if got := sanitizeTelegramCommand(in); got != want {
			t.Fatalf("sanitize(%q)=%q want %q", in, got, want)
		}
	}
}

func TestRouterDispatch(t *testing.T) {
	t.Parallel()

	ad := newFakeAdapter()
	r := New(logx.Nop(), ad, Options{Workers: 2})

	var mu sync.Mutex
	var got []*Request
	r.SetCommands(context.Background(), []Command{{
		Name:    "check",
		Aliases: []string{"c"},
		Handle: func(ctx context.Context, req *Request) error {
			mu.Lock()
			got = append(got, req)
			mu.Unlock()
			return req.Reply(ctx, "ok")
		},
	}})
	<-ad.menu

	updates := startRouter(t, r)
	updates <- msg(10, "/check@pagewatch_bot https://a")
	updates <- msg(11, "/C")
	updates <- msg(12, "hello there")
	updates <- msg(13, "/nope")

	waitUntil(t, func() bool { return len(ad.texts()) == 3 })

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("handled %d requests, want 2", len(got))
	}
	for _, req := range got {
		if req.Command != "check" || req.ReqID == "" {
			t.Fatalf("bad request %+v", req)
		}
		if req.Chat.ChatID == 10 && !reflect.DeepEqual(req.Args, []string{"https://a"}) {
			t.Fatalf("args=%v", req.Args)
		}
	}
	var unknown int
	for _, s := range ad.texts() {
		if strings.HasPrefix(s, "Unknown command") {
			unknown++
		}
	}
	if unknown != 1 {
		t.Fatalf("unknown replies=%d texts=%q", unknown, ad.texts())
	}
}

func TestRouterHandlerPanicAndTimeout(t *testing.T) {
	t.Parallel()

	ad := newFakeAdapter()
	r := New(logx.Nop(), ad, Options{Workers: 1})

	deadlineSeen := make(chan bool, 1)
	r.SetCommands(context.Background(), []Command{
		{Name: "boom", Handle: func(context.Context, *Request) error { panic("kaboom") }},
		{Name: "slow", Timeout: 20 * time.Millisecond, Handle: func(ctx context.Context, req *Request) error {
			<-ctx.Done()
			deadlineSeen <- errors.Is(ctx.Err(), context.DeadlineExceeded)
			return ctx.Err()
		}},
	})

	updates := startRouter(t, r)
	updates <- msg(1, "/boom")
	updates <- msg(1, "/slow")

	select {
	case ok := <-deadlineSeen:
		if !ok {
			t.Fatalf("handler context not ended by deadline")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("slow command never timed out; worker likely died on panic")
	}
}

func TestHelpText(t *testing.T) {
	t.Parallel()

	ad := newFakeAdapter()
	r := New(logx.Nop(), ad, Options{})
	r.SetCommands(context.Background(), []Command{
		{Name: "status", Description: "show <schedule>", Usage: "/status", Handle: func(context.Context, *Request) error { return nil }},
		{Name: "secret", Hidden: true, Handle: func(context.Context, *Request) error { return nil }},
	})
	menu := <-ad.menu

	all := r.helpText(nil)
	if !strings.Contains(all, "<code>/status</code> - show &lt;schedule&gt;") {
		t.Fatalf("help missing escaped status line:\n%s", all)
	}
	if strings.Contains(all, "secret") {
		t.Fatalf("hidden command listed:\n%s", all)
	}
	if one := r.helpText([]string{"/status"}); !strings.Contains(one, "<b>Usage</b>") {
		t.Fatalf("command help:\n%s", one)
	}
	if unk := r.helpText([]string{"zzz"}); !strings.Contains(unk, "Unknown command") {
		t.Fatalf("unknown help:\n%s", unk)
	}

	var names []string
	for _, c := range menu {
		names = append(names, c.Command)
	}
	if !reflect.DeepEqual(names, []string{"help", "status"}) {
		t.Fatalf("menu=%v", names)
	}
}

func TestLongCommandsLeaveRegularWorkersFree(t *testing.T) {
	t.Parallel()

	ad := newFakeAdapter()
	r := New(logx.Nop(), ad, Options{})

	release := make(chan struct{})
	started := make(chan struct{}, 6)
	r.SetCommands(context.Background(), []Command{
		{Name: "check", Long: true, Handle: func(ctx context.Context, req *Request) error {
			started <- struct{}{}
			<-release
			return req.Reply(ctx, "checked")
		}},
		{Name: "subscribe", Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "subscribed")
		}},
	})
	<-ad.menu

	updates := startRouter(t, r)
	for i := 0; i < 6; i++ {
		updates <- msg(int64(i+1), "/check")
	}
	// Both long workers are busy; the other checks wait in the long queue.
	<-started
	<-started
	for i := 0; i < 5; i++ {
		updates <- msg(100, "/subscribe")
	}

	waitUntil(t, func() bool { return len(ad.texts()) == 5 })
	for _, s := range ad.texts() {
		if s != "subscribed" {
			t.Fatalf("replies while checks in flight: %q", ad.texts())
		}
	}

	close(release)
	waitUntil(t, func() bool { return len(ad.texts()) == 11 })
}

func TestArgsKeepDashedWords(t *testing.T) {
	t.Parallel()

	ad := newFakeAdapter()
	r := New(logx.Nop(), ad, Options{})
	r.SetCommands(context.Background(), []Command{{Name: "check", Handle: func(context.Context, *Request) error { return nil }}})
	<-ad.menu

	req, _, ok := r.match(msg(1, "/check --force https://a"))
	if !ok {
		t.Fatalf("check not matched")
	}
	if !reflect.DeepEqual(req.Args, []string{"--force", "https://a"}) {
		t.Fatalf("args=%q", req.Args)
	}
}
