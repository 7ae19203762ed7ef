package watch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"pagewatch/internal/storage"
	logx "pagewatch/pkg/logx"
)

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeFetcher) set(url, text string) {
	f.mu.Lock()
	f.pages[url] = text
	delete(f.errs, url)
	f.mu.Unlock()
}

func (f *fakeFetcher) fail(url string, err error) {
	f.mu.Lock()
	f.errs[url] = err
	f.mu.Unlock()
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[url]; err != nil {
		return "", err
	}
	text, ok := f.pages[url]
	if !ok {
		return "", errors.New("no route")
	}
	return text, nil
}

type fakeSummarizer struct {
	mu    sync.Mutex
	err   error
	reply string // fixed summary; empty derives one from the inputs
	calls int
	last  [2]string
}

func (s *fakeSummarizer) Summarize(ctx context.Context, previous, current string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = [2]string{previous, current}
	if s.err != nil {
		return "", s.err
	}
	if s.reply != "" {
		return s.reply, nil
	}
	return "summary: " + previous + " -> " + current, nil
}

type memSnapshots struct {
	mu     sync.Mutex
	data   map[string]string
	puts   int
	getErr error
	putErr error
}

func newMemSnapshots() *memSnapshots { return &memSnapshots{data: map[string]string{}} }

func (m *memSnapshots) Get(ctx context.Context, url string) (storage.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return storage.Snapshot{}, false, m.getErr
	}
	c, ok := m.data[url]
	return storage.Snapshot{URL: url, Content: c, UpdatedAt: time.Now()}, ok, nil
}

func (m *memSnapshots) Put(ctx context.Context, url, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	m.data[url] = content
	return nil
}

func (m *memSnapshots) content(url string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.data[url]
	return c, ok
}

type staticRecipients struct {
	ids []string
	err error
}

func (r staticRecipients) List(ctx context.Context) ([]string, error) {
	return append([]string(nil), r.ids...), r.err
}

type sentMessage struct {
	to, text string
}

type fakeMessenger struct {
	mu      sync.Mutex
	sent    []sentMessage
	failFor map[string]error
}

func (m *fakeMessenger) Deliver(ctx context.Context, recipient, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failFor[recipient]; err != nil {
		return err
	}
	m.sent = append(m.sent, sentMessage{to: recipient, text: text})
	return nil
}

func (m *fakeMessenger) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]sentMessage(nil), m.sent...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].text != out[j].text {
			return out[i].text < out[j].text
		}
		return out[i].to < out[j].to
	})
	return out
}

func (m *fakeMessenger) reset() {
	m.mu.Lock()
	m.sent = nil
	m.mu.Unlock()
}

func testLogger() logx.Logger { return logx.Nop() }
