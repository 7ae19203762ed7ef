package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "pagewatch/pkg/logx"
)

// File driver layout under Config.Path:
//   - snapshots.json   {"version":1,"snapshots":{"<url>":{"content":..,"updated_at":..}}}
//   - subscribers.json {"version":1,"subscribers":["<id>",...]}
//
// Every mutation rewrites the whole document through writeFileAtomic, and
// the in-memory copy is swapped only after the write succeeded.
const (
	snapshotsFile     = "snapshots.json"
	subscribersFile   = "subscribers.json"
	fileFormatVersion = 1
)

type writeFunc func(path string, data []byte) error

func openFile(cfg Config, log logx.Logger) (*Stores, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snaps := newFileSnapshots(filepath.Join(dir, snapshotsFile), log)
	subs := newFileSubscribers(filepath.Join(dir, subscribersFile), log)
	return &Stores{
		Driver:      "file",
		Snapshots:   snaps,
		Subscribers: subs,
		closeFn:     func() error { return errors.Join(snaps.Close(), subs.Close()) },
	}, nil
}

// ---- snapshots ----

type snapshotRecord struct {
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

type snapshotsDoc struct {
	Version   int                       `json:"version"`
	Snapshots map[string]snapshotRecord `json:"snapshots"`
}

type fileSnapshots struct {
	path  string
	log   logx.Logger
	write writeFunc
	now   func() time.Time

	mu     sync.RWMutex
	closed bool
	data   map[string]snapshotRecord
}

func newFileSnapshots(path string, log logx.Logger) *fileSnapshots {
	s := &fileSnapshots{
		path:  path,
		log:   log,
		write: writeFileAtomic,
		now:   time.Now,
		data:  map[string]snapshotRecord{},
	}
	var doc snapshotsDoc
	if readDoc(path, log, func(b []byte) error { return json.Unmarshal(b, &doc) }) {
		for url, rec := range doc.Snapshots {
			s.data[url] = rec
		}
	}
	log.Debug("snapshots loaded", logx.String("path", path), logx.Int("count", len(s.data)))
	return s
}

func (s *fileSnapshots) Get(ctx context.Context, url string) (Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Snapshot{}, false, ErrClosed
	}
	rec, ok := s.data[url]
	if !ok {
		return Snapshot{}, false, nil
	}
	return Snapshot{URL: url, Content: rec.Content, UpdatedAt: rec.UpdatedAt}, true, nil
}

func (s *fileSnapshots) Put(ctx context.Context, url, content string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if cur, ok := s.data[url]; ok && cur.Content == content {
		return nil
	}

	next := make(map[string]snapshotRecord, len(s.data)+1)
	for k, v := range s.data {
		next[k] = v
	}
	next[url] = snapshotRecord{Content: content, UpdatedAt: s.now().UTC()}

	b, err := json.MarshalIndent(snapshotsDoc{Version: fileFormatVersion, Snapshots: next}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode snapshots: %w", ErrPersistence, err)
	}
	if err := s.write(s.path, b); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrPersistence, s.path, err)
	}
	s.data = next
	return nil
}

func (s *fileSnapshots) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// ---- subscribers ----

type subscribersDoc struct {
	Version     int      `json:"version"`
	Subscribers []string `json:"subscribers"`
}

type fileSubscribers struct {
	path  string
	log   logx.Logger
	write writeFunc

	mu     sync.RWMutex
	closed bool
	set    map[string]struct{}
}

func newFileSubscribers(path string, log logx.Logger) *fileSubscribers {
	s := &fileSubscribers{path: path, log: log, write: writeFileAtomic, set: map[string]struct{}{}}
	var ids []string
	if readDoc(path, log, func(b []byte) (err error) { ids, err = decodeSubscribers(b); return err }) {
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				s.set[id] = struct{}{}
			}
		}
	}
	log.Debug("subscribers loaded", logx.String("path", path), logx.Int("count", len(s.set)))
	return s
}

// decodeSubscribers accepts the versioned document and a bare JSON array of
// ids (numbers or strings).
func decodeSubscribers(b []byte) ([]string, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var raw []any
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(raw))
		for _, v := range raw {
			switch x := v.(type) {
			case json.Number:
				ids = append(ids, x.String())
			case string:
				ids = append(ids, x)
			default:
				return nil, fmt.Errorf("unexpected subscriber id %v", v)
			}
		}
		return ids, nil
	}
	var doc subscribersDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc.Subscribers, nil
}

func (s *fileSubscribers) Add(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, errors.New("subscriber id is empty")
	}
	return s.mutate(ctx, id, true)
}

func (s *fileSubscribers) Remove(ctx context.Context, id string) (bool, error) {
	return s.mutate(ctx, strings.TrimSpace(id), false)
}

func (s *fileSubscribers) mutate(ctx context.Context, id string, add bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if _, ok := s.set[id]; ok == add {
		return false, nil
	}

	next := make(map[string]struct{}, len(s.set)+1)
	for k := range s.set {
		next[k] = struct{}{}
	}
	if add {
		next[id] = struct{}{}
	} else {
		delete(next, id)
	}

	b, err := json.MarshalIndent(subscribersDoc{Version: fileFormatVersion, Subscribers: sortedKeys(next)}, "", "  ")
	if err != nil {
		return false, fmt.Errorf("%w: encode subscribers: %w", ErrPersistence, err)
	}
	if err := s.write(s.path, b); err != nil {
		return false, fmt.Errorf("%w: write %s: %w", ErrPersistence, s.path, err)
	}
	s.set = next
	return true, nil
}

func (s *fileSubscribers) Contains(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}
	_, ok := s.set[strings.TrimSpace(id)]
	return ok, nil
}

func (s *fileSubscribers) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return sortedKeys(s.set), nil
}

func (s *fileSubscribers) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ---- helpers ----

// readDoc reads path and hands the bytes to decode. It returns false when the
// collection must start empty: missing file, read error, or undecodable
// content. Undecodable files are renamed aside so the next write does not
// destroy them.
func readDoc(path string, log logx.Logger, decode func([]byte) error) bool {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	if err != nil {
		log.Warn("store unreadable; starting empty", logx.String("path", path), logx.Err(err))
		return false
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return false
	}
	if err := decode(b); err != nil {
		aside := path + ".corrupt-" + time.Now().UTC().Format("20060102T150405")
		if rerr := os.Rename(path, aside); rerr != nil {
			log.Warn("store corrupt; starting empty", logx.String("path", path), logx.Err(err))
		} else {
			log.Warn("store corrupt; moved aside and starting empty", logx.String("path", path), logx.String("moved_to", aside), logx.Err(err))
		}
		return false
	}
	return true
}

// writeFileAtomic replaces path with data: temp file in the same directory,
// fsync, rename, then a best-effort fsync of the directory. Readers see
// either the old or the new document, never a partial one.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp, path); err != nil {
		return err
	}
	if d, derr := os.Open(dir); derr == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
