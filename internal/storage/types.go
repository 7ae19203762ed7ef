package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPersistence wraps every failed durable write.
	ErrPersistence = errors.New("storage: persistence failed")
	ErrClosed      = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": Path is a directory holding snapshots.json and subscribers.json
//   - "sqlite": Path is the database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Snapshot is the last observed content of one URL.
type Snapshot struct {
	URL       string    `json:"url"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SnapshotStore maps URL to last observed content.
//
// Get reports ok=false when the URL was never stored. Put replaces the
// content; once Put returns nil the value survives a crash.
type SnapshotStore interface {
	Get(ctx context.Context, url string) (snap Snapshot, ok bool, err error)
	Put(ctx context.Context, url, content string) error
	Close() error
}

// SubscriberStore is a durable set of subscriber ids.
//
// Add and Remove are idempotent and report whether the set changed.
// List returns a sorted copy that is safe to use while the set is mutated.
type SubscriberStore interface {
	Add(ctx context.Context, id string) (added bool, err error)
	Remove(ctx context.Context, id string) (removed bool, err error)
	Contains(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]string, error)
	Close() error
}

// Stores bundles the collections opened from one Config.
type Stores struct {
	Driver      string
	Snapshots   SnapshotStore
	Subscribers SubscriberStore

	closeFn func() error
}

func (s *Stores) Close() error {
	if s == nil || s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}
