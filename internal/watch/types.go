package watch

import (
	"context"
	"time"

	"pagewatch/internal/storage"
)

// Status classifies one check.
type Status int

const (
	StatusFirstObservation Status = iota + 1
	StatusUnchanged
	StatusChanged
	StatusFetchFailed
	StatusSummarizeFailed
)

func (s Status) String() string {
	switch s {
	case StatusFirstObservation:
		return "first_observation"
	case StatusUnchanged:
		return "unchanged"
	case StatusChanged:
		return "changed"
	case StatusFetchFailed:
		return "fetch_failed"
	case StatusSummarizeFailed:
		return "summarize_failed"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Quiet reports whether the status carries no news for subscribers.
func (s Status) Quiet() bool {
	return s == StatusUnchanged || s == StatusFirstObservation
}

// CheckResult is the outcome of checking one URL.
//
// Summary is set only for StatusChanged. Err holds the fetch or summarize
// failure. PersistErr is set when the new content could not be stored; the
// status still reflects the comparison.
type CheckResult struct {
	URL        string        `json:"url"`
	Status     Status        `json:"status"`
	Summary    string        `json:"summary,omitempty"`
	Err        error         `json:"-"`
	PersistErr error         `json:"-"`
	CheckedAt  time.Time     `json:"checked_at"`
	Took       time.Duration `json:"took"`
}

// Fetcher returns the visible text of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Summarizer describes the differences between two versions of a text.
type Summarizer interface {
	Summarize(ctx context.Context, previous, current string) (string, error)
}

// Messenger delivers one text message to one recipient.
type Messenger interface {
	Deliver(ctx context.Context, recipient, text string) error
}

// Snapshots is the part of storage.SnapshotStore the detector needs.
type Snapshots interface {
	Get(ctx context.Context, url string) (storage.Snapshot, bool, error)
	Put(ctx context.Context, url, content string) error
}

// Recipients is the part of storage.SubscriberStore the notifier needs.
type Recipients interface {
	List(ctx context.Context) ([]string, error)
}

// Checker checks one URL.
type Checker interface {
	Check(ctx context.Context, url string) CheckResult
}

// Broadcaster announces one check result.
type Broadcaster interface {
	Notify(ctx context.Context, res CheckResult) DeliveryReport
}
