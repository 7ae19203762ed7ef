package watch

import "errors"

var (
	ErrFetch      = errors.New("watch: fetch failed")
	ErrSummarize  = errors.New("watch: summarize failed")
	ErrDelivery   = errors.New("watch: delivery failed")
	ErrUnknownURL = errors.New("watch: url is not watched")
	ErrStopped    = errors.New("watch: scheduler stopped")
)
