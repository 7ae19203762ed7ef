// Package commands implements the chat commands: subscribe, unsubscribe,
// manual check and status.
package commands

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"pagewatch/internal/transport/telegram/router"
	"pagewatch/internal/watch"
	logx "pagewatch/pkg/logx"
)

// Subscriptions is the part of storage.SubscriberStore the commands use.
type Subscriptions interface {
	Add(ctx context.Context, id string) (bool, error)
	Remove(ctx context.Context, id string) (bool, error)
	Contains(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]string, error)
}

// Watcher is the part of watch.Scheduler the commands use.
type Watcher interface {
	CheckNow(ctx context.Context, reply func(watch.CheckResult)) ([]watch.CheckResult, error)
	CheckURL(ctx context.Context, url string) (watch.CheckResult, error)
	Status() watch.SchedulerStatus
}

const (
	msgSubscribed       = "You are subscribed to change notifications."
	msgAlreadySub       = "You are already subscribed."
	msgUnsubscribed     = "You are no longer subscribed to change notifications."
	msgNotSubscribed    = "You were not subscribed."
	msgStoreFailed      = "Could not save your subscription, please try again later."
	msgChecking         = "Checking for changes, please wait..."
	msgShuttingDown     = "The watcher is shutting down, try again later."
	defaultCheckTimeout = 5 * time.Minute
)

type Handlers struct {
	subs    Subscriptions
	watcher Watcher
	log     logx.Logger

	CheckTimeout time.Duration
}

func New(subs Subscriptions, watcher Watcher, log logx.Logger) *Handlers {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handlers{subs: subs, watcher: watcher, log: log, CheckTimeout: defaultCheckTimeout}
}

// Commands returns the router registry for these handlers.
func (h *Handlers) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "start",
			Description: "subscribe to change notifications",
			Usage:       "/start",
			Hidden:      true,
			Handle:      h.subscribe,
		},
		{
			Name:        "subscribe",
			Aliases:     []string{"sub"},
			Description: "subscribe to change notifications",
			Usage:       "/subscribe",
			Handle:      h.subscribe,
		},
		{
			Name:        "unsubscribe",
			Aliases:     []string{"unsub", "stop"},
			Description: "stop change notifications",
			Usage:       "/unsubscribe",
			Handle:      h.unsubscribe,
		},
		{
			Name:        "check",
			Description: "check watched pages now",
			Usage:       "/check [url ...]",
			Timeout:     h.CheckTimeout,
			Long:        true,
			Handle:      h.check,
		},
		{
			Name:        "status",
			Description: "show watched pages and schedule",
			Usage:       "/status",
			Handle:      h.status,
		},
	}
}

func subscriberID(req *router.Request) string {
	return strconv.FormatInt(req.Chat.ChatID, 10)
}

func (h *Handlers) subscribe(ctx context.Context, req *router.Request) error {
	added, err := h.subs.Add(ctx, subscriberID(req))
	if err != nil {
		req.Logger.Warn("subscribe failed", logx.Err(err))
		_ = req.Reply(ctx, msgStoreFailed)
		return err
	}
	if !added {
		return req.Reply(ctx, msgAlreadySub)
	}
	req.Logger.Info("subscriber added")
	return req.Reply(ctx, msgSubscribed)
}

func (h *Handlers) unsubscribe(ctx context.Context, req *router.Request) error {
	removed, err := h.subs.Remove(ctx, subscriberID(req))
	if err != nil {
		req.Logger.Warn("unsubscribe failed", logx.Err(err))
		_ = req.Reply(ctx, msgStoreFailed)
		return err
	}
	if !removed {
		return req.Reply(ctx, msgNotSubscribed)
	}
	req.Logger.Info("subscriber removed")
	return req.Reply(ctx, msgUnsubscribed)
}

// check replies once right away, then once per URL as results arrive.
// Manual results go only to the requester.
func (h *Handlers) check(ctx context.Context, req *router.Request) error {
	if err := req.Reply(ctx, msgChecking); err != nil {
		return err
	}

	if len(req.Args) == 0 {
		var sendErr error
		_, err := h.watcher.CheckNow(ctx, func(res watch.CheckResult) {
			if err := req.Reply(ctx, watch.Render(res)); err != nil && sendErr == nil {
				sendErr = err
			}
		})
		if errors.Is(err, watch.ErrStopped) {
			return req.Reply(ctx, msgShuttingDown)
		}
		return errors.Join(err, sendErr)
	}

	var errs []error
	for _, url := range req.Args {
		res, err := h.watcher.CheckURL(ctx, url)
		switch {
		case errors.Is(err, watch.ErrUnknownURL):
			errs = append(errs, req.Reply(ctx, fmt.Sprintf("%s is not on the watch list. See /status.", url)))
			continue
		case errors.Is(err, watch.ErrStopped):
			return req.Reply(ctx, msgShuttingDown)
		case err != nil:
			return err
		}
		errs = append(errs, req.Reply(ctx, watch.Render(res)))
	}
	return errors.Join(errs...)
}

func (h *Handlers) status(ctx context.Context, req *router.Request) error {
	st := h.watcher.Status()

	var b strings.Builder
	b.WriteString("<b>Watched pages</b>\n")
	for _, u := range st.URLs {
		b.WriteString("• " + html.EscapeString(u) + "\n")
	}
	fmt.Fprintf(&b, "\n<b>Schedule</b> <code>%s</code>", html.EscapeString(st.Schedule))
	if st.Timezone != "" {
		fmt.Fprintf(&b, " (%s)", html.EscapeString(st.Timezone))
	}
	b.WriteString("\n")
	if !st.NextRun.IsZero() {
		fmt.Fprintf(&b, "<b>Next run</b> %s\n", st.NextRun.Format(time.RFC3339))
	}
	if lp := st.LastPass; lp != nil {
		fmt.Fprintf(&b, "<b>Last pass</b> %s (%s, %s)\n",
			lp.FinishedAt.Format(time.RFC3339), html.EscapeString(lp.Trigger), formatCounts(lp.Counts))
	}
	if st.Running > 0 {
		fmt.Fprintf(&b, "<b>Running</b> %d\n", st.Running)
	}

	if ids, err := h.subs.List(ctx); err == nil {
		fmt.Fprintf(&b, "<b>Subscribers</b> %d\n", len(ids))
	}
	if ok, err := h.subs.Contains(ctx, subscriberID(req)); err == nil {
		if ok {
			b.WriteString("This chat is subscribed.")
		} else {
			b.WriteString("This chat is not subscribed. Send /subscribe.")
		}
	}
	return req.ReplyHTML(ctx, strings.TrimRight(b.String(), "\n"))
}

func formatCounts(counts map[string]int) string {
	order := []watch.Status{
		watch.StatusChanged,
		watch.StatusUnchanged,
		watch.StatusFirstObservation,
		watch.StatusFetchFailed,
		watch.StatusSummarizeFailed,
	}
	var parts []string
	for _, s := range order {
		if n := counts[s.String()]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", s, n))
		}
	}
	if len(parts) == 0 {
		return "no results"
	}
	return strings.Join(parts, " ")
}
