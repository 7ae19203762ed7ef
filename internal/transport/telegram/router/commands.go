// Package router turns chat messages into command invocations.
//
// Commands are flat ("/check", "/status"); each runs on a bounded worker
// pool behind panic recovery, request logging and an optional timeout.
// Long commands get their own pool so short ones always find a worker.
package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "pagewatch/internal/runtime/supervisor"
	kit "pagewatch/internal/transport"
	logx "pagewatch/pkg/logx"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Hidden      bool          // left out of help and the menu
	Timeout     time.Duration // 0 uses the router default
	// Long commands run on the long pool and never occupy a regular worker.
	Long   bool
	Handle HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends plain text back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// ReplyHTML sends text with HTML parse mode.
func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
	return err
}

type Options struct {
	Workers        int
	LongWorkers    int
	QueueSize      int
	DefaultTimeout time.Duration
}

type Router struct {
	mu       sync.RWMutex
	commands []Command
	index    map[string]*Command

	log     logx.Logger
	adapter kit.Adapter
	opts    Options

	jobs     chan func()
	longJobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, opts Options) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.LongWorkers <= 0 {
		opts.LongWorkers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	return &Router{
		index:    map[string]*Command{},
		log:      log,
		adapter:  adapter,
		opts:     opts,
		jobs:     make(chan func(), opts.QueueSize),
		longJobs: make(chan func(), opts.QueueSize),
	}
}

// SetCommands replaces the registry and adds /help. When the adapter can
// publish a command menu, the menu is refreshed in the background.
func (r *Router) SetCommands(ctx context.Context, cmds []Command) {
	cmds = append(append([]Command(nil), cmds...), Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "show available commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyHTML(ctx, r.helpText(req.Args))
		},
	})

	list := make([]Command, 0, len(cmds))
	index := map[string]*Command{}
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		list = append(list, c)
	}
	for i := range list {
		c := &list[i]
		index[c.Name] = c
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if _, taken := index[a]; a != "" && !taken {
				index[a] = c
			}
		}
	}

	r.mu.Lock()
	r.commands = list
	r.index = index
	r.mu.Unlock()

	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok {
		menu := menuCommands(list)
		go func() {
			mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				r.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

func (r *Router) lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.index[name]
	if !ok {
		return Command{}, false
	}
	return *c, true
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
// Commands run on worker goroutines so a slow /check never delays the
// next /start.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	r.log.Info("command dispatcher started",
		logx.Int("workers", r.opts.Workers),
		logx.Int("long_workers", r.opts.LongWorkers),
		logx.Int("job_queue_cap", cap(r.jobs)),
	)

	r.startWorkers(sup, "command.worker.", r.opts.Workers, r.jobs)
	r.startWorkers(sup, "command.long.", r.opts.LongWorkers, r.longJobs)

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) startWorkers(sup *rtsup.Supervisor, prefix string, n int, jobs <-chan func()) {
	for i := 0; i < n; i++ {
		name := prefix + strconv.Itoa(i)
		sup.GoRestart(name, func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-jobs:
					r.runJob(name, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}
}

func (r *Router) runJob(worker string, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in command job", logx.String("worker", worker), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	req, cmd, ok := r.match(up)
	if !ok {
		if req != nil {
			_, _ = r.adapter.SendText(ctx, req.Chat, "Unknown command. Try /help", nil)
		}
		return
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)

	queue := r.jobs
	if cmd.Long {
		queue = r.longJobs
	}
	select {
	case queue <- func() { _ = final(ctx, req) }:
	default:
		_, _ = r.adapter.SendText(ctx, req.Chat, "Busy, try again in a moment.", nil)
	}
}

// match parses a message into a request. It returns a nil request for
// messages that are not commands at all.
func (r *Router) match(up kit.Update) (*Request, Command, bool) {
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return nil, Command{}, false
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return nil, Command{}, false
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Command: word,
		Args:    parts[1:],
		ReqID:   rid,
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", word),
		),
	}
	cmd, ok := r.lookup(word)
	if ok {
		req.Command = cmd.Name
	}
	return req, cmd, ok
}
