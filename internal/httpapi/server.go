// Package httpapi serves the optional admin API: health, status,
// subscriber list and on-demand checks.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pagewatch/internal/watch"
	logx "pagewatch/pkg/logx"
)

// Config controls the admin server.
//
// A non-loopback Addr requires Token unless AllowInsecure is set.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

const defaultAddr = "127.0.0.1:8080"

// Watcher is the part of watch.Scheduler the API exposes.
type Watcher interface {
	CheckNow(ctx context.Context, reply func(watch.CheckResult)) ([]watch.CheckResult, error)
	CheckURL(ctx context.Context, url string) (watch.CheckResult, error)
	Status() watch.SchedulerStatus
}

// Subscribers lists subscriber ids.
type Subscribers interface {
	List(ctx context.Context) ([]string, error)
}

type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	cfg     Config
	watcher Watcher
	subs    Subscribers

	ln       net.Listener
	srv      *http.Server
	stopDone chan struct{}
}

func New(cfg Config, watcher Watcher, subs Subscribers, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, watcher: watcher, subs: subs, log: log}
}

// Addr returns the bound address, or "" when not running.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure applies cfg and starts, stops or restarts the server as
// needed. Safe to call during hot reload.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
		return nil
	case !running:
		return s.Start(ctx)
	case prev != cfg:
		s.Stop(ctx)
		return s.Start(ctx)
	}
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.srv != nil {
			s.mu.Unlock()
			return nil
		}
		if s.stopDone != nil {
			done := s.stopDone
			s.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		cur := s.cfg
		s.mu.Unlock()

		if !cur.Enabled {
			return nil
		}
		addr := strings.TrimSpace(cur.Addr)
		if addr == "" {
			addr = defaultAddr
		}
		if !cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
			return errors.New("http api: non-loopback addr requires token or allow_insecure")
		}
		if cur.Token == "" && !isLoopbackAddr(addr) {
			s.log.Warn("http api running without token on non-loopback addr (insecure)", logx.String("addr", addr))
		}

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		srv := &http.Server{
			Handler:      s.Handler(cur),
			ReadTimeout:  cur.ReadTimeout,
			WriteTimeout: cur.WriteTimeout,
			IdleTimeout:  cur.IdleTimeout,
		}

		s.mu.Lock()
		s.ln = ln
		s.srv = srv
		s.mu.Unlock()

		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("http api stopped with error", logx.Err(err))
			}
		}()
		s.log.Info("http api started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cur.Token != ""), logx.Bool("pprof", cur.Pprof))
		return nil
	}
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.srv == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv, ln := s.srv, s.ln
	s.srv, s.ln = nil, nil
	s.mu.Unlock()

	_ = ln.Close()
	go func() {
		defer close(done)
		_ = srv.Shutdown(ctx)
		_ = srv.Close()
		s.mu.Lock()
		s.stopDone = nil
		s.mu.Unlock()
		s.log.Info("http api stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Handler builds the router for cfg.
func (s *Service) Handler(cfg Config) http.Handler {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	h := &handlers{watcher: s.watcher, subs: s.subs, log: s.log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLog(s.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(cfg.Token))
		r.Route("/api", func(r chi.Router) {
			r.Get("/status", h.status)
			r.Get("/subscribers", h.subscribers)
			r.Post("/check", h.check)
		})
		if cfg.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const p = "Bearer "
			ah := r.Header.Get("Authorization")
			if strings.HasPrefix(ah, p) &&
				subtle.ConstantTimeCompare([]byte(strings.TrimSpace(strings.TrimPrefix(ah, p))), []byte(tok)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
}

func requestLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				logx.String("rid", middleware.GetReqID(r.Context())),
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Int("bytes", ww.BytesWritten()),
				logx.Duration("dur", time.Since(start)),
			)
		})
	}
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
