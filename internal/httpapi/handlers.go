package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"pagewatch/internal/watch"
	logx "pagewatch/pkg/logx"
)

type handlers struct {
	watcher Watcher
	subs    Subscribers
	log     logx.Logger
}

type checkResponse struct {
	URL        string        `json:"url"`
	Status     watch.Status  `json:"status"`
	Summary    string        `json:"summary,omitempty"`
	Error      string        `json:"error,omitempty"`
	PersistErr string        `json:"persist_error,omitempty"`
	Message    string        `json:"message"`
	CheckedAt  time.Time     `json:"checked_at"`
	Took       time.Duration `json:"took_ns"`
}

func toResponse(res watch.CheckResult) checkResponse {
	out := checkResponse{
		URL:       res.URL,
		Status:    res.Status,
		Summary:   res.Summary,
		Message:   watch.Render(res),
		CheckedAt: res.CheckedAt,
		Took:      res.Took,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	if res.PersistErr != nil {
		out.PersistErr = res.PersistErr.Error()
	}
	return out
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.watcher.Status())
}

func (h *handlers) subscribers(w http.ResponseWriter, r *http.Request) {
	ids, err := h.subs.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(ids), "subscribers": ids})
}

// check runs a manual check. Results are returned to the caller and never
// broadcast. ?url= (repeatable) limits the check to watched URLs.
func (h *handlers) check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var urls []string
	for _, u := range r.URL.Query()["url"] {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}

	var results []watch.CheckResult
	if len(urls) == 0 {
		res, err := h.watcher.CheckNow(ctx, nil)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		results = res
	} else {
		for _, u := range urls {
			res, err := h.watcher.CheckURL(ctx, u)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			results = append(results, res)
		}
	}

	out := make([]checkResponse, 0, len(results))
	for _, res := range results {
		out = append(out, toResponse(res))
	}
	h.log.Info("manual check via api", logx.Int("urls", len(out)))
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, watch.ErrUnknownURL):
		return http.StatusNotFound
	case errors.Is(err, watch.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
