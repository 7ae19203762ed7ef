package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logx "pagewatch/pkg/logx"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Method != http.MethodPost {
			http.Error(w, "bad route "+r.Method+" "+r.URL.Path, http.StatusNotFound)
			return
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  The price changed.  "}}],"usage":{"prompt_tokens":10,"completion_tokens":4}}`))
	}))
	defer srv.Close()

	s := NewOpenAI(Config{BaseURL: srv.URL + "/v1/", APIKey: "sk-test"}, srv.Client(), logx.Nop())
	out, err := s.Summarize(context.Background(), "price $5", "price $7")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if out != "The price changed." {
		t.Fatalf("out=%q", out)
	}
	if auth != "Bearer sk-test" {
		t.Fatalf("auth=%q", auth)
	}
	if got.Model != DefaultModel || got.MaxTokens != DefaultMaxTokens || got.Temperature != DefaultTemperature {
		t.Fatalf("request=%+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("messages=%+v", got.Messages)
	}
	user := got.Messages[1].Content
	if !strings.Contains(user, "Old text:\nprice $5") || !strings.Contains(user, "New text:\nprice $7") {
		t.Fatalf("prompt=%q", user)
	}
}

func TestSummarizeErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "api error",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.StatusCode != 429 || apiErr.Code != "rate_limit_exceeded" {
					t.Fatalf("err=%v", err)
				}
			},
		},
		{
			name:   "plain error body",
			status: http.StatusBadGateway,
			body:   `upstream down`,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.Message != "upstream down" {
					t.Fatalf("err=%v", err)
				}
			},
		},
		{
			name:   "no choices",
			status: http.StatusOK,
			body:   `{"choices":[]}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrEmptyResponse) {
					t.Fatalf("err=%v", err)
				}
			},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewOpenAI(Config{BaseURL: srv.URL}, srv.Client(), logx.Nop()).Summarize(context.Background(), "a", "b")
			if err == nil {
				t.Fatalf("expected error")
			}
			tc.check(t, err)
		})
	}
}

func TestClip(t *testing.T) {
	t.Parallel()

	if got := clip("héllo", 10); got != "héllo" {
		t.Fatalf("got %q", got)
	}
	if got := clip("héllo", 2); !strings.HasPrefix(got, "hé") || !strings.Contains(got, "truncated") {
		t.Fatalf("got %q", got)
	}
}
