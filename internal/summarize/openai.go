// Package summarize asks a chat-completions model to describe how a page
// changed between two snapshots.
package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"

	logx "pagewatch/pkg/logx"
)

const (
	DefaultBaseURL       = "https://api.openai.com/v1"
	DefaultModel         = "gpt-4o-mini"
	DefaultMaxTokens     = 1500
	DefaultTemperature   = 0.5
	DefaultMaxInputChars = 12000

	DefaultSystemPrompt = "You help write short summaries comparing two versions of a text."
	// DefaultPrompt is expanded with {{old}} and {{new}}.
	DefaultPrompt = "Compare the following two texts and describe the main changes:\n\nOld text:\n{{old}}\n\nNew text:\n{{new}}\n\nSummary of changes:\n"
)

var ErrEmptyResponse = errors.New("summarize: model returned no text")

type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	MaxTokens     int
	Temperature   *float64
	SystemPrompt  string
	Prompt        string
	MaxInputChars int
	Timeout       time.Duration
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(c.Model) == "" {
		c.Model = DefaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature == nil {
		t := DefaultTemperature
		c.Temperature = &t
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if strings.TrimSpace(c.Prompt) == "" {
		c.Prompt = DefaultPrompt
	}
	if c.MaxInputChars <= 0 {
		c.MaxInputChars = DefaultMaxInputChars
	}
	return c
}

// OpenAI talks to any OpenAI-compatible /chat/completions endpoint.
type OpenAI struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

func NewOpenAI(cfg Config, client *http.Client, log logx.Logger) *OpenAI {
	if client == nil {
		client = http.DefaultClient
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &OpenAI{cfg: cfg.withDefaults(), client: client, log: log}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// APIError is a non-2xx reply from the endpoint.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("api status %d (%s): %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("api status %d: %s", e.StatusCode, msg)
}

// Summarize returns the model's description of what changed from previous
// to current.
func (o *OpenAI) Summarize(ctx context.Context, previous, current string) (string, error) {
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	prompt := strings.NewReplacer(
		"{{old}}", clip(previous, o.cfg.MaxInputChars),
		"{{new}}", clip(current, o.cfg.MaxInputChars),
	).Replace(o.cfg.Prompt)

	req := chatRequest{
		Model: o.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: o.cfg.SystemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: *o.cfg.Temperature,
	}

	start := time.Now()
	var resp chatResponse
	err := requests.URL(o.cfg.BaseURL + "/chat/completions").
		Client(o.client).
		Bearer(o.cfg.APIKey).
		BodyJSON(&req).
		AddValidator(checkAPIError).
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	o.log.Debug("summary produced",
		logx.String("model", o.cfg.Model),
		logx.Int("prompt_tokens", resp.Usage.PromptTokens),
		logx.Int("completion_tokens", resp.Usage.CompletionTokens),
		logx.Duration("took", time.Since(start)),
	)
	return text, nil
}

func checkAPIError(res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	apiErr := &APIError{StatusCode: res.StatusCode}
	b, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &body) == nil && body.Error.Message != "" {
		apiErr.Message = body.Error.Message
		apiErr.Type = body.Error.Type
		if body.Error.Code != nil {
			apiErr.Code = fmt.Sprint(body.Error.Code)
		}
	} else {
		apiErr.Message = strings.TrimSpace(string(b))
	}
	return apiErr
}

// clip keeps at most n runes of s.
func clip(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "\n[…truncated]"
}
