package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-voicenav/internal/httpc"
)

// Defaults target a local Ollama, the usual home of the fallback model.
const (
	DefaultEndpoint  = "http://localhost:11434/v1"
	DefaultModel     = "llama3.1"
	DefaultMaxTokens = 128
	DefaultTimeout   = 10 * time.Second
)

// Option configures a Client.
type Option func(*Client)

// WithEndpoint sets the API base, e.g. "https://api.openai.com/v1".
func WithEndpoint(url string) Option {
	return func(c *Client) { c.endpoint = strings.TrimSuffix(url, "/") }
}

// WithAPIKey sets the bearer token. Local endpoints usually need none.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// WithTimeout bounds each HTTP attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetries retries transport failures and temporary statuses n times,
// waiting backoff, 2*backoff, ... between attempts.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = n
		c.backoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client completes prompts against an OpenAI-compatible endpoint.
// Temperature is always 0: classification should be repeatable.
type Client struct {
	endpoint  string
	apiKey    string
	model     string
	maxTokens int
	timeout   time.Duration
	retries   int
	backoff   time.Duration

	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a client.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		endpoint:  DefaultEndpoint,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		timeout:   DefaultTimeout,
		retries:   1,
		backoff:   100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.endpoint == "" {
		return nil, ErrNoEndpoint
	}
	if c.model == "" {
		return nil, ErrNoModel
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "inference")
	c.http = httpc.New(c.timeout)
	return c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends p as a chat and returns the first choice.
func (c *Client) Complete(ctx context.Context, p Prompt) (Completion, error) {
	start := time.Now()

	req := chatRequest{
		Model:     p.Model,
		MaxTokens: p.MaxTokens,
	}
	if req.Model == "" {
		req.Model = c.model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.maxTokens
	}
	if p.System != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: p.System})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: p.User})
	if p.JSON {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Completion{}, fmt.Errorf("inference: encode request: %w", err)
	}

	var out chatResponse
	if err := c.send(ctx, http.MethodPost, "/chat/completions", body, &out); err != nil {
		return Completion{}, err
	}
	if len(out.Choices) == 0 {
		return Completion{}, ErrNoChoices
	}

	choice := out.Choices[0]
	return Completion{
		Text:         choice.Message.Content,
		Model:        out.Model,
		FinishReason: choice.FinishReason,
		Tokens:       out.Usage.TotalTokens,
		Latency:      time.Since(start),
	}, nil
}

// Ping lists models, which needs a valid key but spends no tokens.
func (c *Client) Ping(ctx context.Context) error {
	return c.send(ctx, http.MethodGet, "/models", nil, nil)
}

// Close drops idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// send performs one request with retries and decodes a 200 body into out
// when out is non-nil.
func (c *Client) send(ctx context.Context, method, path string, body []byte, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}

		err := c.once(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return err
		}
		lastErr = err
		c.logger.Warn("model request failed", "path", path, "attempt", attempt+1, "error", err)
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, r)
	if err != nil {
		return fmt.Errorf("inference: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("inference: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("inference: decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	se := &StatusError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}

	var body struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		se.Message = body.Error.Message
		se.Code = body.Error.Code
	}
	return se
}

var _ Completer = (*Client)(nil)
