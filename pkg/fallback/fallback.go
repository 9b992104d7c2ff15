// Package fallback implements the probabilistic intent tier on top of a
// chat model. The model is shown the intent registry and asked to answer
// with a single JSON object.
package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teslashibe/go-voicenav/pkg/inference"
	"github.com/teslashibe/go-voicenav/pkg/intent"
	"github.com/teslashibe/go-voicenav/pkg/resolver"
)

// ErrMalformedReply is returned when the model reply is not the expected JSON.
var ErrMalformedReply = errors.New("fallback: malformed model reply")

// LLM is a resolver.Fallback backed by an inference.Completer.
type LLM struct {
	model    inference.Completer
	registry *intent.Registry
	prompt   string
	name     string
	logger   *slog.Logger
}

// Option configures an LLM fallback.
type Option func(*LLM)

// WithModel overrides the client's default model.
func WithModel(model string) Option {
	return func(l *LLM) { l.name = model }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *LLM) { l.logger = logger }
}

// New creates an LLM fallback for the intents in registry.
func New(m inference.Completer, registry *intent.Registry, opts ...Option) *LLM {
	l := &LLM{model: m, registry: registry}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default().With("component", "fallback")
	}
	l.prompt = systemPrompt(registry)
	return l
}

// Load checks that the model endpoint is reachable.
func (l *LLM) Load(ctx context.Context) error {
	if err := l.model.Ping(ctx); err != nil {
		return fmt.Errorf("fallback: model unreachable: %w", err)
	}
	return nil
}

// ProcessCommand asks the model to classify text.
func (l *LLM) ProcessCommand(ctx context.Context, text string, pc resolver.PageContext) (*resolver.FallbackResult, error) {
	out, err := l.model.Complete(ctx, inference.Prompt{
		System: l.prompt,
		User:   userPrompt(text, pc),
		Model:  l.name,
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}

	res, err := parseReply(out.Text)
	if err != nil {
		l.logger.Debug("unparseable model reply", "reply", out.Text, "error", err)
		return nil, err
	}
	if _, ok := l.registry.Lookup(res.Intent); !ok && res.Intent != intent.Unknown {
		l.logger.Debug("model invented an intent", "intent", res.Intent)
		res.Intent = intent.Unknown
		res.Confidence = 0
	}
	return res, nil
}

func systemPrompt(r *intent.Registry) string {
	var b strings.Builder
	b.WriteString("You map voice commands for navigating a web page to one intent.\n")
	b.WriteString("Answer with a single JSON object and nothing else:\n")
	b.WriteString(`{"intent": "<name>", "action": "<short_snake_case>", "slots": {}, "confidence": <0..1>, "reasoning": "<one sentence>"}`)
	b.WriteString("\nUse \"unknown\" with confidence 0 when nothing fits.\n")
	b.WriteString("Slots may include direction, position, index, amount, percent, query, target, field, value.\n\nIntents:\n")
	for _, s := range r.Schemas() {
		fmt.Fprintf(&b, "- %s: %s", s.Name, s.Description)
		if len(s.Examples) > 0 {
			n := len(s.Examples)
			if n > 3 {
				n = 3
			}
			fmt.Fprintf(&b, " (e.g. %q)", strings.Join(s.Examples[:n], `", "`))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func userPrompt(text string, pc resolver.PageContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Command: %q\n", text)
	if pc.Title != "" {
		fmt.Fprintf(&b, "Page title: %s\n", pc.Title)
	}
	if pc.URL != "" {
		fmt.Fprintf(&b, "Page URL: %s\n", pc.URL)
	}
	if pc.Reading {
		b.WriteString("The page is currently being read aloud.\n")
	}
	return b.String()
}

// parseReply extracts the JSON object from a model reply, tolerating
// markdown code fences and surrounding prose.
func parseReply(reply string) (*resolver.FallbackResult, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, ErrMalformedReply
	}

	var raw struct {
		Intent     string         `json:"intent"`
		Action     string         `json:"action"`
		Slots      map[string]any `json:"slots"`
		Confidence float64        `json:"confidence"`
		Reasoning  string         `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}

	slots := intent.Slots{}
	for k, v := range raw.Slots {
		if f, ok := v.(float64); ok && f == float64(int(f)) {
			slots[k] = int(f)
			continue
		}
		slots[k] = v
	}

	return &resolver.FallbackResult{
		Intent:     strings.ToLower(strings.TrimSpace(raw.Intent)),
		Action:     raw.Action,
		Slots:      slots,
		Confidence: raw.Confidence,
		Reasoning:  raw.Reasoning,
	}, nil
}

var _ resolver.Fallback = (*LLM)(nil)
