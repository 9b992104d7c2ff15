// Package inference is a minimal completion client for OpenAI-compatible
// chat endpoints (OpenAI, Ollama, vLLM, Groq). The intent fallback uses it
// to classify utterances the pattern tier could not match.
//
//	c, _ := inference.NewClient(
//	    inference.WithEndpoint("http://localhost:11434/v1"),
//	    inference.WithModel("llama3.1"),
//	)
//	out, _ := c.Complete(ctx, inference.Prompt{
//	    System: "You classify page navigation commands.",
//	    User:   "scroll a bit",
//	    JSON:   true,
//	})
package inference

import (
	"context"
	"time"
)

// Completer answers single-turn prompts.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (Completion, error)

	// Ping checks that the endpoint is reachable and the key is accepted.
	Ping(ctx context.Context) error

	Close() error
}

// Prompt is one system plus user exchange.
type Prompt struct {
	System string
	User   string

	// Model overrides the client's default model.
	Model     string
	MaxTokens int

	// JSON asks the endpoint for a JSON object reply.
	JSON bool
}

// Completion is the model's reply to a Prompt.
type Completion struct {
	Text         string
	Model        string
	FinishReason string
	Tokens       int
	Latency      time.Duration
}
