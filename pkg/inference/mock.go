package inference

import (
	"context"
	"sync"
)

// Mock is a Completer that returns a canned reply and records prompts.
type Mock struct {
	Reply string

	// Err fails Complete; PingErr fails Ping.
	Err     error
	PingErr error

	mu      sync.Mutex
	prompts []Prompt
	pings   int
}

// NewMock returns a mock that answers every prompt with reply.
func NewMock(reply string) *Mock {
	return &Mock{Reply: reply}
}

// NewFailingMock returns a mock whose Complete and Ping fail with err.
func NewFailingMock(err error) *Mock {
	return &Mock{Err: err, PingErr: err}
}

func (m *Mock) Complete(ctx context.Context, p Prompt) (Completion, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, p)
	m.mu.Unlock()
	if m.Err != nil {
		return Completion{}, m.Err
	}
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	return Completion{Text: m.Reply, Model: p.Model, FinishReason: "stop"}, nil
}

func (m *Mock) Ping(context.Context) error {
	m.mu.Lock()
	m.pings++
	m.mu.Unlock()
	return m.PingErr
}

func (m *Mock) Close() error { return nil }

// Prompts returns a copy of every prompt seen.
func (m *Mock) Prompts() []Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Prompt(nil), m.prompts...)
}

// Last returns the most recent prompt.
func (m *Mock) Last() (Prompt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return Prompt{}, false
	}
	return m.prompts[len(m.prompts)-1], true
}

// Pings returns how many times Ping was called.
func (m *Mock) Pings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pings
}

var _ Completer = (*Mock)(nil)
