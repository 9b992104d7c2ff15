// Package queue sequences resolved commands.
//
// One command runs at a time on a worker goroutine that is started on
// demand. Priority commands go ahead of normal ones and interrupt the
// running command cooperatively by cancelling its context. Every command
// start opens a cooldown window during which normal commands are
// rejected, so the system's own speech is not picked up as a new command.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-voicenav/pkg/intent"
	"github.com/teslashibe/go-voicenav/pkg/metrics"
)

// Cooldown bounds.
const (
	MinCooldown     = 500 * time.Millisecond
	MaxCooldown     = 10 * time.Second
	DefaultCooldown = 2 * time.Second
)

// Runner executes one command. It should return promptly once ctx is
// cancelled.
type Runner interface {
	Run(ctx context.Context, cmd intent.Command) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, cmd intent.Command) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, cmd intent.Command) error {
	return f(ctx, cmd)
}

// Stopper silences the output channel on Interrupt.
type Stopper interface {
	Stop() error
}

// Item is a queued command.
type Item struct {
	ID        string         `json:"id"`
	Command   intent.Command `json:"command"`
	Timestamp time.Time      `json:"timestamp"`
	Priority  bool           `json:"priority"`
}

// Status is a snapshot of the queue.
type Status struct {
	QueueLength        int             `json:"queueLength"`
	IsProcessing       bool            `json:"isProcessing"`
	CurrentCommand     *intent.Command `json:"currentCommand"`
	CooldownActive     bool            `json:"cooldownActive"`
	InterruptRequested bool            `json:"interruptRequested"`
}

// Option configures a Queue.
type Option func(*Queue)

// WithCooldown sets the cooldown window, clamped to [MinCooldown, MaxCooldown].
func WithCooldown(d time.Duration) Option {
	return func(q *Queue) {
		switch {
		case d < MinCooldown:
			d = MinCooldown
		case d > MaxCooldown:
			d = MaxCooldown
		}
		q.cooldown = d
	}
}

// WithStopper binds the output channel stopped by Interrupt.
func WithStopper(s Stopper) Option {
	return func(q *Queue) { q.stopper = s }
}

// WithOnReject sets a hook called for commands rejected by the cooldown.
func WithOnReject(fn func(intent.Command)) Option {
	return func(q *Queue) { q.onReject = fn }
}

// WithMetrics records queue metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// withClock replaces time.Now.
func withClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Queue is a single-concurrency command queue.
type Queue struct {
	runner   Runner
	stopper  Stopper
	cooldown time.Duration
	onReject func(intent.Command)
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu                 sync.Mutex
	idle               *sync.Cond
	items              []*Item
	current            *Item
	cancelCurrent      context.CancelFunc
	processing         bool
	interruptRequested bool
	cooldownUntil      time.Time
	closed             bool
}

// New creates a queue that runs commands with runner.
func New(runner Runner, opts ...Option) *Queue {
	q := &Queue{
		runner:   runner,
		cooldown: DefaultCooldown,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	q.logger = q.logger.With("component", "queue")
	q.idle = sync.NewCond(&q.mu)
	q.ctx, q.cancel = context.WithCancel(context.Background())
	return q
}

// Enqueue adds cmd and returns its id. Normal commands are rejected with
// ok=false while the cooldown is open; priority commands are always
// accepted and interrupt the running command.
func (q *Queue) Enqueue(cmd intent.Command, priority bool) (id string, ok bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", false
	}
	if !priority && q.now().Before(q.cooldownUntil) {
		q.mu.Unlock()
		q.metrics.Enqueue(false, false)
		q.logger.Debug("command rejected during cooldown", "intent", cmd.Intent, "original", cmd.Original)
		if q.onReject != nil {
			q.onReject(cmd)
		}
		return "", false
	}

	item := &Item{
		ID:        uuid.NewString(),
		Command:   cmd,
		Timestamp: q.now(),
		Priority:  priority,
	}
	if priority {
		// Behind earlier priority items, ahead of everything else.
		i := 0
		for i < len(q.items) && q.items[i].Priority {
			i++
		}
		q.items = append(q.items, nil)
		copy(q.items[i+1:], q.items[i:])
		q.items[i] = item
		if q.current != nil {
			q.interruptRequested = true
			q.cancelCurrent()
		}
	} else {
		q.items = append(q.items, item)
	}
	q.metrics.SetQueueLength(len(q.items))

	if !q.processing {
		q.processing = true
		go q.work()
	}
	q.mu.Unlock()

	q.metrics.Enqueue(priority, true)
	q.logger.Debug("command enqueued", "id", item.ID, "intent", cmd.Intent, "priority", priority)
	return item.ID, true
}

// Interrupt stops the running command cooperatively, drops everything
// pending and stops the bound output channel. It does not wait for the
// running command to return.
func (q *Queue) Interrupt() {
	q.mu.Lock()
	if q.current != nil {
		q.interruptRequested = true
		q.cancelCurrent()
	}
	dropped := len(q.items)
	q.items = nil
	q.metrics.SetQueueLength(0)
	q.mu.Unlock()

	q.metrics.Interrupt()
	q.logger.Info("queue interrupted", "dropped", dropped)

	if q.stopper != nil {
		if err := q.stopper.Stop(); err != nil {
			q.logger.Warn("stop output failed", "error", err)
		}
	}
}

// Clear drops pending commands and returns how many were dropped. The
// running command is not affected.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	q.metrics.SetQueueLength(0)
	return n
}

// Status returns a snapshot of the queue.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Status{
		QueueLength:        len(q.items),
		IsProcessing:       q.processing,
		CooldownActive:     q.now().Before(q.cooldownUntil),
		InterruptRequested: q.interruptRequested,
	}
	if q.current != nil {
		cmd := q.current.Command
		s.CurrentCommand = &cmd
	}
	return s
}

// Pending returns the queued items in run order.
func (q *Queue) Pending() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	for i, it := range q.items {
		out[i] = *it
	}
	return out
}

// Wait blocks until the worker is idle.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.processing {
		q.idle.Wait()
	}
}

// Close rejects new commands, drops pending ones, cancels the running
// command and waits for it to return.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.cancel()
	q.Wait()
	return nil
}

func (q *Queue) work() {
	for {
		q.mu.Lock()
		if q.interruptRequested {
			q.dropNormal()
			q.interruptRequested = false
		}
		if len(q.items) == 0 || q.closed {
			q.processing = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}

		item := q.items[0]
		q.items = q.items[1:]
		ctx, cancel := context.WithCancel(q.ctx)
		q.current = item
		q.cancelCurrent = cancel
		q.cooldownUntil = q.now().Add(q.cooldown)
		q.metrics.SetQueueLength(len(q.items))
		q.mu.Unlock()

		q.run(ctx, item)
		cancel()

		q.mu.Lock()
		q.current = nil
		q.cancelCurrent = nil
		q.mu.Unlock()
	}
}

// dropNormal keeps only priority items. Caller holds mu.
func (q *Queue) dropNormal() {
	kept := q.items[:0]
	for _, it := range q.items {
		if it.Priority {
			kept = append(kept, it)
		}
	}
	if n := len(q.items) - len(kept); n > 0 {
		q.logger.Debug("dropped pending commands after interrupt", "count", n)
	}
	q.items = kept
}

func (q *Queue) run(ctx context.Context, item *Item) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("command panicked", "id", item.ID, "intent", item.Command.Intent, "panic", fmt.Sprint(r))
		}
	}()

	start := time.Now()
	if err := q.runner.Run(ctx, item.Command); err != nil {
		q.logger.Warn("command failed", "id", item.ID, "intent", item.Command.Intent, "error", err)
		return
	}
	q.logger.Debug("command done", "id", item.ID, "intent", item.Command.Intent, "duration", time.Since(start))
}
