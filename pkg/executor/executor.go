// Package executor turns resolved commands into page effects and feedback.
//
// Each intent maps to one handler. Stop and cancel bypass dispatch: they
// interrupt the queue, silence speech and stop the reader. Intents marked
// confirmation_required are held until the user says yes or no. All
// speech goes through the speech coordinator; the executor never touches
// the engine.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/teslashibe/go-voicenav/pkg/intent"
	"github.com/teslashibe/go-voicenav/pkg/metrics"
	"github.com/teslashibe/go-voicenav/pkg/speech"
	"github.com/teslashibe/go-voicenav/pkg/surface"
)

// Defaults.
const (
	DefaultConfirmTTL = 30 * time.Second
	DefaultGraceDelay = 300 * time.Millisecond

	// Failure messages longer than this are signalled but not spoken.
	maxSpokenMessage = 120

	msgNotUnderstood = "Sorry, I didn't understand"
)

// Result is the outcome of one command.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Err     error  `json:"-"`

	// quiet suppresses the spoken confirmation, for handlers that speak
	// for themselves or must not disturb a read.
	quiet bool
}

// Signal is the kind of feedback event.
type Signal string

const (
	SignalConfirm Signal = "confirm"
	SignalError   Signal = "error"
	SignalPrompt  Signal = "prompt"
)

// Signaler receives feedback events (tones, visual cues).
type Signaler interface {
	Signal(kind Signal, cmd intent.Command, message string)
}

// SignalerFunc adapts a function to Signaler.
type SignalerFunc func(kind Signal, cmd intent.Command, message string)

// Signal calls f.
func (f SignalerFunc) Signal(kind Signal, cmd intent.Command, message string) {
	f(kind, cmd, message)
}

// Speaker is the part of the speech coordinator the executor uses.
type Speaker interface {
	SpeakShort(text string, opts speech.ShortOptions) *speech.Completion
	SpeakContinuous(chunks []string, opts speech.ContinuousOptions, onAllComplete func(speech.Outcome)) *speech.Completion
	Pause() error
	Resume() error
	StopRead() error
	Stop() error
}

// Interrupter is the queue operation used by stop and cancel.
type Interrupter interface {
	Interrupt()
}

// Deps are the collaborators of an Executor. Page and Speech are required.
type Deps struct {
	Page     surface.Page
	Speech   Speaker
	Registry *intent.Registry
	Signaler Signaler
}

// Option configures an Executor.
type Option func(*Executor)

// WithSpokenConfirmations speaks the success message of each command.
func WithSpokenConfirmations(on bool) Option {
	return func(e *Executor) { e.spokenConfirmations = on }
}

// WithConfirmTTL sets how long a held command waits for yes or no.
func WithConfirmTTL(d time.Duration) Option {
	return func(e *Executor) { e.confirmTTL = d }
}

// WithGraceDelay sets the pause before reading resumes at a new block.
func WithGraceDelay(d time.Duration) Option {
	return func(e *Executor) { e.grace = d }
}

// WithMaxChunk sets the chunk size for reads.
func WithMaxChunk(n int) Option {
	return func(e *Executor) { e.maxChunk = n }
}

// WithMetrics records command metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func withClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

type handlerFunc func(ctx context.Context, cmd intent.Command) Result

type pendingCommand struct {
	cmd     intent.Command
	expires time.Time
}

// Executor dispatches commands to handlers.
type Executor struct {
	page     surface.Page
	caps     surface.Capabilities
	speech   Speaker
	registry *intent.Registry
	signaler Signaler
	reader   *Reader
	handlers map[string]handlerFunc

	spokenConfirmations bool
	confirmTTL          time.Duration
	grace               time.Duration
	maxChunk            int
	metrics             *metrics.Metrics
	logger              *slog.Logger
	now                 func() time.Time

	mu      sync.Mutex
	queue   Interrupter
	pending *pendingCommand
}

// New creates an Executor. Page capabilities are probed once here.
func New(deps Deps, opts ...Option) (*Executor, error) {
	if deps.Page == nil || deps.Speech == nil {
		return nil, fmt.Errorf("%w: page and speech are required", ErrMissingDependency)
	}
	e := &Executor{
		page:       deps.Page,
		caps:       surface.Probe(deps.Page),
		speech:     deps.Speech,
		registry:   deps.Registry,
		signaler:   deps.Signaler,
		confirmTTL: DefaultConfirmTTL,
		grace:      DefaultGraceDelay,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "executor")
	e.reader = newReader(e.caps.Reader, e.caps.Highlighter, e.speech, e.grace, e.maxChunk, e.logger)

	e.handlers = map[string]handlerFunc{
		"navigate":     e.navigate,
		"zoom":         e.zoom,
		"read":         e.read,
		"reading":      e.reading,
		"links":        e.links,
		"search":       e.search,
		"form":         e.form,
		"submit":       e.submit,
		"highlight":    e.highlight,
		"describe":     e.describe,
		"help":         e.help,
		intent.Confirm: e.confirm,
		intent.Deny:    e.deny,
	}

	e.logger.Debug("page capabilities", "supported", e.caps.Names())
	return e, nil
}

// BindQueue sets the queue that stop and cancel interrupt.
func (e *Executor) BindQueue(q Interrupter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = q
}

// Reader returns the read pipeline.
func (e *Executor) Reader() *Reader {
	return e.reader
}

// Capabilities returns the probed page capabilities.
func (e *Executor) Capabilities() surface.Capabilities {
	return e.caps
}

// Run implements queue.Runner. A failed command is reported as an error.
func (e *Executor) Run(ctx context.Context, cmd intent.Command) error {
	res := e.Execute(ctx, cmd)
	if !res.Success {
		if res.Err != nil {
			return fmt.Errorf("executor: %s: %w", cmd.Intent, res.Err)
		}
		return fmt.Errorf("executor: %s: %s", cmd.Intent, res.Message)
	}
	return nil
}

// Execute runs cmd and delivers feedback.
func (e *Executor) Execute(ctx context.Context, cmd intent.Command) Result {
	start := e.now()

	var res Result
	switch {
	case cmd.IsStop():
		res = e.stop(ctx, cmd)
	case e.registry != nil && e.registry.RequiresConfirmation(cmd.Intent):
		res = e.hold(cmd)
	default:
		h, ok := e.handlers[cmd.Intent]
		if !ok {
			res = fail(msgNotUnderstood)
		} else {
			res = h(ctx, cmd)
		}
	}

	e.feedback(cmd, res)
	e.metrics.ObserveCommand(cmd.Intent, res.Success, e.now().Sub(start))
	e.logger.Info("command executed",
		"intent", cmd.Intent,
		"action", cmd.Action,
		"source", cmd.Source,
		"success", res.Success,
		"message", res.Message,
	)
	return res
}

// stop interrupts the queue, silences speech and stops the reader. Page
// calls use a context that survives the interrupt it triggers.
func (e *Executor) stop(ctx context.Context, cmd intent.Command) Result {
	ctx = context.WithoutCancel(ctx)

	e.mu.Lock()
	q := e.queue
	e.pending = nil
	e.mu.Unlock()

	e.reader.Stop(ctx)
	if q != nil {
		q.Interrupt()
	} else if err := e.speech.Stop(); err != nil {
		e.logger.Warn("speech stop failed", "error", err)
	}

	if cmd.Intent == intent.Cancel {
		return ok("Cancelled.").silent()
	}
	return ok("Stopped.").silent()
}

// hold parks a command until it is confirmed or denied.
func (e *Executor) hold(cmd intent.Command) Result {
	e.mu.Lock()
	e.pending = &pendingCommand{cmd: cmd, expires: e.now().Add(e.confirmTTL)}
	e.mu.Unlock()

	prompt := fmt.Sprintf("Are you sure you want to %s? Say yes or no.", describeAction(cmd))
	e.say(prompt)
	if e.signaler != nil {
		e.signaler.Signal(SignalPrompt, cmd, prompt)
	}
	return ok(prompt).silent()
}

// takePending returns and clears a command awaiting confirmation.
func (e *Executor) takePending() (intent.Command, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.pending
	e.pending = nil
	if p == nil || e.now().After(p.expires) {
		return intent.Command{}, false
	}
	return p.cmd, true
}

// PendingConfirmation reports the command awaiting yes or no, if any.
func (e *Executor) PendingConfirmation() (intent.Command, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil || e.now().After(e.pending.expires) {
		return intent.Command{}, false
	}
	return e.pending.cmd, true
}

func (e *Executor) confirm(ctx context.Context, _ intent.Command) Result {
	cmd, held := e.takePending()
	if !held {
		return fail("There is nothing to confirm.")
	}
	h, found := e.handlers[cmd.Intent]
	if !found {
		return fail(msgNotUnderstood)
	}
	return h(ctx, cmd)
}

func (e *Executor) deny(context.Context, intent.Command) Result {
	if _, held := e.takePending(); !held {
		return fail("There is nothing to cancel.")
	}
	return ok("Okay, I won't.")
}

func (e *Executor) feedback(cmd intent.Command, res Result) {
	if res.Success {
		if e.signaler != nil {
			e.signaler.Signal(SignalConfirm, cmd, res.Message)
		}
		if e.spokenConfirmations && !res.quiet {
			e.say(res.Message)
		}
		return
	}

	if e.signaler != nil {
		e.signaler.Signal(SignalError, cmd, res.Message)
	}
	if !res.quiet && utf8.RuneCountInString(res.Message) <= maxSpokenMessage {
		e.say(res.Message)
	}
}

// say speaks a short acknowledgement without waiting for it.
func (e *Executor) say(text string) {
	if text == "" {
		return
	}
	e.speech.SpeakShort(text, speech.ShortOptions{})
}

func ok(msg string) Result {
	return Result{Success: true, Message: msg}
}

func fail(msg string) Result {
	return Result{Message: msg}
}

func failErr(msg string, err error) Result {
	return Result{Message: msg, Err: err}
}

func (r Result) silent() Result {
	r.quiet = true
	return r
}
