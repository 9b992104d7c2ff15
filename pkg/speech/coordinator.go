package speech

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/teslashibe/go-voicenav/pkg/metrics"
	"github.com/teslashibe/go-voicenav/pkg/tts"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithInterruptReads makes every short interrupt an active read.
func WithInterruptReads(on bool) Option {
	return func(c *Coordinator) { c.interruptReads = on }
}

// WithMetrics records utterance metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// Coordinator is the sole owner of a tts.Engine. All playback state lives
// on one loop goroutine; public methods post work to it.
type Coordinator struct {
	engine         tts.Engine
	pauser         tts.Pauser
	interruptReads bool
	metrics        *metrics.Metrics
	logger         *slog.Logger

	ops       chan func()
	quit      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
	notes     *notifier

	// Owned by the loop goroutine.
	seq          uint64
	current      *utterance
	shorts       []*shortReq
	read         *readState
	mode         Mode
	enginePaused bool

	stateMu sync.Mutex
	state   State
}

type utterance struct {
	token uint64
	short *shortReq // nil for a read chunk
	chunk int
}

type shortReq struct {
	text       string
	opts       tts.Options
	completion *Completion
}

type readState struct {
	chunks     []string
	index      int
	opts       ContinuousOptions
	onAll      func(Outcome)
	completion *Completion
}

// NewCoordinator starts a coordinator for engine. Pause support is probed
// once here.
func NewCoordinator(engine tts.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{
		engine:   engine,
		ops:      make(chan func()),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		mode:     ModeIdle,
		state:    State{Mode: ModeIdle},
	}
	if p, ok := engine.(tts.Pauser); ok {
		c.pauser = p
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "speech")
	c.notes = newNotifier(c.logger)

	go c.run()
	return c
}

// SpeakShort speaks text with interrupt-and-replace semantics: a short
// already speaking or waiting is replaced. During a read the short waits
// for the current chunk boundary unless InterruptReads is set.
func (c *Coordinator) SpeakShort(text string, opts ShortOptions) *Completion {
	comp := newCompletion()
	text = strings.TrimSpace(text)
	if text == "" {
		comp.resolve(Outcome{Reason: ReasonFinished})
		return comp
	}
	req := &shortReq{text: text, opts: opts.Options, completion: comp}
	interrupt := opts.InterruptReads || c.interruptReads
	if !c.submit(func() { c.startShort(req, interrupt) }) {
		comp.resolve(Outcome{Reason: ReasonClosed, Err: ErrClosed})
	}
	return comp
}

// SpeakContinuous reads chunks back to back. A read already in progress
// is replaced. onAllComplete, if not nil, fires exactly once when the read
// ends for any reason, before the returned Completion resolves.
func (c *Coordinator) SpeakContinuous(chunks []string, opts ContinuousOptions, onAllComplete func(Outcome)) *Completion {
	comp := newCompletion()
	r := &readState{
		chunks:     append([]string(nil), chunks...),
		opts:       opts,
		onAll:      onAllComplete,
		completion: comp,
	}
	if !c.submit(func() { c.startRead(r) }) {
		o := Outcome{Reason: ReasonClosed, Err: ErrClosed}
		if onAllComplete != nil {
			onAllComplete(o)
		}
		comp.resolve(o)
	}
	return comp
}

// Pause pauses the active read. Engines implementing tts.Pauser pause in
// place; otherwise the current chunk is cancelled and restarted on Resume.
func (c *Coordinator) Pause() error {
	return c.call(func() error {
		if c.read == nil || c.mode != ModeReading {
			return ErrNotReading
		}
		c.mode = ModePaused
		if c.current == nil || c.current.short != nil {
			return nil
		}
		if c.pauser != nil {
			err := c.pauser.Pause()
			if err == nil {
				c.enginePaused = true
				return nil
			}
			c.logger.Warn("engine pause failed, cancelling chunk", "error", err)
		}
		c.cancelCurrent()
		return nil
	})
}

// Resume continues a paused read.
func (c *Coordinator) Resume() error {
	return c.call(func() error {
		if c.read == nil || c.mode != ModePaused {
			return ErrNotPaused
		}
		c.mode = ModeReading
		if c.enginePaused {
			c.resumeEngine()
		}
		c.advance()
		return nil
	})
}

// StopRead ends the active read. Short utterances are left alone.
func (c *Coordinator) StopRead() error {
	return c.call(func() error {
		if c.read == nil {
			return ErrNotReading
		}
		if c.current != nil && c.current.short == nil {
			c.cancelCurrent()
		}
		c.finishRead(Outcome{Reason: ReasonStopped, Chunks: c.read.index})
		c.advance()
		return nil
	})
}

// Stop silences everything: pending and speaking shorts and the active
// read. The read's onAllComplete fires once with ReasonStopped.
func (c *Coordinator) Stop() error {
	return c.call(func() error {
		c.stopAll(ReasonStopped, nil)
		return nil
	})
}

// State returns a snapshot of the playback state.
func (c *Coordinator) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Close stops all speech and the loop. Pending completions resolve with
// ReasonClosed. Close must not be called from a completion callback.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
		<-c.loopDone
		c.notes.close()
	})
	return nil
}

func (c *Coordinator) run() {
	defer close(c.loopDone)
	for {
		select {
		case op := <-c.ops:
			op()
			c.publish()
		case <-c.quit:
			c.stopAll(ReasonClosed, ErrClosed)
			c.publish()
			return
		}
	}
}

// submit hands op to the loop. It reports false once closed.
func (c *Coordinator) submit(op func()) bool {
	select {
	case c.ops <- op:
		return true
	case <-c.quit:
		return false
	}
}

// call runs op on the loop and waits for its result.
func (c *Coordinator) call(op func() error) error {
	errc := make(chan error, 1)
	if !c.submit(func() {
		err := op()
		c.publish()
		errc <- err
	}) {
		return ErrClosed
	}
	return <-errc
}

// doneFunc routes an engine callback back onto the loop. Engines may call
// done from inside Speak or CancelAll, so the post never blocks the caller.
func (c *Coordinator) doneFunc(token uint64) tts.DoneFunc {
	return func(r tts.Result) {
		go c.submit(func() { c.handleDone(token, r) })
	}
}

func (c *Coordinator) startShort(req *shortReq, interrupt bool) {
	for _, s := range c.shorts {
		s.completion.resolve(Outcome{Reason: ReasonReplaced})
	}
	c.shorts = nil

	if c.current != nil && c.current.short != nil {
		c.current.short.completion.resolve(Outcome{Reason: ReasonReplaced})
		c.cancelCurrent()
	}

	if c.read != nil {
		switch {
		case interrupt:
			if c.current != nil {
				c.cancelCurrent()
			}
			c.finishRead(Outcome{Reason: ReasonStopped, Chunks: c.read.index})
		case c.mode == ModeReading && c.current != nil:
			c.shorts = append(c.shorts, req)
			return
		case c.current != nil:
			// Paused in place: the chunk restarts on Resume.
			c.cancelCurrent()
		}
	}

	c.shorts = append(c.shorts, req)
	c.advance()
}

func (c *Coordinator) startRead(r *readState) {
	if old := c.read; old != nil {
		if c.current != nil && c.current.short == nil {
			c.cancelCurrent()
		}
		c.finishRead(Outcome{Reason: ReasonReplaced, Chunks: old.index})
	}
	if c.enginePaused {
		c.resumeEngine()
	}
	c.read = r
	c.mode = ModeReading
	c.advance()
}

// advance starts the next utterance when the engine is free: waiting
// shorts first, then the next chunk of a running read.
func (c *Coordinator) advance() {
	for c.current == nil {
		switch {
		case len(c.shorts) > 0:
			s := c.shorts[0]
			c.shorts = c.shorts[1:]
			c.speakShort(s)
		case c.read != nil && c.mode == ModeReading:
			c.speakChunk()
		default:
			return
		}
	}
}

func (c *Coordinator) speakShort(s *shortReq) {
	if c.enginePaused {
		c.resumeEngine()
	}
	c.seq++
	token := c.seq
	if err := c.engine.Speak(s.text, s.opts, c.doneFunc(token)); err != nil {
		c.logger.Warn("short utterance failed", "error", err)
		s.completion.resolve(Outcome{Reason: ReasonFailed, Err: err})
		return
	}
	c.current = &utterance{token: token, short: s}
	c.metrics.Utterance("short")
}

func (c *Coordinator) speakChunk() {
	r := c.read
	for r.index < len(r.chunks) && strings.TrimSpace(r.chunks[r.index]) == "" {
		r.index++
	}
	if r.index >= len(r.chunks) {
		c.finishRead(Outcome{Reason: ReasonFinished, Chunks: len(r.chunks)})
		return
	}

	c.seq++
	token := c.seq
	i := r.index
	if err := c.engine.Speak(strings.TrimSpace(r.chunks[i]), r.opts.Options, c.doneFunc(token)); err != nil {
		c.logger.Warn("chunk failed", "chunk", i, "error", err)
		c.finishRead(Outcome{Reason: ReasonFailed, Chunks: i, Err: err})
		return
	}
	c.current = &utterance{token: token, chunk: i}
	c.metrics.Utterance("chunk")
	if cb := r.opts.OnChunkStart; cb != nil {
		c.notes.push(func() { cb(i) })
	}
}

func (c *Coordinator) handleDone(token uint64, res tts.Result) {
	if c.current == nil || c.current.token != token {
		c.logger.Debug("ignoring superseded utterance", "token", token, "reason", res.Reason)
		return
	}
	u := c.current
	c.current = nil

	if u.short != nil {
		u.short.completion.resolve(outcomeOf(res, 0))
		c.advance()
		return
	}

	if r := c.read; r != nil {
		switch res.Reason {
		case tts.ReasonEnd:
			r.index = u.chunk + 1
			if r.index >= len(r.chunks) {
				c.finishRead(Outcome{Reason: ReasonFinished, Chunks: len(r.chunks)})
			}
		default:
			c.finishRead(outcomeOf(res, u.chunk))
		}
	}
	c.advance()
}

func outcomeOf(res tts.Result, chunks int) Outcome {
	switch res.Reason {
	case tts.ReasonEnd:
		return Outcome{Reason: ReasonFinished, Chunks: chunks}
	case tts.ReasonError:
		return Outcome{Reason: ReasonFailed, Chunks: chunks, Err: res.Err}
	default:
		return Outcome{Reason: ReasonStopped, Chunks: chunks}
	}
}

// finishRead ends the active read exactly once.
func (c *Coordinator) finishRead(o Outcome) {
	r := c.read
	if r == nil {
		return
	}
	c.read = nil
	if o.Reason == ReasonFinished {
		c.mode = ModeIdle
	} else {
		c.mode = ModeStopped
	}
	c.notes.push(func() {
		if r.onAll != nil {
			r.onAll(o)
		}
		r.completion.resolve(o)
	})
}

func (c *Coordinator) stopAll(reason Reason, err error) {
	for _, s := range c.shorts {
		s.completion.resolve(Outcome{Reason: reason, Err: err})
	}
	c.shorts = nil

	if c.current != nil {
		if s := c.current.short; s != nil {
			s.completion.resolve(Outcome{Reason: reason, Err: err})
		}
		c.cancelCurrent()
	}
	if c.read != nil {
		c.finishRead(Outcome{Reason: reason, Chunks: c.read.index, Err: err})
	}
	if c.enginePaused {
		c.resumeEngine()
	}
}

// cancelCurrent drops the current utterance. Its callback becomes stale.
func (c *Coordinator) cancelCurrent() {
	c.current = nil
	if err := c.engine.CancelAll(); err != nil {
		c.logger.Warn("engine cancel failed", "error", err)
	}
	if c.enginePaused {
		c.resumeEngine()
	}
}

func (c *Coordinator) resumeEngine() {
	c.enginePaused = false
	if err := c.pauser.Resume(); err != nil {
		c.logger.Warn("engine resume failed", "error", err)
	}
}

func (c *Coordinator) publish() {
	s := State{
		Mode:          c.mode,
		Speaking:      c.current != nil,
		PendingShorts: len(c.shorts),
	}
	if c.read != nil {
		s.ChunkIndex = c.read.index
		s.ChunkCount = len(c.read.chunks)
	}
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// notifier runs callbacks in order on its own goroutine so they may call
// back into the Coordinator.
type notifier struct {
	logger *slog.Logger

	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	stop  chan struct{}
	done  chan struct{}
}

func newNotifier(logger *slog.Logger) *notifier {
	n := &notifier{
		logger: logger,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) push(fn func()) {
	n.mu.Lock()
	n.queue = append(n.queue, fn)
	n.mu.Unlock()
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		if n.drain() > 0 {
			continue
		}
		select {
		case <-n.wake:
		case <-n.stop:
			n.drain()
			return
		}
	}
}

func (n *notifier) drain() int {
	n.mu.Lock()
	q := n.queue
	n.queue = nil
	n.mu.Unlock()
	for _, fn := range q {
		n.invoke(fn)
	}
	return len(q)
}

func (n *notifier) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("speech callback panicked", "panic", r)
		}
	}()
	fn()
}

func (n *notifier) close() {
	close(n.stop)
	<-n.done
}
