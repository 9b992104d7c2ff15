package executor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-voicenav/pkg/speech"
	"github.com/teslashibe/go-voicenav/pkg/surface"
)

// ReadState is the state of the read pipeline.
type ReadState string

const (
	StateIdle    ReadState = "idle"
	StateReading ReadState = "reading"
	StatePaused  ReadState = "paused"
	StateStopped ReadState = "stopped"
)

// ReadStatus is a snapshot of the reader.
type ReadStatus struct {
	State    ReadState `json:"state"`
	Position int       `json:"position"`
	Blocks   int       `json:"blocks"`
}

// Reader reads page blocks aloud. One continuous read covers every block
// from the current position to the end; the position follows the chunk
// the speech coordinator is actually playing.
type Reader struct {
	source   surface.Reader
	hl       surface.Highlighter
	speech   Speaker
	grace    time.Duration
	maxChunk int
	logger   *slog.Logger

	mu         sync.Mutex
	state      ReadState
	blocks     []surface.Block
	pos        int
	gen        uint64
	chunkBlock []int
	restart    bool
	timer      *time.Timer
}

func newReader(source surface.Reader, hl surface.Highlighter, sp Speaker, grace time.Duration, maxChunk int, logger *slog.Logger) *Reader {
	return &Reader{
		source:   source,
		hl:       hl,
		speech:   sp,
		grace:    grace,
		maxChunk: maxChunk,
		logger:   logger.With("component", "reader"),
		state:    StateIdle,
	}
}

// Status returns a snapshot of the reader.
func (r *Reader) Status() ReadStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ReadStatus{State: r.state, Position: r.pos, Blocks: len(r.blocks)}
}

// Start loads the page blocks and reads from the first one. Starting
// while a read is active starts over.
func (r *Reader) Start(ctx context.Context) error {
	if r.source == nil {
		return surface.ErrUnsupported
	}
	blocks, err := r.load(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.cancelTimer()
	r.blocks = blocks
	r.pos = 0
	r.state = StateReading
	r.restart = false
	play := r.prepare()
	r.mu.Unlock()

	play()
	return nil
}

// Pause pauses an active read and keeps the position.
func (r *Reader) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateReading {
		return ErrNotReading
	}
	r.state = StatePaused
	if r.timer != nil {
		// A next/previous restart was pending; resume replays from pos.
		r.cancelTimer()
		r.restart = true
		return nil
	}
	if err := r.speech.Pause(); err != nil {
		r.logger.Debug("speech pause failed, will restart on resume", "error", err)
		r.gen++
		r.restart = true
		r.speech.StopRead()
	}
	return nil
}

// Resume continues a paused read at the recorded position.
func (r *Reader) Resume() error {
	r.mu.Lock()
	if r.state != StatePaused {
		r.mu.Unlock()
		return ErrNotPaused
	}
	r.state = StateReading
	if !r.restart {
		if err := r.speech.Resume(); err == nil {
			r.mu.Unlock()
			return nil
		}
	}
	r.restart = false
	play := r.prepare()
	r.mu.Unlock()

	play()
	return nil
}

// Stop ends any read, clears highlights and resets the position.
func (r *Reader) Stop(ctx context.Context) error {
	r.mu.Lock()
	wasActive := r.state == StateReading || r.state == StatePaused
	r.cancelTimer()
	r.gen++
	r.state = StateStopped
	r.pos = 0
	r.restart = false
	r.mu.Unlock()

	if wasActive {
		if err := r.speech.StopRead(); err != nil && !errors.Is(err, speech.ErrNotReading) {
			r.logger.Warn("stop read failed", "error", err)
		}
	}
	r.clearHighlights(ctx)
	return nil
}

// Next moves to the following block.
func (r *Reader) Next(ctx context.Context) error {
	return r.step(ctx, 1)
}

// Previous moves to the preceding block.
func (r *Reader) Previous(ctx context.Context) error {
	return r.step(ctx, -1)
}

// step moves the position. Outside a read only the position changes.
// During a read the active sequence is stopped and reading resumes at the
// new block after the grace delay.
func (r *Reader) step(ctx context.Context, delta int) error {
	if r.source == nil {
		return surface.ErrUnsupported
	}

	r.mu.Lock()
	if r.blocks == nil {
		r.mu.Unlock()
		blocks, err := r.load(ctx)
		if err != nil {
			return err
		}
		r.mu.Lock()
		if r.blocks == nil {
			r.blocks = blocks
		}
	}

	next := r.pos + delta
	switch {
	case next >= len(r.blocks):
		r.mu.Unlock()
		return ErrNoMoreBlocks
	case next < 0:
		r.mu.Unlock()
		return ErrAtStart
	}
	r.pos = next
	id := r.blocks[next].ID

	switch r.state {
	case StateReading:
		r.gen++
		r.cancelTimer()
		gen := r.gen
		r.timer = time.AfterFunc(r.grace, func() { r.restartAfterGrace(gen) })
		r.mu.Unlock()
		if err := r.speech.StopRead(); err != nil && !errors.Is(err, speech.ErrNotReading) {
			r.logger.Warn("stop read failed", "error", err)
		}
	case StatePaused:
		r.gen++
		r.restart = true
		r.mu.Unlock()
		if err := r.speech.StopRead(); err != nil && !errors.Is(err, speech.ErrNotReading) {
			r.logger.Warn("stop read failed", "error", err)
		}
	default:
		r.mu.Unlock()
	}

	r.highlight(ctx, id)
	return nil
}

func (r *Reader) restartAfterGrace(gen uint64) {
	r.mu.Lock()
	if r.gen != gen || r.state != StateReading {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	play := r.prepare()
	r.mu.Unlock()
	play()
}

// prepare builds the chunk sequence from pos to the end under a new
// generation and returns the call that starts it. Caller holds mu.
func (r *Reader) prepare() func() {
	r.gen++
	gen := r.gen

	var chunks []string
	var owner []int
	for i := r.pos; i < len(r.blocks); i++ {
		for _, c := range speech.Split(r.blocks[i].Text, r.maxChunk) {
			chunks = append(chunks, c)
			owner = append(owner, i)
		}
	}
	r.chunkBlock = owner

	opts := speech.ContinuousOptions{
		OnChunkStart: func(i int) { r.chunkStarted(gen, i) },
	}
	return func() {
		r.speech.SpeakContinuous(chunks, opts, func(o speech.Outcome) { r.finished(gen, o) })
	}
}

func (r *Reader) chunkStarted(gen uint64, i int) {
	r.mu.Lock()
	if r.gen != gen || i >= len(r.chunkBlock) {
		r.mu.Unlock()
		return
	}
	r.pos = r.chunkBlock[i]
	id := r.blocks[r.pos].ID
	r.mu.Unlock()

	r.highlight(context.Background(), id)
}

func (r *Reader) finished(gen uint64, o speech.Outcome) {
	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.state = StateStopped
	r.pos = 0
	r.mu.Unlock()

	switch o.Reason {
	case speech.ReasonFinished:
		r.logger.Info("finished reading", "chunks", o.Chunks)
		r.speech.SpeakShort("Finished reading.", speech.ShortOptions{})
	case speech.ReasonFailed:
		r.logger.Warn("read failed", "error", o.Err)
	default:
		r.logger.Debug("read ended", "reason", o.Reason)
	}
	r.clearHighlights(context.Background())
}

func (r *Reader) load(ctx context.Context) ([]surface.Block, error) {
	raw, err := r.source.Blocks(ctx)
	if err != nil {
		return nil, err
	}
	blocks := raw[:0:0]
	for _, b := range raw {
		if strings.TrimSpace(b.Text) != "" {
			blocks = append(blocks, b)
		}
	}
	if len(blocks) == 0 {
		return nil, ErrNothingToRead
	}
	return blocks, nil
}

// cancelTimer stops a pending grace restart. Caller holds mu.
func (r *Reader) cancelTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Reader) highlight(ctx context.Context, id string) {
	if r.hl == nil || id == "" {
		return
	}
	if err := r.hl.HighlightBlock(ctx, id); err != nil {
		r.logger.Debug("highlight failed", "block", id, "error", err)
	}
}

func (r *Reader) clearHighlights(ctx context.Context) {
	if r.hl == nil {
		return
	}
	if err := r.hl.ClearHighlights(ctx); err != nil {
		r.logger.Debug("clear highlights failed", "error", err)
	}
}
