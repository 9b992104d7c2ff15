// Package speech owns the exclusive speech output channel.
//
// A Coordinator serializes everything that talks: short acknowledgements
// ("Scrolled down.") and long continuous reads that are split into chunks
// for a length-limited engine. Shorts replace each other. A short issued
// during a read waits for the current chunk to end instead of cutting it
// off, unless the caller asks to interrupt reads. Each read owns a single
// chunk sequence and only advances on the engine's completion callback.
package speech

import (
	"context"
	"errors"
	"sync"

	"github.com/teslashibe/go-voicenav/pkg/tts"
)

const defaultMaxChunk = tts.MaxUtterance

// Sentinel errors.
var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("speech: coordinator closed")

	// ErrNotReading is returned by Pause and StopRead without an active read.
	ErrNotReading = errors.New("speech: no active read")

	// ErrNotPaused is returned by Resume when the read is not paused.
	ErrNotPaused = errors.New("speech: read is not paused")
)

// Mode is the playback mode of the coordinator.
type Mode string

const (
	ModeIdle    Mode = "idle"
	ModeReading Mode = "reading"
	ModePaused  Mode = "paused"
	ModeStopped Mode = "stopped"
)

// Reason explains how an utterance or read ended.
type Reason string

const (
	// ReasonFinished is a natural end.
	ReasonFinished Reason = "finished"

	// ReasonStopped means Stop, StopRead or an interrupting short.
	ReasonStopped Reason = "stopped"

	// ReasonReplaced means a newer request of the same kind took over.
	ReasonReplaced Reason = "replaced"

	// ReasonFailed means the engine reported an error.
	ReasonFailed Reason = "failed"

	// ReasonClosed means the coordinator shut down.
	ReasonClosed Reason = "closed"
)

// Outcome is the final result of a short utterance or a read.
type Outcome struct {
	Reason Reason
	// Chunks is the number of chunks that finished playing (reads only).
	Chunks int
	Err    error
}

// Finished reports a natural end.
func (o Outcome) Finished() bool {
	return o.Reason == ReasonFinished
}

// Completion resolves exactly once with an Outcome.
type Completion struct {
	once    sync.Once
	done    chan struct{}
	outcome Outcome
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

func (c *Completion) resolve(o Outcome) {
	c.once.Do(func() {
		c.outcome = o
		close(c.done)
	})
}

// Done is closed when the outcome is known.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Outcome blocks until the completion resolves.
func (c *Completion) Outcome() Outcome {
	<-c.done
	return c.outcome
}

// Wait blocks until the completion resolves or ctx ends.
func (c *Completion) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-c.done:
		return c.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// ShortOptions tune a short utterance.
type ShortOptions struct {
	tts.Options

	// InterruptReads stops an active read instead of waiting for the
	// current chunk to end.
	InterruptReads bool
}

// ContinuousOptions tune a continuous read.
type ContinuousOptions struct {
	tts.Options

	// OnChunkStart is called each time chunk i is handed to the engine.
	// A chunk restarted after a pause is reported again.
	OnChunkStart func(i int)
}

// State is a snapshot of the coordinator.
type State struct {
	Mode          Mode `json:"mode"`
	ChunkIndex    int  `json:"chunkIndex"`
	ChunkCount    int  `json:"chunkCount"`
	Speaking      bool `json:"speaking"`
	PendingShorts int  `json:"pendingShorts"`
}
