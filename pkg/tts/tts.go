// Package tts defines the text-to-speech engine contract used by the speech
// coordinator, plus a scriptable mock and a websocket client for a remote
// speech agent.
//
// An Engine speaks one utterance at a time. Speak returns immediately; the
// done callback fires exactly once when the utterance ends, is cancelled, or
// fails. Engines that can pause in place also implement Pauser.
package tts

// Reason explains why an utterance ended.
type Reason string

const (
	// ReasonEnd is a natural end of playback.
	ReasonEnd Reason = "end"

	// ReasonCancelled means CancelAll (or a replacing utterance) stopped it.
	ReasonCancelled Reason = "cancelled"

	// ReasonError means the engine failed to speak it.
	ReasonError Reason = "error"
)

// Result is delivered to the done callback.
type Result struct {
	Reason Reason
	Err    error
}

// Completed reports a natural end.
func (r Result) Completed() bool {
	return r.Reason == ReasonEnd
}

// Options tune one utterance. Zero values mean engine defaults.
type Options struct {
	Voice  string  `json:"voice,omitempty"`
	Lang   string  `json:"lang,omitempty"`
	Rate   float64 `json:"rate,omitempty"`
	Pitch  float64 `json:"pitch,omitempty"`
	Volume float64 `json:"volume,omitempty"`
}

// DoneFunc receives the outcome of an utterance.
type DoneFunc func(Result)

// Engine is an exclusive speech output channel.
type Engine interface {
	// Speak starts speaking text. If it returns an error, done is not called.
	// Callers must not invoke Engine methods from inside done.
	Speak(text string, opts Options, done DoneFunc) error

	// CancelAll stops the current utterance. Its done callback fires with
	// ReasonCancelled, possibly asynchronously.
	CancelAll() error
}

// Pauser is implemented by engines that can pause playback in place.
type Pauser interface {
	Pause() error
	Resume() error
}

// MaxUtterance is a conservative per-utterance character ceiling that fits
// every engine we target.
const MaxUtterance = 1600
