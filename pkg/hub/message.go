// Package hub fans out pipeline events to websocket clients using the
// channel-based broadcast pattern: one goroutine owns the client set and
// every client has its own buffered send channel and write pump.
package hub

import "time"

// Event types broadcast by the pipeline.
const (
	EventStatus     = "status"
	EventFeedback   = "feedback"
	EventTranscript = "transcript"
	EventResolution = "resolution"
)

// Event is the JSON envelope sent to clients.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}
