package tts

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrEmptyText is returned when asked to speak nothing.
	ErrEmptyText = errors.New("tts: empty text")

	// ErrNotConnected is returned by remote engines without a live connection.
	ErrNotConnected = errors.New("tts: not connected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("tts: engine closed")

	// ErrInterrupted is delivered when a connection drops mid-utterance.
	ErrInterrupted = errors.New("tts: utterance interrupted")
)

// EngineError is an error reported by a remote engine for one utterance.
type EngineError struct {
	Engine  string
	ID      string
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("tts [%s]: utterance %s: %s", e.Engine, e.ID, e.Message)
}
