package web

import (
	"sync"
	"time"

	"github.com/teslashibe/go-voicenav/pkg/executor"
	"github.com/teslashibe/go-voicenav/pkg/intent"
)

// DefaultFeedbackSize is the number of entries a FeedbackLog keeps.
const DefaultFeedbackSize = 200

// FeedbackEntry is one feedback signal.
type FeedbackEntry struct {
	Time    string          `json:"time"`
	Kind    executor.Signal `json:"kind"`
	Intent  string          `json:"intent,omitempty"`
	Message string          `json:"message"`
}

// FeedbackLog keeps the most recent feedback signals for the API.
// It implements executor.Signaler.
type FeedbackLog struct {
	size int

	mu      sync.RWMutex
	entries []FeedbackEntry
}

// NewFeedbackLog keeps the last size entries. size < 1 uses
// DefaultFeedbackSize.
func NewFeedbackLog(size int) *FeedbackLog {
	if size < 1 {
		size = DefaultFeedbackSize
	}
	return &FeedbackLog{size: size, entries: make([]FeedbackEntry, 0, size)}
}

// Signal records a feedback event.
func (l *FeedbackLog) Signal(kind executor.Signal, cmd intent.Command, message string) {
	entry := FeedbackEntry{
		Time:    time.Now().Format("15:04:05"),
		Kind:    kind,
		Intent:  cmd.Intent,
		Message: message,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.size {
		l.entries = l.entries[1:]
	}
}

// Entries returns a copy of the log, oldest first.
func (l *FeedbackLog) Entries() []FeedbackEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]FeedbackEntry(nil), l.entries...)
}

var _ executor.Signaler = (*FeedbackLog)(nil)
