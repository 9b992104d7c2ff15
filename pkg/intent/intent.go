// Package intent holds the types shared by every stage of the voice command
// pipeline, plus the loader for the intent schema registry.
//
// A registry is an ordered list of Schema entries. Order matters: the
// normalizer tries intents in registration order and the first matching
// pattern wins, so more specific intents must be listed before broader ones.
package intent

import (
	"time"
)

// Well-known intent names.
const (
	Unknown = "unknown"
	Stop    = "stop"
	Cancel  = "cancel"
	Confirm = "confirm"
	Deny    = "deny"
)

// Source identifies which resolution tier produced a ResolvedIntent.
type Source string

const (
	// SourceFast means the deterministic pattern normalizer was confident.
	SourceFast Source = "fast"

	// SourceFallback means the probabilistic fallback produced the intent.
	SourceFallback Source = "fallback"

	// SourceFallbackUnavailable means the fallback was needed but could not
	// answer; the intent is the normalizer's (possibly unknown) result.
	SourceFallbackUnavailable Source = "fallback_unavailable"

	// SourceManual marks commands submitted directly through the API.
	SourceManual Source = "manual"
)

// Slots carries named parameters extracted for an intent.
// Values are string or int.
type Slots map[string]any

// String returns the slot as a string, or "" if missing.
func (s Slots) String(key string) string {
	switch v := s[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return toString(v)
	}
}

// Int returns the slot as an int. ok is false when missing or not numeric.
func (s Slots) Int(key string) (int, bool) {
	switch v := s[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}

// Clone returns a shallow copy.
func (s Slots) Clone() Slots {
	out := make(Slots, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Schema is one entry of the intent schema registry.
type Schema struct {
	// Name is the intent identifier (e.g. "navigate").
	Name string `yaml:"name" json:"name"`

	// Description is a human readable summary, also fed to the fallback model.
	Description string `yaml:"description" json:"description"`

	// Examples are canonical phrasings. Placeholders in braces declare slots:
	// {number} captures digits, {query} {text} {target} {value} {field}
	// capture free text.
	Examples []string `yaml:"examples" json:"examples"`

	// SlotHints optionally names capture groups positionally, overriding the
	// action-name heuristics.
	SlotHints []string `yaml:"slot_hints,omitempty" json:"slot_hints,omitempty"`

	// ConfirmationRequired makes the executor ask before running the intent.
	ConfirmationRequired bool `yaml:"confirmation_required,omitempty" json:"confirmation_required,omitempty"`
}

// NormalizedCommand is the normalizer's reading of one utterance.
type NormalizedCommand struct {
	Original   string  `json:"original"`
	Normalized string  `json:"normalized"`
	Intent     string  `json:"intent"`
	Action     string  `json:"action,omitempty"`
	Slots      Slots   `json:"slots"`
	Confidence float64 `json:"confidence"`
}

// IsUnknown reports whether no pattern matched.
func (n NormalizedCommand) IsUnknown() bool {
	return n.Intent == "" || n.Intent == Unknown
}

// ResolvedIntent is the final resolution of one utterance.
type ResolvedIntent struct {
	Source         Source        `json:"source"`
	Intent         string        `json:"intent"`
	Action         string        `json:"action,omitempty"`
	Slots          Slots         `json:"slots"`
	Confidence     float64       `json:"confidence"`
	Original       string        `json:"original"`
	ProcessingTime time.Duration `json:"processing_time"`

	// FallbackStatus is set when Source is fallback_unavailable.
	FallbackStatus string `json:"fallback_status,omitempty"`

	// Reasoning is the fallback model's explanation, if any.
	Reasoning string `json:"reasoning,omitempty"`
}

// IsUnknown reports whether resolution failed to find an intent.
func (r ResolvedIntent) IsUnknown() bool {
	return r.Intent == "" || r.Intent == Unknown
}

// Command converts the resolution to a queue payload.
func (r ResolvedIntent) Command() Command {
	return Command{
		Intent:     r.Intent,
		Action:     r.Action,
		Slots:      r.Slots,
		Original:   r.Original,
		Confidence: r.Confidence,
		Source:     r.Source,
	}
}

// Command is the payload carried through the queue to the executor.
type Command struct {
	Intent     string  `json:"intent"`
	Action     string  `json:"action,omitempty"`
	Slots      Slots   `json:"slots,omitempty"`
	Original   string  `json:"original,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Source     Source  `json:"source,omitempty"`
}

// IsStop reports whether the command is a stop or cancel request.
// These bypass normal dispatch and are always enqueued with priority.
func (c Command) IsStop() bool {
	return c.Intent == Stop || c.Intent == Cancel
}

// TranscriptEvent is delivered by the speech-to-text collaborator.
// Only final events feed the pipeline.
type TranscriptEvent struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"isFinal"`
}

// ClampConfidence forces c into [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
