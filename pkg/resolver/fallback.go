package resolver

import (
	"context"
	"strings"

	"github.com/teslashibe/go-voicenav/pkg/intent"
)

// Fallback is the slow, probabilistic resolution tier.
type Fallback interface {
	// Load prepares the model. It may take seconds.
	Load(ctx context.Context) error

	// ProcessCommand interprets text. Implementations must honour ctx
	// cancellation.
	ProcessCommand(ctx context.Context, text string, pc PageContext) (*FallbackResult, error)
}

// FallbackResult is the fallback's interpretation of one utterance.
type FallbackResult struct {
	Intent     string       `json:"intent"`
	Action     string       `json:"action,omitempty"`
	Slots      intent.Slots `json:"slots,omitempty"`
	Confidence float64      `json:"confidence"`
	Reasoning  string       `json:"reasoning,omitempty"`
}

// Usable reports whether the result names a real intent with some confidence.
func (r *FallbackResult) Usable() bool {
	if r == nil {
		return false
	}
	name := strings.TrimSpace(r.Intent)
	return name != "" && name != intent.Unknown && r.Confidence > 0
}

// PageContext describes the page the utterance was spoken against.
type PageContext struct {
	URL     string `json:"url,omitempty"`
	Title   string `json:"title,omitempty"`
	Reading bool   `json:"reading,omitempty"`
}

// Status is the fallback lifecycle state.
type Status string

const (
	StatusDisabled    Status = "disabled"
	StatusIdle        Status = "idle"
	StatusLoading     Status = "loading"
	StatusAvailable   Status = "available"
	StatusError       Status = "error"
	StatusCircuitOpen Status = "circuit_open"
)

var allStatuses = []string{
	string(StatusDisabled), string(StatusIdle), string(StatusLoading),
	string(StatusAvailable), string(StatusError), string(StatusCircuitOpen),
}
