package resolver

import "github.com/teslashibe/go-voicenav/pkg/intent"

// Stats are running resolver counters.
type Stats struct {
	Total             int                   `json:"total"`
	Resolved          int                   `json:"resolved"`
	AverageConfidence float64               `json:"average_confidence"`
	BySource          map[intent.Source]int `json:"by_source"`
	FallbackCalls     int                   `json:"fallback_calls"`
	FallbackTimeouts  int                   `json:"fallback_timeouts"`
	CacheHits         int                   `json:"cache_hits"`
}

// record folds one result into the running counters. The average is taken
// over all resolutions, unknowns included.
func (s *Stats) record(res intent.ResolvedIntent) {
	s.Total++
	if !res.IsUnknown() {
		s.Resolved++
	}
	s.AverageConfidence += (res.Confidence - s.AverageConfidence) / float64(s.Total)
	s.BySource[res.Source]++
}

func (s Stats) clone() Stats {
	out := s
	out.BySource = make(map[intent.Source]int, len(s.BySource))
	for k, v := range s.BySource {
		out.BySource[k] = v
	}
	return out
}

// Stats returns a snapshot of the counters.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats.clone()
}
