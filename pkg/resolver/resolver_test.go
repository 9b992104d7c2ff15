package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-voicenav/internal/log"
	"github.com/teslashibe/go-voicenav/pkg/intent"
)

type normalizerFunc func(string) intent.NormalizedCommand

func (f normalizerFunc) Normalize(text string) intent.NormalizedCommand { return f(text) }

// confident answers navigate/1.0 for "scroll down", and a weak
// navigate/0.5 guess for everything else.
var confident = normalizerFunc(func(text string) intent.NormalizedCommand {
	if text == "scroll down" {
		return intent.NormalizedCommand{Original: text, Normalized: text, Intent: "navigate", Action: "scroll_down",
			Slots: intent.Slots{"direction": "down"}, Confidence: 1}
	}
	return intent.NormalizedCommand{Original: text, Normalized: text, Intent: "navigate", Slots: intent.Slots{}, Confidence: 0.5}
})

var clueless = normalizerFunc(func(text string) intent.NormalizedCommand {
	return intent.NormalizedCommand{Original: text, Normalized: text, Intent: intent.Unknown, Slots: intent.Slots{}}
})

type mockFallback struct {
	mu           sync.Mutex
	loadCalls    int
	processCalls int

	loadGate chan struct{}
	loadErr  error

	delay  time.Duration
	result *FallbackResult
	err    error
}

func (m *mockFallback) Load(ctx context.Context) error {
	m.mu.Lock()
	m.loadCalls++
	gate := m.loadGate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.loadErr
}

func (m *mockFallback) ProcessCommand(ctx context.Context, text string, pc PageContext) (*FallbackResult, error) {
	m.mu.Lock()
	m.processCalls++
	m.mu.Unlock()
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.result, m.err
}

func (m *mockFallback) counts() (load, process int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadCalls, m.processCalls
}

func newLoaded(t *testing.T, n Normalizer, fb *mockFallback, opts ...Option) *Resolver {
	t.Helper()
	opts = append([]Option{WithLogger(log.Discard())}, opts...)
	r := New(n, fb, opts...)
	if err := r.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded() error = %v", err)
	}
	return r
}

func TestFastPathSkipsFallback(t *testing.T) {
	fb := &mockFallback{result: &FallbackResult{Intent: "zoom", Confidence: 0.9}}
	r := newLoaded(t, confident, fb)

	got := r.Resolve(context.Background(), "scroll down", PageContext{})
	if got.Source != intent.SourceFast || got.Intent != "navigate" || got.Confidence != 1 {
		t.Errorf("Resolve() = %+v", got)
	}
	if got.Slots["direction"] != "down" {
		t.Errorf("Slots = %v", got.Slots)
	}
	if _, calls := fb.counts(); calls != 0 {
		t.Errorf("fallback called %d times, want 0", calls)
	}
}

func TestThresholdIsStrict(t *testing.T) {
	fb := &mockFallback{result: &FallbackResult{Intent: "zoom", Confidence: 0.9}}
	r := newLoaded(t, confident, fb, WithThreshold(0.5))

	got := r.Resolve(context.Background(), "make it bigger", PageContext{})
	if got.Source != intent.SourceFallback {
		t.Errorf("confidence equal to threshold should go to fallback, got %+v", got)
	}
}

func TestFallbackResolves(t *testing.T) {
	fb := &mockFallback{result: &FallbackResult{
		Intent: "zoom", Action: "zoom_in", Slots: intent.Slots{"direction": "in"}, Confidence: 1.7, Reasoning: "bigger means zoom in",
	}}
	r := newLoaded(t, clueless, fb)

	got := r.Resolve(context.Background(), "make it bigger", PageContext{URL: "https://example.com"})
	if got.Source != intent.SourceFallback || got.Intent != "zoom" || got.Action != "zoom_in" {
		t.Fatalf("Resolve() = %+v", got)
	}
	if got.Confidence != 1 {
		t.Errorf("Confidence = %v, want clamped to 1", got.Confidence)
	}
	if got.Reasoning == "" || got.Original != "make it bigger" {
		t.Errorf("Resolve() = %+v", got)
	}
}

func TestFallbackUnusable(t *testing.T) {
	tests := []struct {
		name   string
		result *FallbackResult
		err    error
	}{
		{"nil result", nil, nil},
		{"unknown intent", &FallbackResult{Intent: intent.Unknown, Confidence: 0.9}, nil},
		{"empty intent", &FallbackResult{Confidence: 0.9}, nil},
		{"zero confidence", &FallbackResult{Intent: "zoom"}, nil},
		{"error", nil, errors.New("model exploded")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &mockFallback{result: tt.result, err: tt.err}
			r := newLoaded(t, clueless, fb)

			got := r.Resolve(context.Background(), "gibberish", PageContext{})
			if got.Source != intent.SourceFallbackUnavailable {
				t.Errorf("Source = %q", got.Source)
			}
			if got.Intent != intent.Unknown || got.Confidence != 0 {
				t.Errorf("Resolve() = %+v, want unknown/0", got)
			}
			if got.FallbackStatus != string(StatusAvailable) {
				t.Errorf("FallbackStatus = %q", got.FallbackStatus)
			}
		})
	}
}

func TestFallbackTimeout(t *testing.T) {
	fb := &mockFallback{delay: 2 * time.Second, result: &FallbackResult{Intent: "zoom", Confidence: 1}}
	r := newLoaded(t, confident, fb, WithTimeout(50*time.Millisecond))

	start := time.Now()
	got := r.Resolve(context.Background(), "hmm maybe down", PageContext{})
	elapsed := time.Since(start)

	if elapsed > 500*time.Millisecond {
		t.Errorf("Resolve() took %v, want about 50ms", elapsed)
	}
	if got.Source != intent.SourceFallbackUnavailable {
		t.Errorf("Source = %q", got.Source)
	}
	// The weak fast guess is returned as is.
	if got.Intent != "navigate" || got.Confidence != 0.5 {
		t.Errorf("Resolve() = %+v", got)
	}

	stats := r.Stats()
	if stats.FallbackTimeouts != 1 || stats.Total != 1 {
		t.Errorf("Stats = %+v", stats)
	}

	// The cancelled call must not record anything after Resolve returned.
	time.Sleep(50 * time.Millisecond)
	if after := r.Stats(); after.Total != 1 || after.BySource[intent.SourceFallback] != 0 {
		t.Errorf("late result mutated stats: %+v", after)
	}
}

func TestResolveHonoursCallerContext(t *testing.T) {
	fb := &mockFallback{delay: 2 * time.Second}
	r := newLoaded(t, clueless, fb, WithTimeout(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	got := r.Resolve(ctx, "whatever", PageContext{})
	if time.Since(start) > time.Second {
		t.Error("Resolve() ignored caller cancellation")
	}
	if got.Source != intent.SourceFallbackUnavailable {
		t.Errorf("Source = %q", got.Source)
	}
}

func TestDisabledFallback(t *testing.T) {
	r := New(clueless, nil, WithLogger(log.Discard()))
	if r.FallbackStatus() != StatusDisabled {
		t.Errorf("FallbackStatus() = %q", r.FallbackStatus())
	}
	got := r.Resolve(context.Background(), "whatever", PageContext{})
	if got.Source != intent.SourceFallbackUnavailable || got.FallbackStatus != string(StatusDisabled) {
		t.Errorf("Resolve() = %+v", got)
	}
	if err := r.EnsureLoaded(context.Background()); !errors.Is(err, ErrNoFallback) {
		t.Errorf("EnsureLoaded() = %v", err)
	}
}

func TestResolveWhileLoading(t *testing.T) {
	gate := make(chan struct{})
	fb := &mockFallback{loadGate: gate, result: &FallbackResult{Intent: "zoom", Confidence: 1}}
	r := New(clueless, fb, WithLogger(log.Discard()))

	r.StartBackgroundLoad(context.Background())
	if r.FallbackStatus() != StatusLoading {
		t.Fatalf("FallbackStatus() = %q, want loading", r.FallbackStatus())
	}

	got := r.Resolve(context.Background(), "zoom a bit", PageContext{})
	if got.Source != intent.SourceFallbackUnavailable || got.FallbackStatus != string(StatusLoading) {
		t.Errorf("Resolve() = %+v", got)
	}

	close(gate)
	if err := r.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded() = %v", err)
	}
	got = r.Resolve(context.Background(), "zoom a bit", PageContext{})
	if got.Source != intent.SourceFallback {
		t.Errorf("after load Source = %q", got.Source)
	}
	if loads, _ := fb.counts(); loads != 1 {
		t.Errorf("Load called %d times", loads)
	}
}

func TestIdleResolveTriggersLoad(t *testing.T) {
	fb := &mockFallback{result: &FallbackResult{Intent: "zoom", Confidence: 1}}
	r := New(clueless, fb, WithLogger(log.Discard()))

	got := r.Resolve(context.Background(), "zoom", PageContext{})
	if got.FallbackStatus != string(StatusLoading) {
		t.Errorf("FallbackStatus = %q, want loading", got.FallbackStatus)
	}

	deadline := time.Now().Add(time.Second)
	for r.FallbackStatus() != StatusAvailable {
		if time.Now().After(deadline) {
			t.Fatalf("fallback never became available: %q", r.FallbackStatus())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSingleFlightLoad(t *testing.T) {
	gate := make(chan struct{})
	fb := &mockFallback{loadGate: gate}
	r := New(clueless, fb, WithLogger(log.Discard()))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.EnsureLoaded(context.Background())
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("EnsureLoaded() = %v", err)
		}
	}
	if loads, _ := fb.counts(); loads != 1 {
		t.Errorf("Load called %d times, want 1", loads)
	}
	if r.FallbackStatus() != StatusAvailable {
		t.Errorf("FallbackStatus() = %q", r.FallbackStatus())
	}
}

func TestFailedLoadNotRetried(t *testing.T) {
	boom := errors.New("no GPU")
	fb := &mockFallback{loadErr: boom}
	r := New(clueless, fb, WithLogger(log.Discard()))

	if err := r.EnsureLoaded(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("EnsureLoaded() = %v", err)
	}
	if err := r.EnsureLoaded(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("second EnsureLoaded() = %v", err)
	}
	if loads, _ := fb.counts(); loads != 1 {
		t.Errorf("Load called %d times, want 1", loads)
	}

	got := r.Resolve(context.Background(), "whatever", PageContext{})
	if got.FallbackStatus != string(StatusError) {
		t.Errorf("FallbackStatus = %q", got.FallbackStatus)
	}
}

func TestBreakerOpens(t *testing.T) {
	fb := &mockFallback{err: errors.New("503")}
	r := newLoaded(t, clueless, fb, WithBreaker(2, time.Minute))

	for i := 0; i < 2; i++ {
		r.Resolve(context.Background(), "whatever", PageContext{})
	}
	if r.FallbackStatus() != StatusCircuitOpen {
		t.Fatalf("FallbackStatus() = %q, want circuit_open", r.FallbackStatus())
	}

	got := r.Resolve(context.Background(), "whatever", PageContext{})
	if got.FallbackStatus != string(StatusCircuitOpen) {
		t.Errorf("FallbackStatus = %q", got.FallbackStatus)
	}
	if _, calls := fb.counts(); calls != 2 {
		t.Errorf("fallback called %d times, want 2", calls)
	}
}

func TestCacheHitSkipsFallback(t *testing.T) {
	cache := NewLocalCache(time.Minute)
	defer cache.Close()

	fb := &mockFallback{result: &FallbackResult{Intent: "links", Action: "open_link", Slots: intent.Slots{"index": 2}, Confidence: 0.8}}
	r := newLoaded(t, clueless, fb, WithCache(cache, time.Minute))

	first := r.Resolve(context.Background(), "the second one", PageContext{})
	second := r.Resolve(context.Background(), "the second one", PageContext{})

	if _, calls := fb.counts(); calls != 1 {
		t.Errorf("fallback called %d times, want 1", calls)
	}
	if second.Source != intent.SourceFallback || second.Intent != first.Intent || second.Action != "open_link" {
		t.Errorf("cached Resolve() = %+v", second)
	}
	if n, ok := second.Slots.Int("index"); !ok || n != 2 {
		t.Errorf("cached slots = %v", second.Slots)
	}
	if r.Stats().CacheHits != 1 {
		t.Errorf("CacheHits = %d", r.Stats().CacheHits)
	}
}

func TestStats(t *testing.T) {
	fb := &mockFallback{result: &FallbackResult{Intent: "zoom", Confidence: 0.6}}
	r := newLoaded(t, confident, fb)

	r.Resolve(context.Background(), "scroll down", PageContext{})
	r.Resolve(context.Background(), "bigger", PageContext{})

	s := r.Stats()
	if s.Total != 2 || s.Resolved != 2 {
		t.Errorf("Stats = %+v", s)
	}
	if s.BySource[intent.SourceFast] != 1 || s.BySource[intent.SourceFallback] != 1 {
		t.Errorf("BySource = %v", s.BySource)
	}
	if diff := s.AverageConfidence - 0.8; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("AverageConfidence = %v, want 0.8", s.AverageConfidence)
	}

	s.BySource[intent.SourceFast] = 99
	if r.Stats().BySource[intent.SourceFast] != 1 {
		t.Error("Stats() exposed internal map")
	}
}
