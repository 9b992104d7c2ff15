// Package resolver implements two-tier intent resolution.
//
// Every utterance goes through the pattern normalizer first. When the
// normalizer is not confident, a configured Fallback is raced against a
// timeout. The fallback is loaded once in the background; until it is
// available the resolver answers with the normalizer's result tagged
// fallback_unavailable.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/teslashibe/go-voicenav/pkg/intent"
	"github.com/teslashibe/go-voicenav/pkg/metrics"
)

// Defaults.
const (
	DefaultThreshold   = 0.7
	DefaultTimeout     = 5 * time.Second
	DefaultCacheTTL    = 10 * time.Minute
	DefaultMaxFailures = 3
	DefaultOpenTimeout = 30 * time.Second

	cacheKeyPrefix = "voicenav:resolve:"
)

// Normalizer is the fast tier.
type Normalizer interface {
	Normalize(text string) intent.NormalizedCommand
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithThreshold sets the fast-path confidence threshold. The fast result is
// used only when its confidence is strictly greater.
func WithThreshold(t float64) Option {
	return func(r *Resolver) { r.threshold = t }
}

// WithTimeout sets the fallback race timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// WithCache enables caching of fallback resolutions.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = c
		r.cacheTTL = ttl
	}
}

// WithBreaker configures the fallback circuit breaker.
func WithBreaker(maxFailures uint32, openTimeout time.Duration) Option {
	return func(r *Resolver) {
		r.maxFailures = maxFailures
		r.openTimeout = openTimeout
	}
}

// WithMetrics records resolver metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// Resolver orchestrates the fast and fallback tiers. Safe for concurrent use.
type Resolver struct {
	normalizer Normalizer
	fallback   Fallback

	threshold   float64
	timeout     time.Duration
	cache       Cache
	cacheTTL    time.Duration
	maxFailures uint32
	openTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger

	breaker *gobreaker.CircuitBreaker
	group   singleflight.Group

	mu      sync.Mutex
	status  Status
	loadErr error
	stats   Stats
}

// New creates a resolver. fb may be nil, which disables the fallback tier.
func New(n Normalizer, fb Fallback, opts ...Option) *Resolver {
	r := &Resolver{
		normalizer:  n,
		fallback:    fb,
		threshold:   DefaultThreshold,
		timeout:     DefaultTimeout,
		cacheTTL:    DefaultCacheTTL,
		maxFailures: DefaultMaxFailures,
		openTimeout: DefaultOpenTimeout,
		status:      StatusIdle,
		stats:       Stats{BySource: map[intent.Source]int{}},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default().With("component", "resolver")
	}
	if fb == nil {
		r.status = StatusDisabled
	}
	if r.maxFailures == 0 {
		r.maxFailures = DefaultMaxFailures
	}

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "intent-fallback",
		MaxRequests: 1,
		Timeout:     r.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("fallback circuit breaker state changed",
				"from", from.String(), "to", to.String())
			r.metrics.SetBreakerState(int(to))
		},
	})
	r.metrics.SetFallbackStatus(string(r.status), allStatuses)
	return r
}

// FallbackStatus reports the fallback lifecycle state.
func (r *Resolver) FallbackStatus() Status {
	r.mu.Lock()
	s := r.status
	r.mu.Unlock()
	if s == StatusAvailable && r.breaker.State() == gobreaker.StateOpen {
		return StatusCircuitOpen
	}
	return s
}

// StartBackgroundLoad begins loading the fallback without blocking.
// The status is loading by the time it returns.
func (r *Resolver) StartBackgroundLoad(ctx context.Context) {
	if r.fallback == nil {
		return
	}
	r.mu.Lock()
	if r.status != StatusIdle {
		r.mu.Unlock()
		return
	}
	r.setStatusLocked(StatusLoading)
	r.mu.Unlock()

	go func() {
		if err := r.EnsureLoaded(ctx); err != nil {
			r.logger.Warn("fallback load failed", "error", err)
		}
	}()
}

// EnsureLoaded loads the fallback, or waits for an in-flight load.
// A failed load is remembered and not retried.
func (r *Resolver) EnsureLoaded(ctx context.Context) error {
	if r.fallback == nil {
		return ErrNoFallback
	}

	r.mu.Lock()
	switch r.status {
	case StatusAvailable:
		r.mu.Unlock()
		return nil
	case StatusError:
		err := r.loadErr
		r.mu.Unlock()
		return err
	}
	r.setStatusLocked(StatusLoading)
	r.mu.Unlock()

	_, err, _ := r.group.Do("load", func() (any, error) {
		r.mu.Lock()
		if r.status == StatusAvailable {
			r.mu.Unlock()
			return nil, nil
		}
		if r.status == StatusError {
			err := r.loadErr
			r.mu.Unlock()
			return nil, err
		}
		r.mu.Unlock()

		start := time.Now()
		err := r.fallback.Load(ctx)

		r.mu.Lock()
		defer r.mu.Unlock()
		if err != nil {
			r.loadErr = err
			r.setStatusLocked(StatusError)
			return nil, err
		}
		r.setStatusLocked(StatusAvailable)
		r.logger.Info("fallback loaded", "duration", time.Since(start))
		return nil, nil
	})
	return err
}

func (r *Resolver) setStatusLocked(s Status) {
	r.status = s
	r.metrics.SetFallbackStatus(string(s), allStatuses)
}

// ContextFunc supplies page context on demand.
type ContextFunc func(ctx context.Context) PageContext

// Resolve interprets text. It never returns an error: failures of the
// fallback tier degrade to the fast result tagged fallback_unavailable.
func (r *Resolver) Resolve(ctx context.Context, text string, pc PageContext) intent.ResolvedIntent {
	return r.ResolveWith(ctx, text, func(context.Context) PageContext { return pc })
}

// ResolveWith is Resolve with page context gathered lazily. pc is called
// only when the fallback is about to be asked, so fast-path and cached
// resolutions never wait on the page.
func (r *Resolver) ResolveWith(ctx context.Context, text string, pc ContextFunc) intent.ResolvedIntent {
	start := time.Now()
	fast := r.normalizer.Normalize(text)

	if !fast.IsUnknown() && fast.Confidence > r.threshold {
		return r.finish(fromNormalized(fast, intent.SourceFast), start)
	}

	status := r.FallbackStatus()
	if status == StatusIdle {
		r.StartBackgroundLoad(context.WithoutCancel(ctx))
		status = StatusLoading
	}
	if status != StatusAvailable {
		return r.finish(unavailable(fast, status), start)
	}

	key := cacheKeyPrefix + fast.Normalized
	if cached, ok := r.cacheGet(ctx, key); ok {
		cached.Original = text
		return r.finish(cached, start)
	}

	res, err := r.race(ctx, text, pc(ctx))
	if err != nil {
		switch {
		case errors.Is(err, ErrFallbackTimeout):
			r.logger.Debug("fallback timed out", "text", text, "timeout", r.timeout)
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			status = StatusCircuitOpen
		default:
			r.logger.Warn("fallback failed", "text", text, "error", err)
		}
		return r.finish(unavailable(fast, status), start)
	}
	if !res.Usable() {
		return r.finish(unavailable(fast, status), start)
	}

	resolved := intent.ResolvedIntent{
		Source:     intent.SourceFallback,
		Intent:     res.Intent,
		Action:     res.Action,
		Slots:      res.Slots,
		Confidence: intent.ClampConfidence(res.Confidence),
		Original:   text,
		Reasoning:  res.Reasoning,
	}
	if resolved.Slots == nil {
		resolved.Slots = intent.Slots{}
	}
	r.cacheSet(ctx, key, resolved)
	return r.finish(resolved, start)
}

type raceResult struct {
	res *FallbackResult
	err error
}

// race runs the fallback against the timeout. The losing call is cancelled
// and its result dropped into a buffered channel nobody reads.
func (r *Resolver) race(ctx context.Context, text string, pc PageContext) (*FallbackResult, error) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.stats.FallbackCalls++
	r.mu.Unlock()

	done := make(chan raceResult, 1)
	go func() {
		v, err := r.breaker.Execute(func() (any, error) {
			res, err := r.fallback.ProcessCommand(callCtx, text, pc)
			if err != nil {
				return nil, err
			}
			return res, nil
		})
		res, _ := v.(*FallbackResult)
		done <- raceResult{res: res, err: err}
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.res, out.err
	case <-timer.C:
		r.mu.Lock()
		r.stats.FallbackTimeouts++
		r.mu.Unlock()
		r.metrics.FallbackTimeout()
		return nil, ErrFallbackTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resolver) cacheGet(ctx context.Context, key string) (intent.ResolvedIntent, bool) {
	if r.cache == nil {
		return intent.ResolvedIntent{}, false
	}
	raw, err := r.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			r.logger.Warn("resolution cache get failed", "error", err)
		}
		r.metrics.CacheLookup(false)
		return intent.ResolvedIntent{}, false
	}
	var res intent.ResolvedIntent
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		r.logger.Warn("resolution cache entry corrupt", "key", key, "error", err)
		r.metrics.CacheLookup(false)
		return intent.ResolvedIntent{}, false
	}
	r.metrics.CacheLookup(true)
	r.mu.Lock()
	r.stats.CacheHits++
	r.mu.Unlock()
	res.Source = intent.SourceFallback
	return res, true
}

func (r *Resolver) cacheSet(ctx context.Context, key string, res intent.ResolvedIntent) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, string(data), r.cacheTTL); err != nil {
		r.logger.Warn("resolution cache set failed", "error", err)
	}
}

func (r *Resolver) finish(res intent.ResolvedIntent, start time.Time) intent.ResolvedIntent {
	if res.IsUnknown() {
		res.Intent = intent.Unknown
		res.Confidence = 0
	}
	res.ProcessingTime = time.Since(start)

	r.mu.Lock()
	r.stats.record(res)
	r.mu.Unlock()

	r.metrics.ObserveResolution(string(res.Source), !res.IsUnknown(), res.ProcessingTime)
	return res
}

func fromNormalized(n intent.NormalizedCommand, src intent.Source) intent.ResolvedIntent {
	return intent.ResolvedIntent{
		Source:     src,
		Intent:     n.Intent,
		Action:     n.Action,
		Slots:      n.Slots,
		Confidence: n.Confidence,
		Original:   n.Original,
	}
}

func unavailable(n intent.NormalizedCommand, s Status) intent.ResolvedIntent {
	res := fromNormalized(n, intent.SourceFallbackUnavailable)
	res.FallbackStatus = string(s)
	return res
}
