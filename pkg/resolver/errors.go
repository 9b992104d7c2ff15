package resolver

import "errors"

var (
	// ErrFallbackTimeout is returned when the fallback loses the race
	// against the resolver timeout.
	ErrFallbackTimeout = errors.New("resolver: fallback timed out")

	// ErrNoFallback is returned when no fallback is configured.
	ErrNoFallback = errors.New("resolver: no fallback configured")

	// ErrNotLoaded is returned when the fallback has not finished loading.
	ErrNotLoaded = errors.New("resolver: fallback not loaded")

	// ErrUnusable is returned when the fallback answered without a usable intent.
	ErrUnusable = errors.New("resolver: fallback result unusable")

	// ErrCacheMiss is returned by caches when a key is absent or expired.
	ErrCacheMiss = errors.New("resolver: cache miss")
)
