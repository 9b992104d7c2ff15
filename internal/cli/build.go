package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-voicenav/internal/config"
	"github.com/teslashibe/go-voicenav/pkg/fallback"
	"github.com/teslashibe/go-voicenav/pkg/inference"
	"github.com/teslashibe/go-voicenav/pkg/intent"
	"github.com/teslashibe/go-voicenav/pkg/resolver"
	"github.com/teslashibe/go-voicenav/pkg/tts"
)

const localCacheSweep = time.Minute

// closers collects resources to release on exit, in reverse order.
type closers []func() error

func (c *closers) add(fn func() error) {
	*c = append(*c, fn)
}

func (c closers) close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		errs = append(errs, c[i]())
	}
	return errors.Join(errs...)
}

// resolverOptions builds the resolver configuration. fb is nil when the
// fallback is disabled.
func resolverOptions(ctx context.Context, cfg *config.Config, reg *intent.Registry, logger *slog.Logger, cl *closers) (opts []resolver.Option, fb resolver.Fallback, err error) {
	rc := cfg.Resolver
	opts = []resolver.Option{
		resolver.WithThreshold(rc.FastThreshold),
		resolver.WithTimeout(rc.FallbackTimeout),
		resolver.WithBreaker(rc.Breaker.MaxFailures, rc.Breaker.OpenTimeout),
	}

	switch rc.Cache.Backend {
	case "memory":
		c := resolver.NewLocalCache(localCacheSweep)
		cl.add(c.Close)
		opts = append(opts, resolver.WithCache(c, rc.Cache.TTL))
	case "redis":
		c, err := resolver.NewRedisCache(ctx, rc.Cache.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		cl.add(c.Close)
		opts = append(opts, resolver.WithCache(c, rc.Cache.TTL))
	}

	if !rc.Fallback.Enabled {
		return opts, nil, nil
	}
	client, err := inference.NewClient(
		inference.WithEndpoint(rc.Fallback.BaseURL),
		inference.WithAPIKey(rc.Fallback.APIKey),
		inference.WithModel(rc.Fallback.Model),
		inference.WithTimeout(rc.Fallback.Timeout),
		inference.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("fallback client: %w", err)
	}
	cl.add(client.Close)
	fb = fallback.New(client, reg,
		fallback.WithModel(rc.Fallback.Model),
		fallback.WithLogger(logger.With("component", "fallback")),
	)
	return opts, fb, nil
}

// newEngine returns the configured speech engine.
func newEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, cl *closers) (tts.Engine, error) {
	switch cfg.Speech.Engine {
	case "ws":
		e := tts.NewWSEngine(cfg.Speech.EngineURL, tts.WithLogger(logger))
		if err := e.Connect(ctx); err != nil {
			return nil, fmt.Errorf("speech engine: %w", err)
		}
		cl.add(e.Close)
		return e, nil
	default:
		logger.Warn("using mock speech engine; utterances finish after a fixed delay")
		return tts.NewMockWithLatency(time.Second), nil
	}
}
