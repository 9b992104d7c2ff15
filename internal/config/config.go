// Package config loads go-voicenav runtime configuration from a YAML file
// and VOICENAV_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Cooldown bounds accepted by the command queue.
const (
	MinCooldown     = 500 * time.Millisecond
	MaxCooldown     = 10 * time.Second
	DefaultCooldown = 2 * time.Second
)

// Cooldown feedback modes.
const (
	FeedbackSilent = "silent"
	FeedbackTone   = "tone"
	FeedbackSpeech = "speech"
)

// Config is the full process configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Registry RegistryConfig `mapstructure:"registry"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Speech   SpeechConfig   `mapstructure:"speech"`
	Executor ExecutorConfig `mapstructure:"executor"`
	NATS     NATSConfig     `mapstructure:"nats"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// RegistryConfig points at an intent registry file. Empty uses the
// embedded default.
type RegistryConfig struct {
	Path string `mapstructure:"path"`
}

type ResolverConfig struct {
	FastThreshold   float64        `mapstructure:"fast_threshold"`
	FallbackTimeout time.Duration  `mapstructure:"fallback_timeout"`
	Fallback        FallbackConfig `mapstructure:"fallback"`
	Breaker         BreakerConfig  `mapstructure:"breaker"`
	Cache           CacheConfig    `mapstructure:"cache"`
}

// FallbackConfig configures the model-backed resolver tier.
// An empty BaseURL disables the fallback.
type FallbackConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// CacheConfig selects the resolution cache backend: "none", "memory" or "redis".
type CacheConfig struct {
	Backend  string        `mapstructure:"backend"`
	TTL      time.Duration `mapstructure:"ttl"`
	RedisURL string        `mapstructure:"redis_url"`
}

type QueueConfig struct {
	Cooldown         time.Duration `mapstructure:"cooldown"`
	CooldownFeedback string        `mapstructure:"cooldown_feedback"`
}

// SpeechConfig selects the output engine: "mock" or "ws".
type SpeechConfig struct {
	Engine         string        `mapstructure:"engine"`
	EngineURL      string        `mapstructure:"engine_url"`
	MaxChunk       int           `mapstructure:"max_chunk"`
	InterruptReads bool          `mapstructure:"interrupt_reads"`
	GraceDelay     time.Duration `mapstructure:"grace_delay"`
}

type ExecutorConfig struct {
	SpokenConfirmations bool          `mapstructure:"spoken_confirmations"`
	ConfirmTTL          time.Duration `mapstructure:"confirm_ttl"`
}

// NATSConfig enables the transcript subscriber when URL is set.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// Error reports an invalid configuration field.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log:  LogConfig{Level: "info"},
		HTTP: HTTPConfig{Addr: ":8090"},
		Resolver: ResolverConfig{
			FastThreshold:   0.7,
			FallbackTimeout: 5 * time.Second,
			Fallback: FallbackConfig{
				Model:   "gpt-4o-mini",
				Timeout: 10 * time.Second,
			},
			Breaker: BreakerConfig{
				MaxFailures: 3,
				OpenTimeout: 30 * time.Second,
			},
			Cache: CacheConfig{
				Backend: "memory",
				TTL:     10 * time.Minute,
			},
		},
		Queue: QueueConfig{
			Cooldown:         DefaultCooldown,
			CooldownFeedback: FeedbackSilent,
		},
		Speech: SpeechConfig{
			Engine:     "mock",
			MaxChunk:   1600,
			GraceDelay: 300 * time.Millisecond,
		},
		Executor: ExecutorConfig{
			ConfirmTTL: 30 * time.Second,
		},
		NATS: NATSConfig{Subject: "voicenav.transcripts"},
	}
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if c.Resolver.FastThreshold < 0 || c.Resolver.FastThreshold > 1 {
		return &Error{Field: "resolver.fast_threshold", Message: "must be between 0 and 1"}
	}
	if c.Resolver.FallbackTimeout <= 0 {
		return &Error{Field: "resolver.fallback_timeout", Message: "must be positive"}
	}
	if c.Resolver.Fallback.Enabled && c.Resolver.Fallback.BaseURL == "" {
		return &Error{Field: "resolver.fallback.base_url", Message: "required when fallback is enabled"}
	}
	switch c.Resolver.Cache.Backend {
	case "none", "memory":
	case "redis":
		if c.Resolver.Cache.RedisURL == "" {
			return &Error{Field: "resolver.cache.redis_url", Message: "required for redis backend"}
		}
	default:
		return &Error{Field: "resolver.cache.backend", Message: fmt.Sprintf("unknown backend %q", c.Resolver.Cache.Backend)}
	}
	if c.Queue.Cooldown < MinCooldown || c.Queue.Cooldown > MaxCooldown {
		return &Error{Field: "queue.cooldown", Message: fmt.Sprintf("must be within [%s, %s]", MinCooldown, MaxCooldown)}
	}
	switch c.Queue.CooldownFeedback {
	case FeedbackSilent, FeedbackTone, FeedbackSpeech:
	default:
		return &Error{Field: "queue.cooldown_feedback", Message: fmt.Sprintf("unknown mode %q", c.Queue.CooldownFeedback)}
	}
	switch c.Speech.Engine {
	case "mock":
	case "ws":
		if c.Speech.EngineURL == "" {
			return &Error{Field: "speech.engine_url", Message: "required for ws engine"}
		}
	default:
		return &Error{Field: "speech.engine", Message: fmt.Sprintf("unknown engine %q", c.Speech.Engine)}
	}
	if c.Speech.MaxChunk < 50 {
		return &Error{Field: "speech.max_chunk", Message: "must be at least 50"}
	}
	if c.Speech.GraceDelay < 0 {
		return &Error{Field: "speech.grace_delay", Message: "must not be negative"}
	}
	return nil
}

// Load reads configuration. path may name a file explicitly; otherwise
// voicenav.yaml is searched for in ./configs and the working directory.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("voicenav")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("VOICENAV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("resolver.fallback.api_key", "VOICENAV_RESOLVER_FALLBACK_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("resolver.cache.redis_url", "VOICENAV_RESOLVER_CACHE_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("nats.url", "VOICENAV_NATS_URL", "NATS_URL")
	_ = v.BindEnv("log.level", "VOICENAV_LOG_LEVEL", "LOG_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("registry.path", d.Registry.Path)

	v.SetDefault("resolver.fast_threshold", d.Resolver.FastThreshold)
	v.SetDefault("resolver.fallback_timeout", d.Resolver.FallbackTimeout)
	v.SetDefault("resolver.fallback.enabled", d.Resolver.Fallback.Enabled)
	v.SetDefault("resolver.fallback.base_url", d.Resolver.Fallback.BaseURL)
	v.SetDefault("resolver.fallback.api_key", d.Resolver.Fallback.APIKey)
	v.SetDefault("resolver.fallback.model", d.Resolver.Fallback.Model)
	v.SetDefault("resolver.fallback.timeout", d.Resolver.Fallback.Timeout)
	v.SetDefault("resolver.breaker.max_failures", d.Resolver.Breaker.MaxFailures)
	v.SetDefault("resolver.breaker.open_timeout", d.Resolver.Breaker.OpenTimeout)
	v.SetDefault("resolver.cache.backend", d.Resolver.Cache.Backend)
	v.SetDefault("resolver.cache.ttl", d.Resolver.Cache.TTL)
	v.SetDefault("resolver.cache.redis_url", d.Resolver.Cache.RedisURL)

	v.SetDefault("queue.cooldown", d.Queue.Cooldown)
	v.SetDefault("queue.cooldown_feedback", d.Queue.CooldownFeedback)

	v.SetDefault("speech.engine", d.Speech.Engine)
	v.SetDefault("speech.engine_url", d.Speech.EngineURL)
	v.SetDefault("speech.max_chunk", d.Speech.MaxChunk)
	v.SetDefault("speech.interrupt_reads", d.Speech.InterruptReads)
	v.SetDefault("speech.grace_delay", d.Speech.GraceDelay)

	v.SetDefault("executor.spoken_confirmations", d.Executor.SpokenConfirmations)
	v.SetDefault("executor.confirm_ttl", d.Executor.ConfirmTTL)

	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.subject", d.NATS.Subject)
}
