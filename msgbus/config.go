package msgbus

import (
	"time"

	"github.com/caarlos0/env/v7"
	"go.uber.org/zap"

	"github.com/Thejuampi/msgbus-client-go/msgbus/internal/clock"
	"github.com/Thejuampi/msgbus-client-go/msgbus/transport"
	"github.com/Thejuampi/msgbus-client-go/msgbus/transport/wstransport"
)

// Default option values.
const (
	DefaultInitialReconnectTimeout = time.Second
	DefaultReconnectTimeoutFactor  = 2.0
	DefaultMaxReconnectTimeout     = time.Minute
	DefaultKeepAliveTimeout        = 30 * time.Second

	// DefaultEnvPrefix is the conventional prefix for LoadConfig.
	DefaultEnvPrefix = "MSGBUS_"
)

// Config holds the serialisable bus options.
type Config struct {
	// Debug enables verbose tracing through a development zap logger.
	Debug bool `env:"DEBUG" envDefault:"false"`

	InitialReconnectTimeout time.Duration `env:"INITIAL_RECONNECT_TIMEOUT" envDefault:"1s"`
	ReconnectTimeoutFactor  float64       `env:"RECONNECT_TIMEOUT_FACTOR"  envDefault:"2"`
	MaxReconnectTimeout     time.Duration `env:"MAX_RECONNECT_TIMEOUT"     envDefault:"60s"`

	// KeepAliveTimeout is both the idle threshold and the heartbeat period.
	KeepAliveTimeout time.Duration `env:"KEEP_ALIVE_TIMEOUT" envDefault:"30s"`

	// Token is appended to the endpoint as the "token" query parameter.
	Token string `env:"TOKEN"`

	// RequireToken makes a missing Token a construction error.
	RequireToken bool `env:"REQUIRE_TOKEN" envDefault:"false"`
}

// DefaultConfig returns a Config populated with the default values.
func DefaultConfig() Config {
	return Config{
		InitialReconnectTimeout: DefaultInitialReconnectTimeout,
		ReconnectTimeoutFactor:  DefaultReconnectTimeoutFactor,
		MaxReconnectTimeout:     DefaultMaxReconnectTimeout,
		KeepAliveTimeout:        DefaultKeepAliveTimeout,
	}
}

// LoadConfig parses a Config from environment variables named prefix+KEY,
// e.g. MSGBUS_KEEP_ALIVE_TIMEOUT.
func LoadConfig(prefix string) (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg, env.Options{Prefix: prefix}); err != nil {
		return Config{}, err
	}
	return cfg.withDefaults(), nil
}

// withDefaults replaces zero or nonsensical values with defaults.
func (cfg Config) withDefaults() Config {
	if cfg.InitialReconnectTimeout <= 0 {
		cfg.InitialReconnectTimeout = DefaultInitialReconnectTimeout
	}
	if cfg.ReconnectTimeoutFactor < 1 {
		cfg.ReconnectTimeoutFactor = DefaultReconnectTimeoutFactor
	}
	if cfg.MaxReconnectTimeout <= 0 {
		cfg.MaxReconnectTimeout = DefaultMaxReconnectTimeout
	}
	if cfg.KeepAliveTimeout <= 0 {
		cfg.KeepAliveTimeout = DefaultKeepAliveTimeout
	}
	return cfg
}

// Option configures a runtime collaborator of the Bus.
type Option func(*options)

type options struct {
	nextID    IDGenerator
	transport transport.Factory
	logger    *zap.Logger
	metrics   *Metrics
	clock     clock.Clock
	hooks     map[State]func()
}

// WithIDGenerator replaces the default correlation id generator.
func WithIDGenerator(generator IDGenerator) Option {
	return func(opts *options) {
		opts.nextID = generator
	}
}

// WithTransport selects the transport implementation.
func WithTransport(factory transport.Factory) Option {
	return func(opts *options) {
		opts.transport = factory
	}
}

// WithLogger sets the logger, overriding Config.Debug.
func WithLogger(logger *zap.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithMetrics records bus activity into metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(opts *options) {
		opts.metrics = metrics
	}
}

// WithHook registers hook for state before the bus starts connecting, so no
// transition can be missed. It behaves like On otherwise.
func WithHook(state State, hook func()) Option {
	return func(opts *options) {
		if opts.hooks == nil {
			opts.hooks = make(map[State]func())
		}
		if hook == nil {
			delete(opts.hooks, state)
			return
		}
		opts.hooks[state] = hook
	}
}

// WithClock replaces the wall clock used by reconnect and heartbeat timers.
func WithClock(c Clock) Option {
	return func(opts *options) {
		opts.clock = c
	}
}

// Clock is the time source used by bus timers.
type Clock = clock.Clock

// Timer is a cancellable timer returned by Clock.AfterFunc.
type Timer = clock.Timer

func buildOptions(cfg Config, opts []Option) options {
	resolved := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&resolved)
		}
	}
	if resolved.nextID == nil {
		resolved.nextID = DefaultIDGenerator
	}
	if resolved.transport == nil {
		resolved.transport = wstransport.NewFactory(wstransport.Options{})
	}
	if resolved.logger == nil {
		resolved.logger = newLogger(cfg.Debug)
	}
	if resolved.clock == nil {
		resolved.clock = clock.Real()
	}
	return resolved
}

func newLogger(debug bool) *zap.Logger {
	if !debug {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger.Named("msgbus")
}
