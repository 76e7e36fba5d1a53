package main

import (
	"time"

	"github.com/caarlos0/env/v7"

	"github.com/Thejuampi/msgbus-client-go/msgbus"
)

const envPrefix = "BUSCTL_"

// config holds the command settings. Environment variables prefixed with
// BUSCTL_ provide defaults; flags override them.
type config struct {
	Endpoint    string        `env:"ENDPOINT" envDefault:"ws://127.0.0.1:19100/bus"`
	Token       string        `env:"TOKEN"`
	Channels    []string      `env:"CHANNELS" envSeparator:","`
	Filter      string        `env:"FILTER"`
	Debug       bool          `env:"DEBUG"`
	MetricsAddr string        `env:"METRICS_ADDR"`
	LogStates   []string      `env:"LOG_STATES" envSeparator:"," envDefault:"connected,reconnecting"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"10s"`
	KeepAlive   time.Duration `env:"KEEP_ALIVE" envDefault:"30s"`
}

func loadConfig() (config, error) {
	cfg := config{}
	if err := env.Parse(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (cfg config) busConfig() msgbus.Config {
	busCfg := msgbus.DefaultConfig()
	busCfg.Debug = cfg.Debug
	busCfg.Token = cfg.Token
	if cfg.KeepAlive > 0 {
		busCfg.KeepAliveTimeout = cfg.KeepAlive
	}
	return busCfg
}
