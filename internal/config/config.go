// Package config loads client configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all client configuration.
type Config struct {
	// Backend
	APIBaseURL string `env:"STOREFRONT_API_URL" envDefault:"http://localhost:8080"`
	WSURL      string `env:"STOREFRONT_WS_URL" envDefault:"ws://localhost:8080/ws"`

	// Session persistence
	TokenPath string `env:"STOREFRONT_TOKEN_PATH" envDefault:".storefront/session.json"`

	// HTTP
	RequestTimeout time.Duration `env:"STOREFRONT_REQUEST_TIMEOUT" envDefault:"30s"`

	// Realtime
	ReconnectDelay   time.Duration `env:"STOREFRONT_RECONNECT_DELAY" envDefault:"5s"`
	HandshakeTimeout time.Duration `env:"STOREFRONT_HANDSHAKE_TIMEOUT" envDefault:"10s"`
	HeartbeatPeriod  time.Duration `env:"STOREFRONT_HEARTBEAT_PERIOD" envDefault:"30s"`

	// Chat publish flood guard, messages per second.
	SendRate  float64 `env:"STOREFRONT_SEND_RATE" envDefault:"5"`
	SendBurst int     `env:"STOREFRONT_SEND_BURST" envDefault:"10"`

	// Logging
	LogLevel string `env:"STOREFRONT_LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"STOREFRONT_LOG_JSON" envDefault:"false"`
}

// Load parses configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Default returns a config with all defaults applied and no environment reads.
func Default() *Config {
	return &Config{
		APIBaseURL:       "http://localhost:8080",
		WSURL:            "ws://localhost:8080/ws",
		TokenPath:        ".storefront/session.json",
		RequestTimeout:   30 * time.Second,
		ReconnectDelay:   5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		HeartbeatPeriod:  30 * time.Second,
		SendRate:         5,
		SendBurst:        10,
		LogLevel:         "info",
	}
}
