// Package config loads relay and peer settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// RelayConfig configures the host-side relay.
type RelayConfig struct {
	Endpoint         string        `env:"RELAY_ENDPOINT" envDefault:"ws://localhost:8080"`
	ReconnectDelay   time.Duration `env:"RELAY_RECONNECT_DELAY" envDefault:"5s"`
	HandshakeTimeout time.Duration `env:"RELAY_HANDSHAKE_TIMEOUT" envDefault:"10s"`
	WriteTimeout     time.Duration `env:"RELAY_WRITE_TIMEOUT" envDefault:"5s"`
	CloseTimeout     time.Duration `env:"RELAY_CLOSE_TIMEOUT" envDefault:"3s"`
	MetricsAddr      string        `env:"RELAY_METRICS_ADDR"`
	PlayerName       string        `env:"RELAY_PLAYER_NAME" envDefault:"Steve"`
	Log              Log
}

// PeerConfig configures the peer server.
type PeerConfig struct {
	ListenAddr   string        `env:"PEER_LISTEN_ADDR" envDefault:":8080"`
	WriteTimeout time.Duration `env:"PEER_WRITE_TIMEOUT" envDefault:"5s"`
	MetricsAddr  string        `env:"PEER_METRICS_ADDR"`
	DBPath       string        `env:"PEER_DB_PATH"`
	// ServerIP is the address shown for the game server. When empty it is
	// looked up at PublicIPURL and saved in the database.
	ServerIP    string `env:"SERVER_IP"`
	PublicIPURL string `env:"PEER_PUBLIC_IP_URL" envDefault:"https://api.ipify.org?format=json"`
	Log          Log
}

// Log configures logging for either command.
type Log struct {
	Level      string `env:"LOG_LEVEL" envDefault:"info"`
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"3"`
}

// LoadDotEnv loads files into the environment without overriding variables
// that are already set. Missing files are skipped; with no arguments ".env"
// is tried.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// LoadRelay parses and validates the relay configuration.
func LoadRelay() (RelayConfig, error) {
	cfg, err := env.ParseAs[RelayConfig]()
	if err != nil {
		return RelayConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

// LoadPeer parses and validates the peer configuration.
func LoadPeer() (PeerConfig, error) {
	cfg, err := env.ParseAs[PeerConfig]()
	if err != nil {
		return PeerConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return PeerConfig{}, err
	}
	return cfg, nil
}

// Validate checks the endpoint URL and durations.
func (c RelayConfig) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid RELAY_ENDPOINT %q: %w", c.Endpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid RELAY_ENDPOINT %q: scheme must be ws or wss", c.Endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid RELAY_ENDPOINT %q: missing host", c.Endpoint)
	}
	if c.ReconnectDelay <= 0 {
		return errors.New("RELAY_RECONNECT_DELAY must be positive")
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("RELAY_HANDSHAKE_TIMEOUT must be positive")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("RELAY_WRITE_TIMEOUT must be positive")
	}
	if c.CloseTimeout <= 0 {
		return errors.New("RELAY_CLOSE_TIMEOUT must be positive")
	}
	return nil
}

// Validate checks the listen address and write timeout.
func (c PeerConfig) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("PEER_LISTEN_ADDR is required")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("PEER_WRITE_TIMEOUT must be positive")
	}
	return nil
}
