// Package config defines the tunables that govern connection timing,
// reconnection backoff, and certificate refresh for a lock client, and
// loads them from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables for a lock client. Zero-value fields
// after loading a partial YAML file are filled in from Default().
type Config struct {
	// ReconnectDelays is the backoff schedule applied after a dropped
	// connection: attempt N waits ReconnectDelays[N], clamped to the
	// last entry once attempts exceed its length.
	ReconnectDelays []time.Duration `yaml:"reconnect_delays"`

	// PollInterval is the period of the coordinator's polling fallback,
	// which re-fetches state and battery on every tick whether or not
	// notifications have arrived.
	PollInterval time.Duration `yaml:"poll_interval"`

	// KeepAliveInterval is the idle duration after which the
	// coordinator sends a keep-alive get_state to prevent the lock's
	// own BLE idle disconnect.
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`

	// CertCheckInterval is how often the coordinator checks certificate
	// freshness while otherwise idle.
	CertCheckInterval time.Duration `yaml:"cert_check_interval"`

	// CertRefreshThreshold is how much validity must remain on a
	// certificate before the coordinator considers it still usable.
	CertRefreshThreshold time.Duration `yaml:"cert_refresh_threshold"`

	// HandshakeTimeout is the per-step handshake read bound. The ptls
	// package does not read this field; its handshake steps always use
	// ptls.DefaultReadTimeout (10s).
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// CommandTimeout bounds a single command/response round trip.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// MaxMTU is the handshake MTU ceiling. The ptls handshake does not
	// read this field; it caps the advertised MTU at a fixed 255.
	MaxMTU int `yaml:"max_mtu"`

	// AutoUnlockPullWait is how long Unlock with autoPull waits, checking
	// the observed state every AutoUnlockPullPollInterval, for the lock to
	// report UNLOCKED before sending PULL_SPRING. If that does not happen
	// in time, no PULL_SPRING is sent and Unlock returns without error.
	AutoUnlockPullWait         time.Duration `yaml:"auto_unlock_pull_wait"`
	AutoUnlockPullPollInterval time.Duration `yaml:"auto_unlock_pull_poll_interval"`

	CloudBaseURL string `yaml:"cloud_base_url"`
	LogLevel     string `yaml:"log_level"`
}

// Default returns the tunables used by the reference implementation:
// backoff [2,5,10,30,60]s, 600s polling, 45s keep-alive, 6h cert check,
// a 5-day refresh threshold, and a 255-byte MTU ceiling.
func Default() *Config {
	return &Config{
		ReconnectDelays:            []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second, 60 * time.Second},
		PollInterval:               600 * time.Second,
		KeepAliveInterval:          45 * time.Second,
		CertCheckInterval:          6 * time.Hour,
		CertRefreshThreshold:       5 * 24 * time.Hour,
		HandshakeTimeout:           10 * time.Second,
		CommandTimeout:             10 * time.Second,
		MaxMTU:                     255,
		AutoUnlockPullWait:         15 * time.Second,
		AutoUnlockPullPollInterval: 500 * time.Millisecond,
		LogLevel:                   "info",
	}
}

// ReconnectDelay returns the backoff to apply before reconnect attempt
// number attempt (0-indexed), clamped to the schedule's last entry once
// attempts run past it.
func (c *Config) ReconnectDelay(attempt int) time.Duration {
	if len(c.ReconnectDelays) == 0 {
		return 60 * time.Second
	}
	if attempt >= len(c.ReconnectDelays) {
		attempt = len(c.ReconnectDelays) - 1
	}
	return c.ReconnectDelays[attempt]
}

// Load reads a YAML config file over Default(), so an omitted field
// keeps its default value rather than becoming zero.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
