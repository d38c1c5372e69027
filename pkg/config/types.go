package config

import (
	"fmt"
	"strconv"
	"time"
)

// Config represents the persistent relay configuration stored as config.toml
// in the .relay/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version  int            `toml:"version"`
	Upstream UpstreamConfig `toml:"upstream"`
	Relay    RelayConfig    `toml:"relay"`
	API      APIConfig      `toml:"api"`
	Storage  StorageConfig  `toml:"storage"`
	Events   EventsConfig   `toml:"events"`
	Client   ClientConfig   `toml:"client"`
}

// UpstreamConfig holds the provider endpoint and credential.
type UpstreamConfig struct {
	URL     string `toml:"url,omitempty"`
	APIKey  string `toml:"api_key,omitempty"`
	Referer string `toml:"referer,omitempty"`
	Title   string `toml:"title,omitempty"`

	// Durations use time.ParseDuration syntax ("30s", "1m").
	ConnectTimeout string `toml:"connect_timeout,omitempty"`
	ReadTimeout    string `toml:"read_timeout,omitempty"`
}

// RelayConfig holds relay server settings.
type RelayConfig struct {
	Listen string `toml:"listen,omitempty"`

	// Pacing is the delay after each relayed message event.
	Pacing string `toml:"pacing,omitempty"`

	// GuestQuota caps requests per client IP that rely on the configured
	// credential. Zero disables the quota.
	GuestQuota uint `toml:"guest_quota,omitempty"`
}

// APIConfig holds transcript API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// StorageConfig holds shared storage settings used by both relay and API.
// PostgresDSN takes precedence over SQLitePath; with neither set transcripts
// are kept in memory.
type StorageConfig struct {
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// EventsConfig holds session event publishing settings. Publishing is
// disabled when KafkaBrokers is empty.
type EventsConfig struct {
	// KafkaBrokers is a comma separated list of host:port addresses.
	KafkaBrokers string `toml:"kafka_brokers,omitempty"`
	KafkaTopic   string `toml:"kafka_topic,omitempty"`
}

// ClientConfig holds settings for CLI commands that connect to the running
// relay and API servers (e.g. relay chat). Values are full URLs (scheme +
// host + port).
type ClientConfig struct {
	RelayTarget string `toml:"relay_target,omitempty"`
	APITarget   string `toml:"api_target,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error

	// secret values are masked by MaskSecret when displayed.
	secret bool
}

func durationSetter(key string, field func(c *Config) *string) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		if v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			if d < 0 {
				return fmt.Errorf("invalid value for %s: must not be negative", key)
			}
		}
		*field(c) = v
		return nil
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"upstream.url": {
		get: func(c *Config) string { return c.Upstream.URL },
		set: func(c *Config, v string) error { c.Upstream.URL = v; return nil },
	},
	"upstream.api_key": {
		get:    func(c *Config) string { return c.Upstream.APIKey },
		set:    func(c *Config, v string) error { c.Upstream.APIKey = v; return nil },
		secret: true,
	},
	"upstream.referer": {
		get: func(c *Config) string { return c.Upstream.Referer },
		set: func(c *Config, v string) error { c.Upstream.Referer = v; return nil },
	},
	"upstream.title": {
		get: func(c *Config) string { return c.Upstream.Title },
		set: func(c *Config, v string) error { c.Upstream.Title = v; return nil },
	},
	"upstream.connect_timeout": {
		get: func(c *Config) string { return c.Upstream.ConnectTimeout },
		set: durationSetter("upstream.connect_timeout", func(c *Config) *string { return &c.Upstream.ConnectTimeout }),
	},
	"upstream.read_timeout": {
		get: func(c *Config) string { return c.Upstream.ReadTimeout },
		set: durationSetter("upstream.read_timeout", func(c *Config) *string { return &c.Upstream.ReadTimeout }),
	},
	"relay.listen": {
		get: func(c *Config) string { return c.Relay.Listen },
		set: func(c *Config, v string) error { c.Relay.Listen = v; return nil },
	},
	"relay.pacing": {
		get: func(c *Config) string { return c.Relay.Pacing },
		set: durationSetter("relay.pacing", func(c *Config) *string { return &c.Relay.Pacing }),
	},
	"relay.guest_quota": {
		get: func(c *Config) string { return strconv.FormatUint(uint64(c.Relay.GuestQuota), 10) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for relay.guest_quota: %w", err)
			}
			c.Relay.GuestQuota = uint(n)
			return nil
		},
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.postgres_dsn": {
		get:    func(c *Config) string { return c.Storage.PostgresDSN },
		set:    func(c *Config, v string) error { c.Storage.PostgresDSN = v; return nil },
		secret: true,
	},
	"events.kafka_brokers": {
		get: func(c *Config) string { return c.Events.KafkaBrokers },
		set: func(c *Config, v string) error { c.Events.KafkaBrokers = v; return nil },
	},
	"events.kafka_topic": {
		get: func(c *Config) string { return c.Events.KafkaTopic },
		set: func(c *Config, v string) error { c.Events.KafkaTopic = v; return nil },
	},
	"client.relay_target": {
		get: func(c *Config) string { return c.Client.RelayTarget },
		set: func(c *Config, v string) error { c.Client.RelayTarget = v; return nil },
	},
	"client.api_target": {
		get: func(c *Config) string { return c.Client.APITarget },
		set: func(c *Config, v string) error { c.Client.APITarget = v; return nil },
	},
}
