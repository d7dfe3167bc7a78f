// Package config holds runtime settings for the meterlog CLI and sync
// daemon. Sources are layered: defaults, then the JSON config file, then
// environment variables, then command-line flags.
package config

import "time"

type Config struct {
	// DatabasePath is the local sqlite database file.
	DatabasePath string

	// OwnerID is the signed-in account the sync session runs for. Empty
	// means not signed in: records stay local-only.
	OwnerID string

	// RemoteDSN is the Postgres DSN of the remote document store.
	RemoteDSN string

	// BrokerURL is the AMQP URL of the change-stream broker.
	BrokerURL string

	// Exchange is the topic exchange change events travel through.
	Exchange string

	// OnlineCheckInterval is how often remote reachability is probed.
	OnlineCheckInterval time.Duration

	// PushConcurrency bounds simultaneous per-record remote writes.
	PushConcurrency int

	// S3 settings for the external image store. Bucket empty disables it.
	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
	S3AccessKey    string
	S3SecretKey    string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DatabasePath = "meterlog.db"
	c.Exchange = "readings.changes"
	c.OnlineCheckInterval = 3 * time.Second
	c.PushConcurrency = 4
	c.S3Region = "us-east-1"
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present), environment variables and command-line flags.
// Later sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}
