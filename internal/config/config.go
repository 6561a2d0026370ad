// Package config loads runtime settings for the stitchsync client.
package config

import "time"

// Config holds runtime settings for the sync client.
//
// Units: all intervals and timeouts are time.Duration values.
type Config struct {
	// DatabasePath is the SQLite file holding the local cache, outbox
	// and version history.
	DatabasePath string

	// ServerBaseURL is the base URL of the remote pattern store,
	// e.g. "http://127.0.0.1:8080".
	ServerBaseURL string

	// RequestTimeout bounds each remote HTTP call.
	RequestTimeout time.Duration

	// OnlineCheckInterval is how often the client probes server
	// reachability.
	OnlineCheckInterval time.Duration

	// SyncInterval is how often a periodic sync runs while online.
	// Zero disables periodic sync.
	SyncInterval time.Duration

	// VersionCapacity is the per-record cap on stored history snapshots.
	VersionCapacity int

	// FreeTierLimit is the pattern count checked by CheckQuota. Zero
	// means unlimited.
	FreeTierLimit int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DatabasePath = "stitchsync.db"
	c.ServerBaseURL = "http://127.0.0.1:8080"
	c.RequestTimeout = 15 * time.Second
	c.OnlineCheckInterval = 3 * time.Second
	c.SyncInterval = 30 * time.Second
	c.VersionCapacity = 10
	c.FreeTierLimit = 0
}

// LoadConfig constructs a Config, applies defaults, then overlays
// values from the environment (including a .env file if present), a
// JSON file, and command-line flags. Later sources take precedence.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
