package config

import (
	"encoding/json"
	"os"
	"time"

	"stitchsync/internal/flagx"
	"stitchsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It
// relies on timex.Duration so JSON can specify intervals either as
// strings like "3s" or as integer nanoseconds.
type JsonConfig struct {
	DatabasePath        string         `json:"database_path"`
	ServerBaseURL       string         `json:"server_base_url"`
	RequestTimeout      timex.Duration `json:"request_timeout"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	SyncInterval        timex.Duration `json:"sync_interval"`
	VersionCapacity     int            `json:"version_capacity"`
	FreeTierLimit       int            `json:"free_tier_limit"`
}

// parseJson overlays Config with values loaded from a JSON file. The
// file path is resolved from the -c/-config flags; if none is given
// no JSON is loaded. Read or unmarshal errors panic (caller should
// recover if desired). Zero fields leave the current value untouched.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.DatabasePath != "" {
		cfg.DatabasePath = jc.DatabasePath
	}
	if jc.ServerBaseURL != "" {
		cfg.ServerBaseURL = jc.ServerBaseURL
	}
	if jc.RequestTimeout.Duration > 0 {
		cfg.RequestTimeout = time.Duration(jc.RequestTimeout.Duration)
	}
	if jc.OnlineCheckInterval.Duration > 0 {
		cfg.OnlineCheckInterval = time.Duration(jc.OnlineCheckInterval.Duration)
	}
	if jc.SyncInterval.Duration > 0 {
		cfg.SyncInterval = time.Duration(jc.SyncInterval.Duration)
	}
	if jc.VersionCapacity > 0 {
		cfg.VersionCapacity = jc.VersionCapacity
	}
	if jc.FreeTierLimit > 0 {
		cfg.FreeTierLimit = jc.FreeTierLimit
	}
}
