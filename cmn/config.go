// Package cmn provides daemon-wide configuration and constants.
/*
 * Copyright (c) 2018-2026, OpenCue Contributors. All rights reserved.
 */
package cmn

import (
	"encoding/json"
	"os"
	"time"
)

// Config is the daemon's full runtime configuration, loaded once at start()
// and passed explicitly to every component — no package-level singleton.
type Config struct {
	// identity / network
	ListenAddr    string `json:"listen_addr"`
	DispatcherURL string `json:"dispatcher_url"`
	HostName      string `json:"host_name"`

	// auth
	JWTSigningKey string `json:"jwt_signing_key"`
	RequireAuth   bool   `json:"require_auth"`

	// filesystem
	TempRoot        string `json:"temp_root"`
	WindowsLogShare string `json:"windows_log_share"`
	MaxLogRotations int    `json:"max_log_rotations"`
	CompressAfter   int    `json:"compress_after_rotation"` // rotations kept uncompressed

	// timers
	RSSUpdateInterval time.Duration `json:"rss_update_interval"`
	PingInterval      time.Duration `json:"ping_interval"`
	ShutdownDrainWait time.Duration `json:"shutdown_drain_wait"`

	// idle lock
	IdleThreshold time.Duration `json:"idle_threshold"`

	// exit status sentinels (spec §6)
	LaunchFailedExitStatus   int32 `json:"launch_failed_exit_status"`
	KilledByIdleLockExitCode int32 `json:"killed_by_idle_lock_exit_status"`

	// audit sink
	AuditDBPath string        `json:"audit_db_path"`
	AuditTTL    time.Duration `json:"audit_ttl"`

	// metrics
	MetricsAddr string `json:"metrics_addr"`

	// tracing
	Tracing TracingConf `json:"tracing"`
}

// TracingConf configures the optional OpenTelemetry exporter built only under
// the oteltracing build tag (spec §9 supplement).
type TracingConf struct {
	Enabled            bool    `json:"enabled"`
	ExporterEndpoint   string  `json:"exporter_endpoint"`
	SamplerProbability float64 `json:"sampler_probability"`
}

// Default returns the out-of-the-box configuration, matching the constants
// the original daemon shipped (RSS sample every ~10s, heartbeat every ~30s,
// ~6 month audit TTL, generous rotation cap).
func Default() *Config {
	host, _ := os.Hostname()
	return &Config{
		ListenAddr:               ":8444",
		HostName:                 host,
		TempRoot:                 os.TempDir(),
		WindowsLogShare:          `\\samba\shows\logs`,
		MaxLogRotations:          10,
		CompressAfter:            3,
		RSSUpdateInterval:        10 * time.Second,
		PingInterval:             30 * time.Second,
		ShutdownDrainWait:        100 * time.Millisecond,
		IdleThreshold:            15 * time.Minute,
		LaunchFailedExitStatus:   -1,
		KilledByIdleLockExitCode: -2,
		AuditDBPath:              "rqd_idle_audit.db",
		AuditTTL:                 180 * 24 * time.Hour,
		MetricsAddr:              ":9454",
		Tracing:                  TracingConf{SamplerProbability: 0.1},
	}
}

// LoadFile overlays a JSON config file onto Default(); missing file is not an
// error (the daemon runs on defaults).
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
