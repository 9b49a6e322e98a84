// Package config loads runtime tunables for the replication engine from
// environment variables, following the teacher's convention of typed
// defaults, explicit validation, and descriptive aggregated error messages.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default address the server's WebSocket transport listens on.
	DefaultAddr = ":43127"
	// DefaultPingInterval controls the keepalive cadence for transport connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound transport frame size.
	DefaultMaxPayloadBytes int64 = 1 << 20
	// DefaultMaxClients bounds concurrent connections. Zero disables the limit.
	DefaultMaxClients = 256

	// DefaultMTU is the maximum bytes the message builder packs into a single
	// outgoing Mutation message payload before fragmenting (spec §4.8). Update
	// messages are not split by MTU.
	DefaultMTU = 1200
	// DefaultBandwidthBytesPerSec is the per-client steady-state send budget.
	DefaultBandwidthBytesPerSec = 1 << 20
	// DefaultBandwidthBurstBytes is the per-client token-bucket burst capacity.
	DefaultBandwidthBurstBytes = 4 << 20

	// DefaultHistoryTicks is the size, in ticks, of the ConfirmHistory window
	// (spec §4.9). Fixed at 64 by the bitmask representation; kept here only
	// so callers have one place to see the invariant documented.
	DefaultHistoryTicks = 64
	// DefaultAckTrackingEnabled toggles server-side mutate-tick ack tracking.
	DefaultAckTrackingEnabled = true

	// DefaultLogLevel controls verbosity for engine logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "replicore.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true

	// DefaultReplaySnapshotInterval controls how frequently wire-trace replay
	// segments are rotated to disk.
	DefaultReplaySnapshotInterval = 30 * time.Second
)

// Config captures all runtime tunables for the replication engine.
type Config struct {
	Address         string
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
	MaxClients      int
	TLSCertPath     string
	TLSKeyPath      string
	AdminToken      string

	MTU                  int
	BandwidthBytesPerSec int64
	BandwidthBurstBytes  int64
	AckTrackingEnabled   bool

	Logging LoggingConfig

	ReplayPath             string
	ReplaySnapshotInterval time.Duration
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the engine configuration from environment variables, applying
// sane defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:         getString("REPLICORE_ADDR", DefaultAddr),
		AllowedOrigins:  parseList(os.Getenv("REPLICORE_ALLOWED_ORIGINS")),
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		PingInterval:    DefaultPingInterval,
		MaxClients:      DefaultMaxClients,
		TLSCertPath:     strings.TrimSpace(os.Getenv("REPLICORE_TLS_CERT")),
		TLSKeyPath:      strings.TrimSpace(os.Getenv("REPLICORE_TLS_KEY")),
		AdminToken:      strings.TrimSpace(os.Getenv("REPLICORE_ADMIN_TOKEN")),

		MTU:                  DefaultMTU,
		BandwidthBytesPerSec: DefaultBandwidthBytesPerSec,
		BandwidthBurstBytes:  DefaultBandwidthBurstBytes,
		AckTrackingEnabled:   DefaultAckTrackingEnabled,

		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("REPLICORE_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("REPLICORE_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},

		ReplayPath:             strings.TrimSpace(os.Getenv("REPLICORE_REPLAY_PATH")),
		ReplaySnapshotInterval: DefaultReplaySnapshotInterval,
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("REPLICORE_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("REPLICORE_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REPLICORE_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("REPLICORE_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REPLICORE_MAX_CLIENTS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("REPLICORE_MAX_CLIENTS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxClients = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REPLICORE_MTU")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("REPLICORE_MTU must be a positive integer, got %q", raw))
		} else {
			cfg.MTU = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REPLICORE_BANDWIDTH_BYTES_PER_SEC")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("REPLICORE_BANDWIDTH_BYTES_PER_SEC must be a positive integer, got %q", raw))
		} else {
			cfg.BandwidthBytesPerSec = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REPLICORE_BANDWIDTH_BURST_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("REPLICORE_BANDWIDTH_BURST_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.BandwidthBurstBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REPLICORE_ACK_TRACKING_ENABLED")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("REPLICORE_ACK_TRACKING_ENABLED must be a boolean value, got %q", raw))
		} else {
			cfg.AckTrackingEnabled = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REPLICORE_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("REPLICORE_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REPLICORE_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("REPLICORE_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REPLICORE_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("REPLICORE_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REPLICORE_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("REPLICORE_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("REPLICORE_REPLAY_SNAPSHOT_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("REPLICORE_REPLAY_SNAPSHOT_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.ReplaySnapshotInterval = duration
		}
	}

	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "REPLICORE_TLS_CERT and REPLICORE_TLS_KEY must be provided together")
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
