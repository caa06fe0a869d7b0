package services

import (
	"log"
	"os"
	"strconv"
	"time"
)

// EngineConfig holds the timing and anti-grief knobs of the match engine.
type EngineConfig struct {
	CommitWindow     time.Duration
	RevealWindow     time.Duration
	TimeoutGrace     time.Duration
	MonitorInterval  time.Duration
	ForfeitThreshold int
	MaxCASAttempts   int
	SweepBatchSize   int
}

var DefaultEngineConfig = EngineConfig{
	CommitWindow:     60 * time.Second,
	RevealWindow:     60 * time.Second,
	TimeoutGrace:     5 * time.Second,
	MonitorInterval:  20 * time.Second,
	ForfeitThreshold: 3,
	MaxCASAttempts:   5,
	SweepBatchSize:   200,
}

// LoadEngineConfigFromEnv overlays env values on the defaults. Bad values are
// logged and ignored.
func LoadEngineConfigFromEnv() EngineConfig {
	cfg := DefaultEngineConfig
	cfg.CommitWindow = envSeconds("COMMIT_WINDOW_SECS", cfg.CommitWindow)
	cfg.RevealWindow = envSeconds("REVEAL_WINDOW_SECS", cfg.RevealWindow)
	cfg.TimeoutGrace = envSeconds("TIMEOUT_GRACE_SECS", cfg.TimeoutGrace)
	cfg.MonitorInterval = envSeconds("MONITOR_INTERVAL_SECS", cfg.MonitorInterval)
	cfg.ForfeitThreshold = envInt("FORFEIT_THRESHOLD", cfg.ForfeitThreshold)
	return cfg
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		log.Printf("⚠️  Ignoring invalid %s=%q, using %d", key, raw, def)
		return def
	}
	return v
}

func envSeconds(key string, def time.Duration) time.Duration {
	return time.Duration(envInt(key, int(def/time.Second))) * time.Second
}
