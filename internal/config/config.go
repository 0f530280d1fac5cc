package config

import (
	"os"
	"time"
)

// Config holds service configuration.
type Config struct {
	ServerAddr    string
	StorePath     string
	SpawnInterval time.Duration
	AckTimeout    time.Duration
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	addr := getenv("SERVER_ADDR", "0.0.0.0:8080")
	storePath := getenv("STORE_PATH", "wordbattle.db")
	spawnInterval := parseDuration(getenv("SPAWN_INTERVAL", "6s"), 6*time.Second)
	ackTimeout := parseDuration(getenv("ACK_TIMEOUT", "10s"), 10*time.Second)

	return &Config{
		ServerAddr:    addr,
		StorePath:     storePath,
		SpawnInterval: spawnInterval,
		AckTimeout:    ackTimeout,
	}, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}
