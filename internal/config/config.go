package config

import (
	"errors"
	"os"
	"time"
)

type Config struct {
	ServerPort      string
	DataDir         string
	RemoteURL       string
	ClientID        string
	ProbeURL        string
	ProbeInterval   time.Duration
	SyncInterval    time.Duration
	DefaultStrategy string
	LogLevel        string
}

func LoadConfig() (*Config, error) {
	probeIntervalStr := getEnv("PROBE_INTERVAL", "30s")
	probeInterval, err := time.ParseDuration(probeIntervalStr)
	if err != nil {
		return nil, errors.New("invalid PROBE_INTERVAL format")
	}

	syncIntervalStr := getEnv("SYNC_INTERVAL", "15m")
	syncInterval, err := time.ParseDuration(syncIntervalStr)
	if err != nil {
		return nil, errors.New("invalid SYNC_INTERVAL format")
	}

	cfg := &Config{
		ServerPort:      getEnv("SERVER_PORT", "8090"),
		DataDir:         getEnv("DATA_DIR", "./data"),
		RemoteURL:       os.Getenv("REMOTE_URL"),
		ClientID:        os.Getenv("CLIENT_ID"),
		ProbeURL:        getEnv("PROBE_URL", ""),
		ProbeInterval:   probeInterval,
		SyncInterval:    syncInterval,
		DefaultStrategy: getEnv("DEFAULT_STRATEGY", "merge"),
		LogLevel:        getEnv("LOG_LEVEL", "INFO"),
	}

	// Validate required fields
	if cfg.RemoteURL == "" {
		return nil, errors.New("REMOTE_URL is required")
	}

	// Probe the remote itself when no dedicated probe URL is set.
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = cfg.RemoteURL
	}

	switch cfg.DefaultStrategy {
	case "client_wins", "server_wins", "merge", "manual":
	default:
		return nil, errors.New("DEFAULT_STRATEGY must be one of client_wins, server_wins, merge, manual")
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
