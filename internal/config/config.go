package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the raid coordination service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DataDir   string
	BossFile  string
	CompsDir  string
	UsersFile string

	DatabaseURL string

	RaidChannelID string
	GatewayURL    string

	InventoryBaseURL string
	InventoryTimeout time.Duration

	ConfirmWindow     time.Duration
	SweepInterval     time.Duration
	InactivityTimeout time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "ultrahub"),
		AllowAnyOrigin:   false,
		DataDir:          envOrDefault("UH_DATA_DIR", "data"),
		DatabaseURL:      trimmedEnv("DATABASE_URL"),
		RaidChannelID:    envOrDefault("UH_RAID_CHANNEL_ID", ""),
		GatewayURL:       trimmedEnv("UH_GATEWAY_URL"),
		InventoryBaseURL: envOrDefault("UH_INVENTORY_BASE_URL", "https://account.aq.com"),
		InventoryTimeout: 10 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		// Confirmation window, sweep cadence and inactivity threshold match
		// the behavior the raid community is used to: 5 minutes to confirm,
		// stale sessions reaped after an hour.
		ConfirmWindow:     5 * time.Minute,
		SweepInterval:     5 * time.Minute,
		InactivityTimeout: time.Hour,
	}
	cfg.BossFile = envOrDefault("UH_BOSS_FILE", cfg.DataDir+"/ultra-bosses.json")
	cfg.CompsDir = envOrDefault("UH_COMPS_DIR", cfg.DataDir+"/comps")
	cfg.UsersFile = envOrDefault("UH_USERS_FILE", cfg.DataDir+"/users.json")

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.InventoryTimeout, err = durationFromEnv("UH_INVENTORY_TIMEOUT", cfg.InventoryTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConfirmWindow, err = durationFromEnv("UH_CONFIRM_WINDOW", cfg.ConfirmWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.SweepInterval, err = durationFromEnv("UH_SWEEP_INTERVAL", cfg.SweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.InactivityTimeout, err = durationFromEnv("UH_INACTIVITY_TIMEOUT", cfg.InactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.ConfirmWindow < 10*time.Second {
		return Config{}, fmt.Errorf("UH_CONFIRM_WINDOW must be at least 10s")
	}
	if cfg.SweepInterval < time.Second {
		return Config{}, fmt.Errorf("UH_SWEEP_INTERVAL must be at least 1s")
	}
	if cfg.InactivityTimeout < cfg.ConfirmWindow {
		return Config{}, fmt.Errorf("UH_INACTIVITY_TIMEOUT must not be shorter than UH_CONFIRM_WINDOW")
	}
	if cfg.InventoryTimeout <= 0 {
		return Config{}, fmt.Errorf("UH_INVENTORY_TIMEOUT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
