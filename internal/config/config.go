// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir          string // Base directory for the session archive database
	Port             int
	LogLevel         string
	DevMode          bool
	EventBuffer      int    // Per-subscriber event channel capacity
	ControlBuffer    int    // Per-session control inbox capacity
	StepDelayMs      int    // Pacing between steps in streaming mode (0 = as fast as possible)
	SessionTTLMin    int    // Minutes a terminal session is kept before the reaper destroys it
	ReaperSchedule   string // cron spec for the idle-session reaper
	ArchiveEnabled   bool
	DefaultSeed      int64 // Seed used when a session config does not provide one
	MaxBanks         int
	MaxSteps         int
	OracleTTLSeconds int // Priority oracle cache TTL
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("BANKNET_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:          absDataDir,
		Port:             getEnvAsInt("BANKNET_PORT", 8002),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DevMode:          getEnvAsBool("DEV_MODE", false),
		EventBuffer:      getEnvAsInt("BANKNET_EVENT_BUFFER", 256),
		ControlBuffer:    getEnvAsInt("BANKNET_CONTROL_BUFFER", 32),
		StepDelayMs:      getEnvAsInt("BANKNET_STEP_DELAY_MS", 0),
		SessionTTLMin:    getEnvAsInt("BANKNET_SESSION_TTL_MIN", 30),
		ReaperSchedule:   getEnv("BANKNET_REAPER_SCHEDULE", "@every 5m"),
		ArchiveEnabled:   getEnvAsBool("BANKNET_ARCHIVE", true),
		DefaultSeed:      int64(getEnvAsInt("BANKNET_DEFAULT_SEED", 0)),
		MaxBanks:         getEnvAsInt("BANKNET_MAX_BANKS", 100),
		MaxSteps:         getEnvAsInt("BANKNET_MAX_STEPS", 200),
		OracleTTLSeconds: getEnvAsInt("BANKNET_ORACLE_TTL_SEC", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.EventBuffer < 1 {
		return fmt.Errorf("event buffer must be at least 1, got %d", c.EventBuffer)
	}
	if c.ControlBuffer < 1 {
		return fmt.Errorf("control buffer must be at least 1, got %d", c.ControlBuffer)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
