// Package config provides configuration for the telemetry engine.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the engine configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Workflow definitions
	DefinitionsDir string

	// Ordering
	GapTimeout time.Duration

	// Reliability window
	ReliabilityMaxSamples int
	ReliabilityMaxAge     time.Duration

	// Coverage gap priority thresholds (fraction of runs covered)
	CoverageHighRunRatio   float64
	CoverageMediumRunRatio float64

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:               getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:            getEnv("DATABASE_URL", "file:treeline.db?cache=shared&mode=rwc"),
		DefinitionsDir:         getEnv("DEFINITIONS_DIR", "workflows"),
		GapTimeout:             time.Duration(getEnvInt("GAP_TIMEOUT_MS", 2000)) * time.Millisecond,
		ReliabilityMaxSamples:  getEnvInt("RELIABILITY_MAX_SAMPLES", 1000),
		ReliabilityMaxAge:      time.Duration(getEnvInt("RELIABILITY_MAX_AGE_HOURS", 720)) * time.Hour,
		CoverageHighRunRatio:   getEnvFloat("COVERAGE_HIGH_RUN_RATIO", 0.10),
		CoverageMediumRunRatio: getEnvFloat("COVERAGE_MEDIUM_RUN_RATIO", 0.50),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
