// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/aristath/helmsman/internal/domain"
)

// Config holds application configuration
type Config struct {
	DataDir       string // Base directory for all databases, always absolute
	PolicyFile    string // Optional YAML policy file imported at startup
	LogLevel      string
	Port          int
	DevMode       bool
	DriftRefresh  string        // Cron expression for the drift refresh job
	PlanRetention time.Duration // How long stored plans are kept
	DefaultPolicy string        // Policy used when a request names none
	Planner       domain.PlannerConfig
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("HELMSMAN_DATA_DIR", "")
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

	planner := domain.DefaultPlannerConfig()
	planner.MinTradeValue = getEnvAsFloat("MIN_TRADE_VALUE", planner.MinTradeValue)
	planner.WashWindowDays = getEnvAsInt("WASH_WINDOW_DAYS", planner.WashWindowDays)
	planner.AvoidWashSales = getEnvAsBool("AVOID_WASH_SALES", planner.AvoidWashSales)
	planner.AllowShortTermGains = getEnvAsBool("ALLOW_SHORT_TERM_GAINS", planner.AllowShortTermGains)
	planner.Rates.Ordinary = getEnvAsFloat("TAX_RATE_ORDINARY", planner.Rates.Ordinary)
	planner.Rates.LTCG = getEnvAsFloat("TAX_RATE_LTCG", planner.Rates.LTCG)
	planner.Rates.State = getEnvAsFloat("TAX_RATE_STATE", planner.Rates.State)
	planner.Rates.NIIT = getEnvAsFloat("TAX_RATE_NIIT", planner.Rates.NIIT)

	cfg := &Config{
		DataDir:       absDataDir,
		PolicyFile:    getEnv("POLICY_FILE", ""),
		Port:          getEnvAsInt("PORT", 8001),
		DevMode:       getEnvAsBool("DEV_MODE", false),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DriftRefresh:  getEnv("DRIFT_REFRESH_CRON", "0 0 18 * * MON-FRI"),
		PlanRetention: getEnvAsDuration("PLAN_RETENTION", 90*24*time.Hour),
		DefaultPolicy: getEnv("DEFAULT_POLICY", ""),
		Planner:       planner,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PlanRetention <= 0 {
		return fmt.Errorf("plan retention must be positive")
	}
	return nil
}

// DatabasePath returns the path of a named database under the data dir.
func (c *Config) DatabasePath(name string) string {
	return filepath.Join(c.DataDir, name+".db")
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
