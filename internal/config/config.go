package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/points-engine/ledger"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults;
// command-line flags in cmd/server override them.
type Config struct {
	// Server
	Port        int
	LogLevel    string
	CORSOrigins []string

	// Storage
	StoreDriver  string // memory | sqlite | postgres
	SQLitePath   string
	DatabaseURL  string
	StoreTimeout time.Duration

	// Resilience
	BreakerMaxFailures int
	BreakerOpenTimeout time.Duration

	// Pricing
	VendorFeeRate   decimal.Decimal
	SuggestedMarkup decimal.Decimal

	// Query
	MaxPageSize int

	// Startup and maintenance
	MigrateOnStart      bool
	MaintenanceInterval time.Duration // 0 disables the background sweep
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:        getEnvInt("PORT", 8080),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"http://localhost:*", "http://127.0.0.1:*"}),

		StoreDriver:  getEnv("STORE_DRIVER", "sqlite"),
		SQLitePath:   getEnv("SQLITE_PATH", "./data/points.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		StoreTimeout: getEnvDuration("STORE_TIMEOUT", 5*time.Second),

		BreakerMaxFailures: getEnvInt("BREAKER_MAX_FAILURES", 5),
		BreakerOpenTimeout: getEnvDuration("BREAKER_OPEN_TIMEOUT", 10*time.Second),

		VendorFeeRate:   getEnvDecimal("VENDOR_FEE_RATE", ledger.DefaultVendorFeeRate),
		SuggestedMarkup: getEnvDecimal("SUGGESTED_MARKUP", ledger.DefaultMarkup),

		MaxPageSize: getEnvInt("MAX_PAGE_SIZE", ledger.MaxPageSize),

		MigrateOnStart:      getEnvBool("MIGRATE_ON_START", true),
		MaintenanceInterval: getEnvDuration("MAINTENANCE_INTERVAL", time.Hour),
	}
}

// Pricing returns the calculator parameters.
func (c *Config) Pricing() ledger.PricingParams {
	return ledger.PricingParams{VendorFeeRate: c.VendorFeeRate, Markup: c.SuggestedMarkup}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
