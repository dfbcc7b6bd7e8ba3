// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mbd888/guardian/internal/validation"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port        string
	Env         string // "development", "staging", "production"
	LogLevel    string
	LogFormat   string // "text" or "json"
	CORSOrigins []string

	// Per-caller throttling of /v1. Zero RateLimitPerMinute disables it.
	RateLimitPerMinute int
	RateLimitBurst     int

	// Storage. DATABASE_URL wins over SETTINGS_PATH; neither means in-memory.
	DatabaseURL  string
	SettingsPath string

	// Blockchain settings
	RPCURL  string // optional; enables fee suggestions and on-chain code checks
	ChainID int64

	// External services, all optional
	BackendURL        string
	BackendTimeout    time.Duration
	EtherscanAPIKey   string
	TenderlyAccessKey string
	TenderlyAccount   string
	TenderlyProject   string
	TenderlyAPIURL    string
	PriceAPIURL       string

	// Analysis cache
	CacheTTL        time.Duration
	CacheMaxEntries int

	// Pending registry
	PendingTimeout       time.Duration
	PendingMax           int
	PendingSweepInterval time.Duration

	// Thresholds
	HighValueETH          float64
	MediumValueETH        float64
	GasPriceThresholdGwei int64
	Denylist              []string

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort                  = "8080"
	DefaultEnv                   = "development"
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "text"
	DefaultChainID               = 1
	DefaultBackendTimeout        = 5 * time.Second
	DefaultCacheTTL              = 300 * time.Second
	DefaultCacheMaxEntries       = 100
	DefaultPendingTimeout        = 5 * time.Minute
	DefaultPendingMax            = 10
	DefaultPendingSweepInterval  = 60 * time.Second
	DefaultHighValueETH          = 10.0
	DefaultMediumValueETH        = 1.0
	DefaultGasPriceThresholdGwei = 50
	DefaultRateLimitPerMinute    = 600
	DefaultRateLimitBurst        = 60
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:             getEnv("LOG_FORMAT", DefaultLogFormat),
		CORSOrigins:           getEnvList("CORS_ORIGINS"),
		RateLimitPerMinute:    int(getEnvInt64("RATE_LIMIT_PER_MINUTE", DefaultRateLimitPerMinute)),
		RateLimitBurst:        int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		SettingsPath:          os.Getenv("SETTINGS_PATH"),
		RPCURL:                os.Getenv("RPC_URL"),
		ChainID:               getEnvInt64("CHAIN_ID", DefaultChainID),
		BackendURL:            os.Getenv("BACKEND_URL"),
		BackendTimeout:        getEnvDuration("BACKEND_TIMEOUT", DefaultBackendTimeout),
		EtherscanAPIKey:       os.Getenv("ETHERSCAN_API_KEY"),
		TenderlyAccessKey:     os.Getenv("TENDERLY_ACCESS_KEY"),
		TenderlyAccount:       os.Getenv("TENDERLY_ACCOUNT_SLUG"),
		TenderlyProject:       os.Getenv("TENDERLY_PROJECT_SLUG"),
		TenderlyAPIURL:        os.Getenv("TENDERLY_API_URL"),
		PriceAPIURL:           os.Getenv("PRICE_API_URL"),
		CacheTTL:              getEnvDuration("CACHE_TTL", DefaultCacheTTL),
		CacheMaxEntries:       int(getEnvInt64("CACHE_MAX_ENTRIES", DefaultCacheMaxEntries)),
		PendingTimeout:        getEnvDuration("PENDING_TIMEOUT", DefaultPendingTimeout),
		PendingMax:            int(getEnvInt64("PENDING_MAX", DefaultPendingMax)),
		PendingSweepInterval:  getEnvDuration("PENDING_SWEEP_INTERVAL", DefaultPendingSweepInterval),
		HighValueETH:          getEnvFloat("HIGH_VALUE_ETH", DefaultHighValueETH),
		MediumValueETH:        getEnvFloat("MEDIUM_VALUE_ETH", DefaultMediumValueETH),
		GasPriceThresholdGwei: getEnvInt64("GAS_PRICE_THRESHOLD_GWEI", DefaultGasPriceThresholdGwei),
		Denylist:              getEnvList("DENYLIST"),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json")
	}
	if c.CacheTTL <= 0 || c.CacheMaxEntries <= 0 {
		return fmt.Errorf("CACHE_TTL and CACHE_MAX_ENTRIES must be positive")
	}
	if c.PendingTimeout <= 0 || c.PendingMax <= 0 || c.PendingSweepInterval <= 0 {
		return fmt.Errorf("PENDING_TIMEOUT, PENDING_MAX and PENDING_SWEEP_INTERVAL must be positive")
	}
	if c.MediumValueETH <= 0 || c.HighValueETH <= c.MediumValueETH {
		return fmt.Errorf("MEDIUM_VALUE_ETH must be positive and below HIGH_VALUE_ETH")
	}
	if c.RateLimitPerMinute < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE and RATE_LIMIT_BURST must not be negative")
	}
	if c.GasPriceThresholdGwei <= 0 {
		return fmt.Errorf("GAS_PRICE_THRESHOLD_GWEI must be positive")
	}
	for _, addr := range c.Denylist {
		if !validation.IsValidEthAddress(addr) {
			return fmt.Errorf("DENYLIST entry %q is not an address", addr)
		}
	}
	for key, raw := range map[string]string{
		"BACKEND_URL":      c.BackendURL,
		"RPC_URL":          c.RPCURL,
		"TENDERLY_API_URL": c.TenderlyAPIURL,
		"PRICE_API_URL":    c.PriceAPIURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL", key)
		}
	}

	set := 0
	for _, v := range []string{c.TenderlyAccessKey, c.TenderlyAccount, c.TenderlyProject} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return fmt.Errorf("TENDERLY_ACCESS_KEY, TENDERLY_ACCOUNT_SLUG and TENDERLY_PROJECT_SLUG must be set together")
	}

	return nil
}

// TenderlyEnabled reports whether simulation credentials are complete.
func (c *Config) TenderlyEnabled() bool {
	return c.TenderlyAccessKey != "" && c.TenderlyAccount != "" && c.TenderlyProject != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "5m") or a bare number of
// seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
