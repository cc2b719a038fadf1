// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Price sources accepted by PRICE_SOURCE
const (
	PriceSourceLast = "last"
	PriceSourceMid  = "mid"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	LogFile  string // Optional rotated log file, empty = stdout only
	Port     int
	DevMode  bool

	Pricing   PricingConfig
	Binance   BinanceConfig
	Account   AccountConfig
	Scheduler SchedulerConfig
	Trading   TradingConfig
	Backup    BackupConfig
}

// PricingConfig controls the Price Service
type PricingConfig struct {
	Source         string // "last" or "mid"
	UseCache       bool
	CacheTTL       time.Duration
	MaxConcurrency int
}

// BinanceConfig holds exchange adapter settings
type BinanceConfig struct {
	APIKey            string
	APISecret         string
	BaseURL           string
	StreamURL         string
	Testnet           bool
	BookFeed          bool // Subscribe to bookTicker for mid prices
	RequestsPerSecond float64
	RecvWindow        int64
	FiltersTTL        time.Duration
}

// AccountConfig describes the single exchange account this process trades for
type AccountConfig struct {
	ID             string
	UserID         string
	Exchange       string
	StrategiesFile string // Optional YAML seed for strategy configs
}

// SchedulerConfig holds periodic job settings
type SchedulerConfig struct {
	AutoTickInterval  time.Duration
	TickLeaseTTL      time.Duration
	OrderSyncSchedule string
	LeaseCleanup      string
}

// TradingConfig holds submission settings
type TradingConfig struct {
	SubmitMaxTries       uint
	SubmitInitialBackoff time.Duration
	SubmitMaxElapsed     time.Duration
}

// BackupConfig holds off-site backup settings. Backups are off without a bucket.
type BackupConfig struct {
	S3Bucket          string
	S3Endpoint        string // S3 compatible endpoint, e.g. Cloudflare R2; empty for AWS
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	Schedule          string
	RetentionDays     int
}

// Enabled reports whether off-site backups are configured
func (b BackupConfig) Enabled() bool {
	return b.S3Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	testnet := getEnvAsBool("BINANCE_TESTNET", false)
	baseURL, streamURL := "https://api.binance.com", "wss://stream.binance.com:9443"
	if testnet {
		baseURL, streamURL = "https://testnet.binance.vision", "wss://testnet.binance.vision"
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("GO_PORT", 8001),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
		Pricing: PricingConfig{
			Source:         strings.ToLower(getEnv("PRICE_SOURCE", PriceSourceLast)),
			UseCache:       getEnvAsBool("PRICE_CACHE_ENABLED", true),
			CacheTTL:       getEnvAsDuration("PRICE_CACHE_TTL_SECONDS", 10*time.Second),
			MaxConcurrency: getEnvAsInt("PRICE_FETCH_CONCURRENCY", 4),
		},
		Binance: BinanceConfig{
			APIKey:            getEnv("BINANCE_API_KEY", ""),
			APISecret:         getEnv("BINANCE_API_SECRET", ""),
			BaseURL:           getEnv("BINANCE_BASE_URL", baseURL),
			StreamURL:         getEnv("BINANCE_STREAM_URL", streamURL),
			Testnet:           testnet,
			BookFeed:          getEnvAsBool("BINANCE_BOOK_FEED", false),
			RequestsPerSecond: getEnvAsFloat("BINANCE_REQUESTS_PER_SECOND", 10),
			RecvWindow:        int64(getEnvAsInt("BINANCE_RECV_WINDOW", 5000)),
			FiltersTTL:        getEnvAsDuration("BINANCE_FILTERS_TTL_SECONDS", time.Hour),
		},
		Account: AccountConfig{
			ID:             getEnv("ACCOUNT_ID", ""),
			UserID:         getEnv("ACCOUNT_USER_ID", ""),
			Exchange:       getEnv("ACCOUNT_EXCHANGE", "binance"),
			StrategiesFile: getEnv("STRATEGIES_FILE", ""),
		},
		Scheduler: SchedulerConfig{
			AutoTickInterval:  getEnvAsDuration("AUTO_TICK_INTERVAL_SECONDS", 30*time.Second),
			TickLeaseTTL:      getEnvAsDuration("TICK_LEASE_TTL_SECONDS", 60*time.Second),
			OrderSyncSchedule: getEnv("ORDER_SYNC_SCHEDULE", "@every 1m"),
			LeaseCleanup:      getEnv("LEASE_CLEANUP_SCHEDULE", "0 */10 * * * *"),
		},
		Trading: TradingConfig{
			SubmitMaxTries:       uint(getEnvAsInt("SUBMIT_MAX_TRIES", 4)),
			SubmitInitialBackoff: 500 * time.Millisecond,
			SubmitMaxElapsed:     20 * time.Second,
		},
		Backup: BackupConfig{
			S3Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			S3Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			S3Region:          getEnv("BACKUP_S3_REGION", "auto"),
			S3AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			S3SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			Schedule:          getEnv("BACKUP_SCHEDULE", "0 0 3 * * *"),
			RetentionDays:     getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid GO_PORT: %d", c.Port)
	}

	if c.Pricing.Source != PriceSourceLast && c.Pricing.Source != PriceSourceMid {
		return fmt.Errorf("invalid PRICE_SOURCE %q: must be %q or %q", c.Pricing.Source, PriceSourceLast, PriceSourceMid)
	}

	if c.Pricing.CacheTTL <= 0 {
		return fmt.Errorf("PRICE_CACHE_TTL_SECONDS must be positive")
	}

	if c.Pricing.MaxConcurrency < 1 {
		c.Pricing.MaxConcurrency = 1
	}

	if c.Scheduler.AutoTickInterval <= 0 {
		return fmt.Errorf("AUTO_TICK_INTERVAL_SECONDS must be positive")
	}

	// A lease shorter than one tick period would let two ticks overlap
	if c.Scheduler.TickLeaseTTL < c.Scheduler.AutoTickInterval {
		return fmt.Errorf("TICK_LEASE_TTL_SECONDS (%s) must be at least AUTO_TICK_INTERVAL_SECONDS (%s)",
			c.Scheduler.TickLeaseTTL, c.Scheduler.AutoTickInterval)
	}

	if c.Trading.SubmitMaxTries == 0 {
		c.Trading.SubmitMaxTries = 1
	}

	// Note: exchange credentials are optional here, signed endpoints fail at the exchange without them

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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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

// getEnvAsDuration reads a whole number of seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
