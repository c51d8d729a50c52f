// Package config provides configuration management for the position sentinel.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Chains     ChainsConfig
	Scanner    ScannerConfig
	Sampler    SamplerConfig
	Thresholds ThresholdsConfig
	Debounce   DebounceConfig
	Cache      CacheConfig
	Lock       LockConfig
	Worker     WorkerConfig
	Logging    LoggingConfig
}

// ServerConfig holds read-API server configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ChainsConfig holds chain configuration
type ChainsConfig struct {
	Enabled []string
	Chains  map[string]ChainConfig
}

// ChainConfig holds configuration for a specific chain
type ChainConfig struct {
	RPCURL string
	// RequestsPerSecond paces all RPC calls against this chain's provider
	RequestsPerSecond float64
}

// ScannerConfig holds ownership scanner configuration
type ScannerConfig struct {
	// WindowSize is the fixed block-window size per getLogs call
	WindowSize uint64
	// OverlapBlocks is the reorg safety margin subtracted from the cursor on resume
	OverlapBlocks uint64
	// InterWindowPause is the fixed pause between windows
	InterWindowPause time.Duration
}

// SamplerConfig holds redemption-queue sampler configuration
type SamplerConfig struct {
	// MaxSteps is the hard ceiling on linked-list nodes visited per walk
	MaxSteps int
	// MinResampleInterval is the minimum time between full walks
	MinResampleInterval time.Duration
	// DebtDeltaGate is the relative total-debt change that forces a re-walk
	DebtDeltaGate float64
}

// ThresholdsConfig holds the tier classification thresholds.
// Liquidation thresholds are buffer-fraction boundaries in worsening order
// (Warn > High > Critical). Redemption thresholds are debt-ahead-fraction
// boundaries in the inverted order (higher fraction is safer).
type ThresholdsConfig struct {
	LiquidationWarn     float64
	LiquidationHigh     float64
	LiquidationCritical float64

	RedemptionLow    float64
	RedemptionMedium float64
	RedemptionHigh   float64

	// In-range tier: distance-to-nearest-edge as a fraction of position width
	RangeEdgeWarn     float64
	RangeEdgeHigh     float64
	RangeEdgeCritical float64

	// Out-of-range tier: distance past the bound as a fraction of width
	RangeOutMedium   float64
	RangeOutHigh     float64
	RangeOutCritical float64
}

// DebounceConfig holds the per-alert-type debounce windows
type DebounceConfig struct {
	LiquidationWorsening time.Duration
	LiquidationImproving time.Duration
	RedemptionWorsening  time.Duration
	RedemptionImproving  time.Duration
	LpRangeWorsening     time.Duration
	LpRangeImproving     time.Duration
}

// CacheConfig holds snapshot cache configuration
type CacheConfig struct {
	SummaryTTL time.Duration
}

// LockConfig holds the run lock configuration
type LockConfig struct {
	Path       string
	StaleAfter time.Duration
}

// WorkerConfig holds the daemon scheduler configuration
type WorkerConfig struct {
	// Schedule is a cron expression or @every spec for periodic runs
	Schedule string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	config := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "position_sentinel"),
				User:           getEnv("POSTGRES_USER", "sentinel"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "position_sentinel"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Scanner: ScannerConfig{
			WindowSize:       getEnvAsUint("SCANNER_WINDOW_SIZE", 2000),
			OverlapBlocks:    getEnvAsUint("SCANNER_OVERLAP_BLOCKS", 32),
			InterWindowPause: getEnvAsDuration("SCANNER_INTER_WINDOW_PAUSE", 200*time.Millisecond),
		},
		Sampler: SamplerConfig{
			MaxSteps:            getEnvAsInt("SAMPLER_MAX_STEPS", 5000),
			MinResampleInterval: getEnvAsDuration("SAMPLER_MIN_RESAMPLE_INTERVAL", 10*time.Minute),
			DebtDeltaGate:       getEnvAsFloat("SAMPLER_DEBT_DELTA_GATE", 0.02),
		},
		Thresholds: ThresholdsConfig{
			LiquidationWarn:     getEnvAsFloat("TIER_LIQ_WARN", 0.10),
			LiquidationHigh:     getEnvAsFloat("TIER_LIQ_HIGH", 0.05),
			LiquidationCritical: getEnvAsFloat("TIER_LIQ_CRITICAL", 0.02),
			RedemptionLow:       getEnvAsFloat("TIER_REDEMPTION_LOW", 0.50),
			RedemptionMedium:    getEnvAsFloat("TIER_REDEMPTION_MEDIUM", 0.25),
			RedemptionHigh:      getEnvAsFloat("TIER_REDEMPTION_HIGH", 0.10),
			RangeEdgeWarn:       getEnvAsFloat("TIER_RANGE_EDGE_WARN", 0.25),
			RangeEdgeHigh:       getEnvAsFloat("TIER_RANGE_EDGE_HIGH", 0.10),
			RangeEdgeCritical:   getEnvAsFloat("TIER_RANGE_EDGE_CRITICAL", 0.03),
			RangeOutMedium:      getEnvAsFloat("TIER_RANGE_OUT_MEDIUM", 0.05),
			RangeOutHigh:        getEnvAsFloat("TIER_RANGE_OUT_HIGH", 0.25),
			RangeOutCritical:    getEnvAsFloat("TIER_RANGE_OUT_CRITICAL", 1.0),
		},
		Debounce: DebounceConfig{
			LiquidationWorsening: getEnvAsDuration("DEBOUNCE_LIQ_WORSENING", 5*time.Minute),
			LiquidationImproving: getEnvAsDuration("DEBOUNCE_LIQ_IMPROVING", 15*time.Minute),
			RedemptionWorsening:  getEnvAsDuration("DEBOUNCE_REDEMPTION_WORSENING", 10*time.Minute),
			RedemptionImproving:  getEnvAsDuration("DEBOUNCE_REDEMPTION_IMPROVING", 30*time.Minute),
			LpRangeWorsening:     getEnvAsDuration("DEBOUNCE_LP_WORSENING", 5*time.Minute),
			LpRangeImproving:     getEnvAsDuration("DEBOUNCE_LP_IMPROVING", 10*time.Minute),
		},
		Cache: CacheConfig{
			SummaryTTL: getEnvAsDuration("CACHE_SUMMARY_TTL", 24*time.Hour),
		},
		Lock: LockConfig{
			Path:       getEnv("RUN_LOCK_PATH", "/tmp/position-sentinel.lock"),
			StaleAfter: getEnvAsDuration("RUN_LOCK_STALE_AFTER", 30*time.Minute),
		},
		Worker: WorkerConfig{
			Schedule: getEnv("RUN_SCHEDULE", "@every 2m"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	config.Chains = loadChainConfigs()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// loadChainConfigs loads chain-specific configurations
func loadChainConfigs() ChainsConfig {
	enabledChains := strings.Split(getEnv("ENABLED_CHAINS", "ethereum,arbitrum"), ",")

	chains := make(map[string]ChainConfig)
	for _, chain := range enabledChains {
		chain = strings.TrimSpace(chain)
		if chain == "" {
			continue
		}

		prefix := strings.ToUpper(chain)
		chains[chain] = ChainConfig{
			RPCURL:            getEnv(prefix+"_RPC_URL", ""),
			RequestsPerSecond: getEnvAsFloat(prefix+"_RPC_RPS", 4),
		}
	}

	return ChainsConfig{
		Enabled: enabledChains,
		Chains:  chains,
	}
}

// Validate checks configuration invariants before any chain I/O happens.
// Violations are configuration errors and fatal at startup.
func (c *Config) Validate() error {
	for _, name := range c.Chains.Enabled {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		chain, ok := c.Chains.Chains[name]
		if !ok || chain.RPCURL == "" {
			return fmt.Errorf("missing RPC URL for enabled chain %q (set %s_RPC_URL)", name, strings.ToUpper(name))
		}
	}

	t := c.Thresholds
	if !(t.LiquidationWarn > t.LiquidationHigh && t.LiquidationHigh > t.LiquidationCritical && t.LiquidationCritical > 0) {
		return fmt.Errorf("liquidation thresholds must satisfy warn > high > critical > 0, got %v > %v > %v",
			t.LiquidationWarn, t.LiquidationHigh, t.LiquidationCritical)
	}
	if !(t.RedemptionLow > t.RedemptionMedium && t.RedemptionMedium > t.RedemptionHigh && t.RedemptionHigh > 0) {
		return fmt.Errorf("redemption thresholds must satisfy low > medium > high > 0, got %v > %v > %v",
			t.RedemptionLow, t.RedemptionMedium, t.RedemptionHigh)
	}
	if !(t.RangeEdgeWarn > t.RangeEdgeHigh && t.RangeEdgeHigh > t.RangeEdgeCritical && t.RangeEdgeCritical > 0) {
		return fmt.Errorf("range edge thresholds must satisfy warn > high > critical > 0, got %v > %v > %v",
			t.RangeEdgeWarn, t.RangeEdgeHigh, t.RangeEdgeCritical)
	}
	if !(t.RangeOutMedium < t.RangeOutHigh && t.RangeOutHigh < t.RangeOutCritical) {
		return fmt.Errorf("range out-of-bounds thresholds must satisfy medium < high < critical, got %v < %v < %v",
			t.RangeOutMedium, t.RangeOutHigh, t.RangeOutCritical)
	}

	if c.Scanner.WindowSize == 0 {
		return fmt.Errorf("scanner window size must be positive")
	}
	if c.Sampler.MaxSteps <= 0 {
		return fmt.Errorf("sampler max steps must be positive")
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsUint gets an environment variable as a uint64 with a default value
func getEnvAsUint(key string, defaultValue uint64) uint64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float64 with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
