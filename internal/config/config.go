package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	RPC         RPCConfig         `yaml:"rpc"`
	Retry       RetryConfig       `yaml:"retry"`
	Cache       CacheConfig       `yaml:"cache"`
	Eligibility EligibilityConfig `yaml:"eligibility"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // "json" or "text"
}

// RPCConfig describes the read-only JSON-RPC access per chain. Endpoint URLs
// carry API keys, so they come from the environment and never from the file.
type RPCConfig struct {
	Endpoints          map[uint64]string `yaml:"-"`
	RequestTimeoutSecs int               `yaml:"request_timeout_secs"`
	RatePerSecond      float64           `yaml:"rate_per_second"` // token-bucket refill
	RateBurst          int               `yaml:"rate_burst"`
}

// RetryConfig bounds the exponential backoff on transient node failures.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMS int `yaml:"base_delay_ms"`
	MaxDelayMS  int `yaml:"max_delay_ms"`
}

// CacheConfig sizes the orchestrator's LRU proof/eligibility cache.
type CacheConfig struct {
	Entries int `yaml:"entries"`
}

// EligibilityConfig tunes the eligibility engine's batching.
type EligibilityConfig struct {
	Workers       int    `yaml:"workers"`         // concurrent sub-batches
	MaxBatchUsers int    `yaml:"max_batch_users"` // users per initial multicall
	LogChunkSize  uint64 `yaml:"log_chunk_size"`  // blocks per eth_getLogs window
}

// MetricsConfig controls the prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// rpcEnvVars maps chain id to the environment variable holding its endpoint.
var rpcEnvVars = map[uint64]string{
	1:     "ETHEREUM_MAINNET_RPC_URL",
	10:    "OPTIMISM_MAINNET_RPC_URL",
	56:    "BSC_MAINNET_RPC_URL",
	137:   "POLYGON_MAINNET_RPC_URL",
	8453:  "BASE_MAINNET_RPC_URL",
	42161: "ARBITRUM_MAINNET_RPC_URL",
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		RPC: RPCConfig{
			Endpoints:          map[uint64]string{},
			RequestTimeoutSecs: 30,
			RatePerSecond:      20,
			RateBurst:          40,
		},
		Retry: RetryConfig{
			MaxAttempts: 4,
			BaseDelayMS: 200,
			MaxDelayMS:  5000,
		},
		Cache: CacheConfig{Entries: 4096},
		Eligibility: EligibilityConfig{
			Workers:       8,
			MaxBatchUsers: 50,
			LogChunkSize:  100_000,
		},
		Metrics: MetricsConfig{Enabled: false, Listen: ":9464"},
	}
}

// Load reads a YAML config file over the defaults, then applies environment
// overrides. An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if c.RPC.Endpoints == nil {
		c.RPC.Endpoints = map[uint64]string{}
	}
	for chainID, envVar := range rpcEnvVars {
		if url := os.Getenv(envVar); url != "" {
			c.RPC.Endpoints[chainID] = url
		}
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("log format %q not supported", c.Log.Format)
	}
	if c.RPC.RequestTimeoutSecs <= 0 {
		return fmt.Errorf("rpc request_timeout_secs must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}
	if c.Cache.Entries < 1 {
		return fmt.Errorf("cache entries must be at least 1")
	}
	if c.Eligibility.Workers < 1 {
		return fmt.Errorf("eligibility workers must be at least 1")
	}
	if c.Eligibility.LogChunkSize == 0 {
		return fmt.Errorf("eligibility log_chunk_size must be positive")
	}
	return nil
}

// RequestTimeout returns the RPC timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RPC.RequestTimeoutSecs) * time.Second
}

// Endpoint returns the RPC URL for a chain, or an error naming the missing
// environment variable.
func (c *Config) Endpoint(chainID uint64) (string, error) {
	if url, ok := c.RPC.Endpoints[chainID]; ok && url != "" {
		return url, nil
	}
	if envVar, ok := rpcEnvVars[chainID]; ok {
		return "", fmt.Errorf("no RPC endpoint for chain %d: set %s", chainID, envVar)
	}
	return "", fmt.Errorf("chain %d not supported", chainID)
}
