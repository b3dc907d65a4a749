// config.go - Daemon configuration.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// AssetConfig declares one token ledger.
type AssetConfig struct {
	Name     string `toml:"name"`
	Symbol   string `toml:"symbol"`
	Price    int64  `toml:"price"`
	Decimals uint8  `toml:"decimals"`
}

// RateLimitConfig configures the per-account token bucket.
type RateLimitConfig struct {
	MaxTokens     int `toml:"max_tokens"`
	RefillRate    int `toml:"refill_rate"`
	RefillSeconds int `toml:"refill_seconds"`
}

// Config is the daemon configuration, loaded from TOML.
type Config struct {
	ListenAddr string `toml:"listen_addr"`
	LogLevel   string `toml:"log_level"`
	LogFile    string `toml:"log_file"`

	// Owner is the label of the operator account administering the Pool.
	Owner string `toml:"owner"`

	// RequireProofs switches the engine from tag-only input verification
	// to full proof verification, with circuit keys under KeyDir.
	RequireProofs bool   `toml:"require_proofs"`
	KeyDir        string `toml:"key_dir"`

	DebugDecrypt bool `toml:"debug_decrypt"`
	BatchSize    int  `toml:"batch_size"`

	Reference  AssetConfig     `toml:"reference"`
	Liquidity  AssetConfig     `toml:"liquidity"`
	Collateral []AssetConfig   `toml:"collateral"`
	RateLimit  RateLimitConfig `toml:"rate_limit"`
}

// DefaultConfig returns a single-collateral demo deployment.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:    ":8080",
		LogLevel:      "info",
		Owner:         "operator",
		RequireProofs: false,
		KeyDir:        "keys",
		DebugDecrypt:  false,
		BatchSize:     2,
		Reference:     AssetConfig{Name: "Reference", Symbol: "REF", Price: 2e8, Decimals: 8},
		Liquidity:     AssetConfig{Name: "Liquidity", Symbol: "LIQ", Price: 1e8, Decimals: 8},
		Collateral: []AssetConfig{
			{Name: "CollateralA", Symbol: "COLA", Price: 1e8, Decimals: 8},
		},
		RateLimit: RateLimitConfig{MaxTokens: 100, RefillRate: 10, RefillSeconds: 1},
	}
}

// LoadConfig reads the configuration file, writing the default when the
// file does not exist yet.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); err == nil {
		var cfg Config
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		return &cfg, nil
	}
	cfg := DefaultConfig()
	if err := SaveConfig(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration as TOML.
func SaveConfig(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must be set")
	}
	if c.Owner == "" {
		return fmt.Errorf("owner must be set")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	if len(c.Collateral) == 0 {
		return fmt.Errorf("at least one collateral asset must be configured")
	}
	if c.Reference.Price <= 0 {
		return fmt.Errorf("reference price must be positive")
	}
	for _, a := range c.Collateral {
		if a.Symbol == "" {
			return fmt.Errorf("collateral symbol must be set")
		}
		if a.Price <= 0 {
			return fmt.Errorf("collateral %s price must be positive", a.Symbol)
		}
	}
	if c.RateLimit.MaxTokens <= 0 || c.RateLimit.RefillRate <= 0 || c.RateLimit.RefillSeconds <= 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}
	if c.RequireProofs && c.KeyDir == "" {
		return fmt.Errorf("key_dir must be set when proofs are required")
	}
	return nil
}
