package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config represents the tonbridge configuration file
type Config struct {
	Bridge  BridgeConfig  `toml:"bridge"`
	Wallet  WalletConfig  `toml:"wallet"`
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`
}

// BridgeConfig selects the relay endpoint and message lifetime
type BridgeConfig struct {
	URL               string `toml:"url"`
	MessageTTLSeconds int    `toml:"message_ttl_seconds"`
}

// WalletConfig contains wallet-related settings
type WalletConfig struct {
	Network string `toml:"network"` // "-239" mainnet, "-3" testnet
}

// StorageConfig locates the state database
type StorageConfig struct {
	Path string `toml:"path"` // empty means <config dir>/state.db
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json
}

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			URL:               "https://bridge.tonapi.io/bridge",
			MessageTTLSeconds: 300,
		},
		Wallet: WalletConfig{
			Network: "-239",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads the configuration from the default config file
func Load() (*Config, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, fmt.Errorf("get paths: %w", err)
	}

	return LoadFrom(paths.ConfigFile)
}

// LoadFrom loads the configuration from a specific file
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if no config file exists
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to the default config file
func (c *Config) Save() error {
	paths, err := GetPaths()
	if err != nil {
		return fmt.Errorf("get paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return err
	}

	return c.SaveTo(paths.ConfigFile)
}

// SaveTo saves the configuration to a specific file
func (c *Config) SaveTo(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Bridge.URL == "" {
		return fmt.Errorf("bridge URL is empty")
	}

	if c.Bridge.MessageTTLSeconds < 1 {
		return fmt.Errorf("invalid message TTL: %d", c.Bridge.MessageTTLSeconds)
	}

	validNetworks := map[string]bool{"-239": true, "-3": true}
	if !validNetworks[c.Wallet.Network] {
		return fmt.Errorf("invalid network: %s", c.Wallet.Network)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}
