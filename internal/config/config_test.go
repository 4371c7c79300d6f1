package config

import (
	"path/filepath"
	"testing"
)

func TestLoadFromMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Bridge.URL == "" {
		t.Error("default bridge URL is empty")
	}
	if cfg.Bridge.MessageTTLSeconds != 300 {
		t.Errorf("default TTL = %d, want 300", cfg.Bridge.MessageTTLSeconds)
	}
	if cfg.Wallet.Network != "-239" {
		t.Errorf("default network = %q, want -239", cfg.Wallet.Network)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Bridge.URL = "https://bridge.example/bridge"
	cfg.Wallet.Network = "-3"
	cfg.Logging.Level = "debug"

	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if loaded.Bridge.URL != cfg.Bridge.URL {
		t.Errorf("URL = %q, want %q", loaded.Bridge.URL, cfg.Bridge.URL)
	}
	if loaded.Wallet.Network != "-3" || loaded.Logging.Level != "debug" {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(c *Config) {}, false},
		{"empty bridge URL", func(c *Config) { c.Bridge.URL = "" }, true},
		{"zero TTL", func(c *Config) { c.Bridge.MessageTTLSeconds = 0 }, true},
		{"bad network", func(c *Config) { c.Wallet.Network = "mainnet" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"testnet", func(c *Config) { c.Wallet.Network = "-3" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetPathsOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TONBRIDGE_CONFIG_DIR", dir)

	paths, err := GetPaths()
	if err != nil {
		t.Fatalf("GetPaths: %v", err)
	}
	if paths.ConfigDir != dir {
		t.Errorf("ConfigDir = %q, want %q", paths.ConfigDir, dir)
	}
	if paths.ConfigFile != filepath.Join(dir, "config.toml") {
		t.Errorf("ConfigFile = %q", paths.ConfigFile)
	}

	if got := paths.ResolveStorePath(Default()); got != filepath.Join(dir, "state.db") {
		t.Errorf("ResolveStorePath = %q", got)
	}
	override := &Config{Storage: StorageConfig{Path: "/tmp/custom.db"}}
	if got := paths.ResolveStorePath(override); got != "/tmp/custom.db" {
		t.Errorf("ResolveStorePath override = %q", got)
	}
}
