package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Paths holds all platform-specific file paths for tonbridge
type Paths struct {
	ConfigDir  string // ~/.config/tonbridge or equivalent
	ConfigFile string // ~/.config/tonbridge/config.toml
	StoreFile  string // ~/.config/tonbridge/state.db
	WalletFile string // ~/.config/tonbridge/wallet.enc
	PIDFile    string // ~/.config/tonbridge/daemon.pid (Linux/macOS)
}

// GetPaths returns platform-specific paths for tonbridge
func GetPaths() (*Paths, error) {
	var configDir string
	var pidFile string

	// Allow override via environment variable (useful for testing multiple instances)
	if envConfigDir := os.Getenv("TONBRIDGE_CONFIG_DIR"); envConfigDir != "" {
		configDir = envConfigDir
		pidFile = filepath.Join(configDir, "daemon.pid")
	} else {
		switch runtime.GOOS {
		case "linux", "darwin":
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config", "tonbridge")
			pidFile = filepath.Join(configDir, "daemon.pid")

		case "windows":
			appData := os.Getenv("APPDATA")
			if appData == "" {
				return nil, fmt.Errorf("APPDATA environment variable not set")
			}
			configDir = filepath.Join(appData, "tonbridge")
			pidFile = "" // Windows uses a different mechanism

		default:
			return nil, fmt.Errorf("unsupported platform: %s", runtime.GOOS)
		}
	}

	p := &Paths{
		ConfigDir:  configDir,
		ConfigFile: filepath.Join(configDir, "config.toml"),
		StoreFile:  filepath.Join(configDir, "state.db"),
		WalletFile: filepath.Join(configDir, "wallet.enc"),
		PIDFile:    pidFile,
	}

	return p, nil
}

// EnsureDirectories creates all required directories with appropriate permissions
func (p *Paths) EnsureDirectories() error {
	if err := os.MkdirAll(p.ConfigDir, 0700); err != nil {
		return fmt.Errorf("create directory %s: %w", p.ConfigDir, err)
	}
	return nil
}

// ResolveStorePath returns the state database path, honoring an explicit
// override from the config file.
func (p *Paths) ResolveStorePath(cfg *Config) string {
	if cfg != nil && cfg.Storage.Path != "" {
		return cfg.Storage.Path
	}
	return p.StoreFile
}
