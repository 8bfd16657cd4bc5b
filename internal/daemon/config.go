package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"faultfs/internal/artifacts"
)

// DefaultListen is used when neither settings nor flags name an address.
const DefaultListen = "127.0.0.1:0"

// getConfigDir returns the config directory path.
// Uses FAULTFS_CONFIG_DIR env var if set, otherwise defaults to ~/.faultfs.
// This is computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv("FAULTFS_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".faultfs")
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// SettingsPath returns the settings file path
func SettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// instanceKey derives a stable file name stem for a mirrored root, so that
// every root gets its own lock and state file.
func instanceKey(root string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.Clean(root))).String()
}

// LockPath returns the lock file path for root
func LockPath(root string) string {
	return filepath.Join(getConfigDir(), instanceKey(root)+".lock")
}

// StatePath returns the state file path for root
func StatePath(root string) string {
	return filepath.Join(getConfigDir(), instanceKey(root)+".state")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir initializes the config directory with default files
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	settingsPath := SettingsPath()
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		if err := os.WriteFile(settingsPath, artifacts.GlobalSettings, 0600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}
	return nil
}

// Settings represents the faultfs settings file
type Settings struct {
	LogLevel   string   `yaml:"log_level"`   // trace, debug, info, warn, none (default: none)
	LogFile    string   `yaml:"log_file"`    // empty logs to stderr
	Listen     string   `yaml:"listen"`      // NFS listen address (default: 127.0.0.1:0)
	FaultPaths []string `yaml:"fault_paths"` // gitignore-style fault scope, empty means all files
}

// LoggingEnabled returns whether logging is enabled (any level other than "none" or empty).
func (s *Settings) LoggingEnabled() bool {
	level := strings.ToLower(s.LogLevel)
	return level != "" && level != "none"
}

// ApplyDefaults fills zero-value fields with their defaults.
func (s *Settings) ApplyDefaults() {
	if s.Listen == "" {
		s.Listen = DefaultListen
	}
}

// loadDefaultSettings parses default settings from embedded artifact.
func loadDefaultSettings() Settings {
	var settings Settings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &settings); err != nil {
		panic("failed to parse embedded settings: " + err.Error())
	}
	return settings
}

// LoadSettings loads the settings from the config directory.
// Falls back to embedded defaults if the file doesn't exist.
func LoadSettings() (*Settings, error) {
	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			settings := loadDefaultSettings()
			settings.ApplyDefaults()
			return &settings, nil
		}
		return nil, err
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", SettingsPath(), err)
	}
	settings.ApplyDefaults()
	return &settings, nil
}
