// Package config loads and persists taleweaver configuration from
// <data dir>/config.yaml. Defaults apply for any field left unset; the
// GEMINI_API_KEY environment variable overrides the stored key.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"taleweaver/internal/logging"
)

// Config holds all taleweaver configuration.
type Config struct {
	// AI configuration
	AI AIConfig `yaml:"ai"`

	// Storage settings
	Storage StorageConfig `yaml:"storage"`

	// Gameplay defaults applied to new sessions
	Game GameConfig `yaml:"game"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// AIConfig configures the generative service collaborators.
type AIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// StorageConfig configures the session store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// GameConfig holds defaults for newly created sessions.
type GameConfig struct {
	Language       string `yaml:"language"`
	NarrativeStyle string `yaml:"narrative_style"`
}

// LoggingConfig configures the categorized debug logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns a config with sensible defaults rooted at dataDir.
func Default(dataDir string) *Config {
	return &Config{
		AI: AIConfig{
			Model:   "gemini-2.0-flash",
			Timeout: "90s",
		},
		Storage: StorageConfig{
			DatabasePath: filepath.Join(dataDir, "sessions.db"),
		},
		Game: GameConfig{
			Language:       "en",
			NarrativeStyle: "classic",
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// DataDir returns the taleweaver data directory, creating it if needed.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".taleweaver")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// Load reads config.yaml from dataDir, falling back to defaults when the
// file is absent. The GEMINI_API_KEY env var always wins over the file.
func Load(dataDir string) (*Config, error) {
	cfg := Default(dataDir)

	path := filepath.Join(dataDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.AI.APIKey = key
	}
	return cfg, nil
}

// Save writes the config back to config.yaml in dataDir.
func (c *Config) Save(dataDir string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	path := filepath.Join(dataDir, "config.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// AITimeout parses the AI call timeout, defaulting to 90s on bad input.
func (c *Config) AITimeout() time.Duration {
	d, err := time.ParseDuration(c.AI.Timeout)
	if err != nil || d <= 0 {
		return 90 * time.Second
	}
	return d
}

// LoggingSettings converts the config into logging package settings.
func (c *Config) LoggingSettings() logging.Settings {
	return logging.Settings{
		DebugMode:  c.Logging.DebugMode,
		Level:      c.Logging.Level,
		Categories: c.Logging.Categories,
	}
}
