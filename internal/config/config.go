// Package config provides configuration loading and structs for the doctalk server.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Server  ServerConfig  `yaml:"server"`
	Model   ModelConfig   `yaml:"model"`
	Upload  UploadConfig  `yaml:"upload"`
	Storage StorageConfig `yaml:"storage"`
	Watch   WatchConfig   `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
}

// Addr returns host:port.
func (s *ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ModelConfig selects the chat model backend.
type ModelConfig struct {
	Provider     string   `yaml:"provider"`
	BaseURL      string   `yaml:"base_url"`
	Name         string   `yaml:"name"`
	APIKey       string   `yaml:"api_key,omitempty"`
	SystemPrompt string   `yaml:"system_prompt"`
	Temperature  *float64 `yaml:"temperature,omitempty"`
	StreamBuffer int      `yaml:"stream_buffer"`
}

// TemperatureOrDefault returns the configured temperature; defaults to 0.8 when unset.
func (m *ModelConfig) TemperatureOrDefault() float64 {
	if m.Temperature != nil {
		return *m.Temperature
	}
	return defaultTemperature
}

// UploadConfig bounds uploads. MaxBytes < 0 disables the limit.
type UploadConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

// StorageConfig holds the transcript archive location. An empty path disables the archive.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// WatchConfig holds inbox directories whose new files become the current document.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	if cfg.Storage.DatabasePath != "" {
		cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Validate rejects settings that cannot work at runtime.
func Validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout < 0 {
		return fmt.Errorf("server.request_timeout must not be negative")
	}
	switch strings.ToLower(cfg.Model.Provider) {
	case "ollama", "openai":
	default:
		return fmt.Errorf("unknown model.provider %q (want ollama or openai)", cfg.Model.Provider)
	}
	if cfg.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
