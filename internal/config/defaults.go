package config

import "time"

const (
	defaultTemperature  = 0.8
	DefaultSystemPrompt = "You are DeepCoder, a helpful coding assistant."
)

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 5 * time.Minute
	}
	if cfg.Server.CORSAllowedOrigins == nil {
		cfg.Server.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.Model.Provider == "" {
		cfg.Model.Provider = "ollama"
	}
	if cfg.Model.BaseURL == "" && cfg.Model.Provider == "ollama" {
		cfg.Model.BaseURL = "http://localhost:11434"
	}
	if cfg.Model.Name == "" {
		cfg.Model.Name = "deepseek-coder:6.7b"
	}
	if cfg.Model.SystemPrompt == "" {
		cfg.Model.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Model.StreamBuffer == 0 {
		cfg.Model.StreamBuffer = 64
	}
	if cfg.Upload.MaxBytes == 0 {
		cfg.Upload.MaxBytes = 50 << 20
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".pdf", ".docx", ".xlsx", ".pptx"}
	}
}
