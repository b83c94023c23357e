package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
  request_timeout: 90s
model:
  name: "llama3.2"
  temperature: 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Server.RequestTimeout != 90*time.Second {
		t.Errorf("request_timeout = %v", cfg.Server.RequestTimeout)
	}
	if cfg.Model.Name != "llama3.2" || cfg.Model.Provider != "ollama" {
		t.Errorf("unexpected model config: %+v", cfg.Model)
	}
	if got := cfg.Model.TemperatureOrDefault(); got != 0 {
		t.Errorf("explicit temperature 0 should be kept, got %v", got)
	}
	if cfg.Storage.DatabasePath != "" {
		t.Errorf("archive should be disabled by default, got %q", cfg.Storage.DatabasePath)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	cfg, err := Load(writeConfig(t, "debug: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/archive.db"
watch:
  directories: ["./inbox"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Dir(path)
	if want := filepath.Join(dir, "data", "archive.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, want)
	}
	if len(cfg.Watch.Directories) != 1 || cfg.Watch.Directories[0] != filepath.Join(dir, "inbox") {
		t.Errorf("watch directories = %v", cfg.Watch.Directories)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":       "server: [",
		"bad provider":   "model:\n  provider: watsonx\n",
		"bad port":       "server:\n  port: 70000\n",
		"bad duration":   "server:\n  request_timeout: soon\n",
		"negative delay": "server:\n  request_timeout: -1s\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8000 {
		t.Errorf("default server: %+v", cfg.Server)
	}
	if cfg.Server.Addr() != "localhost:8000" {
		t.Errorf("Addr() = %s", cfg.Server.Addr())
	}
	if cfg.Server.RequestTimeout != 5*time.Minute {
		t.Errorf("default request timeout: %v", cfg.Server.RequestTimeout)
	}
	if len(cfg.Server.CORSAllowedOrigins) != 1 || cfg.Server.CORSAllowedOrigins[0] != "*" {
		t.Errorf("default CORS origins: %v", cfg.Server.CORSAllowedOrigins)
	}
	if cfg.Model.BaseURL != "http://localhost:11434" || cfg.Model.Name != "deepseek-coder:6.7b" {
		t.Errorf("default model: %+v", cfg.Model)
	}
	if cfg.Model.SystemPrompt != DefaultSystemPrompt {
		t.Errorf("default system prompt: %q", cfg.Model.SystemPrompt)
	}
	if cfg.Model.TemperatureOrDefault() != 0.8 {
		t.Errorf("default temperature: %v", cfg.Model.TemperatureOrDefault())
	}
	if cfg.Upload.MaxBytes != 50<<20 {
		t.Errorf("default max bytes: %d", cfg.Upload.MaxBytes)
	}
	if len(cfg.Watch.Extensions) == 0 {
		t.Error("watch extensions should default so directories added at runtime are filtered")
	}
	if len(cfg.Watch.Directories) != 0 {
		t.Errorf("no inbox directories by default, got %v", cfg.Watch.Directories)
	}
}

func TestApplyDefaults_openAIKeepsEmptyBaseURL(t *testing.T) {
	cfg := &Config{Model: ModelConfig{Provider: "openai"}}
	ApplyDefaults(cfg)
	if cfg.Model.BaseURL != "" {
		t.Errorf("openai base url should not default to ollama, got %q", cfg.Model.BaseURL)
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "saved.yaml")
	cfg := Default()
	cfg.Server.Port = 9090
	cfg.Server.RequestTimeout = 2 * time.Minute
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Server.RequestTimeout != 2*time.Minute {
		t.Errorf("loaded request timeout: got %v", loaded.Server.RequestTimeout)
	}
}
