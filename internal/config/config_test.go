package config

import (
	"os"
	"testing"
	"time"
)

const sampleConfig = `
server:
  host: 127.0.0.1
  port: "8080"
database:
  path: /tmp/test-chat.db
ollama:
  base_url: http://ollama.local:11434
  model: mistral
  timeout: 30s
  max_attempts: 5
cors:
  origins:
    - http://localhost:5173
log:
  level: debug
`

// TestLoad verifies that Load unmarshals a yaml file named by CONFIG_PATH.
func TestLoad(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	if _, err := tmp.WriteString(sampleConfig); err != nil {
		t.Fatalf("write: %v", err)
	}
	tmp.Close()

	t.Setenv("CONFIG_PATH", tmp.Name())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("unexpected port: %s", cfg.Server.Port)
	}
	if cfg.Database.Path != "/tmp/test-chat.db" {
		t.Fatalf("unexpected db path: %s", cfg.Database.Path)
	}
	if cfg.Ollama.Model != "mistral" {
		t.Fatalf("unexpected model: %s", cfg.Ollama.Model)
	}
	if cfg.Ollama.Timeout != 30*time.Second {
		t.Fatalf("unexpected timeout: %s", cfg.Ollama.Timeout)
	}
	if cfg.Ollama.MaxAttempts != 5 {
		t.Fatalf("unexpected attempts: %d", cfg.Ollama.MaxAttempts)
	}
	if len(cfg.CORS.Origins) != 1 || cfg.CORS.Origins[0] != "http://localhost:5173" {
		t.Fatalf("unexpected origins: %v", cfg.CORS.Origins)
	}
}

// TestLoad_Defaults verifies defaults apply when no config file exists.
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Fatalf("unexpected base url: %s", cfg.Ollama.BaseURL)
	}
	if cfg.Ollama.MaxAttempts != 3 {
		t.Fatalf("unexpected attempts: %d", cfg.Ollama.MaxAttempts)
	}
	if cfg.Session.TTL != 24*time.Hour {
		t.Fatalf("unexpected session ttl: %s", cfg.Session.TTL)
	}
}
