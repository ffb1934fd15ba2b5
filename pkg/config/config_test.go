package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
engine:
  url: http://engine:8188
  token: secret
store:
  type: memory
tick_interval: 5s
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Engine.URL != "http://engine:8188" || cfg.Engine.Token != "secret" {
		t.Errorf("Engine config not loaded: %+v", cfg.Engine)
	}
	if cfg.Store.Type != "memory" {
		t.Errorf("Store type not loaded: %s", cfg.Store.Type)
	}
	if cfg.TickInterval != 5*time.Second {
		t.Errorf("Tick interval not loaded: %v", cfg.TickInterval)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Log level not loaded: %s", cfg.LogLevel)
	}

	// Defaults fill everything the file leaves out
	if cfg.ListenAddr != ":8080" || cfg.Retention != 7*24*time.Hour {
		t.Errorf("Defaults not applied: %+v", cfg)
	}
}

func TestLoadRequiresEngineURL(t *testing.T) {
	orig := os.Getenv("RENDERQ_ENGINE_URL")
	os.Unsetenv("RENDERQ_ENGINE_URL")
	defer os.Setenv("RENDERQ_ENGINE_URL", orig)

	if _, err := Load(""); err == nil {
		t.Error("Expected error when engine.url is unset")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RENDERQ_ENGINE_URL", "http://env-engine:8188")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.URL != "http://env-engine:8188" {
		t.Errorf("Env override not applied: %s", cfg.Engine.URL)
	}
}
