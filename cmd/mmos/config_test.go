package main

import (
	"os"
	"path/filepath"
	"testing"
)

func clearWorkerEnv(t *testing.T) {
	t.Helper()
	t.Setenv("WORKER_INSTANCE_NAME", "")
	t.Setenv("WORKER_TYPE", "")
	t.Setenv("WORKER_CAPACITY", "")
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	clearWorkerEnv(t)

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}
	if cfg.Worker.Type != "generalist" {
		t.Errorf("Worker.Type = %q, want generalist", cfg.Worker.Type)
	}
	if cfg.Worker.Capacity != 1 {
		t.Errorf("Worker.Capacity = %d, want 1", cfg.Worker.Capacity)
	}
	if cfg.Poll.FallbackSeconds != 10 {
		t.Errorf("Poll.FallbackSeconds = %d, want 10", cfg.Poll.FallbackSeconds)
	}
}

func TestLoadConfig_ReadsTOML(t *testing.T) {
	clearWorkerEnv(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `db_path = "/tmp/other.db"

[worker]
instance_name = "claude-1"
type = "specialist"
capacity = 2

[poll]
fallback_seconds = 30
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}
	if cfg.DBPath != "/tmp/other.db" {
		t.Errorf("DBPath = %q, want /tmp/other.db", cfg.DBPath)
	}
	if cfg.Worker.InstanceName != "claude-1" || cfg.Worker.Type != "specialist" || cfg.Worker.Capacity != 2 {
		t.Errorf("worker config not read: %+v", cfg.Worker)
	}
	if cfg.Poll.FallbackSeconds != 30 {
		t.Errorf("Poll.FallbackSeconds = %d, want 30", cfg.Poll.FallbackSeconds)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `[worker]
instance_name = "from-file"
type = "generalist"
capacity = 1
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("WORKER_INSTANCE_NAME", "from-env")
	t.Setenv("WORKER_TYPE", "specialist")
	t.Setenv("WORKER_CAPACITY", "4")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}
	if cfg.Worker.InstanceName != "from-env" {
		t.Errorf("InstanceName = %q, want from-env", cfg.Worker.InstanceName)
	}
	if cfg.Worker.Type != "specialist" {
		t.Errorf("Type = %q, want specialist", cfg.Worker.Type)
	}
	if cfg.Worker.Capacity != 4 {
		t.Errorf("Capacity = %d, want 4", cfg.Worker.Capacity)
	}
}

func TestLoadConfig_BadCapacityEnv(t *testing.T) {
	clearWorkerEnv(t)
	t.Setenv("WORKER_CAPACITY", "lots")

	if _, err := loadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected an error for a non-numeric WORKER_CAPACITY")
	}
}

func TestLoadConfig_MalformedTOML(t *testing.T) {
	clearWorkerEnv(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("worker = [broken"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestDefaultConfigTOMLParses(t *testing.T) {
	clearWorkerEnv(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(defaultConfigTOML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("the shipped default config must parse: %v", err)
	}
	if cfg.Worker.Type != "generalist" || cfg.Worker.Capacity != 1 || cfg.Poll.FallbackSeconds != 10 {
		t.Errorf("unexpected defaults after parsing the shipped config: %+v", cfg)
	}
}
