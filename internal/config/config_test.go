package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
token: "123:abc"
database_path: "/tmp/test.db"
check_interval_seconds: 30
min_delivery_interval_seconds: 5
default_timezone: "Europe/Berlin"
admin_user_ids: [1, 2]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Token)
	}
	if cfg.CheckInterval() != 30*time.Second {
		t.Fatalf("check interval = %v", cfg.CheckInterval())
	}
	if cfg.MinDeliveryInterval() != 5*time.Second {
		t.Fatalf("delivery interval = %v", cfg.MinDeliveryInterval())
	}
	if cfg.DefaultTimezone != "Europe/Berlin" {
		t.Fatalf("timezone = %q", cfg.DefaultTimezone)
	}
	if !cfg.IsAdmin(1) || !cfg.IsAdmin(2) || cfg.IsAdmin(3) {
		t.Fatalf("admin ids = %v", cfg.AdminUserIDs)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
token: "from-yaml"
check_interval_seconds: 30
`)
	t.Setenv("BOT_TOKEN", "from-env")
	t.Setenv("CHECK_INTERVAL_SECONDS", "120")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Token != "from-env" {
		t.Fatalf("token = %q, want env to win", cfg.Token)
	}
	if cfg.CheckIntervalSeconds != 120 {
		t.Fatalf("check interval = %d, want env to win", cfg.CheckIntervalSeconds)
	}
}

func TestEnvOnlyConfig(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
	if cfg.CheckIntervalSeconds != 60 {
		t.Fatalf("default check interval = %d, want 60", cfg.CheckIntervalSeconds)
	}
	if cfg.MinDeliveryIntervalSeconds != 3 {
		t.Fatalf("default delivery interval = %d, want 3", cfg.MinDeliveryIntervalSeconds)
	}
	if cfg.DefaultTimezone != "UTC" {
		t.Fatalf("default timezone = %q, want UTC", cfg.DefaultTimezone)
	}
}

func TestMissingTokenFails(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestIntervalFloor(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("CHECK_INTERVAL_SECONDS", "0")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CheckIntervalSeconds != 1 {
		t.Fatalf("check interval = %d, want floor 1", cfg.CheckIntervalSeconds)
	}
}

func TestInvalidYAMLFails(t *testing.T) {
	path := writeConfig(t, "token: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected yaml parse error")
	}
}
