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
	path := filepath.Join(dir, "assistant.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "database:\n  path: test.db\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Limits.RPM["free"] != 20 {
		t.Errorf("free rpm = %d, want 20", cfg.Limits.RPM["free"])
	}
	if cfg.Limits.RPD["premium"] != 5000 {
		t.Errorf("premium rpd = %d, want 5000", cfg.Limits.RPD["premium"])
	}
	if cfg.Limits.MonthlyTokens["premium"] != 80000 {
		t.Errorf("premium tokens = %d, want 80000", cfg.Limits.MonthlyTokens["premium"])
	}
	if cfg.Calendar.ConfirmTTL != 15*time.Minute {
		t.Errorf("confirm ttl = %v, want 15m", cfg.Calendar.ConfirmTTL)
	}
	if cfg.LLM.BaseURL == "" {
		t.Error("llm base url default not applied")
	}
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "sk-or-test")
	path := writeConfig(t, "llm:\n  api_key: ${TEST_LLM_KEY}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-or-test" {
		t.Errorf("api key = %q, want expanded env value", cfg.LLM.APIKey)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
limits:
  rpm:
    free: 5
    vip: 120
calendar:
  default_timezone: Europe/Moscow
  confirm_ttl: 5m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Limits.RPM["free"] != 5 {
		t.Errorf("free rpm = %d, want 5", cfg.Limits.RPM["free"])
	}
	if cfg.Limits.RPM["vip"] != 120 {
		t.Errorf("vip rpm = %d, want 120", cfg.Limits.RPM["vip"])
	}
	// premium default still fills in alongside explicit entries
	if cfg.Limits.RPM["premium"] != 60 {
		t.Errorf("premium rpm = %d, want 60", cfg.Limits.RPM["premium"])
	}
	if cfg.Calendar.ConfirmTTL != 5*time.Minute {
		t.Errorf("confirm ttl = %v, want 5m", cfg.Calendar.ConfirmTTL)
	}
	if cfg.DefaultLocation().String() != "Europe/Moscow" {
		t.Errorf("location = %s, want Europe/Moscow", cfg.DefaultLocation())
	}
}

func TestLoadBadTimezone(t *testing.T) {
	path := writeConfig(t, "calendar:\n  default_timezone: Mars/Olympus\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}
