package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingAccountID(t *testing.T) {
	t.Setenv("ACCOUNT_ID", "")
	t.Setenv("DATABASE_DSN", "postgres://x")
	if _, err := Load(""); err == nil {
		t.Error("expected ConfigError for missing ACCOUNT_ID")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ACCOUNT_ID", "acct-1")
	t.Setenv("DATABASE_DSN", "postgres://x")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SignalMaxRetries != 3 {
		t.Errorf("SignalMaxRetries = %d, want 3", cfg.SignalMaxRetries)
	}
	if cfg.VixyPanicThreshold != 30.0 {
		t.Errorf("VixyPanicThreshold = %v, want 30.0", cfg.VixyPanicThreshold)
	}
	if len(cfg.RegimeIndexSymbols) != 3 {
		t.Errorf("RegimeIndexSymbols = %v, want 3 defaults", cfg.RegimeIndexSymbols)
	}
}

func TestLoad_YAMLOverlayRejectsUnknownKeys(t *testing.T) {
	t.Setenv("ACCOUNT_ID", "acct-1")
	t.Setenv("DATABASE_DSN", "postgres://x")

	dir := t.TempDir()
	path := filepath.Join(dir, "override.yaml")
	if err := os.WriteFile(path, []byte("not_a_real_field: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected ConfigError for unknown override key")
	}
}

func TestLoad_YAMLOverlayAppliesKnownKeys(t *testing.T) {
	t.Setenv("ACCOUNT_ID", "acct-1")
	t.Setenv("DATABASE_DSN", "postgres://x")

	dir := t.TempDir()
	path := filepath.Join(dir, "override.yaml")
	if err := os.WriteFile(path, []byte("kelly_max_position: 0.3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.KellyMaxPosition != 0.3 {
		t.Errorf("KellyMaxPosition = %v, want 0.3 from override", cfg.KellyMaxPosition)
	}
}
