package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/fuelops")
	t.Setenv("PORT", "")
	t.Setenv("RECON_TOLERANCE_PERCENT", "")
	t.Setenv("TX_MAX_RETRIES", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Port)
	}
	if cfg.ReconTolerancePercent != 5 {
		t.Errorf("tolerance = %d, want 5", cfg.ReconTolerancePercent)
	}
	if cfg.TxMaxRetries != 3 {
		t.Errorf("retries = %d, want 3", cfg.TxMaxRetries)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}
}

func TestLoadFromDotEnv(t *testing.T) {
	dir := t.TempDir()
	env := strings.Join([]string{
		"# local settings",
		"DATABASE_URL=\"postgres://localhost/fuel\"",
		"PORT=9090",
		"RECON_TOLERANCE_PERCENT=10",
		"TX_MAX_RETRIES=5",
	}, "\n")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	chdir(t, dir)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")
	t.Setenv("RECON_TOLERANCE_PERCENT", "")
	t.Setenv("TX_MAX_RETRIES", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://localhost/fuel" {
		t.Errorf("database url = %q, quotes should be stripped", cfg.DatabaseURL)
	}
	if cfg.Port != 9090 || cfg.ReconTolerancePercent != 10 || cfg.TxMaxRetries != 5 {
		t.Errorf("cfg = %+v, .env values not applied", cfg)
	}
}

func TestLoadEnvironmentBeatsDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("DATABASE_URL=postgres://file\nPORT=7000\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	chdir(t, dir)
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://env" {
		t.Errorf("database url = %q, environment should win", cfg.DatabaseURL)
	}
	if cfg.Port != 7000 {
		t.Errorf("port = %d, .env should fill unset values", cfg.Port)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad port", "PORT", "-1"},
		{"bad tolerance", "RECON_TOLERANCE_PERCENT", "101"},
		{"bad retries", "TX_MAX_RETRIES", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			t.Setenv("DATABASE_URL", "postgres://localhost/fuel")
			t.Setenv("PORT", "")
			t.Setenv("RECON_TOLERANCE_PERCENT", "")
			t.Setenv("TX_MAX_RETRIES", "")
			t.Setenv(tc.key, tc.value)

			if _, err := Load(); err == nil {
				t.Fatalf("%s=%s should be rejected", tc.key, tc.value)
			}
		})
	}
}
