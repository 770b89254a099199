package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for
// LoadConfig and returns its path.
func writeTempConfig(t *testing.T) string {
	t.Helper()
	content := `driftflow:
  name: "TestApp"
  version: "1.0"
  markets:
    - "SOL-PERP"
source:
  base_url: "https://example.com/market"
  timeout: 5s
fetch:
  max_attempts: 3
  base_delay: 1s
  max_delay: 10s
  ban_sleep_fallback: 65s
  request_interval: 200ms
scheduler:
  default_lookback_days: 30
pass:
  idle_sleep: 300s
  busy_sleep: 30s
storage:
  mysql:
    host: "localhost"
    port: 3306
    user: "root"
    database: "driftflow_test"
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Driftflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Driftflow.Name)
	}
	if len(cfg.Driftflow.Markets) != 1 || cfg.Driftflow.Markets[0] != "SOL-PERP" {
		t.Errorf("unexpected markets: %v", cfg.Driftflow.Markets)
	}
	if cfg.Source.Timeout != 5*time.Second {
		t.Errorf("unexpected timeout: %v", cfg.Source.Timeout)
	}
	// Defaults that the file does not set.
	if cfg.Fetch.MaxRecordsPerDay != 10000 {
		t.Errorf("unexpected max records per day: %d", cfg.Fetch.MaxRecordsPerDay)
	}
	if cfg.Scheduler.CompleteHourThreshold != 20 {
		t.Errorf("unexpected completeness threshold: %d", cfg.Scheduler.CompleteHourThreshold)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/config.yml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadConfigMissingMarkets(t *testing.T) {
	content := `driftflow:
  name: "TestApp"
  version: "1.0"
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()

	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatal("expected validation error for missing markets")
	} else if !strings.Contains(err.Error(), "markets") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MYSQL_HOST", "db.internal")
	t.Setenv("MYSQL_PORT", "3307")
	t.Setenv("MYSQL_PASSWORD", "secret")

	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Storage.MySQL.Host != "db.internal" {
		t.Errorf("host override not applied: %s", cfg.Storage.MySQL.Host)
	}
	if cfg.Storage.MySQL.Port != 3307 {
		t.Errorf("port override not applied: %d", cfg.Storage.MySQL.Port)
	}
	if cfg.Storage.MySQL.Password != "secret" {
		t.Errorf("password override not applied")
	}
}

func TestDSN(t *testing.T) {
	m := MySQLConfig{Host: "localhost", Port: 3306, User: "u", Password: "p", Database: "d"}
	dsn := m.DSN()
	want := "u:p@tcp(localhost:3306)/d?charset=utf8mb4&parseTime=True&loc=UTC"
	if dsn != want {
		t.Fatalf("unexpected DSN: %s", dsn)
	}
}

func TestResolveConfigPathExplicit(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	got := ResolveConfigPath("custom.yml", "config/config.yml")
	if got != "custom.yml" {
		t.Fatalf("explicit path must win, got %s", got)
	}
}

func TestAppEnvironmentAliases(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	if env := AppEnvironment(); env != EnvironmentProduction {
		t.Fatalf("alias not resolved: %s", env)
	}
	if !IsProductionLike(EnvironmentStaging) {
		t.Fatal("staging should be production-like")
	}
	if IsProductionLike(EnvironmentDevelopment) {
		t.Fatal("development should not be production-like")
	}
}
