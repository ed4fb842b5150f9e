package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected API address: %s", cfg.Server.Address)
	}
	if cfg.Server.ProbeAddress != ":50051" {
		t.Fatalf("unexpected probe address: %s", cfg.Server.ProbeAddress)
	}
	if cfg.Server.MetricsAddress != ":2112" {
		t.Fatalf("unexpected metrics address: %s", cfg.Server.MetricsAddress)
	}
	if cfg.Analysis.ExpectedIntervalMinutes != 30 || cfg.Analysis.ToleranceFactor != 1.5 {
		t.Fatalf("unexpected analysis defaults: %+v", cfg.Analysis)
	}
	if cfg.Clients.Core.SeriesPath != "/api/v1/metrics/query" {
		t.Fatalf("unexpected series path: %s", cfg.Clients.Core.SeriesPath)
	}
	if cfg.Cache.Enabled {
		t.Fatal("cache should default to disabled")
	}
	if cfg.Cache.SeriesTTL != time.Minute {
		t.Fatalf("unexpected series TTL: %v", cfg.Cache.SeriesTTL)
	}
}

func TestLoadFromFile(t *testing.T) {
	contents := `
server:
  address: ":9090"
  gracefulTimeout: 5s
  allowedOrigins:
    - https://console.vigilstack.io
clients:
  core:
    baseURL: http://vigil-core:8080
    timeout: 2s
analysis:
  expectedIntervalMinutes: 60
  fleetConcurrency: 8
rules:
  path: /etc/vmhealth/rules.yaml
  watch: true
logging:
  level: debug
  json: true
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Address != ":9090" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.Server.GracefulTimeout != 5*time.Second {
		t.Fatalf("unexpected graceful timeout: %v", cfg.Server.GracefulTimeout)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://console.vigilstack.io" {
		t.Fatalf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Clients.Core.BaseURL != "http://vigil-core:8080" {
		t.Fatalf("unexpected base URL: %s", cfg.Clients.Core.BaseURL)
	}
	if cfg.Analysis.ExpectedIntervalMinutes != 60 {
		t.Fatalf("unexpected interval: %v", cfg.Analysis.ExpectedIntervalMinutes)
	}
	if cfg.Analysis.FleetConcurrency != 8 {
		t.Fatalf("unexpected concurrency: %d", cfg.Analysis.FleetConcurrency)
	}
	if !cfg.Rules.Watch || cfg.Rules.Path != "/etc/vmhealth/rules.yaml" {
		t.Fatalf("unexpected rules config: %+v", cfg.Rules)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.JSON {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Clients.Core.SeriesPath != "/api/v1/metrics/query" {
		t.Fatalf("default series path lost: %s", cfg.Clients.Core.SeriesPath)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VMHEALTH_SERVER_ADDRESS", ":7070")
	t.Setenv("VMHEALTH_CORE_BASE_URL", "http://core.test:8080")
	t.Setenv("VMHEALTH_ALLOWED_ORIGINS", "https://a.test, https://b.test")
	t.Setenv("VMHEALTH_EXPECTED_INTERVAL_MINUTES", "15")
	t.Setenv("VMHEALTH_RULES_WATCH", "true")
	t.Setenv("VMHEALTH_CACHE_ENABLED", "1")
	t.Setenv("VMHEALTH_CACHE_ADDR", "valkey.test:6379")
	t.Setenv("VMHEALTH_CACHE_SERIES_TTL", "90s")
	t.Setenv("VMHEALTH_LOG_FORMAT", "json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Address != ":7070" {
		t.Fatalf("env address override lost: %s", cfg.Server.Address)
	}
	if cfg.Clients.Core.BaseURL != "http://core.test:8080" {
		t.Fatalf("env base URL override lost: %s", cfg.Clients.Core.BaseURL)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.test" {
		t.Fatalf("env origins override lost: %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Analysis.ExpectedIntervalMinutes != 15 {
		t.Fatalf("env interval override lost: %v", cfg.Analysis.ExpectedIntervalMinutes)
	}
	if !cfg.Rules.Watch {
		t.Fatal("env watch override lost")
	}
	if !cfg.Cache.Enabled || cfg.Cache.Addr != "valkey.test:6379" {
		t.Fatalf("env cache overrides lost: %+v", cfg.Cache)
	}
	if cfg.Cache.SeriesTTL != 90*time.Second {
		t.Fatalf("env TTL override lost: %v", cfg.Cache.SeriesTTL)
	}
	if !cfg.Logging.JSON {
		t.Fatal("env log format override lost")
	}
}
