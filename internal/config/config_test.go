package config

import (
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if len(cfg.Templates.Directories) != 1 || cfg.Templates.Directories[0] != "./templates" {
		t.Errorf("Templates.Directories = %v", cfg.Templates.Directories)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Engine.DefaultHorizonDays != 45 {
		t.Errorf("Engine.DefaultHorizonDays = %d, want 45", cfg.Engine.DefaultHorizonDays)
	}
	if cfg.Nudges.SweepInterval != 30*time.Second {
		t.Errorf("Nudges.SweepInterval = %v, want 30s", cfg.Nudges.SweepInterval)
	}
	if cfg.Nudges.BatchSize != 50 {
		t.Errorf("Nudges.BatchSize = %d, want 50", cfg.Nudges.BatchSize)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Observability.LogLevel)
	}
	if !cfg.Observability.Tracing.Enabled || cfg.Observability.Tracing.Exporter != "stdout" {
		t.Errorf("Tracing = %+v", cfg.Observability.Tracing)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_bad_driver(t *testing.T) {
	_, err := Load("testdata/bad_driver.yaml")
	if err == nil {
		t.Fatal("Load() with unsupported store driver should return error")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("default Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Nudges.SweepInterval != 60*time.Second {
		t.Errorf("default Nudges.SweepInterval = %v, want 60s", cfg.Nudges.SweepInterval)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PULSE_SERVER_PORT", "3000")
	t.Setenv("PULSE_OBSERVABILITY_LOG_LEVEL", "error")
	t.Setenv("PULSE_TEMPLATE_DIRS", "/etc/pulse/templates,/opt/templates")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
	if len(cfg.Templates.Directories) != 2 {
		t.Errorf("Templates.Directories = %v, want 2 entries from env", cfg.Templates.Directories)
	}
}

func TestValidate_invalid_port(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with port 0 should return error")
	}
}

func TestValidate_postgres_requires_dsn(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Driver = "postgres"
	cfg.Store.DSNEnv = "PULSE_TEST_DSN_UNSET"

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with empty DSN env should return error")
	}

	t.Setenv("PULSE_TEST_DSN_UNSET", "postgres://localhost/pulse")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() with DSN set: %v", err)
	}
}
