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

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 0\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.SES.Region != "us-west-2" {
		t.Errorf("default ses region: got %q", cfg.SES.Region)
	}
	if cfg.SES.Timeout() != 30*time.Second {
		t.Errorf("default ses timeout: got %s", cfg.SES.Timeout())
	}
	if cfg.Engine.MaxAttempts != 4 {
		t.Errorf("default attempts: got %d", cfg.Engine.MaxAttempts)
	}
	if cfg.Engine.BaseBackoff() != time.Second {
		t.Errorf("default backoff: got %s", cfg.Engine.BaseBackoff())
	}
	if cfg.Engine.DedupRetention() != 30*24*time.Hour {
		t.Errorf("default dedup retention: got %s", cfg.Engine.DedupRetention())
	}
	if cfg.Bedrock.Region != cfg.SES.Region {
		t.Errorf("bedrock region should follow ses region, got %q", cfg.Bedrock.Region)
	}
}

func TestLoadParsesValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: engine.internal
database:
  url: postgres://localhost/campaigns
redis:
  addr: localhost:6379
ses:
  region: eu-west-1
  from_email: updates@propertypulse.example
  enabled: true
twilio:
  from_number: "+15550009999"
  enabled: true
engine:
  workers: 16
  max_attempts: 2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port: got %d", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://localhost/campaigns" {
		t.Errorf("database url: got %q", cfg.Database.URL)
	}
	if cfg.SES.Region != "eu-west-1" || !cfg.SES.Enabled {
		t.Errorf("ses: got %+v", cfg.SES)
	}
	if cfg.Twilio.FromNumber != "+15550009999" {
		t.Errorf("twilio from: got %q", cfg.Twilio.FromNumber)
	}
	if cfg.Engine.Workers != 16 || cfg.Engine.MaxAttempts != 2 {
		t.Errorf("engine: got %+v", cfg.Engine)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	path := writeConfig(t, "database:\n  url: postgres://file-value\n")

	t.Setenv("DATABASE_URL", "postgres://env-value")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC-env")

	cfg, err := LoadFromEnv(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.URL != "postgres://env-value" {
		t.Errorf("env should win: got %q", cfg.Database.URL)
	}
	if cfg.Twilio.AccountSID != "AC-env" {
		t.Errorf("twilio sid: got %q", cfg.Twilio.AccountSID)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
