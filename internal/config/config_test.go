package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Monitor.ValueThreshold != 1_000_000 {
		t.Errorf("value threshold = %v", cfg.Monitor.ValueThreshold)
	}
	if cfg.Transparency.RequestsPerMinute != 30 || cfg.Transparency.MaxRetries != 3 {
		t.Errorf("transparency defaults = %+v", cfg.Transparency)
	}
	if !cfg.Executor.EnablePooling {
		t.Error("pooling disabled by default")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cidadao.yaml")
	content := `
server:
  port: 9001
monitor:
  value_threshold: 500000
  priority_organisations: ["26000"]
queue:
  max_workers: 8
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("port = %d, want 9001", cfg.Server.Port)
	}
	if cfg.Monitor.ValueThreshold != 500000 {
		t.Errorf("value threshold = %v, want 500000", cfg.Monitor.ValueThreshold)
	}
	if len(cfg.Monitor.PriorityOrganisations) != 1 {
		t.Errorf("priority orgs = %v", cfg.Monitor.PriorityOrganisations)
	}
	if cfg.Queue.MaxWorkers != 8 {
		t.Errorf("max workers = %d, want 8", cfg.Queue.MaxWorkers)
	}

	// Untouched sections keep their defaults.
	if cfg.Transparency.BaseURL == "" || cfg.Alerting.SMTPPort != 587 {
		t.Error("defaults lost for unconfigured sections")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	os.WriteFile(path, []byte("server: [not a map"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("broken YAML accepted")
	}
}

func TestEnvSecretsOverride(t *testing.T) {
	t.Setenv("TRANSPARENCY_API_KEY", "portal-key")
	t.Setenv("DISPENSAS_BEARER_TOKEN", "disp-token")
	t.Setenv("SMTP_PASSWORD", "smtp-pass")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transparency.APIKey != "portal-key" {
		t.Errorf("api key = %q", cfg.Transparency.APIKey)
	}
	if cfg.Dispensas.BearerToken != "disp-token" {
		t.Errorf("bearer token = %q", cfg.Dispensas.BearerToken)
	}
	if cfg.Alerting.SMTPPassword != "smtp-pass" {
		t.Errorf("smtp password = %q", cfg.Alerting.SMTPPassword)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	if cfg.Executor.DefaultTimeout() != 60*time.Second {
		t.Errorf("executor timeout = %v", cfg.Executor.DefaultTimeout())
	}
	if cfg.Queue.SoftLimit() != 300*time.Second || cfg.Queue.HardLimit() != 600*time.Second {
		t.Errorf("queue limits = %v/%v", cfg.Queue.SoftLimit(), cfg.Queue.HardLimit())
	}
}
