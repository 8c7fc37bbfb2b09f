package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Stream.AdmissionCap != 5 {
		t.Errorf("expected admission cap 5, got %d", cfg.Stream.AdmissionCap)
	}
	if cfg.Stream.BatchSize != 10 {
		t.Errorf("expected batch size 10, got %d", cfg.Stream.BatchSize)
	}
	if cfg.Stream.BatchInterval != 500*time.Millisecond {
		t.Errorf("expected batch interval 500ms, got %s", cfg.Stream.BatchInterval)
	}
	if cfg.Stream.HistoryCapacity != 1000 {
		t.Errorf("expected history capacity 1000, got %d", cfg.Stream.HistoryCapacity)
	}
	if cfg.Stream.MaxTrackedSessions != 100 {
		t.Errorf("expected 100 tracked sessions, got %d", cfg.Stream.MaxTrackedSessions)
	}
	if cfg.Stream.HeartbeatInterval != 30*time.Second {
		t.Errorf("expected heartbeat 30s, got %s", cfg.Stream.HeartbeatInterval)
	}
	if cfg.Stream.SessionIdleTimeout != 60*time.Minute {
		t.Errorf("expected idle timeout 60m, got %s", cfg.Stream.SessionIdleTimeout)
	}
	if cfg.NATS.URL != "" {
		t.Errorf("expected mirror disabled by default, got %q", cfg.NATS.URL)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "finsight.yaml")
	yaml := `
server:
  port: "9090"
stream:
  admission_cap: 2
  batch_size: 25
rate:
  run_start:
    requests_per_second: 1.5
    burst: 3
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Stream.AdmissionCap != 2 {
		t.Errorf("expected admission cap 2, got %d", cfg.Stream.AdmissionCap)
	}
	if cfg.Stream.BatchSize != 25 {
		t.Errorf("expected batch size 25, got %d", cfg.Stream.BatchSize)
	}
	if cfg.Rate.RunStart.RequestsPerSecond != 1.5 || cfg.Rate.RunStart.Burst != 3 {
		t.Errorf("unexpected run_start limit %+v", cfg.Rate.RunStart)
	}
	// Untouched values keep their defaults.
	if cfg.Stream.HistoryCapacity != 1000 {
		t.Errorf("expected history capacity default kept, got %d", cfg.Stream.HistoryCapacity)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "finsight.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"9090\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FINSIGHT_PORT", "7070")
	t.Setenv("FINSIGHT_ADMISSION_CAP", "9")
	t.Setenv("FINSIGHT_BATCH_INTERVAL", "250ms")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("env must beat yaml, got port %s", cfg.Server.Port)
	}
	if cfg.Stream.AdmissionCap != 9 {
		t.Errorf("expected admission cap 9, got %d", cfg.Stream.AdmissionCap)
	}
	if cfg.Stream.BatchInterval != 250*time.Millisecond {
		t.Errorf("expected batch interval 250ms, got %s", cfg.Stream.BatchInterval)
	}
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected NATS URL set, got %q", cfg.NATS.URL)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"zero admission cap", "stream:\n  admission_cap: 0\n"},
		{"zero batch size", "stream:\n  batch_size: 0\n"},
		{"zero history", "stream:\n  history_capacity: 0\n"},
		{"zero rate burst", "rate:\n  default:\n    burst: 0\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "finsight.yaml")
			if err := os.WriteFile(path, []byte(tc.yaml), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadFrom(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "finsight.yaml")
	if err := os.WriteFile(path, []byte("server: [broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadMissingFileIsFine(t *testing.T) {
	if _, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml")); err != nil {
		t.Fatalf("missing yaml must not error: %v", err)
	}
}
