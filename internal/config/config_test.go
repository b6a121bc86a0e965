package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg, err := Loader{Environment: map[string]string{}}.Load()
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Sync.PingInterval != 15*time.Second || cfg.Sync.ReadTimeout != 30*time.Second {
		t.Fatalf("unexpected keepalive defaults: %+v", cfg.Sync)
	}
	if cfg.Blob.Driver != BlobMemory {
		t.Fatalf("expected memory blob driver, got %q", cfg.Blob.Driver)
	}
}

func TestPrecedenceFileDotEnvEnvironment(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "foresight.yaml", `
http:
  addr: ":9000"
log:
  level: debug
sweep:
  interval: 2m
queue:
  capacity: 8
`)
	dotenv := writeFile(t, dir, ".env", "FORESIGHT_LOG_LEVEL=warn\nFORESIGHT_QUEUE_CAPACITY=16\n")

	cfg, err := Loader{
		Environment: map[string]string{
			EnvConfigFile:                 file,
			"FORESIGHT_QUEUE_CAPACITY":    "32",
			"FORESIGHT_AUTH_ADMIN_EMAILS": "a@example.com,b@example.com",
		},
		DotEnvFiles: []string{dotenv, filepath.Join(dir, "missing.env")},
	}.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9000" {
		t.Fatalf("file value lost: %q", cfg.HTTP.Addr)
	}
	if cfg.Sweep.Interval != 2*time.Minute {
		t.Fatalf("file duration lost: %s", cfg.Sweep.Interval)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("dotenv should override file, got %q", cfg.Log.Level)
	}
	if cfg.Queue.Capacity != 32 {
		t.Fatalf("environment should override dotenv, got %d", cfg.Queue.Capacity)
	}
	if len(cfg.Auth.AdminEmails) != 2 || cfg.Auth.AdminEmails[1] != "b@example.com" {
		t.Fatalf("unexpected admin emails %v", cfg.Auth.AdminEmails)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"cron", func(c *Config) { c.Sweep.Cron = "every minute" }, "sweep.cron"},
		{"interval", func(c *Config) { c.Sweep.Interval = 0 }, "sweep.interval"},
		{"secret", func(c *Config) { c.Auth.Required = true }, "auth.secret"},
		{"ping", func(c *Config) { c.Sync.PingInterval = time.Minute }, "ping_interval"},
		{"driver", func(c *Config) { c.Blob.Driver = "ftp" }, "unknown blob driver"},
		{"bucket", func(c *Config) { c.Blob.Driver = BlobS3 }, "bucket"},
		{"queue", func(c *Config) { c.Queue.Capacity = -1 }, "queue.capacity"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestValidCronReplacesInterval(t *testing.T) {
	cfg := Default()
	cfg.Sweep.Interval = 0
	cfg.Sweep.Cron = "*/5 * * * *"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestFingerprintTracksClientSettings(t *testing.T) {
	a := Default()
	b := Default()
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("equal configs must share a fingerprint")
	}
	b.Auth.Required = true
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("fingerprint ignored auth.required")
	}
	b.Sync.ConfigFingerprint = "pinned"
	if b.Fingerprint() != "pinned" {
		t.Fatalf("override ignored: %q", b.Fingerprint())
	}
	c := Default()
	c.HTTP.Addr = ":1"
	if a.Fingerprint() != c.Fingerprint() {
		t.Fatalf("listener address must not change the fingerprint")
	}
}

func TestLoadReportsUnreadableFile(t *testing.T) {
	_, err := Loader{Environment: map[string]string{EnvConfigFile: filepath.Join(t.TempDir(), "nope.yaml")}}.Load()
	if err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Fatalf("expected read error, got %v", err)
	}
}
