package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "famcal.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithEnvSecrets(t *testing.T) {
	t.Setenv("FAMCAL_SECRET_KEY", "s3cret")
	t.Setenv("FAMCAL_JWT_SECRET", "jwt")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want %q", cfg.Port, "8080")
	}
	if cfg.Sync.Schedule != "@every 5m" {
		t.Errorf("Sync.Schedule = %q, want %q", cfg.Sync.Schedule, "@every 5m")
	}
	if cfg.Notify.ReminderLead != 15*time.Minute {
		t.Errorf("ReminderLead = %v, want 15m", cfg.Notify.ReminderLead)
	}
	if cfg.Google.Enabled() {
		t.Error("google should be disabled without credentials")
	}
	if cfg.Push.Enabled() || cfg.Backup.Enabled() {
		t.Error("push and backups should be disabled by default")
	}
	if cfg.Backup.Retention != 30*24*time.Hour {
		t.Errorf("Backup.Retention = %v, want 720h", cfg.Backup.Retention)
	}
}

func TestLoadBackupAndPushFromEnv(t *testing.T) {
	t.Setenv("FAMCAL_SECRET_KEY", "s3cret")
	t.Setenv("FAMCAL_JWT_SECRET", "jwt")
	t.Setenv("FAMCAL_VAPID_PUBLIC_KEY", "pub")
	t.Setenv("FAMCAL_VAPID_PRIVATE_KEY", "priv")
	t.Setenv("FAMCAL_BACKUP_BUCKET", "famcal-backups")
	t.Setenv("FAMCAL_BACKUP_ACCESS_KEY", "ak")
	t.Setenv("FAMCAL_BACKUP_SECRET_KEY", "sk")
	t.Setenv("FAMCAL_BACKUP_PASSPHRASE", "horse")
	t.Setenv("FAMCAL_BACKUP_RETENTION", "168h")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Push.Enabled() {
		t.Error("push should be enabled with both VAPID keys")
	}
	if !cfg.Backup.Enabled() {
		t.Error("backups should be enabled")
	}
	if cfg.Backup.Retention != 7*24*time.Hour {
		t.Errorf("Backup.Retention = %v, want 168h", cfg.Backup.Retention)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeFile(t, `
port: "9090"
secret_key: from-file
jwt_secret: jwt-file
google:
  client_id: id
  client_secret: secret
sync:
  schedule: "*/10 * * * *"
  timeout: 30s
notify:
  on_update: false
cache:
  ttl: 1m
`)
	t.Setenv("FAMCAL_PORT", "7070")
	t.Setenv("FAMCAL_MAX_EVENTS_PER_CALENDAR", "50")
	t.Setenv("FAMCAL_ALLOWED_ORIGINS", "family.example.com, *.family.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "7070" {
		t.Errorf("Port = %q, want env override %q", cfg.Port, "7070")
	}
	if cfg.SecretKey != "from-file" {
		t.Errorf("SecretKey = %q, want %q", cfg.SecretKey, "from-file")
	}
	if cfg.Sync.Timeout != 30*time.Second {
		t.Errorf("Sync.Timeout = %v, want 30s", cfg.Sync.Timeout)
	}
	if cfg.Notify.OnUpdate || !cfg.Notify.OnCreate {
		t.Errorf("Notify = %+v, want on_create only", cfg.Notify)
	}
	if cfg.Cache.TTL != time.Minute {
		t.Errorf("Cache.TTL = %v, want 1m", cfg.Cache.TTL)
	}
	if cfg.Limits.MaxEventsPerCalendar != 50 {
		t.Errorf("MaxEventsPerCalendar = %d, want 50", cfg.Limits.MaxEventsPerCalendar)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "*.family.example.com" {
		t.Errorf("AllowedOrigins = %q", cfg.AllowedOrigins)
	}
	if !cfg.Google.Enabled() {
		t.Error("google should be enabled")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadBadEnv(t *testing.T) {
	t.Setenv("FAMCAL_SECRET_KEY", "s")
	t.Setenv("FAMCAL_JWT_SECRET", "j")
	t.Setenv("FAMCAL_SYNC_TIMEOUT", "soon")

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "FAMCAL_SYNC_TIMEOUT") {
		t.Errorf("err = %v, want FAMCAL_SYNC_TIMEOUT error", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.SecretKey = "s"
		c.JWTSecret = "j"
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing secret", func(c *Config) { c.SecretKey = "" }, "secret_key"},
		{"missing jwt", func(c *Config) { c.JWTSecret = "" }, "jwt_secret"},
		{"bad port", func(c *Config) { c.Port = "http" }, "port"},
		{"bad schedule", func(c *Config) { c.Sync.Schedule = "sometimes" }, "sync.schedule"},
		{"zero timeout", func(c *Config) { c.Sync.Timeout = 0 }, "sync.timeout"},
		{"zero limit", func(c *Config) { c.Limits.MaxEventsPerCalendar = 0 }, "max_events_per_calendar"},
		{"half google", func(c *Config) { c.Google.ClientID = "id" }, "google"},
		{"half vapid", func(c *Config) { c.Push.VAPIDPublicKey = "pub" }, "push.vapid"},
		{"backup without passphrase", func(c *Config) { c.Backup.Bucket = "b" }, "backup.passphrase"},
		{"bad backup schedule", func(c *Config) { c.Backup.Bucket = "b"; c.Backup.Passphrase = "p"; c.Backup.Schedule = "nightly" }, "backup.schedule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}

	if err := valid().Validate(); err != nil {
		t.Errorf("valid config: %v", err)
	}
}
