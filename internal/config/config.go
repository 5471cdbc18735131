// Package config loads famcal settings from defaults, an optional YAML file,
// a .env file and FAMCAL_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const envPrefix = "FAMCAL_"

type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
	// TokenURL overrides the OAuth token endpoint.
	TokenURL string `yaml:"token_url"`
}

// Enabled reports whether provider calendars can be used.
func (g GoogleConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

type SyncConfig struct {
	Schedule string        `yaml:"schedule"`
	Timeout  time.Duration `yaml:"timeout"`
}

type NotifyConfig struct {
	Buffer       int           `yaml:"buffer"`
	ReminderLead time.Duration `yaml:"reminder_lead"`
	OnCreate     bool          `yaml:"on_create"`
	OnUpdate     bool          `yaml:"on_update"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type LimitsConfig struct {
	MaxEventsPerCalendar int `yaml:"max_events_per_calendar"`
}

type PushConfig struct {
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	Subscriber      string `yaml:"subscriber"`
}

func (p PushConfig) Enabled() bool {
	return p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != ""
}

// BackupConfig points database backups at S3-compatible storage. Backups
// are disabled until a bucket, credentials and a passphrase are set.
type BackupConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	Bucket     string        `yaml:"bucket"`
	Region     string        `yaml:"region"`
	AccessKey  string        `yaml:"access_key"`
	SecretKey  string        `yaml:"secret_key"`
	Passphrase string        `yaml:"passphrase"`
	Prefix     string        `yaml:"prefix"`
	Schedule   string        `yaml:"schedule"`
	Retention  time.Duration `yaml:"retention"`
}

func (b BackupConfig) Enabled() bool {
	return b.Bucket != "" && b.AccessKey != "" && b.SecretKey != "" && b.Passphrase != ""
}

type Config struct {
	Port      string `yaml:"port"`
	DBPath    string `yaml:"db_path"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	SecretKey string `yaml:"secret_key"`
	JWTSecret string `yaml:"jwt_secret"`
	// AllowedOrigins are host patterns accepted for WebSocket upgrades.
	AllowedOrigins []string `yaml:"allowed_origins"`

	Google GoogleConfig `yaml:"google"`
	Sync   SyncConfig   `yaml:"sync"`
	Notify NotifyConfig `yaml:"notify"`
	Cache  CacheConfig  `yaml:"cache"`
	Limits LimitsConfig `yaml:"limits"`
	Push   PushConfig   `yaml:"push"`
	Backup BackupConfig `yaml:"backup"`
}

func Default() *Config {
	return &Config{
		Port:      "8080",
		DBPath:    "famcal.db",
		LogLevel:  "info",
		LogFormat: "text",
		Sync: SyncConfig{
			Schedule: "@every 5m",
			Timeout:  2 * time.Minute,
		},
		Notify: NotifyConfig{
			Buffer:       64,
			ReminderLead: 15 * time.Minute,
			OnCreate:     true,
			OnUpdate:     true,
		},
		Cache:  CacheConfig{TTL: 5 * time.Minute},
		Limits: LimitsConfig{MaxEventsPerCalendar: 1000},
		Backup: BackupConfig{
			Region:    "us-east-1",
			Prefix:    "famcal",
			Schedule:  "0 3 * * *",
			Retention: 30 * 24 * time.Hour,
		},
	}
}

// Load builds the configuration. An empty path skips the YAML file; a
// missing .env file is ignored.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(envPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(envPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(envPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("PORT", &c.Port)
	str("DB_PATH", &c.DBPath)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("SECRET_KEY", &c.SecretKey)
	str("JWT_SECRET", &c.JWTSecret)
	if v, ok := lookup(envPrefix + "ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	}
	str("GOOGLE_CLIENT_ID", &c.Google.ClientID)
	str("GOOGLE_CLIENT_SECRET", &c.Google.ClientSecret)
	str("GOOGLE_REDIRECT_URL", &c.Google.RedirectURL)
	str("GOOGLE_TOKEN_URL", &c.Google.TokenURL)
	str("SYNC_SCHEDULE", &c.Sync.Schedule)
	dur("SYNC_TIMEOUT", &c.Sync.Timeout)
	num("NOTIFY_BUFFER", &c.Notify.Buffer)
	dur("NOTIFY_REMINDER_LEAD", &c.Notify.ReminderLead)
	flag("NOTIFY_ON_CREATE", &c.Notify.OnCreate)
	flag("NOTIFY_ON_UPDATE", &c.Notify.OnUpdate)
	dur("CACHE_TTL", &c.Cache.TTL)
	num("MAX_EVENTS_PER_CALENDAR", &c.Limits.MaxEventsPerCalendar)
	str("VAPID_PUBLIC_KEY", &c.Push.VAPIDPublicKey)
	str("VAPID_PRIVATE_KEY", &c.Push.VAPIDPrivateKey)
	str("VAPID_SUBSCRIBER", &c.Push.Subscriber)
	str("BACKUP_ENDPOINT", &c.Backup.Endpoint)
	str("BACKUP_BUCKET", &c.Backup.Bucket)
	str("BACKUP_REGION", &c.Backup.Region)
	str("BACKUP_ACCESS_KEY", &c.Backup.AccessKey)
	str("BACKUP_SECRET_KEY", &c.Backup.SecretKey)
	str("BACKUP_PASSPHRASE", &c.Backup.Passphrase)
	str("BACKUP_PREFIX", &c.Backup.Prefix)
	str("BACKUP_SCHEDULE", &c.Backup.Schedule)
	dur("BACKUP_RETENTION", &c.Backup.Retention)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.SecretKey == "" {
		errs = append(errs, errors.New("secret_key is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required"))
	}
	if n, err := strconv.Atoi(c.Port); err != nil || n < 1 || n > 65535 {
		errs = append(errs, fmt.Errorf("port %q is not a valid port", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("sync.schedule: %w", err))
	}
	if c.Sync.Timeout <= 0 {
		errs = append(errs, errors.New("sync.timeout must be positive"))
	}
	if c.Notify.Buffer <= 0 {
		errs = append(errs, errors.New("notify.buffer must be positive"))
	}
	if c.Notify.ReminderLead < 0 {
		errs = append(errs, errors.New("notify.reminder_lead must not be negative"))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, errors.New("cache.ttl must not be negative"))
	}
	if c.Limits.MaxEventsPerCalendar <= 0 {
		errs = append(errs, errors.New("limits.max_events_per_calendar must be positive"))
	}
	if (c.Google.ClientID == "") != (c.Google.ClientSecret == "") {
		errs = append(errs, errors.New("google.client_id and google.client_secret must be set together"))
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		errs = append(errs, errors.New("push.vapid_public_key and push.vapid_private_key must be set together"))
	}
	if c.Backup.Bucket != "" {
		if _, err := cron.ParseStandard(c.Backup.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("backup.schedule: %w", err))
		}
		if c.Backup.Passphrase == "" {
			errs = append(errs, errors.New("backup.passphrase is required when backup.bucket is set"))
		}
		if c.Backup.Retention < 0 {
			errs = append(errs, errors.New("backup.retention must not be negative"))
		}
	}
	return errors.Join(errs...)
}
