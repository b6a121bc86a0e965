// Package config loads foresightd settings from defaults, an optional YAML
// file, a .env file and the process environment, in that order of precedence.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

const (
	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "FORESIGHT_"
	// EnvConfigFile names the variable holding the optional YAML file path.
	EnvConfigFile = EnvPrefix + "CONFIG_FILE"
)

// Blob driver names accepted in BlobConfig.Driver.
const (
	BlobMemory = "memory"
	BlobFS     = "fs"
	BlobS3     = "s3"
)

// Config is the complete runtime configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http" envPrefix:"HTTP_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
	Auth     AuthConfig     `yaml:"auth" envPrefix:"AUTH_"`
	Queue    QueueConfig    `yaml:"queue" envPrefix:"QUEUE_"`
	Sweep    SweepConfig    `yaml:"sweep" envPrefix:"SWEEP_"`
	Sync     SyncConfig     `yaml:"sync" envPrefix:"SYNC_"`
	Blob     BlobConfig     `yaml:"blob" envPrefix:"BLOB_"`
	Reminder ReminderConfig `yaml:"reminder" envPrefix:"REMINDER_"`
	Otel     OtelConfig     `yaml:"otel" envPrefix:"OTEL_"`
}

// HTTPConfig configures the listener.
type HTTPConfig struct {
	Addr              string        `yaml:"addr" env:"ADDR"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// AuthConfig configures session tokens and site administrators.
type AuthConfig struct {
	Secret      string        `yaml:"secret" env:"SECRET"`
	Required    bool          `yaml:"required" env:"REQUIRED"`
	SessionTTL  time.Duration `yaml:"session_ttl" env:"SESSION_TTL"`
	CookieName  string        `yaml:"cookie_name" env:"COOKIE_NAME"`
	AdminEmails []string      `yaml:"admin_emails" env:"ADMIN_EMAILS" envSeparator:","`
	// SecureCookie marks the session cookie Secure; enable behind TLS.
	SecureCookie bool `yaml:"secure_cookie" env:"SECURE_COOKIE"`
	// PasswordCost is the bcrypt cost for new credentials. Zero keeps the library default.
	PasswordCost int `yaml:"password_cost" env:"PASSWORD_COST"`
}

// QueueConfig sizes the mutation queue.
type QueueConfig struct {
	Capacity int `yaml:"capacity" env:"CAPACITY"`
}

// SweepConfig drives the lifecycle scheduler. Cron, when set, wins over Interval.
type SweepConfig struct {
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	Cron     string        `yaml:"cron" env:"CRON"`
}

// SyncConfig configures live websocket sessions and the handshake fingerprints.
type SyncConfig struct {
	PingInterval time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	FrameRate    float64       `yaml:"frame_rate" env:"FRAME_RATE"`
	FrameBurst   int           `yaml:"frame_burst" env:"FRAME_BURST"`
	Build        string        `yaml:"build" env:"BUILD"`
	// ConfigFingerprint overrides the computed fingerprint when set.
	ConfigFingerprint string `yaml:"config_fingerprint" env:"CONFIG_FINGERPRINT"`
}

// BlobConfig selects where export archives are written.
type BlobConfig struct {
	Driver    string        `yaml:"driver" env:"DRIVER"`
	FSRoot    string        `yaml:"fs_root" env:"FS_ROOT"`
	URLExpiry time.Duration `yaml:"url_expiry" env:"URL_EXPIRY"`
	S3        S3Config      `yaml:"s3" envPrefix:"S3_"`
}

// S3Config holds the s3 driver settings.
type S3Config struct {
	Bucket          string `yaml:"bucket" env:"BUCKET"`
	Region          string `yaml:"region" env:"REGION"`
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	SessionToken    string `yaml:"session_token" env:"SESSION_TOKEN"`
	PathStyle       bool   `yaml:"path_style" env:"PATH_STYLE"`
}

// ReminderConfig configures the reminder side channel. Without a webhook
// reminders are only logged.
type ReminderConfig struct {
	WebhookURL string        `yaml:"webhook_url" env:"WEBHOOK_URL"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// OtelConfig enables OTLP trace export when Endpoint is set.
type OtelConfig struct {
	Endpoint    string `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	Insecure    bool   `yaml:"insecure" env:"INSECURE"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Log:   LogConfig{Level: "info", Format: "text"},
		Auth:  AuthConfig{SessionTTL: 30 * 24 * time.Hour, CookieName: "foresight_session"},
		Queue: QueueConfig{Capacity: 256},
		Sweep: SweepConfig{Interval: 30 * time.Second},
		Sync: SyncConfig{
			PingInterval: 15 * time.Second,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 10 * time.Second,
			FrameRate:    10,
			FrameBurst:   20,
			Build:        "dev",
		},
		Blob:     BlobConfig{Driver: BlobMemory, FSRoot: "data/exports", URLExpiry: 15 * time.Minute},
		Reminder: ReminderConfig{Timeout: 10 * time.Second},
		Otel:     OtelConfig{ServiceName: "foresightd"},
	}
}

// Loader reads configuration. A nil Environment means the process environment.
type Loader struct {
	Environment map[string]string
	DotEnvFiles []string
}

// Load reads configuration from ./.env and the process environment.
func Load() (Config, error) {
	return Loader{DotEnvFiles: []string{".env"}}.Load()
}

// Load applies defaults, the YAML file, dotenv values and the environment,
// then validates the result.
func (l Loader) Load() (Config, error) {
	environ, err := l.environment()
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if path := environ[EnvConfigFile]; path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// environment merges dotenv values under the real environment.
func (l Loader) environment() (map[string]string, error) {
	merged := make(map[string]string)
	for _, path := range l.DotEnvFiles {
		values, err := godotenv.Read(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		for k, v := range values {
			merged[k] = v
		}
	}
	source := l.Environment
	if source == nil {
		source = env.ToMap(os.Environ())
	}
	for k, v := range source {
		merged[k] = v
	}
	return merged, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Queue.Capacity <= 0 {
		errs = append(errs, errors.New("queue.capacity must be positive"))
	}
	if c.Sweep.Cron != "" {
		if !gronx.IsValid(c.Sweep.Cron) {
			errs = append(errs, fmt.Errorf("sweep.cron %q is not a valid cron expression", c.Sweep.Cron))
		}
	} else if c.Sweep.Interval <= 0 {
		errs = append(errs, errors.New("sweep.interval must be positive"))
	}
	if c.Sync.PingInterval <= 0 || c.Sync.ReadTimeout <= 0 || c.Sync.WriteTimeout <= 0 {
		errs = append(errs, errors.New("sync timeouts must be positive"))
	}
	if c.Sync.PingInterval >= c.Sync.ReadTimeout {
		errs = append(errs, errors.New("sync.ping_interval must be shorter than sync.read_timeout"))
	}
	if c.Sync.FrameRate <= 0 || c.Sync.FrameBurst <= 0 {
		errs = append(errs, errors.New("sync frame rate and burst must be positive"))
	}
	if c.Auth.Required && c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required when auth.required is set"))
	}
	if c.Auth.SessionTTL <= 0 {
		errs = append(errs, errors.New("auth.session_ttl must be positive"))
	}
	switch c.Blob.Driver {
	case BlobMemory:
	case BlobFS:
		if c.Blob.FSRoot == "" {
			errs = append(errs, errors.New("blob.fs_root is required for the fs driver"))
		}
	case BlobS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	if c.Reminder.Timeout <= 0 {
		errs = append(errs, errors.New("reminder.timeout must be positive"))
	}
	return errors.Join(errs...)
}

// Fingerprint identifies the client-relevant settings. Clients send it with
// the websocket handshake and are turned away when it differs.
func (c Config) Fingerprint() string {
	if c.Sync.ConfigFingerprint != "" {
		return c.Sync.ConfigFingerprint
	}
	h := sha256.New()
	fmt.Fprintf(h, "auth.required=%t\n", c.Auth.Required)
	fmt.Fprintf(h, "sync.ping_interval=%s\n", c.Sync.PingInterval)
	fmt.Fprintf(h, "sync.read_timeout=%s\n", c.Sync.ReadTimeout)
	fmt.Fprintf(h, "sync.frame_rate=%g\n", c.Sync.FrameRate)
	fmt.Fprintf(h, "sync.frame_burst=%d\n", c.Sync.FrameBurst)
	fmt.Fprintf(h, "auth.cookie_name=%s\n", c.Auth.CookieName)
	return hex.EncodeToString(h.Sum(nil))[:16]
}
