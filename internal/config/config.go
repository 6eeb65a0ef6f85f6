// Package config loads server settings from an optional YAML file and the
// environment. Environment variables win over file values; values in the
// file may reference the environment as ${VAR}.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const dbFileName = "tracklist.db"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Push     PushConfig     `yaml:"push"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// DatabaseConfig selects the engine. A non-empty URL means Postgres;
// otherwise SQLite at Path, or inside PersistentDir, or in the working
// directory.
type DatabaseConfig struct {
	URL           string `yaml:"url"`
	Path          string `yaml:"path"`
	PersistentDir string `yaml:"persistent_dir"`
}

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenTTLRaw string        `yaml:"token_ttl"`
	TokenTTL    time.Duration `yaml:"-"`
	FamilyUsers string        `yaml:"family_users"`
	Demo        bool          `yaml:"demo"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SnapshotConfig enables encrypted per-owner exports to S3-compatible
// storage. Snapshots are off unless Bucket is set.
type SnapshotConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	Bucket        string        `yaml:"bucket"`
	Region        string        `yaml:"region"`
	AccessKey     string        `yaml:"access_key"`
	SecretKey     string        `yaml:"secret_key"`
	Passphrase    string        `yaml:"passphrase"`
	IntervalRaw   string        `yaml:"interval"`
	Interval      time.Duration `yaml:"-"`
	RetentionDays int           `yaml:"retention_days"`
}

// Enabled reports whether a bucket is configured.
func (s SnapshotConfig) Enabled() bool {
	return s.Bucket != ""
}

// PushConfig enables Web Push task reminders when both VAPID keys are set.
type PushConfig struct {
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	Subject         string `yaml:"subject"`
	ReminderHour    int    `yaml:"reminder_hour"`
}

func (p PushConfig) Enabled() bool {
	return p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != ""
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "3000"},
		Auth: AuthConfig{
			TokenTTLRaw: "168h",
			Demo:        true,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Snapshot: SnapshotConfig{
			Region:        "us-east-1",
			IntervalRaw:   "24h",
			RetentionDays: 30,
		},
		Push: PushConfig{ReminderHour: 8},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} references with the variable's value.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyEnv() error {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setString(&c.Server.Port, "PORT")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Database.Path, "TRACKLIST_DB_PATH")
	setString(&c.Database.PersistentDir, "TRACKLIST_PERSISTENT_DIR")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Auth.TokenTTLRaw, "JWT_EXPIRES_IN")
	setString(&c.Auth.FamilyUsers, "FAMILY_USERS")
	setString(&c.Snapshot.Endpoint, "TRACKLIST_S3_ENDPOINT")
	setString(&c.Snapshot.Bucket, "TRACKLIST_S3_BUCKET")
	setString(&c.Snapshot.Region, "TRACKLIST_S3_REGION")
	setString(&c.Snapshot.AccessKey, "TRACKLIST_S3_ACCESS_KEY")
	setString(&c.Snapshot.SecretKey, "TRACKLIST_S3_SECRET_KEY")
	setString(&c.Snapshot.Passphrase, "TRACKLIST_SNAPSHOT_PASSPHRASE")
	setString(&c.Snapshot.IntervalRaw, "TRACKLIST_SNAPSHOT_INTERVAL")
	setString(&c.Push.VAPIDPublicKey, "VAPID_PUBLIC_KEY")
	setString(&c.Push.VAPIDPrivateKey, "VAPID_PRIVATE_KEY")
	setString(&c.Push.Subject, "VAPID_SUBJECT")

	if v, ok := os.LookupEnv("TRACKLIST_DEMO"); ok && v != "" {
		demo, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TRACKLIST_DEMO: %w", err)
		}
		c.Auth.Demo = demo
	}
	if v, ok := os.LookupEnv("TRACKLIST_SNAPSHOT_RETENTION_DAYS"); ok && v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TRACKLIST_SNAPSHOT_RETENTION_DAYS: %w", err)
		}
		c.Snapshot.RetentionDays = days
	}
	if v, ok := os.LookupEnv("TRACKLIST_REMINDER_HOUR"); ok && v != "" {
		hour, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TRACKLIST_REMINDER_HOUR: %w", err)
		}
		c.Push.ReminderHour = hour
	}
	return nil
}

// Validate checks the configuration and fills parsed fields.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Port) == "" {
		return fmt.Errorf("server.port is required")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server.port %q is not a number", c.Server.Port)
	}

	ttl, err := time.ParseDuration(c.Auth.TokenTTLRaw)
	if err != nil {
		return fmt.Errorf("auth.token_ttl: %w", err)
	}
	if ttl <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	c.Auth.TokenTTL = ttl

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	if c.Push.ReminderHour < 0 || c.Push.ReminderHour > 23 {
		return fmt.Errorf("push.reminder_hour must be between 0 and 23")
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		return fmt.Errorf("push.vapid_public_key and push.vapid_private_key must be set together")
	}

	return c.Snapshot.validate()
}

func (s *SnapshotConfig) validate() error {
	interval, err := time.ParseDuration(s.IntervalRaw)
	if err != nil {
		return fmt.Errorf("snapshot.interval: %w", err)
	}
	if interval < time.Minute {
		return fmt.Errorf("snapshot.interval must be at least 1m")
	}
	s.Interval = interval

	if !s.Enabled() {
		return nil
	}
	if s.AccessKey == "" || s.SecretKey == "" {
		return fmt.Errorf("snapshot.access_key and snapshot.secret_key are required when a bucket is set")
	}
	if len(s.Passphrase) < 8 {
		return fmt.Errorf("snapshot.passphrase must be at least 8 characters")
	}
	if s.RetentionDays <= 0 {
		return fmt.Errorf("snapshot.retention_days must be positive")
	}
	return nil
}

// DBPath resolves the SQLite file location.
func (c *Config) DBPath() string {
	switch {
	case c.Database.Path != "":
		return c.Database.Path
	case c.Database.PersistentDir != "":
		return filepath.Join(c.Database.PersistentDir, dbFileName)
	default:
		return dbFileName
	}
}

// UsePostgres reports whether the networked engine is configured.
func (c *Config) UsePostgres() bool {
	return c.Database.URL != ""
}
