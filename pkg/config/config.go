package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "REALTIME_"

// Lock store backends
const (
	LockBackendMemory   = "memory"
	LockBackendDatabase = "database"
	LockBackendRedis    = "redis"
)

// Identity provider modes
const (
	AuthModeHeader = "header"
	AuthModeJWT    = "jwt"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Realtime RealtimeConfig `yaml:"realtime"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the gorm dialect backing presentations and
// (optionally) slide locks.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RedisConfig is only consulted when the redis lock backend is selected.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// AuthConfig selects how callers are identified. The header mode trusts an
// upstream gateway; the jwt mode validates HS256 tokens itself.
type AuthConfig struct {
	Mode      string `yaml:"mode"`
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
	AdminRole string `yaml:"admin_role"`
}

// RealtimeConfig carries the policy knobs of the collaboration core.
type RealtimeConfig struct {
	LockBackend string        `yaml:"lock_backend"`
	LockTTL     time.Duration `yaml:"lock_ttl"`

	ConflictWindow       time.Duration `yaml:"conflict_window"`
	ConflictDistance     float64       `yaml:"conflict_distance"`
	ConflictLineDistance int           `yaml:"conflict_line_distance"`

	EditHistoryLimit         int           `yaml:"edit_history_limit"`
	EditHistoryRetention     time.Duration `yaml:"edit_history_retention"`
	NotificationHistoryLimit int           `yaml:"notification_history_limit"`
	JobGracePeriod           time.Duration `yaml:"job_grace_period"`

	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	PresenceTTL   time.Duration `yaml:"presence_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	SendQueueSize     int     `yaml:"send_queue_size"`
	MessageQueueLimit int     `yaml:"message_queue_limit"`
	InboundRate       float64 `yaml:"inbound_rate"`
	InboundBurst      int     `yaml:"inbound_burst"`

	SSEPollInterval time.Duration `yaml:"sse_poll_interval"`
	SSEKeepalive    time.Duration `yaml:"sse_keepalive"`
	SSEReplay       int           `yaml:"sse_replay"`
}

// Load reads .env (if present), then the YAML file, then REALTIME_* overrides.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return LoadFile(getConfigPath())
}

// LoadFile loads configuration from an explicit path. A missing file is not
// an error; defaults and environment still apply.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file:realtime.db?cache=shared",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Auth: AuthConfig{
			Mode:      AuthModeHeader,
			Issuer:    "slidegenie",
			Audience:  "slidegenie-realtime",
			AdminRole: "admin",
		},
		Realtime: RealtimeConfig{
			LockBackend:              LockBackendMemory,
			LockTTL:                  5 * time.Minute,
			ConflictWindow:           10 * time.Second,
			ConflictDistance:         50,
			ConflictLineDistance:     1,
			EditHistoryLimit:         1000,
			EditHistoryRetention:     24 * time.Hour,
			NotificationHistoryLimit: 1000,
			JobGracePeriod:           5 * time.Second,
			IdleTimeout:              10 * time.Minute,
			PresenceTTL:              time.Hour,
			SweepInterval:            60 * time.Second,
			SendQueueSize:            256,
			MessageQueueLimit:        100,
			InboundRate:              20,
			InboundBurst:             40,
			SSEPollInterval:          time.Second,
			SSEKeepalive:             30 * time.Second,
			SSEReplay:                10,
		},
	}
}

func getConfigPath() string {
	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		return path
	}
	return "config.yaml"
}

func (c *Config) applyEnv() {
	setString(&c.Server.Host, "SERVER_HOST")
	setInt(&c.Server.Port, "SERVER_PORT")
	setDuration(&c.Server.ReadTimeout, "SERVER_READ_TIMEOUT")
	setDuration(&c.Server.WriteTimeout, "SERVER_WRITE_TIMEOUT")
	setDuration(&c.Server.ShutdownTimeout, "SERVER_SHUTDOWN_TIMEOUT")

	setString(&c.Database.Driver, "DATABASE_DRIVER")
	setString(&c.Database.DSN, "DATABASE_DSN")

	setString(&c.Logging.Level, "LOGGING_LEVEL")
	setString(&c.Logging.Format, "LOGGING_FORMAT")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")

	setString(&c.Auth.Mode, "AUTH_MODE")
	setString(&c.Auth.JWTSecret, "AUTH_JWT_SECRET")
	setString(&c.Auth.Issuer, "AUTH_ISSUER")
	setString(&c.Auth.Audience, "AUTH_AUDIENCE")

	r := &c.Realtime
	setString(&r.LockBackend, "LOCK_BACKEND")
	setDuration(&r.LockTTL, "LOCK_TTL")
	setDuration(&r.ConflictWindow, "CONFLICT_WINDOW")
	setFloat(&r.ConflictDistance, "CONFLICT_DISTANCE")
	setInt(&r.ConflictLineDistance, "CONFLICT_LINE_DISTANCE")
	setInt(&r.EditHistoryLimit, "EDIT_HISTORY_LIMIT")
	setInt(&r.NotificationHistoryLimit, "NOTIFICATION_HISTORY_LIMIT")
	setDuration(&r.JobGracePeriod, "JOB_GRACE_PERIOD")
	setDuration(&r.IdleTimeout, "IDLE_TIMEOUT")
	setDuration(&r.PresenceTTL, "PRESENCE_TTL")
	setDuration(&r.SweepInterval, "SWEEP_INTERVAL")
	setFloat(&r.InboundRate, "INBOUND_RATE")
	setInt(&r.InboundBurst, "INBOUND_BURST")
}

func setString(dst *string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}

	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	switch c.Auth.Mode {
	case AuthModeHeader:
	case AuthModeJWT:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth jwt_secret is required in jwt mode")
		}
	default:
		return fmt.Errorf("unknown auth mode: %s", c.Auth.Mode)
	}

	return c.Realtime.validate(c.Redis)
}

func (r RealtimeConfig) validate(redis RedisConfig) error {
	switch r.LockBackend {
	case LockBackendMemory, LockBackendDatabase:
	case LockBackendRedis:
		if redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("unknown lock backend: %s", r.LockBackend)
	}

	durations := map[string]time.Duration{
		"lock_ttl":               r.LockTTL,
		"conflict_window":        r.ConflictWindow,
		"edit_history_retention": r.EditHistoryRetention,
		"job_grace_period":       r.JobGracePeriod,
		"idle_timeout":           r.IdleTimeout,
		"presence_ttl":           r.PresenceTTL,
		"sweep_interval":         r.SweepInterval,
		"sse_poll_interval":      r.SSEPollInterval,
		"sse_keepalive":          r.SSEKeepalive,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if r.ConflictDistance <= 0 || r.ConflictLineDistance < 0 {
		return fmt.Errorf("conflict thresholds must be positive")
	}
	if r.EditHistoryLimit < 1 || r.NotificationHistoryLimit < 1 {
		return fmt.Errorf("history limits must be at least 1")
	}
	if r.SendQueueSize < 1 || r.MessageQueueLimit < 1 {
		return fmt.Errorf("queue sizes must be at least 1")
	}
	if r.InboundRate <= 0 || r.InboundBurst < 1 {
		return fmt.Errorf("inbound rate limit must be positive")
	}
	if r.SSEReplay < 0 {
		return fmt.Errorf("sse_replay cannot be negative")
	}
	return nil
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Server: %s:%d, Database: %s, Logging: %s/%s, Auth: %s, Locks: %s}",
		c.Server.Host, c.Server.Port,
		c.Database.Driver,
		c.Logging.Level, c.Logging.Format,
		c.Auth.Mode,
		c.Realtime.LockBackend,
	)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
