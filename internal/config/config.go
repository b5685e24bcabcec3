package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `yaml:"port"`
	Interface    string        `yaml:"interface"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	// SQLitePath, when set and Postgres.Host is empty, selects a local
	// SQLite database. Intended for development only.
	SQLitePath string `yaml:"sqlite_path"`
}

// PostgresConfig holds PostgreSQL configuration
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr returns the host:port address for the Redis client
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// RealtimeConfig holds tunables for the realtime session core
type RealtimeConfig struct {
	// CodeWriteDebounce is the quiet interval before a code change is persisted
	CodeWriteDebounce time.Duration `yaml:"code_write_debounce"`
	// StatsInterval is how often global stats are recomputed and broadcast
	StatsInterval time.Duration `yaml:"stats_interval"`
	// AuthThrottleWindow is the minimum gap between authenticate calls for
	// the same identity, session and connection
	AuthThrottleWindow time.Duration `yaml:"auth_throttle_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	IsDev            bool   `yaml:"is_dev"`
	LogDir           string `yaml:"log_dir"`
	MaxAgeDays       int    `yaml:"max_age_days"`
	MaxSizeMB        int    `yaml:"max_size_mb"`
	MaxBackups       int    `yaml:"max_backups"`
	AlsoLogToConsole bool   `yaml:"also_log_to_console"`
}

// Default returns the configuration defaults applied before the yaml file
// and environment overrides.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:         "8080",
			Interface:    "0.0.0.0",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Port:    "5432",
				SSLMode: "disable",
			},
			Redis: RedisConfig{
				Port: "6379",
			},
			SQLitePath: "syncpad.db",
		},
		Realtime: RealtimeConfig{
			CodeWriteDebounce:  2 * time.Second,
			StatsInterval:      30 * time.Second,
			AuthThrottleWindow: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:            "info",
			LogDir:           "logs",
			AlsoLogToConsole: true,
		},
	}
}

// Load builds the configuration from defaults, an optional yaml file and
// environment variable overrides, in that order.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - config path is operator-supplied
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port must not be empty")
	}
	if c.Realtime.CodeWriteDebounce <= 0 {
		return fmt.Errorf("realtime code_write_debounce must be positive")
	}
	if c.Realtime.StatsInterval <= 0 {
		return fmt.Errorf("realtime stats_interval must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Port, "SERVER_PORT")
	setString(&cfg.Server.Interface, "SERVER_INTERFACE")

	setString(&cfg.Database.Postgres.Host, "POSTGRES_HOST")
	setString(&cfg.Database.Postgres.Port, "POSTGRES_PORT")
	setString(&cfg.Database.Postgres.User, "POSTGRES_USER")
	setString(&cfg.Database.Postgres.Password, "POSTGRES_PASSWORD")
	setString(&cfg.Database.Postgres.Database, "POSTGRES_DATABASE")
	setString(&cfg.Database.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setString(&cfg.Database.SQLitePath, "SQLITE_PATH")

	setString(&cfg.Database.Redis.Host, "REDIS_HOST")
	setString(&cfg.Database.Redis.Port, "REDIS_PORT")
	setString(&cfg.Database.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Database.Redis.DB, "REDIS_DB")

	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")

	setDuration(&cfg.Realtime.CodeWriteDebounce, "REALTIME_CODE_WRITE_DEBOUNCE")
	setDuration(&cfg.Realtime.StatsInterval, "REALTIME_STATS_INTERVAL")
	setDuration(&cfg.Realtime.AuthThrottleWindow, "REALTIME_AUTH_THROTTLE_WINDOW")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setBool(&cfg.Logging.IsDev, "LOG_IS_DEV")
	setString(&cfg.Logging.LogDir, "LOG_DIR")
	setBool(&cfg.Logging.AlsoLogToConsole, "LOG_ALSO_CONSOLE")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
