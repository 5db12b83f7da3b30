package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	SinkDriver  string `yaml:"sink_driver"`
	DBPath      string `yaml:"db_path"`
	DatabaseURL string `yaml:"database_url"`
	PageSize    int    `yaml:"page_size"`

	DataDir     string `yaml:"data_dir"`
	FilePattern string `yaml:"file_pattern"`
	FileStart   int    `yaml:"file_start"`
	FileEnd     int    `yaml:"file_end"`
	Workers     int    `yaml:"workers"`

	SinkMaxRetries      int `yaml:"sink_max_retries"`
	SinkRetryIntervalMs int `yaml:"sink_retry_interval_ms"`
	SinkTimeoutMs       int `yaml:"sink_timeout_ms"`

	ReportPath      string `yaml:"report_path"`
	MetricsTextfile string `yaml:"metrics_textfile"`
	WatchDebounceMs int    `yaml:"watch_debounce_ms"`
	LogLevel        string `yaml:"log_level"`
}

// Load builds the configuration from defaults, then the YAML file named by
// SMB_CONFIG_FILE, then the environment (including .env).
func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		SinkDriver:  DriverSQLite,
		DBPath:      filepath.Join(cwd, "data", "smb.db"),
		PageSize:    100,
		DataDir:     filepath.Join(cwd, "data", "xml"),
		FilePattern: "*",
		Workers:     1,

		SinkMaxRetries:      2,
		SinkRetryIntervalMs: 200,
		SinkTimeoutMs:       30000,

		WatchDebounceMs: 1000,
		LogLevel:        "info",
	}

	if path := getEnv("SMB_CONFIG_FILE", ""); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg = Config{
		SinkDriver:  strings.ToLower(getEnv("SINK_DRIVER", cfg.SinkDriver)),
		DBPath:      getEnv("DB_PATH", cfg.DBPath),
		DatabaseURL: getEnv("DATABASE_URL", cfg.DatabaseURL),
		PageSize:    getEnvInt("PAGE_SIZE", cfg.PageSize),

		DataDir:     getEnv("DATA_DIR", cfg.DataDir),
		FilePattern: getEnv("FILE_PATTERN", cfg.FilePattern),
		FileStart:   getEnvInt("FILE_START", cfg.FileStart),
		FileEnd:     getEnvInt("FILE_END", cfg.FileEnd),
		Workers:     getEnvInt("WORKERS", cfg.Workers),

		SinkMaxRetries:      getEnvInt("SINK_MAX_RETRIES", cfg.SinkMaxRetries),
		SinkRetryIntervalMs: getEnvInt("SINK_RETRY_INTERVAL_MS", cfg.SinkRetryIntervalMs),
		SinkTimeoutMs:       getEnvInt("SINK_TIMEOUT_MS", cfg.SinkTimeoutMs),

		ReportPath:      getEnv("REPORT_PATH", cfg.ReportPath),
		MetricsTextfile: getEnv("METRICS_TEXTFILE", cfg.MetricsTextfile),
		WatchDebounceMs: getEnvInt("WATCH_DEBOUNCE_MS", cfg.WatchDebounceMs),
		LogLevel:        getEnv("LOG_LEVEL", cfg.LogLevel),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// overlayFile replaces the fields present in the YAML file.
func (c *Config) overlayFile(path string) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(blob, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	switch c.SinkDriver {
	case DriverSQLite:
		if err := c.Require("DB_PATH", c.DBPath); err != nil {
			return err
		}
	case DriverPostgres:
		if err := c.Require("DATABASE_URL", c.DatabaseURL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown SINK_DRIVER %q (want %s or %s)", c.SinkDriver, DriverSQLite, DriverPostgres)
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.FileStart < 0 || c.FileEnd < 0 {
		return fmt.Errorf("FILE_START and FILE_END must not be negative")
	}
	return nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func (c Config) SinkRetryInterval() time.Duration {
	return time.Duration(c.SinkRetryIntervalMs) * time.Millisecond
}

func (c Config) SinkTimeout() time.Duration {
	return time.Duration(c.SinkTimeoutMs) * time.Millisecond
}

func (c Config) WatchDebounce() time.Duration {
	return time.Duration(c.WatchDebounceMs) * time.Millisecond
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
