// Package config загружает настройки сервера: значения по умолчанию,
// файл конфигурации, переменные окружения GOPHSYNC_* и флаги командной строки.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/iudanet/gophsync/internal/logging"
	"github.com/iudanet/gophsync/internal/server/engine"
)

const envPrefix = "GOPHSYNC"

// Config настройки сервера
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Address   string          `mapstructure:"address"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Sync      SyncConfig      `mapstructure:"sync"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// DatabaseConfig хранилище сервера
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite или postgres
	DSN    string `mapstructure:"dsn"`
}

// JWTConfig токены доступа
type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
}

// SyncConfig лимиты и политика синхронизации
type SyncConfig struct {
	LongTextFields        []string      `mapstructure:"long_text_fields"` // элементы вида "type.field", "*.field"
	PullPageSize          int           `mapstructure:"pull_page_size"`
	PullMaxPageSize       int           `mapstructure:"pull_max_page_size"`
	PullTimeout           time.Duration `mapstructure:"pull_timeout"`
	PushTimeout           time.Duration `mapstructure:"push_timeout"`
	PushMaxBatch          int           `mapstructure:"push_max_batch"`
	LongTextThreshold     int           `mapstructure:"long_text_threshold"`
	ConflictTTL           time.Duration `mapstructure:"conflict_ttl"`
	ConflictSweepInterval time.Duration `mapstructure:"conflict_sweep_interval"`
	MaxEntities           int           `mapstructure:"max_entities"`
}

// LogConfig логирование
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// TelemetryConfig экспорт OpenTelemetry
type TelemetryConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Enabled  bool   `mapstructure:"enabled"`
}

// RateLimitConfig ограничение запросов к эндпоинтам авторизации
type RateLimitConfig struct {
	AuthPerMinute int `mapstructure:"auth_per_minute"`
}

// flagKeys флаг командной строки -> ключ конфигурации
var flagKeys = map[string]string{
	"address":       "address",
	"db-driver":     "database.driver",
	"db-dsn":        "database.dsn",
	"jwt-secret":    "jwt.secret",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"log-file":      "log.file",
	"telemetry":     "telemetry.enabled",
	"otlp-endpoint": "telemetry.endpoint",
}

// RegisterFlags добавляет флаги сервера в набор
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("address", "", "HTTP listen address")
	fs.String("db-driver", "", "database driver: sqlite or postgres")
	fs.String("db-dsn", "", "database DSN or SQLite file path")
	fs.String("jwt-secret", "", "secret for signing access tokens")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.String("log-format", "", "log format: text or json")
	fs.String("log-file", "", "write logs to a rotated file instead of stderr")
	fs.Bool("telemetry", false, "export traces and metrics over OTLP")
	fs.String("otlp-endpoint", "", "OTLP gRPC endpoint")
}

func setDefaults(v *viper.Viper) {
	def := engine.DefaultConfig()

	v.SetDefault("address", ":8080")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "gophsync.db")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_ttl", 15*time.Minute)
	v.SetDefault("jwt.refresh_ttl", 30*24*time.Hour)
	v.SetDefault("sync.pull_page_size", def.PullPageSize)
	v.SetDefault("sync.pull_max_page_size", def.PullMaxPageSize)
	v.SetDefault("sync.pull_timeout", def.PullTimeout)
	v.SetDefault("sync.push_timeout", def.PushTimeout)
	v.SetDefault("sync.push_max_batch", def.PushMaxBatch)
	v.SetDefault("sync.long_text_threshold", 0)
	v.SetDefault("sync.long_text_fields", []string{})
	v.SetDefault("sync.conflict_ttl", time.Duration(0))
	v.SetDefault("sync.conflict_sweep_interval", time.Hour)
	v.SetDefault("sync.max_entities", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("rate_limit.auth_per_minute", 10)
}

// Load собирает конфигурацию. Приоритет: флаги, окружение, файл, значения по умолчанию.
// configFile и fs могут быть пустыми.
func Load(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	var errs []error

	if c.Address == "" {
		errs = append(errs, errors.New("address is required"))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if len(c.JWT.Secret) < 16 {
		errs = append(errs, errors.New("jwt.secret must be at least 16 characters"))
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		errs = append(errs, errors.New("jwt token ttl must be positive"))
	}
	if c.Sync.PullPageSize <= 0 || c.Sync.PullMaxPageSize < c.Sync.PullPageSize {
		errs = append(errs, errors.New("sync.pull_page_size must be positive and not exceed sync.pull_max_page_size"))
	}
	if c.Sync.PushMaxBatch <= 0 {
		errs = append(errs, errors.New("sync.push_max_batch must be positive"))
	}
	if c.Sync.LongTextThreshold < 0 || c.Sync.MaxEntities < 0 || c.Sync.ConflictTTL < 0 {
		errs = append(errs, errors.New("sync limits must not be negative"))
	}
	if _, err := c.Sync.LongTextClassifier(); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Engine переводит настройки в конфигурацию движка синхронизации
func (s SyncConfig) Engine() engine.Config {
	return engine.Config{
		PullPageSize:    s.PullPageSize,
		PullMaxPageSize: s.PullMaxPageSize,
		PullTimeout:     s.PullTimeout,
		PushTimeout:     s.PushTimeout,
		PushMaxBatch:    s.PushMaxBatch,
	}
}

// LongTextClassifier разбирает long_text_fields ("note.body", "*.description")
func (s SyncConfig) LongTextClassifier() (engine.LongTextClassifier, error) {
	c := engine.LongTextClassifier{Threshold: s.LongTextThreshold}
	for _, item := range s.LongTextFields {
		typ, field, ok := strings.Cut(strings.TrimSpace(item), ".")
		if !ok || typ == "" || field == "" {
			return c, fmt.Errorf("invalid long text field %q, expected type.field", item)
		}
		if c.Fields == nil {
			c.Fields = make(map[string][]string)
		}
		c.Fields[typ] = append(c.Fields[typ], field)
	}
	return c, nil
}

// Logging настройки для пакета logging
func (l LogConfig) Logging() logging.Config {
	return logging.Config{Level: l.Level, Format: l.Format, File: l.File}
}
