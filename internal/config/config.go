package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"discord-antinuke-bot/internal/database"
	"discord-antinuke-bot/internal/redis"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Token    string                  `json:"token" yaml:"token"`
	LogLevel string                  `json:"log_level" yaml:"log_level"`
	Redis    redis.Config            `json:"redis" yaml:"redis"`
	Postgres database.PostgresConfig `json:"postgres" yaml:"postgres"`
	Metrics  MetricsConfig           `json:"metrics" yaml:"metrics"`
	Antinuke AntinukeConfig          `json:"antinuke" yaml:"antinuke"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type AntinukeConfig struct {
	// Operators are process-wide superusers, never remediated.
	Operators []string `json:"operators" yaml:"operators"`
	// SiblingBots are fellow bot accounts whose actions are never counted.
	SiblingBots        []string `json:"sibling_bots" yaml:"sibling_bots"`
	AuditRatePerSecond float64  `json:"audit_rate_per_second" yaml:"audit_rate_per_second"`
	AuditBurst         int      `json:"audit_burst" yaml:"audit_burst"`
	AuditMaxAgeSeconds int      `json:"audit_max_age_seconds" yaml:"audit_max_age_seconds"`
	VanityClockSkewMs  int      `json:"vanity_clock_skew_ms" yaml:"vanity_clock_skew_ms"`
	RequestMembers     bool     `json:"request_members" yaml:"request_members"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Redis:    redis.Config{Addr: "localhost:6379"},
		Postgres: database.PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "antinuke",
			SSLMode:  "disable",
		},
		Metrics: MetricsConfig{Enabled: true, Addr: "localhost:9090"},
		Antinuke: AntinukeConfig{
			SiblingBots:        []string{"956298490043060265", "919089251298181181"},
			AuditRatePerSecond: 20,
			AuditBurst:         10,
			AuditMaxAgeSeconds: 60,
			VanityClockSkewMs:  3000,
			RequestMembers:     true,
		},
	}
}

// Load reads CONFIG_PATH (default config.yaml, then config.json), applies a
// .env file and environment overrides.
func Load() (Config, error) {
	cfg := DefaultConfig()

	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
		if _, err := os.Stat(path); err != nil {
			path = "config.json"
		}
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := decode(path, data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	applyEnv(&cfg)
	if cfg.Token == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	normalize(&cfg)

	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Unmarshal(data, cfg)
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

func applyEnv(cfg *Config) {
	cfg.Token = envString("DISCORD_TOKEN", cfg.Token)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Redis.Addr = envString("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envString("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = envInt("REDIS_DB", cfg.Redis.DB)
	cfg.Postgres.Host = envString("POSTGRES_HOST", cfg.Postgres.Host)
	cfg.Postgres.Port = envInt("POSTGRES_PORT", cfg.Postgres.Port)
	cfg.Postgres.User = envString("POSTGRES_USER", cfg.Postgres.User)
	cfg.Postgres.Password = envString("POSTGRES_PASSWORD", cfg.Postgres.Password)
	cfg.Postgres.Database = envString("POSTGRES_DB", cfg.Postgres.Database)
	cfg.Metrics.Enabled = envBool("METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Addr = envString("METRICS_ADDR", cfg.Metrics.Addr)
	if ops := envString("ANTINUKE_OPERATORS", ""); ops != "" {
		cfg.Antinuke.Operators = splitIDs(ops)
	}
}

func normalize(cfg *Config) {
	d := DefaultConfig().Antinuke
	if cfg.Antinuke.AuditRatePerSecond <= 0 {
		cfg.Antinuke.AuditRatePerSecond = d.AuditRatePerSecond
	}
	if cfg.Antinuke.AuditBurst <= 0 {
		cfg.Antinuke.AuditBurst = d.AuditBurst
	}
	if cfg.Antinuke.AuditMaxAgeSeconds <= 0 {
		cfg.Antinuke.AuditMaxAgeSeconds = d.AuditMaxAgeSeconds
	}
	if cfg.Antinuke.VanityClockSkewMs < 0 {
		cfg.Antinuke.VanityClockSkewMs = 0
	}
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}
