// Package config loads the engine's runtime configuration. Environment
// variables are primary; an optional .env file is loaded first
// via github.com/joho/godotenv (grounded on yszxh-CLIProxyAPI's env-first
// bootstrap), and an optional bootstrap config.yaml seeds scheduler
// defaults the way CLIProxyAPI's internal/config/config.go loads its own
// YAML file.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/suiyueqingqian/model-check-sub000/internal/scheduler"
)

var log = logrus.WithField("component", "config")

// Config is the process-wide configuration, assembled from environment
// variables.
type Config struct {
	WorkerConcurrency    int
	ChannelConcurrency   int
	MaxGlobalConcurrency int
	MinDelayMs           int
	MaxDelayMs           int
	AutoDetectEnabled    bool
	AutoDetectAllChannels bool
	CronSchedule         string
	CleanupSchedule      string
	CronTimezone         string
	LogRetentionDays     int
	GlobalProxy          string
	DetectPrompt         string

	ListenAddr   string
	AuthToken    string
	DatabaseURL  string
	RedisAddr    string
	RedisPassword string
	RedisDB      int
	LogLevel     string
	LogToFile    bool
	LogDir       string
}

// bootstrapFile is an optional YAML file seeding defaults before env
// override.
type bootstrapFile struct {
	Scheduler struct {
		CronSchedule    string `yaml:"cron-schedule"`
		CleanupSchedule string `yaml:"cleanup-schedule"`
		Timezone        string `yaml:"timezone"`
	} `yaml:"scheduler"`
	LogLevel string `yaml:"log-level"`
}

// Load reads .env (if present) into the process environment without
// overriding variables that are already set, then an optional config.yaml
// (if present). For the fields config.yaml can supply, its values are only
// defaults: an environment variable, whether set beforehand or from .env,
// takes precedence.
func Load(envFile, yamlFile string) Config {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to load .env file")
	}

	var boot bootstrapFile
	if yamlFile == "" {
		yamlFile = "config.yaml"
	}
	if data, err := os.ReadFile(yamlFile); err == nil {
		if err := yaml.Unmarshal(data, &boot); err != nil {
			log.WithError(err).Warn("failed to parse config.yaml")
		}
	} else if !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to read config.yaml")
	}

	cfg := Config{
		WorkerConcurrency:     envInt("WORKER_CONCURRENCY", 50),
		ChannelConcurrency:    envInt("CHANNEL_CONCURRENCY", 2),
		MaxGlobalConcurrency:  envInt("MAX_GLOBAL_CONCURRENCY", 10),
		MinDelayMs:            envInt("DETECTION_MIN_DELAY_MS", 3000),
		MaxDelayMs:            envInt("DETECTION_MAX_DELAY_MS", 5000),
		AutoDetectEnabled:     envBool("AUTO_DETECT_ENABLED", false),
		AutoDetectAllChannels: envBool("AUTO_DETECT_ALL_CHANNELS", true),
		CronSchedule:          envString("CRON_SCHEDULE", fallback(boot.Scheduler.CronSchedule, "0 */6 * * *")),
		CleanupSchedule:       envString("CLEANUP_SCHEDULE", fallback(boot.Scheduler.CleanupSchedule, "0 2 * * *")),
		CronTimezone:          envString("CRON_TIMEZONE", fallback(boot.Scheduler.Timezone, "UTC")),
		LogRetentionDays:      envInt("LOG_RETENTION_DAYS", 7),
		GlobalProxy:           envString("GLOBAL_PROXY", ""),
		DetectPrompt:          envString("DETECT_PROMPT", ""),

		ListenAddr:    envString("LISTEN_ADDR", ":8080"),
		AuthToken:     envString("API_AUTH_TOKEN", ""),
		DatabaseURL:   envString("DATABASE_URL", ""),
		RedisAddr:     envString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envString("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),
		LogLevel:      envString("LOG_LEVEL", fallback(boot.LogLevel, "info")),
		LogToFile:     envBool("LOG_TO_FILE", false),
		LogDir:        envString("LOG_DIR", "logs"),
	}
	return cfg
}

// SchedulerDefaults builds the scheduler's bootstrap defaults from c.
func (c Config) SchedulerDefaults() scheduler.Defaults {
	return scheduler.Defaults{
		Enabled:              c.AutoDetectEnabled,
		CronSchedule:         c.CronSchedule,
		Timezone:             c.CronTimezone,
		ChannelConcurrency:   c.ChannelConcurrency,
		MaxGlobalConcurrency: c.MaxGlobalConcurrency,
		MinDelayMs:           c.MinDelayMs,
		MaxDelayMs:           c.MaxDelayMs,
		DetectAllChannels:    c.AutoDetectAllChannels,
		CleanupSchedule:      c.CleanupSchedule,
		RetentionDays:        c.LogRetentionDays,
	}
}

func fallback(primary, def string) string {
	if primary != "" {
		return primary
	}
	return def
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.WithField("key", key).WithField("value", v).Warn("invalid integer env var, using default")
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.WithField("key", key).WithField("value", v).Warn("invalid boolean env var, using default")
		return def
	}
	return b
}
