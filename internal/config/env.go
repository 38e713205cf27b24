package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// WorkerConfig defines worker behavior and limits.
type WorkerConfig struct {
	// Run starts the dispatcher next to the HTTP API.
	Run            bool
	Concurrency    int
	DequeueTimeout time.Duration
	JobTimeout     time.Duration
	// LeaseTTL bounds how long a directory stays locked if a worker dies.
	LeaseTTL       time.Duration
}

// QueueConfig defines queue connectivity and names.
type QueueConfig struct {
	RedisURL string
	Stream   string
	Group    string
	DLQ      string
}

// HTTPConfig configures the job API.
type HTTPConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

// ReorderConfig holds plugin-level settings shared by every job.
type ReorderConfig struct {
	PluginConfig string
	ImagesRoot   string
	Project      string
	Step         string
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Worker  WorkerConfig
	Queue   QueueConfig
	HTTP    HTTPConfig
	Reorder ReorderConfig
}

// LoadDotEnv reads .env files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/reorder.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_reorder",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Worker = WorkerConfig{
		Run:            parseBool(getEnv("RUN_DISPATCHER", "1")),
		Concurrency:    parseInt(getEnv("WORKER_CONCURRENCY", "2"), 2),
		DequeueTimeout: parseDuration(getEnv("DEQUEUE_TIMEOUT", "5s"), 5*time.Second),
		JobTimeout:     parseDuration(getEnv("JOB_TIMEOUT", "30m"), 30*time.Minute),
		LeaseTTL:       parseDuration(getEnv("DIR_LEASE_TTL", ""), 0),
	}
	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 1
	}
	if cfg.Worker.LeaseTTL <= 0 {
		cfg.Worker.LeaseTTL = cfg.Worker.JobTimeout + time.Minute
	}

	cfg.Queue = QueueConfig{
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),
		Stream:   getEnv("QUEUE_STREAM", "jobs:reorder"),
		Group:    getEnv("QUEUE_GROUP", "workers:reorder"),
		DLQ:      getEnv("QUEUE_DLQ", "jobs:reorder:dlq"),
	}

	cfg.HTTP = HTTPConfig{
		Port:            getEnv("PORT", "8080"),
		ShutdownTimeout: parseDuration(getEnv("SHUTDOWN_TIMEOUT", "15s"), 15*time.Second),
	}

	cfg.Reorder = ReorderConfig{
		PluginConfig: getEnv("PLUGIN_CONFIG", "plugin_intranda_step_reorder-images.yaml"),
		ImagesRoot:   getEnv("IMAGES_ROOT", "/opt/digiverso/goobi/metadata"),
		Project:      getEnv("DEFAULT_PROJECT", "*"),
		Step:         getEnv("DEFAULT_STEP", "*"),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
