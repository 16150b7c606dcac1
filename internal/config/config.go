package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AppEnv        string `yaml:"app_env"`
	HTTPAddr      string `yaml:"http_addr"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	// Scrape engine tuning.
	PageSize   int `yaml:"page_size"`    // max items per platform fetch
	MaxPages   int `yaml:"max_pages"`    // safety cap on pages per task
	MaxRetries int `yaml:"max_retries"`  // rate-limit retries per page

	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`

	SessionTTL time.Duration `yaml:"session_ttl"`

	WorkerConcurrency int `yaml:"worker_concurrency"`
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Load builds configuration from environment variables, then applies an
// optional YAML overlay from CONFIG_FILE (or ./config.yaml when present).
func Load() Config {
	cfg := Config{
		AppEnv:        getenv("APP_ENV", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8082"),
		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		PageSize:   getenvInt("SCRAPE_PAGE_SIZE", 20),
		MaxPages:   getenvInt("SCRAPE_MAX_PAGES", 50),
		MaxRetries: getenvInt("SCRAPE_MAX_RETRIES", 3),

		BackoffBase:       getenvDuration("BACKOFF_BASE", time.Second),
		BackoffMax:        getenvDuration("BACKOFF_MAX", 5*time.Minute),
		BackoffMultiplier: 2.0,

		SessionTTL: getenvDuration("SESSION_TTL", 24*time.Hour),

		WorkerConcurrency: getenvInt("WORKER_CONCURRENCY", 10),
	}

	path := getenv("CONFIG_FILE", "config.yaml")
	if b, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			panic(fmt.Errorf("config file %s: %w", path, err))
		}
	}

	if cfg.RedisAddr == "" {
		panic(fmt.Errorf("REDIS_ADDR is required"))
	}
	return cfg
}
