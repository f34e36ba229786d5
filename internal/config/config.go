package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	APIURL          string        `yaml:"api_url"`
	WSURL           string        `yaml:"ws_url"`
	LogLevel        string        `yaml:"log_level"`
	LogDev          bool          `yaml:"log_dev"`
	PageSize        int           `yaml:"page_size"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	SendRate        float64       `yaml:"send_rate"`
	SendBurst       int           `yaml:"send_burst"`
	SeenCapacity    int           `yaml:"seen_capacity"`
	ArchiveDSN      string        `yaml:"archive_dsn"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	StatusToken     string        `yaml:"status_token"`
}

// Load reads .env (if present), then the environment, then the YAML file
// named by PULSESYNC_CONFIG. Later sources win.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		APIURL:          getEnv("API_URL", "http://localhost:8000/api/v1"),
		WSURL:           getEnv("WS_URL", "ws://localhost:8000/api/v1/chat/ws"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogDev:          getEnvBool("LOG_DEV", false),
		PageSize:        getEnvInt("PAGE_SIZE", 50),
		RefreshInterval: getEnvDuration("REFRESH_INTERVAL", 25*time.Minute),
		SendRate:        getEnvFloat("SEND_RATE", 5),
		SendBurst:       getEnvInt("SEND_BURST", 10),
		SeenCapacity:    getEnvInt("SEEN_CAPACITY", 2048),
		ArchiveDSN:      getEnv("ARCHIVE_DSN", ""),
		MetricsAddr:     getEnv("METRICS_ADDR", ""),
		StatusToken:     getEnv("STATUS_TOKEN", ""),
	}

	if path := os.Getenv("PULSESYNC_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.APIURL == "":
		return fmt.Errorf("config: API_URL is required")
	case c.WSURL == "":
		return fmt.Errorf("config: WS_URL is required")
	case c.PageSize <= 0:
		return fmt.Errorf("config: PAGE_SIZE must be positive")
	case c.SeenCapacity <= 0:
		return fmt.Errorf("config: SEEN_CAPACITY must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	val, exists := os.LookupEnv(key)

	if exists {
		return val
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if n, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return n
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return f
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return b
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return d
	}
	return fallback
}
