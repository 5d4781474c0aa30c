package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all server settings in correct types
type Config struct {
	Port         string
	RedisAddr    string
	RedisDB      int
	UseMiniredis bool

	DownloadDir string
	TempDir     string
	LogDir      string

	MaxConcurrentDownloads int
	MaxQueueSize           int
	AcquireTimeout         time.Duration

	MaxRetries int

	JobTTL             time.Duration
	StreamPollInterval time.Duration
	StreamMaxDuration  time.Duration
	StallTicks         int

	CleanupAge    time.Duration
	MinFreeDiskGB float64

	AllowedOrigins string
	LogLevel       string
	LogFormat      string
}

// Load: The only way to get config in the app
func Load() *Config {
	cfg := &Config{
		Port:         getEnv("PORT", ":8080"),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:      getEnvAsInt("REDIS_DB", 0),
		UseMiniredis: getEnvAsBool("USE_MINIREDIS", true),

		DownloadDir: getEnv("DOWNLOAD_DIR", "downloads"),
		TempDir:     getEnv("TEMP_DIR", "temp"),
		LogDir:      getEnv("LOG_DIR", "logs"),

		MaxConcurrentDownloads: getEnvAsInt("MAX_CONCURRENT_DOWNLOADS", 2),
		MaxQueueSize:           getEnvAsInt("MAX_QUEUE_SIZE", 50),
		AcquireTimeout:         time.Duration(getEnvAsInt("ACQUIRE_TIMEOUT_SECONDS", 300)) * time.Second,

		MaxRetries: getEnvAsInt("MAX_RETRIES", 3),

		JobTTL:             time.Duration(getEnvAsInt("JOB_TTL_HOURS", 24)) * time.Hour,
		StreamPollInterval: time.Duration(getEnvAsInt("STREAM_POLL_MS", 300)) * time.Millisecond,
		StreamMaxDuration:  time.Duration(getEnvAsInt("STREAM_MAX_MINUTES", 10)) * time.Minute,
		StallTicks:         getEnvAsInt("STREAM_STALL_TICKS", 100),

		CleanupAge:    time.Duration(getEnvAsInt("CLEANUP_DAYS", 7)) * 24 * time.Hour,
		MinFreeDiskGB: getEnvAsFloat("CLEANUP_MIN_DISK_SPACE_GB", 5),

		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "*"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
	}

	validate(cfg)

	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	str := getEnv(key, "")
	if val, err := strconv.Atoi(str); err == nil {
		return val
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	str := getEnv(key, "")
	if val, err := strconv.ParseFloat(str, 64); err == nil {
		return val
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	str := getEnv(key, "")
	if val, err := strconv.ParseBool(str); err == nil {
		return val
	}
	return fallback
}

// validate ensures the server won't crash due to misconfiguration
func validate(cfg *Config) {
	if cfg.MaxConcurrentDownloads < 1 {
		log.Println("Warning: MAX_CONCURRENT_DOWNLOADS must be at least 1. Resetting to 2.")
		cfg.MaxConcurrentDownloads = 2
	}
	if cfg.MaxConcurrentDownloads > 10 {
		log.Println("Warning: MAX_CONCURRENT_DOWNLOADS capped at 10 for system safety.")
		cfg.MaxConcurrentDownloads = 10
	}
	if cfg.MaxQueueSize < cfg.MaxConcurrentDownloads {
		cfg.MaxQueueSize = cfg.MaxConcurrentDownloads
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.StallTicks < 1 {
		cfg.StallTicks = 100
	}
}
