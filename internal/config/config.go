// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Metadata store ("sqlite3" or "postgres")
	DBDriver string
	// DSN: file path for sqlite3, connection URL for postgres.
	DBDSN string

	// Image cache
	CacheDir        string
	DownloadWorkers int

	// Remote source ("drive" or "s3")
	SourceBackend string

	// Google Drive
	DriveFolderID string
	DriveAPIKey   string

	// S3 source
	S3Endpoint  string
	S3Bucket    string
	S3Prefix    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	// Staleness window between remote re-checks.
	RefreshInterval time.Duration

	// Slideshow display
	SlideInterval time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:     envOr("METRICS_ADDR", ":9090"),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		LogFormat:       envOr("LOG_FORMAT", "json"),
		DBDriver:        envOr("DB_DRIVER", "sqlite3"),
		DBDSN:           envOr("DB_DSN", "/data/kioskframe/photos.db"),
		CacheDir:        envOr("CACHE_DIR", "/data/kioskframe/images"),
		DownloadWorkers: envInt("DOWNLOAD_WORKERS", 2),
		SourceBackend:   envOr("SOURCE_BACKEND", "drive"),
		DriveFolderID:   envOr("DRIVE_FOLDER_ID", ""),
		DriveAPIKey:     envOr("DRIVE_API_KEY", ""),
		S3Endpoint:      envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:        envOr("S3_BUCKET", "photos"),
		S3Prefix:        envOr("S3_PREFIX", ""),
		S3AccessKey:     envOr("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:     envOr("S3_SECRET_KEY", "minioadmin"),
		S3Region:        envOr("S3_REGION", "us-east-1"),
		S3UseSSL:        envBool("S3_USE_SSL", false),
		RefreshInterval: envDuration("REFRESH_INTERVAL", 24*time.Hour),
		SlideInterval:   envDuration("SLIDE_INTERVAL", 10*time.Second),
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("DB_DSN is required")
	}
	if cfg.CacheDir == "" {
		return nil, fmt.Errorf("CACHE_DIR is required")
	}

	switch cfg.SourceBackend {
	case "drive":
		if cfg.DriveFolderID == "" {
			return nil, fmt.Errorf("DRIVE_FOLDER_ID is required for the drive source")
		}
		if cfg.DriveAPIKey == "" {
			return nil, fmt.Errorf("DRIVE_API_KEY is required for the drive source")
		}
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3_BUCKET is required for the s3 source")
		}
	default:
		return nil, fmt.Errorf("unknown SOURCE_BACKEND: %s", cfg.SourceBackend)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
