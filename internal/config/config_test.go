package config

import (
	"testing"
	"time"
)

func setDriveEnv(t *testing.T) {
	t.Setenv("DRIVE_FOLDER_ID", "folder123")
	t.Setenv("DRIVE_API_KEY", "key456")
}

func TestLoadDefaults(t *testing.T) {
	setDriveEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("MetricsAddr = %q, want :9090", cfg.MetricsAddr)
	}
	if cfg.DBDriver != "sqlite3" {
		t.Errorf("DBDriver = %q, want sqlite3", cfg.DBDriver)
	}
	if cfg.SourceBackend != "drive" {
		t.Errorf("SourceBackend = %q, want drive", cfg.SourceBackend)
	}
	if cfg.DownloadWorkers != 2 {
		t.Errorf("DownloadWorkers = %d, want 2", cfg.DownloadWorkers)
	}
	if cfg.RefreshInterval != 24*time.Hour {
		t.Errorf("RefreshInterval = %v, want 24h", cfg.RefreshInterval)
	}
	if cfg.SlideInterval != 10*time.Second {
		t.Errorf("SlideInterval = %v, want 10s", cfg.SlideInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	setDriveEnv(t)
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("DOWNLOAD_WORKERS", "8")
	t.Setenv("REFRESH_INTERVAL", "1h")
	t.Setenv("SLIDE_INTERVAL", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q, want :9999", cfg.ListenAddr)
	}
	if cfg.DownloadWorkers != 8 {
		t.Errorf("DownloadWorkers = %d, want 8", cfg.DownloadWorkers)
	}
	if cfg.RefreshInterval != time.Hour {
		t.Errorf("RefreshInterval = %v, want 1h", cfg.RefreshInterval)
	}
	if cfg.SlideInterval != 5*time.Second {
		t.Errorf("SlideInterval = %v, want 5s", cfg.SlideInterval)
	}
}

func TestLoadDriveRequiresFolderAndKey(t *testing.T) {
	t.Setenv("SOURCE_BACKEND", "drive")
	t.Setenv("DRIVE_FOLDER_ID", "")
	t.Setenv("DRIVE_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without DRIVE_FOLDER_ID")
	}

	t.Setenv("DRIVE_FOLDER_ID", "folder123")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without DRIVE_API_KEY")
	}
}

func TestLoadS3Backend(t *testing.T) {
	t.Setenv("SOURCE_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "kiosk-photos")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.S3Bucket != "kiosk-photos" {
		t.Errorf("S3Bucket = %q, want kiosk-photos", cfg.S3Bucket)
	}
}

func TestLoadUnknownBackend(t *testing.T) {
	t.Setenv("SOURCE_BACKEND", "ftp")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestEnvHelpersFallBackOnBadValues(t *testing.T) {
	t.Setenv("DOWNLOAD_WORKERS", "not-a-number")
	t.Setenv("REFRESH_INTERVAL", "not-a-duration")
	t.Setenv("S3_USE_SSL", "not-a-bool")
	setDriveEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DownloadWorkers != 2 {
		t.Errorf("DownloadWorkers = %d, want fallback 2", cfg.DownloadWorkers)
	}
	if cfg.RefreshInterval != 24*time.Hour {
		t.Errorf("RefreshInterval = %v, want fallback 24h", cfg.RefreshInterval)
	}
	if cfg.S3UseSSL {
		t.Error("S3UseSSL = true, want fallback false")
	}
}
