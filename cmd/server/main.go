// Kioskframe Server
//
// Mirrors a public cloud-storage folder into a local photo library and serves
// a full-screen slideshow:
// - Google Drive or S3/MinIO remote source
// - sqlite (default) or PostgreSQL metadata cache
// - background downloads into an on-disk image cache
// - Prometheus metrics & structured logging (zap)
// - SSE so the kiosk page follows library changes
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kioskframe/kioskframe/internal/api"
	"github.com/kioskframe/kioskframe/internal/config"
	"github.com/kioskframe/kioskframe/internal/events"
	"github.com/kioskframe/kioskframe/internal/imagecache"
	"github.com/kioskframe/kioskframe/internal/library"
	"github.com/kioskframe/kioskframe/internal/logging"
	"github.com/kioskframe/kioskframe/internal/metrics"
	"github.com/kioskframe/kioskframe/internal/source"
	"github.com/kioskframe/kioskframe/internal/source/drive"
	s3source "github.com/kioskframe/kioskframe/internal/source/s3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Kioskframe Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("source", cfg.SourceBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := library.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logging.Fatal("metadata store init failed", zap.Error(err))
	}
	defer store.Close()

	cache, err := imagecache.New(cfg.CacheDir)
	if err != nil {
		logging.Fatal("image cache init failed", zap.Error(err))
	}

	src, err := newSource(ctx, cfg)
	if err != nil {
		logging.Fatal("source init failed", zap.Error(err))
	}

	broadcaster := events.NewBroadcaster()

	// The synchronizer's failure ledger and the SSE stream both hear about
	// download outcomes through this callback.
	var sync *library.Synchronizer
	onResult := func(rec library.PhotoRecord, err error) {
		sync.RecordResult(rec, err)
		if err == nil {
			broadcaster.Publish(events.Event{
				Type: events.EventPhotoCached,
				ID:   rec.ExternalID,
				Name: rec.DisplayName,
			})
		}
	}

	downloader := library.NewDownloader(store, src, cache, cfg.DownloadWorkers, onResult)
	downloader.Start(ctx)
	defer downloader.Stop()

	fetcher := &library.NotifyingFetcher{Fetcher: downloader, Broadcaster: broadcaster}
	sync, err = library.NewSynchronizer(ctx, store, src, fetcher, cfg.RefreshInterval)
	if err != nil {
		logging.Fatal("synchronizer init failed", zap.Error(err))
	}

	// Initial pass: respects the persisted staleness window, then re-queues
	// anything the last run left uncached.
	go func() {
		if _, err := sync.Sync(ctx, false); err != nil {
			logging.Warn("initial sync failed", zap.Error(err))
		}
		uncached, err := store.ListUncached(ctx, 1000)
		if err != nil {
			logging.Warn("list uncached failed", zap.Error(err))
			return
		}
		for _, rec := range uncached {
			downloader.Enqueue(rec)
		}
	}()

	// Periodic staleness-gated re-check so an idle kiosk stays current.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := sync.Sync(ctx, false); err != nil {
					logging.Warn("periodic sync failed", zap.Error(err))
				}
			}
		}
	}()

	srv := api.NewServer(store, sync, cache, src, broadcaster, cfg)

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

// newSource creates the configured remote source backend.
func newSource(ctx context.Context, cfg *config.Config) (source.Source, error) {
	switch cfg.SourceBackend {
	case "s3":
		return s3source.New(ctx, s3source.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
	default:
		return drive.New(drive.Config{
			FolderID: cfg.DriveFolderID,
			APIKey:   cfg.DriveAPIKey,
		})
	}
}
