package library

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/kioskframe/kioskframe/internal/imagecache"
	"github.com/kioskframe/kioskframe/internal/logging"
	"github.com/kioskframe/kioskframe/internal/metrics"
	"github.com/kioskframe/kioskframe/internal/retry"
	"github.com/kioskframe/kioskframe/internal/source"
)

const (
	// DisplayMaxSize is the longest edge of re-encoded photos. Kiosk screens
	// rarely exceed 4K width; 2000px keeps the cache small without visible
	// loss on typical frames.
	DisplayMaxSize = 2000
	DisplayQuality = 85
)

// Fetcher queues background byte downloads. Satisfied by Downloader; tests
// substitute a recorder.
type Fetcher interface {
	Enqueue(rec PhotoRecord)
}

// Downloader fills the image cache with a bounded worker pool. One failed
// item never affects the others; failures are reported through the onResult
// callback and retried by the next sync pass.
type Downloader struct {
	store    *Store
	src      source.Source
	cache    *imagecache.Cache
	onResult func(rec PhotoRecord, err error)
	queue    chan PhotoRecord
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	workers  int

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewDownloader creates a downloader. onResult may be nil.
func NewDownloader(store *Store, src source.Source, cache *imagecache.Cache, workers int, onResult func(rec PhotoRecord, err error)) *Downloader {
	if workers <= 0 {
		workers = 2
	}
	return &Downloader{
		store:    store,
		src:      src,
		cache:    cache,
		onResult: onResult,
		queue:    make(chan PhotoRecord, 1000),
		workers:  workers,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the worker goroutines.
func (d *Downloader) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	logging.Info("downloader started", zap.Int("workers", d.workers))
}

// Stop signals workers to stop and waits for them to finish.
func (d *Downloader) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	close(d.queue)
	d.wg.Wait()
	logging.Info("downloader stopped")
}

// Enqueue adds a record to the download queue. Records already queued or in
// flight are skipped.
func (d *Downloader) Enqueue(rec PhotoRecord) {
	d.mu.Lock()
	if _, ok := d.inflight[rec.ExternalID]; ok {
		d.mu.Unlock()
		return
	}
	d.inflight[rec.ExternalID] = struct{}{}
	d.mu.Unlock()

	select {
	case d.queue <- rec:
	default:
		d.done(rec.ExternalID)
		logging.Warn("download queue full, dropping", zap.String("id", rec.ExternalID))
	}
}

func (d *Downloader) done(id string) {
	d.mu.Lock()
	delete(d.inflight, id)
	d.mu.Unlock()
}

func (d *Downloader) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-d.queue:
			if !ok {
				return
			}
			err := d.download(ctx, rec)
			d.done(rec.ExternalID)
			if d.onResult != nil {
				d.onResult(rec, err)
			}
		}
	}
}

// download fetches one photo, post-processes it, and atomically publishes it
// into the cache before marking the record cached.
func (d *Downloader) download(ctx context.Context, rec PhotoRecord) error {
	start := time.Now()

	content, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() ([]byte, error) {
		reader, err := d.src.Open(ctx, rec.ExternalID)
		if err != nil {
			return nil, err
		}
		defer reader.Close()
		return io.ReadAll(reader)
	})
	if err != nil {
		metrics.RecordDownload(0, time.Since(start), false)
		logging.Warn("download failed",
			zap.String("id", rec.ExternalID),
			zap.String("name", rec.DisplayName),
			zap.Error(err))
		return err
	}

	exifData, err := ExtractExif(bytes.NewReader(content))
	if err != nil {
		exifData = &ExifData{Orientation: 1}
	}

	processed, width, height := d.process(rec, content, exifData)

	key := cacheKey(rec)
	path, n, err := d.cache.Put(key, bytes.NewReader(processed))
	if err != nil {
		metrics.RecordDownload(int64(len(content)), time.Since(start), false)
		logging.Warn("cache write failed", zap.String("id", rec.ExternalID), zap.Error(err))
		return err
	}

	if err := d.store.MarkCached(ctx, rec.ExternalID, path, width, height, exifData.DateTaken); err != nil {
		metrics.RecordDownload(int64(len(content)), time.Since(start), false)
		logging.Warn("mark cached failed", zap.String("id", rec.ExternalID), zap.Error(err))
		return err
	}

	metrics.RecordDownload(int64(len(content)), time.Since(start), true)
	logging.Debug("photo cached",
		zap.String("id", rec.ExternalID),
		zap.String("name", rec.DisplayName),
		zap.Int64("bytes", n),
		zap.Int("width", width),
		zap.Int("height", height))
	return nil
}

// process re-encodes decodable formats to a display-sized JPEG with the EXIF
// orientation applied. Formats the decoder cannot handle are cached verbatim.
func (d *Downloader) process(rec PhotoRecord, content []byte, exifData *ExifData) (out []byte, width, height int) {
	if !canReencode(rec) {
		return content, exifData.Width, exifData.Height
	}

	img, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return content, exifData.Width, exifData.Height
	}

	img = applyOrientation(img, exifData.Orientation)

	bounds := img.Bounds()
	if bounds.Dx() > DisplayMaxSize || bounds.Dy() > DisplayMaxSize {
		img = imaging.Fit(img, DisplayMaxSize, DisplayMaxSize, imaging.Lanczos)
		bounds = img.Bounds()
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: DisplayQuality}); err != nil {
		return content, exifData.Width, exifData.Height
	}
	return buf.Bytes(), bounds.Dx(), bounds.Dy()
}

// applyOrientation transforms an image according to EXIF orientation value.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

func canReencode(rec PhotoRecord) bool {
	switch rec.MimeType {
	case "image/jpeg", "image/png", "image/gif", "image/bmp":
		return true
	}
	switch strings.ToLower(filepath.Ext(rec.DisplayName)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp":
		return true
	}
	return false
}

// cacheKey derives the on-disk cache key for a record. Re-encoded photos are
// always JPEG; others keep their original extension.
func cacheKey(rec PhotoRecord) string {
	if canReencode(rec) {
		return rec.ExternalID + ".jpg"
	}
	if ext := filepath.Ext(rec.DisplayName); ext != "" {
		return rec.ExternalID + strings.ToLower(ext)
	}
	return rec.ExternalID
}
