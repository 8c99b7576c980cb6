package library

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"os"
	"testing"
	"time"

	"github.com/kioskframe/kioskframe/internal/imagecache"
)

func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func newTestCache(t *testing.T) *imagecache.Cache {
	t.Helper()
	cache, err := imagecache.New(t.TempDir())
	if err != nil {
		t.Fatalf("imagecache.New() error: %v", err)
	}
	return cache
}

func waitResult(t *testing.T, results chan error) error {
	t.Helper()
	select {
	case err := <-results:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for download result")
		return nil
	}
}

func TestDownloaderCachesAndResizes(t *testing.T) {
	store := newTestStore(t)
	cache := newTestCache(t)
	src := newFakeSource()
	src.content["p1"] = encodeJPEG(t, 3000, 100)

	ctx := context.Background()
	rec := PhotoRecord{ExternalID: "p1", DisplayName: "wide.jpg", MimeType: "image/jpeg"}
	if _, err := store.Upsert(ctx, &rec); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	results := make(chan error, 1)
	d := NewDownloader(store, src, cache, 1, func(rec PhotoRecord, err error) {
		results <- err
	})
	d.Start(ctx)
	defer d.Stop()

	d.Enqueue(rec)
	if err := waitResult(t, results); err != nil {
		t.Fatalf("download failed: %v", err)
	}

	got, err := store.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.CachedPath == "" {
		t.Fatal("record not marked cached")
	}

	content, err := os.ReadFile(got.CachedPath)
	if err != nil {
		t.Fatalf("read cached file: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("cached file is not a decodable image: %v", err)
	}
	if img.Bounds().Dx() != DisplayMaxSize {
		t.Errorf("cached width = %d, want %d", img.Bounds().Dx(), DisplayMaxSize)
	}
	if got.Width != DisplayMaxSize {
		t.Errorf("recorded width = %d, want %d", got.Width, DisplayMaxSize)
	}
}

func TestDownloaderKeepsSmallImagesUnscaled(t *testing.T) {
	store := newTestStore(t)
	cache := newTestCache(t)
	src := newFakeSource()
	src.content["p1"] = encodeJPEG(t, 640, 480)

	ctx := context.Background()
	rec := PhotoRecord{ExternalID: "p1", DisplayName: "small.jpg", MimeType: "image/jpeg"}
	if _, err := store.Upsert(ctx, &rec); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	results := make(chan error, 1)
	d := NewDownloader(store, src, cache, 1, func(rec PhotoRecord, err error) {
		results <- err
	})
	d.Start(ctx)
	defer d.Stop()

	d.Enqueue(rec)
	if err := waitResult(t, results); err != nil {
		t.Fatalf("download failed: %v", err)
	}

	got, _ := store.Get(ctx, "p1")
	if got.Width != 640 || got.Height != 480 {
		t.Errorf("recorded size = %dx%d, want 640x480", got.Width, got.Height)
	}
}

func TestDownloaderCachesUndecodableVerbatim(t *testing.T) {
	store := newTestStore(t)
	cache := newTestCache(t)
	src := newFakeSource()
	raw := []byte("RIFFxxxxWEBPVP8 not really webp")
	src.content["p1"] = raw

	ctx := context.Background()
	rec := PhotoRecord{ExternalID: "p1", DisplayName: "clip.webp", MimeType: "image/webp"}
	if _, err := store.Upsert(ctx, &rec); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	results := make(chan error, 1)
	d := NewDownloader(store, src, cache, 1, func(rec PhotoRecord, err error) {
		results <- err
	})
	d.Start(ctx)
	defer d.Stop()

	d.Enqueue(rec)
	if err := waitResult(t, results); err != nil {
		t.Fatalf("download failed: %v", err)
	}

	got, _ := store.Get(ctx, "p1")
	if got.CachedPath == "" {
		t.Fatal("record not marked cached")
	}
	content, err := os.ReadFile(got.CachedPath)
	if err != nil {
		t.Fatalf("read cached file: %v", err)
	}
	if !bytes.Equal(content, raw) {
		t.Error("undecodable content was not cached verbatim")
	}
}

func TestDownloaderIsolatesFailures(t *testing.T) {
	store := newTestStore(t)
	cache := newTestCache(t)
	src := newFakeSource()
	src.content["good1"] = encodeJPEG(t, 10, 10)
	src.content["good2"] = encodeJPEG(t, 10, 10)
	src.openErr["bad"] = errors.New("remote refused")

	ctx := context.Background()
	recs := []PhotoRecord{
		{ExternalID: "good1", DisplayName: "1.jpg", MimeType: "image/jpeg"},
		{ExternalID: "bad", DisplayName: "2.jpg", MimeType: "image/jpeg"},
		{ExternalID: "good2", DisplayName: "3.jpg", MimeType: "image/jpeg"},
	}
	for i := range recs {
		if _, err := store.Upsert(ctx, &recs[i]); err != nil {
			t.Fatalf("Upsert() error: %v", err)
		}
	}

	type outcome struct {
		id  string
		err error
	}
	results := make(chan outcome, 3)
	d := NewDownloader(store, src, cache, 2, func(rec PhotoRecord, err error) {
		results <- outcome{id: rec.ExternalID, err: err}
	})
	d.Start(ctx)
	defer d.Stop()

	for _, rec := range recs {
		d.Enqueue(rec)
	}

	failed := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case out := <-results:
			failed[out.id] = out.err != nil
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for downloads")
		}
	}

	if !failed["bad"] {
		t.Error("failing id did not report an error")
	}
	if failed["good1"] || failed["good2"] {
		t.Error("healthy ids were affected by the failing one")
	}

	stats, _ := store.GetStats(ctx)
	if stats.Cached != 2 {
		t.Errorf("cached = %d, want 2", stats.Cached)
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	store := newTestStore(t)
	cache := newTestCache(t)
	src := newFakeSource()
	src.content["p1"] = encodeJPEG(t, 10, 10)

	ctx := context.Background()
	rec := PhotoRecord{ExternalID: "p1", DisplayName: "a.jpg", MimeType: "image/jpeg"}
	if _, err := store.Upsert(ctx, &rec); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	results := make(chan error, 4)
	d := NewDownloader(store, src, cache, 1, func(rec PhotoRecord, err error) {
		results <- err
	})

	// Queued before workers start: the second Enqueue sees it in flight.
	d.Enqueue(rec)
	d.Enqueue(rec)

	d.Start(ctx)
	defer d.Stop()

	if err := waitResult(t, results); err != nil {
		t.Fatalf("download failed: %v", err)
	}
	select {
	case <-results:
		t.Error("duplicate enqueue produced a second download")
	case <-time.After(200 * time.Millisecond):
	}
}
