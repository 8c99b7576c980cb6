package library

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kioskframe/kioskframe/internal/events"
	"github.com/kioskframe/kioskframe/internal/logging"
	"github.com/kioskframe/kioskframe/internal/metrics"
	"github.com/kioskframe/kioskframe/internal/source"
)

// SyncResult reports what one sync pass did. Failed lists ids whose most
// recent download attempt failed; they are re-queued on the next pass.
type SyncResult struct {
	Added     int      `json:"added"`
	Refreshed int      `json:"refreshed"`
	Failed    []string `json:"failed,omitempty"`
}

// Synchronizer reconciles the remote folder listing against the local photo
// table and queues byte downloads for anything not yet cached.
//
// Concurrent Sync calls may both pass the staleness gate and hit the remote
// API twice; that duplication is accepted since upserts are idempotent by
// external id.
type Synchronizer struct {
	store    *Store
	src      source.Source
	fetcher  Fetcher
	interval time.Duration

	mu       sync.Mutex
	lastSync time.Time
	failures map[string]error
}

// NewSynchronizer creates a synchronizer. The persisted last-sync time is
// loaded so a restart inside the staleness window does not re-poll.
func NewSynchronizer(ctx context.Context, store *Store, src source.Source, fetcher Fetcher, interval time.Duration) (*Synchronizer, error) {
	last, err := store.LastSync(ctx)
	if err != nil {
		return nil, err
	}
	return &Synchronizer{
		store:    store,
		src:      src,
		fetcher:  fetcher,
		interval: interval,
		lastSync: last,
		failures: make(map[string]error),
	}, nil
}

// RecordResult tracks a download outcome. Wire it as the downloader's
// onResult callback.
func (s *Synchronizer) RecordResult(rec PhotoRecord, err error) {
	s.mu.Lock()
	if err != nil {
		s.failures[rec.ExternalID] = err
	} else {
		delete(s.failures, rec.ExternalID)
	}
	s.mu.Unlock()
}

// LastSync returns the in-memory last successful sync time.
func (s *Synchronizer) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

// FailedIDs returns the ids whose last download attempt failed, sorted.
func (s *Synchronizer) FailedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.failures))
	for id := range s.failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sync reconciles the table against the remote listing.
//
// With force false the staleness gate applies: inside the configured interval
// the call returns a zero result without touching the remote API. The
// last-sync timestamp advances as soon as the listing succeeds, before any
// download completes, so slow or failing downloads never cause re-polling.
// A listing failure leaves the table and the timestamp untouched.
func (s *Synchronizer) Sync(ctx context.Context, force bool) (SyncResult, error) {
	if !force {
		s.mu.Lock()
		fresh := time.Since(s.lastSync) < s.interval
		s.mu.Unlock()
		if fresh {
			metrics.RecordSyncSkipped()
			return SyncResult{}, nil
		}
	}

	start := time.Now()
	descs, err := s.src.List(ctx)
	if err != nil {
		metrics.RecordSyncPass(time.Since(start), false)
		logging.Warn("remote listing failed, keeping cached table", zap.Error(err))
		return SyncResult{}, fmt.Errorf("list remote folder: %w", err)
	}

	now := time.Now()
	s.mu.Lock()
	s.lastSync = now
	s.mu.Unlock()
	if err := s.store.SetLastSync(ctx, now); err != nil {
		logging.Warn("persist sync time failed", zap.Error(err))
	}

	var res SyncResult
	for _, desc := range descs {
		rec := PhotoRecord{
			ExternalID:  desc.ID,
			DisplayName: desc.Name,
			MimeType:    desc.MimeType,
			RemoteURL:   s.src.RemoteURL(desc.ID),
		}

		inserted, err := s.store.Upsert(ctx, &rec)
		if err != nil {
			logging.Warn("upsert failed", zap.String("id", desc.ID), zap.Error(err))
			continue
		}
		if inserted {
			res.Added++
		} else {
			res.Refreshed++
		}

		if s.needsDownload(ctx, desc.ID) {
			s.fetcher.Enqueue(rec)
		}
	}

	res.Failed = s.FailedIDs()

	metrics.RecordSyncPass(time.Since(start), true)
	if stats, err := s.store.GetStats(ctx); err == nil {
		metrics.SetPhotosKnown(int64(stats.Photos))
		metrics.SetPhotosCached(int64(stats.Cached))
	}

	logging.Info("sync pass completed",
		zap.Int("listed", len(descs)),
		zap.Int("added", res.Added),
		zap.Int("refreshed", res.Refreshed),
		zap.Int("failed", len(res.Failed)),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

// needsDownload reports whether the record has no usable cached bytes. A set
// cached path whose file is gone counts as uncached.
func (s *Synchronizer) needsDownload(ctx context.Context, id string) bool {
	rec, err := s.store.Get(ctx, id)
	if err != nil || rec == nil {
		return false
	}
	if rec.CachedPath == "" {
		return true
	}
	if _, err := os.Stat(rec.CachedPath); err != nil {
		return true
	}
	return false
}

// NotifyingFetcher wraps a Fetcher so sync passes publish SSE events for new
// photos, and wires download completions to both the synchronizer's failure
// ledger and the broadcaster.
type NotifyingFetcher struct {
	Fetcher     Fetcher
	Broadcaster *events.Broadcaster
}

// Enqueue forwards to the wrapped fetcher and announces the photo.
func (n *NotifyingFetcher) Enqueue(rec PhotoRecord) {
	n.Fetcher.Enqueue(rec)
	if n.Broadcaster != nil {
		n.Broadcaster.Publish(events.Event{
			Type: events.EventPhotoAdded,
			ID:   rec.ExternalID,
			Name: rec.DisplayName,
		})
	}
}
