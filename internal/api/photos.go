package api

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kioskframe/kioskframe/internal/events"
	"github.com/kioskframe/kioskframe/internal/library"
	"github.com/kioskframe/kioskframe/internal/logging"
)

// photoEntry is one listing entry. URL always resolves: the local image
// route when cached bytes exist, else the remote URL, else the local route
// again (which proxies from the source).
type photoEntry struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	URL     string     `json:"url"`
	Width   int        `json:"width,omitempty"`
	Height  int        `json:"height,omitempty"`
	TakenAt *time.Time `json:"taken_at,omitempty"`
	Cached  bool       `json:"cached"`
}

func localImageURL(id string) string {
	return "/api/v1/photos/" + id + "/image"
}

// ─── Listing ────────────────────────────────────────────────────────────────

func (s *Server) handlePhotos(w http.ResponseWriter, r *http.Request) {
	// Staleness-gated re-check, off the request path. A request landing
	// inside the window costs nothing; the gate is re-checked inside Sync.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := s.sync.Sync(ctx, false); err != nil {
			logging.Warn("background sync failed", zap.Error(err))
		}
	}()

	recs, err := s.store.List(r.Context())
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to list photos: "+err.Error())
		return
	}

	photos := make([]photoEntry, 0, len(recs))
	for _, rec := range recs {
		entry := photoEntry{
			ID:      rec.ExternalID,
			Name:    rec.DisplayName,
			Width:   rec.Width,
			Height:  rec.Height,
			TakenAt: rec.TakenAt,
		}

		switch {
		case rec.CachedPath != "" && fileExists(rec.CachedPath):
			entry.URL = localImageURL(rec.ExternalID)
			entry.Cached = true
		case rec.RemoteURL != "":
			entry.URL = rec.RemoteURL
		default:
			// Source without public URLs: the image route proxies.
			entry.URL = localImageURL(rec.ExternalID)
		}
		photos = append(photos, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"photos": photos,
		"count":  len(photos),
	})
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ─── Manual refresh ─────────────────────────────────────────────────────────

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.sync.Sync(r.Context(), true)
	if err != nil {
		s.sendError(w, http.StatusBadGateway, "refresh failed: "+err.Error())
		return
	}

	if s.broadcaster != nil {
		s.broadcaster.Publish(events.Event{
			Type:  events.EventSyncDone,
			Added: res.Added,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// ─── Image bytes ────────────────────────────────────────────────────────────

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		s.sendError(w, http.StatusBadRequest, "photo id required")
		return
	}

	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to load photo: "+err.Error())
		return
	}
	if rec == nil {
		s.sendError(w, http.StatusNotFound, "unknown photo: "+id)
		return
	}

	if rec.CachedPath != "" {
		f, err := os.Open(rec.CachedPath)
		if err == nil {
			defer f.Close()
			info, statErr := f.Stat()
			if statErr == nil {
				w.Header().Set("Content-Type", contentTypeFor(rec))
				w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
				w.Header().Set("Cache-Control", "public, max-age=86400")
				io.Copy(w, f)
				return
			}
		}
		// Cached path is stale (file removed out of band): clear it so the
		// next sync re-downloads, and fall through to the remote bytes.
		if err := s.store.ClearCached(r.Context(), id); err != nil {
			logging.Warn("clear stale cache path failed", zap.String("id", id), zap.Error(err))
		}
		logging.Warn("cached file missing, falling back to remote",
			zap.String("id", id),
			zap.String("path", rec.CachedPath))
	}

	if rec.RemoteURL != "" {
		http.Redirect(w, r, rec.RemoteURL, http.StatusFound)
		return
	}

	// No public URL (e.g. private bucket): proxy the bytes.
	reader, err := s.src.Open(r.Context(), id)
	if err != nil {
		s.sendError(w, http.StatusBadGateway, "fetch from source failed: "+err.Error())
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", contentTypeFor(rec))
	io.Copy(w, reader)
}

// contentTypeFor picks the response content type. Cached files carry the
// extension the downloader published (re-encoded photos are always .jpg).
func contentTypeFor(rec *library.PhotoRecord) string {
	if rec.CachedPath != "" {
		if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(rec.CachedPath))); t != "" {
			return t
		}
	}
	if rec.MimeType != "" {
		return rec.MimeType
	}
	return "application/octet-stream"
}
