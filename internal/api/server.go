// Package api wires the HTTP surface: the photo listing and refresh API, the
// cached image route, the SSE stream, and the embedded slideshow webapp.
package api

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/kioskframe/kioskframe/internal/config"
	"github.com/kioskframe/kioskframe/internal/events"
	"github.com/kioskframe/kioskframe/internal/imagecache"
	"github.com/kioskframe/kioskframe/internal/library"
	"github.com/kioskframe/kioskframe/internal/logging"
	"github.com/kioskframe/kioskframe/internal/metrics"
	"github.com/kioskframe/kioskframe/internal/source"
	"github.com/kioskframe/kioskframe/webapp"
)

// Server holds the HTTP handler dependencies.
type Server struct {
	store       *library.Store
	sync        *library.Synchronizer
	cache       *imagecache.Cache
	src         source.Source
	broadcaster *events.Broadcaster
	cfg         *config.Config
}

// NewServer creates an API server.
func NewServer(
	store *library.Store,
	sync *library.Synchronizer,
	cache *imagecache.Cache,
	src source.Source,
	broadcaster *events.Broadcaster,
	cfg *config.Config,
) *Server {
	return &Server{
		store:       store,
		sync:        sync,
		cache:       cache,
		src:         src,
		broadcaster: broadcaster,
		cfg:         cfg,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/v1/photos", s.handlePhotos)
	mux.HandleFunc("POST /api/v1/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/v1/photos/{id}/image", s.handleImage)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/config", s.handleConfig)

	// Slideshow webapp
	appFS, _ := fs.Sub(webapp.Assets, ".")
	mux.Handle("/app/", http.StripPrefix("/app/", http.FileServer(http.FS(appFS))))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, webapp.Assets, "index.html")
	})

	return logging.Middleware(metrics.Middleware(mux))
}

func (s *Server) sendError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": "1.0"})
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Stats & display config ─────────────────────────────────────────────────

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to get stats: "+err.Error())
		return
	}

	resp := struct {
		Photos   int       `json:"photos"`
		Cached   int       `json:"cached"`
		Failed   []string  `json:"failed"`
		LastSync time.Time `json:"last_sync"`
	}{
		Photos:   stats.Photos,
		Cached:   stats.Cached,
		Failed:   s.sync.FailedIDs(),
		LastSync: s.sync.LastSync(),
	}
	if resp.Failed == nil {
		resp.Failed = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"slide_interval_ms": s.cfg.SlideInterval.Milliseconds(),
	})
}
