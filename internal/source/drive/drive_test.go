package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kioskframe/kioskframe/internal/retry"
)

func newTestDrive(t *testing.T, apiBase string) *Drive {
	t.Helper()
	d, err := New(Config{FolderID: "folder123", APIKey: "key456"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	d.apiBase = apiBase
	d.retryConfig = retry.Config{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Multiplier: 1}
	return d
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{APIKey: "k"}); err == nil {
		t.Error("expected error without folder id")
	}
	if _, err := New(Config{FolderID: "f"}); err == nil {
		t.Error("expected error without api key")
	}
}

func TestListPaginates(t *testing.T) {
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files" {
			http.NotFound(w, r)
			return
		}
		queries = append(queries, r.URL.RawQuery)

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pageToken") == "" {
			json.NewEncoder(w).Encode(map[string]any{
				"nextPageToken": "page2",
				"files": []map[string]string{
					{"id": "a1", "name": "alpha.jpg", "mimeType": "image/jpeg", "modifiedTime": "2024-06-01T10:00:00Z"},
					{"id": "b2", "name": "beta.png", "mimeType": "image/png", "modifiedTime": "2024-06-02T10:00:00Z"},
				},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"files": []map[string]string{
				{"id": "c3", "name": "gamma.jpg", "mimeType": "image/jpeg", "modifiedTime": "2024-06-03T10:00:00Z"},
			},
		})
	}))
	defer srv.Close()

	d := newTestDrive(t, srv.URL)
	descs, err := d.List(context.Background())
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}

	if len(descs) != 3 {
		t.Fatalf("List() returned %d descriptors, want 3", len(descs))
	}
	wantIDs := []string{"a1", "b2", "c3"}
	for i, id := range wantIDs {
		if descs[i].ID != id {
			t.Errorf("descs[%d].ID = %q, want %q", i, descs[i].ID, id)
		}
	}
	if descs[0].ModifiedTime.IsZero() {
		t.Error("ModifiedTime not parsed")
	}

	if len(queries) != 2 {
		t.Fatalf("server saw %d requests, want 2", len(queries))
	}
	first := queries[0]
	for _, want := range []string{
		"key=key456",
		"orderBy=name",
		"pageSize=1000",
	} {
		if !strings.Contains(first, want) {
			t.Errorf("first query missing %q: %s", want, first)
		}
	}
	if !strings.Contains(first, "folder123") || !strings.Contains(first, "image") {
		t.Errorf("query does not scope folder and mime type: %s", first)
	}
	if !strings.Contains(queries[1], "pageToken=page2") {
		t.Errorf("second query missing page token: %s", queries[1])
	}
}

func TestListRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"files": [{"id": "a1", "name": "alpha.jpg", "mimeType": "image/jpeg"}]}`)
	}))
	defer srv.Close()

	d := newTestDrive(t, srv.URL)
	descs, err := d.List(context.Background())
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(descs) != 1 {
		t.Errorf("List() returned %d descriptors, want 1", len(descs))
	}
	if calls != 2 {
		t.Errorf("server saw %d requests, want 2", calls)
	}
}

func TestListDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad key", http.StatusForbidden)
	}))
	defer srv.Close()

	d := newTestDrive(t, srv.URL)
	if _, err := d.List(context.Background()); err == nil {
		t.Fatal("expected error for 403")
	}
	if calls != 1 {
		t.Errorf("server saw %d requests, want 1", calls)
	}
}

func TestOpenFetchesThumbnail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/thumbnail" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("id") != "a1" || r.URL.Query().Get("sz") != "w2000" {
			http.Error(w, "bad params", http.StatusBadRequest)
			return
		}
		w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	d := newTestDrive(t, srv.URL)
	d.downloadBase = srv.URL

	r, err := d.Open(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer r.Close()
	got, _ := io.ReadAll(r)
	if string(got) != "image-bytes" {
		t.Errorf("Open() content = %q", got)
	}
}

func TestRemoteURL(t *testing.T) {
	d, err := New(Config{FolderID: "f", APIKey: "k"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	got := d.RemoteURL("abc 123")
	want := "https://drive.google.com/thumbnail?id=abc+123&sz=w2000"
	if got != want {
		t.Errorf("RemoteURL() = %q, want %q", got, want)
	}
}
