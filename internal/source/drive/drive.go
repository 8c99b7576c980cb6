// Package drive provides a Google Drive source for public folders, using the
// Drive v3 files.list endpoint with an API key.
package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/kioskframe/kioskframe/internal/logging"
	"github.com/kioskframe/kioskframe/internal/metrics"
	"github.com/kioskframe/kioskframe/internal/retry"
	"github.com/kioskframe/kioskframe/internal/source"
)

const (
	defaultAPIBase      = "https://www.googleapis.com/drive/v3"
	defaultDownloadBase = "https://drive.google.com"

	// Drive caps pageSize at 1000; larger folders are paginated.
	pageSize = 1000

	// Width requested from the Drive thumbnail endpoint. The thumbnail URL
	// works for public files where uc?export=view does not.
	downloadWidth = 2000
)

// Config holds Drive source settings.
type Config struct {
	FolderID string
	APIKey   string
}

// Drive lists and fetches images from a public Google Drive folder.
type Drive struct {
	folderID     string
	apiKey       string
	apiBase      string
	downloadBase string
	httpClient   *http.Client
	retryConfig  retry.Config
}

// New creates a Drive source.
func New(cfg Config) (*Drive, error) {
	if cfg.FolderID == "" {
		return nil, fmt.Errorf("folder id is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	return &Drive{
		folderID:     cfg.FolderID,
		apiKey:       cfg.APIKey,
		apiBase:      defaultAPIBase,
		downloadBase: defaultDownloadBase,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: retry.DefaultConfig(),
	}, nil
}

// fileList mirrors the files.list response shape.
type fileList struct {
	NextPageToken string      `json:"nextPageToken"`
	Files         []driveFile `json:"files"`
}

type driveFile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	ModifiedTime string `json:"modifiedTime"`
}

// List returns descriptors for every image in the folder, following
// nextPageToken pagination.
func (d *Drive) List(ctx context.Context) ([]source.Descriptor, error) {
	var descs []source.Descriptor

	pageToken := ""
	for {
		page, err := retry.DoWithResult(ctx, d.retryConfig, func() (*fileList, error) {
			return d.listPage(ctx, pageToken)
		})
		if err != nil {
			metrics.RecordSourceOperation("list", false)
			return nil, fmt.Errorf("drive files.list: %w", err)
		}

		for _, f := range page.Files {
			desc := source.Descriptor{
				ID:       f.ID,
				Name:     f.Name,
				MimeType: f.MimeType,
			}
			if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
				desc.ModifiedTime = t
			}
			descs = append(descs, desc)
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	metrics.RecordSourceOperation("list", true)
	logging.Debug("drive folder listed",
		zap.String("folder", d.folderID),
		zap.Int("files", len(descs)))
	return descs, nil
}

func (d *Drive) listPage(ctx context.Context, pageToken string) (*fileList, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf("'%s' in parents and mimeType contains 'image/' and trashed = false", d.folderID))
	q.Set("fields", "nextPageToken, files(id, name, mimeType, modifiedTime)")
	q.Set("orderBy", "name")
	q.Set("pageSize", fmt.Sprintf("%d", pageSize))
	q.Set("key", d.apiKey)
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.apiBase+"/files?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, retry.Retryable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("status %d: %s", resp.StatusCode, body)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, retry.Retryable(err)
		}
		return nil, err
	}

	var page fileList
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode files.list response: %w", err)
	}
	return &page, nil
}

// Open fetches the display-sized bytes for one file.
func (d *Drive) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.RemoteURL(id), nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		metrics.RecordSourceOperation("open", false)
		return nil, retry.Retryable(fmt.Errorf("fetch %s: %w", id, err))
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		metrics.RecordSourceOperation("open", false)
		err := fmt.Errorf("fetch %s: status %d", id, resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, retry.Retryable(err)
		}
		return nil, err
	}

	metrics.RecordSourceOperation("open", true)
	return resp.Body, nil
}

// RemoteURL returns the Drive thumbnail URL, directly usable by a browser.
func (d *Drive) RemoteURL(id string) string {
	return fmt.Sprintf("%s/thumbnail?id=%s&sz=w%d", d.downloadBase, url.QueryEscape(id), downloadWidth)
}

// Type returns "drive".
func (d *Drive) Type() string { return "drive" }
