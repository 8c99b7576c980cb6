// Package source defines the remote photo source abstraction: a read-only
// listing of file descriptors plus access to their bytes.
package source

import (
	"context"
	"io"
	"time"
)

// Descriptor is remote-reported metadata for one file, not its bytes.
type Descriptor struct {
	ID           string
	Name         string
	MimeType     string
	ModifiedTime time.Time
}

// Source is a read-only remote folder of images.
type Source interface {
	// List returns descriptors for every image in the configured folder.
	List(ctx context.Context) ([]Descriptor, error)

	// Open returns the bytes for one file.
	Open(ctx context.Context, id string) (io.ReadCloser, error)

	// RemoteURL returns a browser-servable URL for the file, or "" when the
	// bytes are only reachable through this process.
	RemoteURL(id string) string

	// Type returns the backend type name.
	Type() string
}
