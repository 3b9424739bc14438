// Package blob stores opaque binary payloads (voice notes, attachments)
// and returns stable URLs for the stored objects.
package blob

import (
	"context"
	"io"
)

// Store is the durable blob boundary. Put must be atomic from the caller's
// perspective: on error no partial object is visible under the name.
type Store interface {
	// Put stores data under name and returns the URL clients fetch it from.
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
	// Get opens the stored object.
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	// Delete removes the object.
	Delete(ctx context.Context, name string) error
	Close() error
}
