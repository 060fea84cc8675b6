package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// ImageStore persists listing images in an S3-compatible object store.
// Bytes in, bytes out; no decoding or transformation.
type ImageStore interface {
	// Store uploads data under key and returns the stored key.
	Store(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Fetch downloads the object at key.
	Fetch(ctx context.Context, key string) ([]byte, error)

	// Enabled reports whether a store is configured. A disabled store
	// turns image collection and image-assisted validation off.
	Enabled() bool
}

// ImageCollector downloads listing thumbnails and stores them, filling
// ImageKeys and ImagesCount on each listing in place. Collection is
// best-effort: a listing whose downloads all fail keeps empty keys and
// is persisted anyway.
type ImageCollector interface {
	Collect(ctx context.Context, listings []models.CatalogListing)
}
