package crawler

import (
	"context"
	"io"
	"time"
)

// Extractor fetches a URL and extracts its content. The scheduler treats it as opaque.
type Extractor interface {
	FetchAndExtract(ctx context.Context, url string, opts ContentOptions) (Page, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// OutputWriter renders pages to durable storage and reads them back.
type OutputWriter interface {
	Write(ctx context.Context, page Page, format OutputFormat, outputDir string) (string, error)
	Read(ctx context.Context, location string) ([]byte, error)
}

// BlobStore writes raw artifacts and returns their location.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, location string) ([]byte, error)
}

// Publisher pushes batch notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for integrity checks.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch, item and result IDs.
type IDGenerator interface {
	NewID() (string, error)
}
