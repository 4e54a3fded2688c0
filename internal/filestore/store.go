// Package filestore defines the shared contracts of ossgate's object storage
// layer: the credential/endpoint context, path prefixing, listing entry
// shapes, and the interfaces drivers implement.
//
// Two provider packages implement them: oss (the vendor SDK) and minio (the
// S3-compatible endpoint). The listing and policy subpackages hold the two
// pieces of real logic and depend only on this package.
//
// Usage:
//
//	creds := &filestore.Credentials{Endpoint: "https://oss-cn-hangzhou.aliyuncs.com", ...}
//	drv, err := oss.New(creds, oss.WithLogger(log))
//	if err != nil { ... }
//
//	files, dirs, err := drv.Lister().ListDirectory(ctx, "images", true)
package filestore

import (
	"context"
	"io"
	"net/http"
	"time"
)

// PageLister fetches one listing page. Implementations issue exactly one
// remote request per call and never retry.
type PageLister interface {
	ListPage(ctx context.Context, req PageRequest) (ListingPage, error)
}

// PageListerFunc adapts a function to PageLister.
type PageListerFunc func(ctx context.Context, req PageRequest) (ListingPage, error)

// ListPage calls f.
func (f PageListerFunc) ListPage(ctx context.Context, req PageRequest) (ListingPage, error) {
	return f(ctx, req)
}

// Store is the generic filesystem surface every driver implements. All
// paths are logical: drivers apply and strip the configured path prefix.
type Store interface {
	Write(ctx context.Context, path string, r io.Reader, opts WriteOptions) error
	Read(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	Copy(ctx context.Context, src, dst string) error
	Rename(ctx context.Context, src, dst string) error
	Has(ctx context.Context, path string) (bool, error)
	Stat(ctx context.Context, path string) (*FileInfo, error)
	CreateDir(ctx context.Context, dir string) error
	DeleteDir(ctx context.Context, dir string) error
	SetVisibility(ctx context.Context, path string, v Visibility) error
	ListContents(ctx context.Context, dir string, recursive bool) ([]FileInfo, error)
	URL(path string) string
}

// Signing exposes the vendor-specific operations that sit next to Store.
type Signing interface {
	// SignURL returns a URL granting method on path for ttl.
	SignURL(ctx context.Context, path string, ttl time.Duration, method string) (string, error)

	// TemporaryURL is SignURL with an absolute expiry.
	TemporaryURL(ctx context.Context, path string, expiresAt time.Time, method string) (string, error)
}

// DefaultMethod is used when a signing call passes an empty method.
const DefaultMethod = http.MethodGet
