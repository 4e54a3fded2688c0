// Package minio implements filestore against an S3-compatible endpoint
// (MinIO, or OSS through its S3 API) using minio-go.
//
// Usage:
//
//	creds := &filestore.Credentials{Provider: filestore.ProviderMinIO, Endpoint: "http://localhost:9000", ...}
//	drv, err := minio.New(creds, minio.WithLogger(log))
//	if err != nil { ... }
//
//	files, err := drv.ListContents(ctx, "images", false)
package minio

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/koustreak/ossgate/internal/errs"
	"github.com/koustreak/ossgate/internal/filestore"
	"github.com/koustreak/ossgate/internal/filestore/listing"
	"github.com/koustreak/ossgate/internal/logger"
)

// Driver is an S3-compatible implementation of filestore.Store,
// filestore.Signing and filestore.PageLister.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	api      s3API
	creds    filestore.Credentials
	prefixer filestore.Prefixer
	lister   *listing.Lister
	log      *logger.Logger
	now      func() time.Time
	listOpts []listing.Option
}

var (
	_ filestore.Store      = (*Driver)(nil)
	_ filestore.Signing    = (*Driver)(nil)
	_ filestore.PageLister = (*Driver)(nil)
)

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver's logger.
func WithLogger(log *logger.Logger) Option {
	return func(d *Driver) {
		if log != nil {
			d.log = log.Component("minio")
		}
	}
}

// WithListingOptions passes options to the driver's Lister.
func WithListingOptions(opts ...listing.Option) Option {
	return func(d *Driver) {
		d.listOpts = append(d.listOpts, opts...)
	}
}

// WithClock replaces time.Now for temporary URL expiry.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

func withAPI(api s3API) Option {
	return func(d *Driver) {
		d.api = api
	}
}

// New creates a minio-go client for creds. No request is sent.
func New(creds *filestore.Credentials, opts ...Option) (*Driver, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	d := &Driver{
		creds:    *creds,
		prefixer: creds.Prefixer(),
		log:      logger.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.api == nil {
		core, err := miniogo.NewCore(creds.EndpointHost(), &miniogo.Options{
			Creds:  credentials.NewStaticV4(creds.AccessKeyID, creds.AccessKeySecret, creds.SecurityToken),
			Secure: creds.Secure(),
		})
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindConfiguration, "failed to create minio client", err)
		}
		d.api = coreClient{core: core}
	}

	d.lister = listing.New(d, append([]listing.Option{listing.WithLogger(d.log)}, d.listOpts...)...)
	return d, nil
}

// Lister returns the paginated lister bound to this bucket.
func (d *Driver) Lister() *listing.Lister {
	return d.lister
}

// --- filestore.PageLister implementation ---

// ListPage fetches one delimiter-grouped page with ListObjects (v1), whose
// marker semantics match the OSS API.
func (d *Driver) ListPage(ctx context.Context, req filestore.PageRequest) (filestore.ListingPage, error) {
	res, err := d.api.ListObjects(ctx, d.creds.Bucket, req.Prefix, req.Marker, req.Delimiter, req.MaxKeys)
	if err != nil {
		return filestore.ListingPage{}, mapError(err, "failed to list objects")
	}

	page := filestore.ListingPage{
		Objects:  make([]filestore.ObjectEntry, len(res.Contents)),
		Prefixes: make([]filestore.PrefixEntry, len(res.CommonPrefixes)),
	}
	for i, o := range res.Contents {
		page.Objects[i] = filestore.ObjectEntry{
			Key:          o.Key,
			LastModified: o.LastModified,
			ETag:         o.ETag,
			Size:         o.Size,
			StorageClass: o.StorageClass,
			Type:         filestore.EntryNormal,
		}
	}
	for i, p := range res.CommonPrefixes {
		page.Prefixes[i] = filestore.PrefixEntry{Prefix: p.Prefix}
	}
	if res.IsTruncated {
		page.NextMarker = nextMarker(res)
	}
	return page, nil
}

// nextMarker returns NextMarker, or the greatest key or prefix on the page
// when the server omitted it.
func nextMarker(res miniogo.ListBucketResult) string {
	if res.NextMarker != "" {
		return res.NextMarker
	}
	last := ""
	if n := len(res.Contents); n > 0 {
		last = res.Contents[n-1].Key
	}
	if n := len(res.CommonPrefixes); n > 0 && res.CommonPrefixes[n-1].Prefix > last {
		last = res.CommonPrefixes[n-1].Prefix
	}
	return last
}

// --- filestore.Store implementation ---

// Write uploads r to path. The size is unknown, so the SDK streams it as a
// multipart upload when it is large.
func (d *Driver) Write(ctx context.Context, path string, r io.Reader, opts filestore.WriteOptions) error {
	if opts.Visibility == filestore.VisibilityPublic {
		return errs.InvalidArgument("object acl is not supported by the s3-compatible driver")
	}
	err := d.api.PutObject(ctx, d.creds.Bucket, d.prefixer.Apply(path), r, -1, miniogo.PutObjectOptions{
		ContentType: opts.ContentType,
	})
	return mapError(err, "failed to write object")
}

// Read opens the object at path. The caller must close the reader.
func (d *Driver) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	body, err := d.api.GetObject(ctx, d.creds.Bucket, d.prefixer.Apply(path))
	if err != nil {
		return nil, mapError(err, "failed to read object")
	}
	return body, nil
}

// Delete removes the object at path.
func (d *Driver) Delete(ctx context.Context, path string) error {
	return mapError(d.api.RemoveObject(ctx, d.creds.Bucket, d.prefixer.Apply(path)), "failed to delete object")
}

// Copy duplicates src to dst inside the bucket.
func (d *Driver) Copy(ctx context.Context, src, dst string) error {
	err := d.api.CopyObject(ctx, d.creds.Bucket, d.prefixer.Apply(src), d.prefixer.Apply(dst))
	return mapError(err, "failed to copy object")
}

// Rename copies src to dst, then deletes src.
func (d *Driver) Rename(ctx context.Context, src, dst string) error {
	if err := d.Copy(ctx, src, dst); err != nil {
		return err
	}
	return d.Delete(ctx, src)
}

// Has reports whether an object exists at path.
func (d *Driver) Has(ctx context.Context, path string) (bool, error) {
	_, err := d.api.StatObject(ctx, d.creds.Bucket, d.prefixer.Apply(path))
	if err == nil {
		return true, nil
	}
	mapped := mapError(err, "failed to check object")
	if errs.IsNotFound(mapped) {
		return false, nil
	}
	return false, mapped
}

// Stat returns metadata for the object at path without downloading it.
func (d *Driver) Stat(ctx context.Context, path string) (*filestore.FileInfo, error) {
	stat, err := d.api.StatObject(ctx, d.creds.Bucket, d.prefixer.Apply(path))
	if err != nil {
		return nil, mapError(err, "failed to stat object")
	}
	return &filestore.FileInfo{
		Path:         path,
		Size:         stat.Size,
		ContentType:  stat.ContentType,
		ETag:         strings.Trim(stat.ETag, `"`),
		LastModified: stat.LastModified,
	}, nil
}

// CreateDir writes an empty "dir/" marker object.
func (d *Driver) CreateDir(ctx context.Context, dir string) error {
	key := filestore.DirPrefix(d.prefixer.Apply(dir))
	err := d.api.PutObject(ctx, d.creds.Bucket, key, strings.NewReader(""), 0, miniogo.PutObjectOptions{})
	return mapError(err, "failed to create directory")
}

// DeleteDir removes every object under dir and the dir marker itself.
func (d *Driver) DeleteDir(ctx context.Context, dir string) error {
	if strings.Trim(dir, "/") == "" {
		return errs.InvalidArgument("refusing to delete the storage root")
	}
	root := filestore.DirPrefix(d.prefixer.Apply(dir))
	files, dirs, err := d.lister.ListDirectory(ctx, root, true)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(files)+len(dirs)+1)
	for _, f := range files {
		if f.Key != root {
			keys = append(keys, f.Key)
		}
	}
	for _, p := range dirs {
		keys = append(keys, p.Prefix)
	}
	keys = append(keys, root)

	for _, key := range keys {
		if err := d.api.RemoveObject(ctx, d.creds.Bucket, key); err != nil {
			return mapError(err, "failed to delete "+key)
		}
	}
	d.log.DebugWith("deleted directory", map[string]any{"dir": root, "objects": len(keys)})
	return nil
}

// SetVisibility is not available on S3-compatible endpoints; bucket
// policies govern access there.
func (d *Driver) SetVisibility(_ context.Context, _ string, v filestore.Visibility) error {
	return errs.InvalidArgument("cannot set visibility %q: object acl is not supported by the s3-compatible driver", v)
}

// ListContents lists dir and returns files followed by directories, with
// the path prefix stripped.
func (d *Driver) ListContents(ctx context.Context, dir string, recursive bool) ([]filestore.FileInfo, error) {
	files, dirs, err := d.lister.ListDirectory(ctx, d.prefixer.Apply(dir), recursive)
	if err != nil {
		return nil, err
	}
	return filestore.Contents(d.prefixer, files, dirs), nil
}

// URL returns the path-style public URL of path, or the virtual-hosted one
// when the endpoint is a CNAME.
func (d *Driver) URL(path string) string {
	key := strings.TrimLeft(d.prefixer.Apply(path), "/")
	if d.creds.CNAME {
		return d.creds.Host() + key
	}
	return d.creds.EndpointURL() + "/" + d.creds.Bucket + "/" + key
}

// --- filestore.Signing implementation ---

// SignURL presigns method on path for ttl.
func (d *Driver) SignURL(ctx context.Context, path string, ttl time.Duration, method string) (string, error) {
	if ttl < time.Second {
		return "", errs.InvalidArgument("signed url ttl must be at least one second, got %s", ttl)
	}
	if method == "" {
		method = filestore.DefaultMethod
	}
	method = strings.ToUpper(method)
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodHead, http.MethodDelete:
	default:
		return "", errs.InvalidArgument("unsupported signing method %q", method)
	}

	u, err := d.api.Presign(ctx, method, d.creds.Bucket, d.prefixer.Apply(path), ttl.Truncate(time.Second))
	if err != nil {
		return "", mapError(err, "failed to sign url")
	}
	return u.String(), nil
}

// TemporaryURL presigns path until expiresAt.
func (d *Driver) TemporaryURL(ctx context.Context, path string, expiresAt time.Time, method string) (string, error) {
	return d.SignURL(ctx, path, expiresAt.Sub(d.now()), method)
}
