// Package oss implements filestore on top of the Aliyun OSS Go SDK.
//
// Usage:
//
//	drv, err := oss.New(creds, oss.WithLogger(log))
//	if err != nil { ... }
//
//	files, dirs, err := drv.Lister().ListDirectory(ctx, "images/", true)
//	resp, err := drv.UploadPolicy(policy.Request{Dir: "images/", CallbackURL: cb})
package oss

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	alioss "github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/koustreak/ossgate/internal/errs"
	"github.com/koustreak/ossgate/internal/filestore"
	"github.com/koustreak/ossgate/internal/filestore/listing"
	"github.com/koustreak/ossgate/internal/filestore/policy"
	"github.com/koustreak/ossgate/internal/logger"
)

// bucketAPI is the subset of *alioss.Bucket the driver uses.
type bucketAPI interface {
	ListObjects(options ...alioss.Option) (alioss.ListObjectsResult, error)
	PutObject(objectKey string, reader io.Reader, options ...alioss.Option) error
	GetObject(objectKey string, options ...alioss.Option) (io.ReadCloser, error)
	DeleteObject(objectKey string, options ...alioss.Option) error
	CopyObject(srcObjectKey, destObjectKey string, options ...alioss.Option) (alioss.CopyObjectResult, error)
	IsObjectExist(objectKey string, options ...alioss.Option) (bool, error)
	GetObjectDetailedMeta(objectKey string, options ...alioss.Option) (http.Header, error)
	SetObjectACL(objectKey string, objectACL alioss.ACLType, options ...alioss.Option) error
	SignURL(objectKey string, method alioss.HTTPMethod, expiredInSec int64, options ...alioss.Option) (string, error)
}

// Driver is an OSS implementation of filestore.Store, filestore.Signing and
// filestore.PageLister. It is safe for concurrent use.
type Driver struct {
	bucket   bucketAPI
	creds    filestore.Credentials
	prefixer filestore.Prefixer
	lister   *listing.Lister
	signer   *policy.Signer
	log      *logger.Logger
	now      func() time.Time

	listOpts   []listing.Option
	signerOpts []policy.Option
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
			d.log = log.Component("oss")
		}
	}
}

// WithListingOptions passes options to the driver's Lister.
func WithListingOptions(opts ...listing.Option) Option {
	return func(d *Driver) {
		d.listOpts = append(d.listOpts, opts...)
	}
}

// WithSignerOptions passes options to the driver's upload policy Signer.
func WithSignerOptions(opts ...policy.Option) Option {
	return func(d *Driver) {
		d.signerOpts = append(d.signerOpts, opts...)
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

func withBucket(b bucketAPI) Option {
	return func(d *Driver) {
		d.bucket = b
	}
}

// New builds an OSS client for creds. No request is sent.
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

	if d.bucket == nil {
		client, err := alioss.New(creds.Endpoint, creds.AccessKeyID, creds.AccessKeySecret, clientOptions(creds)...)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindConfiguration, "failed to create oss client", err)
		}
		bucket, err := client.Bucket(creds.Bucket)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindConfiguration, "invalid oss bucket", err)
		}
		d.bucket = bucket
	}

	signer, err := policy.New(creds, append([]policy.Option{policy.WithLogger(d.log)}, d.signerOpts...)...)
	if err != nil {
		return nil, err
	}
	d.signer = signer
	d.lister = listing.New(d, append([]listing.Option{listing.WithLogger(d.log)}, d.listOpts...)...)

	return d, nil
}

func clientOptions(creds *filestore.Credentials) []alioss.ClientOption {
	opts := []alioss.ClientOption{alioss.UseCname(creds.CNAME)}
	if creds.SecurityToken != "" {
		opts = append(opts, alioss.SecurityToken(creds.SecurityToken))
	}
	if creds.ConnectTimeout > 0 || creds.ReadWriteTimeout > 0 {
		connect := int64(creds.ConnectTimeout / time.Second)
		rw := int64(creds.ReadWriteTimeout / time.Second)
		if connect <= 0 {
			connect = 30
		}
		if rw <= 0 {
			rw = 60
		}
		opts = append(opts, alioss.Timeout(connect, rw))
	}
	if p := creds.Proxy; p != nil && p.Host != "" {
		if p.User != "" {
			opts = append(opts, alioss.AuthProxy(p.Host, p.User, p.Password))
		} else {
			opts = append(opts, alioss.Proxy(p.Host))
		}
	}
	return opts
}

// Lister returns the paginated lister bound to this bucket. It takes
// storage keys, not logical paths.
func (d *Driver) Lister() *listing.Lister {
	return d.lister
}

// Credentials returns a copy of the driver's credential context.
func (d *Driver) Credentials() filestore.Credentials {
	return d.creds
}

// --- filestore.PageLister implementation ---

// ListPage fetches one delimiter-grouped page.
func (d *Driver) ListPage(ctx context.Context, req filestore.PageRequest) (filestore.ListingPage, error) {
	opts := []alioss.Option{
		alioss.Prefix(req.Prefix),
		alioss.MaxKeys(req.MaxKeys),
		alioss.WithContext(ctx),
	}
	if req.Delimiter != "" {
		opts = append(opts, alioss.Delimiter(req.Delimiter))
	}
	if req.Marker != "" {
		opts = append(opts, alioss.Marker(req.Marker))
	}

	res, err := d.bucket.ListObjects(opts...)
	if err != nil {
		return filestore.ListingPage{}, mapError(err, "failed to list objects")
	}

	page := filestore.ListingPage{
		Objects:    make([]filestore.ObjectEntry, len(res.Objects)),
		Prefixes:   make([]filestore.PrefixEntry, len(res.CommonPrefixes)),
		NextMarker: res.NextMarker,
	}
	for i, o := range res.Objects {
		page.Objects[i] = filestore.ObjectEntry{
			Key:          o.Key,
			LastModified: o.LastModified,
			ETag:         o.ETag,
			Size:         o.Size,
			StorageClass: o.StorageClass,
			Type:         filestore.EntryType(o.Type),
		}
	}
	for i, p := range res.CommonPrefixes {
		page.Prefixes[i] = filestore.PrefixEntry{Prefix: p}
	}
	return page, nil
}

// --- filestore.Store implementation ---

// Write uploads r to path, replacing any existing object.
func (d *Driver) Write(ctx context.Context, path string, r io.Reader, opts filestore.WriteOptions) error {
	options := []alioss.Option{alioss.WithContext(ctx)}
	if opts.ContentType != "" {
		options = append(options, alioss.ContentType(opts.ContentType))
	}
	if opts.Visibility != "" {
		acl, err := aclFor(opts.Visibility)
		if err != nil {
			return err
		}
		options = append(options, alioss.ObjectACL(acl))
	}
	return mapError(d.bucket.PutObject(d.prefixer.Apply(path), r, options...), "failed to write object")
}

// Read opens the object at path. The caller must close the reader.
func (d *Driver) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	body, err := d.bucket.GetObject(d.prefixer.Apply(path), alioss.WithContext(ctx))
	if err != nil {
		return nil, mapError(err, "failed to read object")
	}
	return body, nil
}

// Delete removes the object at path.
func (d *Driver) Delete(ctx context.Context, path string) error {
	return mapError(d.bucket.DeleteObject(d.prefixer.Apply(path), alioss.WithContext(ctx)), "failed to delete object")
}

// Copy duplicates src to dst inside the bucket.
func (d *Driver) Copy(ctx context.Context, src, dst string) error {
	_, err := d.bucket.CopyObject(d.prefixer.Apply(src), d.prefixer.Apply(dst), alioss.WithContext(ctx))
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
	ok, err := d.bucket.IsObjectExist(d.prefixer.Apply(path), alioss.WithContext(ctx))
	if err != nil {
		return false, mapError(err, "failed to check object")
	}
	return ok, nil
}

// Stat returns the metadata of the object at path.
func (d *Driver) Stat(ctx context.Context, path string) (*filestore.FileInfo, error) {
	h, err := d.bucket.GetObjectDetailedMeta(d.prefixer.Apply(path), alioss.WithContext(ctx))
	if err != nil {
		return nil, mapError(err, "failed to stat object")
	}
	return fileInfoFromHeader(path, h), nil
}

// CreateDir writes an empty "dir/" marker object.
func (d *Driver) CreateDir(ctx context.Context, dir string) error {
	key := filestore.DirPrefix(d.prefixer.Apply(dir))
	return mapError(d.bucket.PutObject(key, bytes.NewReader(nil), alioss.WithContext(ctx)), "failed to create directory")
}

// DeleteDir removes every object under dir, the immediate sub-directory
// markers and the dir marker itself. It stops at the first failure.
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
		if err := d.bucket.DeleteObject(key, alioss.WithContext(ctx)); err != nil {
			return mapError(err, "failed to delete "+key)
		}
	}
	d.log.DebugWith("deleted directory", map[string]any{"dir": root, "objects": len(keys)})
	return nil
}

// SetVisibility sets the object ACL.
func (d *Driver) SetVisibility(ctx context.Context, path string, v filestore.Visibility) error {
	acl, err := aclFor(v)
	if err != nil {
		return err
	}
	return mapError(d.bucket.SetObjectACL(d.prefixer.Apply(path), acl, alioss.WithContext(ctx)), "failed to set object acl")
}

// ListContents lists dir through the Lister and returns files followed by
// directories, with the path prefix stripped.
func (d *Driver) ListContents(ctx context.Context, dir string, recursive bool) ([]filestore.FileInfo, error) {
	files, dirs, err := d.lister.ListDirectory(ctx, d.prefixer.Apply(dir), recursive)
	if err != nil {
		return nil, err
	}
	return filestore.Contents(d.prefixer, files, dirs), nil
}

// URL returns the public URL of path.
func (d *Driver) URL(path string) string {
	return d.creds.Host() + strings.TrimLeft(d.prefixer.Apply(path), "/")
}

// --- filestore.Signing implementation ---

// SignURL returns a URL granting method on path for ttl.
func (d *Driver) SignURL(_ context.Context, path string, ttl time.Duration, method string) (string, error) {
	secs := int64(ttl / time.Second)
	if secs <= 0 {
		return "", errs.InvalidArgument("signed url ttl must be at least one second, got %s", ttl)
	}
	if method == "" {
		method = filestore.DefaultMethod
	}
	u, err := d.bucket.SignURL(d.prefixer.Apply(path), alioss.HTTPMethod(strings.ToUpper(method)), secs)
	if err != nil {
		return "", mapError(err, "failed to sign url")
	}
	return u, nil
}

// TemporaryURL signs path until expiresAt.
func (d *Driver) TemporaryURL(ctx context.Context, path string, expiresAt time.Time, method string) (string, error) {
	return d.SignURL(ctx, path, expiresAt.Sub(d.now()), method)
}

// UploadPolicy signs a direct-upload policy. req.Dir is a logical path; the
// configured path prefix is applied before signing.
func (d *Driver) UploadPolicy(req policy.Request) (*policy.Response, error) {
	req.Dir = d.prefixer.Apply(strings.TrimLeft(req.Dir, "/"))
	return d.signer.Sign(req)
}

// --- internal helpers ---

func aclFor(v filestore.Visibility) (alioss.ACLType, error) {
	switch v {
	case filestore.VisibilityPublic:
		return alioss.ACLPublicRead, nil
	case filestore.VisibilityPrivate:
		return alioss.ACLPrivate, nil
	default:
		return "", errs.InvalidArgument("unknown visibility %q", v)
	}
}

func fileInfoFromHeader(path string, h http.Header) *filestore.FileInfo {
	info := &filestore.FileInfo{
		Path:        path,
		ContentType: h.Get("Content-Type"),
		ETag:        strings.Trim(h.Get("Etag"), `"`),
		Size:        -1,
	}
	if n, err := strconv.ParseInt(h.Get("Content-Length"), 10, 64); err == nil {
		info.Size = n
	}
	if t, err := http.ParseTime(h.Get("Last-Modified")); err == nil {
		info.LastModified = t
	}
	return info
}
