package minio

import (
	"context"
	"io"
	"net/url"
	"time"

	miniogo "github.com/minio/minio-go/v7"
)

// s3API is the narrow S3 surface the driver needs. coreClient adapts
// *miniogo.Core to it; tests substitute a mock.
type s3API interface {
	ListObjects(ctx context.Context, bucket, prefix, marker, delimiter string, maxKeys int) (miniogo.ListBucketResult, error)
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts miniogo.PutObjectOptions) error
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	RemoveObject(ctx context.Context, bucket, key string) error
	CopyObject(ctx context.Context, bucket, src, dst string) error
	StatObject(ctx context.Context, bucket, key string) (miniogo.ObjectInfo, error)
	Presign(ctx context.Context, method, bucket, key string, ttl time.Duration) (*url.URL, error)
}

type coreClient struct {
	core *miniogo.Core
}

// ListObjects issues one ListObjects (v1) request. The SDK call takes no
// context, so ctx is only checked up front.
func (c coreClient) ListObjects(ctx context.Context, bucket, prefix, marker, delimiter string, maxKeys int) (miniogo.ListBucketResult, error) {
	if err := ctx.Err(); err != nil {
		return miniogo.ListBucketResult{}, err
	}
	return c.core.ListObjects(bucket, prefix, marker, delimiter, maxKeys)
}

func (c coreClient) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts miniogo.PutObjectOptions) error {
	_, err := c.core.Client.PutObject(ctx, bucket, key, r, size, opts)
	return err
}

// GetObject opens the object and stats it so a missing key fails here
// rather than on first read.
func (c coreClient) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := c.core.Client.GetObject(ctx, bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, err
	}
	return obj, nil
}

func (c coreClient) RemoveObject(ctx context.Context, bucket, key string) error {
	return c.core.Client.RemoveObject(ctx, bucket, key, miniogo.RemoveObjectOptions{})
}

func (c coreClient) CopyObject(ctx context.Context, bucket, src, dst string) error {
	_, err := c.core.Client.CopyObject(ctx,
		miniogo.CopyDestOptions{Bucket: bucket, Object: dst},
		miniogo.CopySrcOptions{Bucket: bucket, Object: src},
	)
	return err
}

func (c coreClient) StatObject(ctx context.Context, bucket, key string) (miniogo.ObjectInfo, error) {
	return c.core.Client.StatObject(ctx, bucket, key, miniogo.StatObjectOptions{})
}

func (c coreClient) Presign(ctx context.Context, method, bucket, key string, ttl time.Duration) (*url.URL, error) {
	return c.core.Client.Presign(ctx, method, bucket, key, ttl, nil)
}
