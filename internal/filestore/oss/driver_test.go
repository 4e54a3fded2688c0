package oss

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	alioss "github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/ossgate/internal/errs"
	"github.com/koustreak/ossgate/internal/filestore"
	"github.com/koustreak/ossgate/internal/filestore/policy"
)

// mockBucket is a bucketAPI whose operations are customized through
// function fields. Unset fields succeed with zero values.
type mockBucket struct {
	ListObjectsFunc           func(...alioss.Option) (alioss.ListObjectsResult, error)
	PutObjectFunc             func(string, io.Reader, ...alioss.Option) error
	GetObjectFunc             func(string, ...alioss.Option) (io.ReadCloser, error)
	DeleteObjectFunc          func(string, ...alioss.Option) error
	CopyObjectFunc            func(string, string, ...alioss.Option) (alioss.CopyObjectResult, error)
	IsObjectExistFunc         func(string, ...alioss.Option) (bool, error)
	GetObjectDetailedMetaFunc func(string, ...alioss.Option) (http.Header, error)
	SetObjectACLFunc          func(string, alioss.ACLType, ...alioss.Option) error
	SignURLFunc               func(string, alioss.HTTPMethod, int64, ...alioss.Option) (string, error)
}

func (m *mockBucket) ListObjects(options ...alioss.Option) (alioss.ListObjectsResult, error) {
	if m.ListObjectsFunc != nil {
		return m.ListObjectsFunc(options...)
	}
	return alioss.ListObjectsResult{}, nil
}

func (m *mockBucket) PutObject(key string, r io.Reader, options ...alioss.Option) error {
	if m.PutObjectFunc != nil {
		return m.PutObjectFunc(key, r, options...)
	}
	return nil
}

func (m *mockBucket) GetObject(key string, options ...alioss.Option) (io.ReadCloser, error) {
	if m.GetObjectFunc != nil {
		return m.GetObjectFunc(key, options...)
	}
	return io.NopCloser(strings.NewReader("")), nil
}

func (m *mockBucket) DeleteObject(key string, options ...alioss.Option) error {
	if m.DeleteObjectFunc != nil {
		return m.DeleteObjectFunc(key, options...)
	}
	return nil
}

func (m *mockBucket) CopyObject(src, dst string, options ...alioss.Option) (alioss.CopyObjectResult, error) {
	if m.CopyObjectFunc != nil {
		return m.CopyObjectFunc(src, dst, options...)
	}
	return alioss.CopyObjectResult{}, nil
}

func (m *mockBucket) IsObjectExist(key string, options ...alioss.Option) (bool, error) {
	if m.IsObjectExistFunc != nil {
		return m.IsObjectExistFunc(key, options...)
	}
	return false, nil
}

func (m *mockBucket) GetObjectDetailedMeta(key string, options ...alioss.Option) (http.Header, error) {
	if m.GetObjectDetailedMetaFunc != nil {
		return m.GetObjectDetailedMetaFunc(key, options...)
	}
	return http.Header{}, nil
}

func (m *mockBucket) SetObjectACL(key string, acl alioss.ACLType, options ...alioss.Option) error {
	if m.SetObjectACLFunc != nil {
		return m.SetObjectACLFunc(key, acl, options...)
	}
	return nil
}

func (m *mockBucket) SignURL(key string, method alioss.HTTPMethod, expiredInSec int64, options ...alioss.Option) (string, error) {
	if m.SignURLFunc != nil {
		return m.SignURLFunc(key, method, expiredInSec, options...)
	}
	return "", nil
}

// pagedBucket answers ListObjects calls from a fixed sequence.
func pagedBucket(pages ...alioss.ListObjectsResult) (*mockBucket, *int) {
	calls := 0
	return &mockBucket{
		ListObjectsFunc: func(...alioss.Option) (alioss.ListObjectsResult, error) {
			if calls >= len(pages) {
				return alioss.ListObjectsResult{}, errors.New("unexpected list call")
			}
			p := pages[calls]
			calls++
			return p, nil
		},
	}, &calls
}

func testCreds() *filestore.Credentials {
	return &filestore.Credentials{
		Endpoint:        "https://oss-cn-hangzhou.aliyuncs.com",
		AccessKeyID:     "test-id",
		AccessKeySecret: "test-secret",
		Bucket:          "media",
		PathPrefix:      "tenant",
	}
}

func newTestDriver(t *testing.T, b bucketAPI, opts ...Option) *Driver {
	t.Helper()
	d, err := New(testCreds(), append([]Option{withBucket(b)}, opts...)...)
	require.NoError(t, err)
	return d
}

func TestNew_InvalidCredentials(t *testing.T) {
	_, err := New(&filestore.Credentials{Endpoint: "oss.example.com"})
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
}

func TestNew_BuildsClientWithoutNetwork(t *testing.T) {
	d, err := New(testCreds())
	require.NoError(t, err)
	assert.NotNil(t, d.Lister())
	assert.Equal(t, "media", d.Credentials().Bucket)
}

func TestListPage_MapsResult(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	b, _ := pagedBucket(alioss.ListObjectsResult{
		Objects: []alioss.ObjectProperties{
			{Key: "tenant/a.txt", Size: 3, ETag: `"e1"`, LastModified: ts, StorageClass: "Standard", Type: "Normal"},
		},
		CommonPrefixes: []string{"tenant/img/"},
		NextMarker:     "tenant/a.txt",
		IsTruncated:    true,
	})
	d := newTestDriver(t, b)

	page, err := d.ListPage(context.Background(), filestore.PageRequest{Prefix: "tenant/", Delimiter: "/", MaxKeys: 1000})
	require.NoError(t, err)

	require.Len(t, page.Objects, 1)
	assert.Equal(t, filestore.ObjectEntry{
		Key: "tenant/a.txt", Size: 3, ETag: `"e1"`, LastModified: ts, StorageClass: "Standard", Type: filestore.EntryNormal,
	}, page.Objects[0])
	assert.Equal(t, []filestore.PrefixEntry{{Prefix: "tenant/img/"}}, page.Prefixes)
	assert.Equal(t, "tenant/a.txt", page.NextMarker)
}

func TestListPage_ServiceError(t *testing.T) {
	d := newTestDriver(t, &mockBucket{
		ListObjectsFunc: func(...alioss.Option) (alioss.ListObjectsResult, error) {
			return alioss.ListObjectsResult{}, alioss.ServiceError{Code: "NoSuchBucket", StatusCode: 404, Message: "gone"}
		},
	})

	_, err := d.ListPage(context.Background(), filestore.PageRequest{Prefix: ""})
	require.Error(t, err)
	assert.True(t, errs.IsTransport(err))
	assert.True(t, errs.IsNotFound(err))
}

func TestListContents_StripsPrefix(t *testing.T) {
	b, calls := pagedBucket(
		alioss.ListObjectsResult{
			Objects:        []alioss.ObjectProperties{{Key: "tenant/docs/", Size: 0}, {Key: "tenant/docs/a.txt", Size: 4}},
			CommonPrefixes: []string{"tenant/docs/sub/"},
		},
		alioss.ListObjectsResult{
			Objects: []alioss.ObjectProperties{{Key: "tenant/docs/sub/b.txt", Size: 5}},
		},
	)
	d := newTestDriver(t, b)

	got, err := d.ListContents(context.Background(), "docs", true)
	require.NoError(t, err)
	assert.Equal(t, 2, *calls)

	require.Len(t, got, 3)
	assert.Equal(t, "docs/a.txt", got[0].Path)
	assert.Equal(t, "docs/sub/b.txt", got[1].Path)
	assert.Equal(t, filestore.FileInfo{Path: "docs/sub", IsDir: true}, got[2])
}

func TestWrite(t *testing.T) {
	var gotKey, gotBody string
	d := newTestDriver(t, &mockBucket{
		PutObjectFunc: func(key string, r io.Reader, _ ...alioss.Option) error {
			gotKey = key
			raw, _ := io.ReadAll(r)
			gotBody = string(raw)
			return nil
		},
	})

	err := d.Write(context.Background(), "a/b.txt", strings.NewReader("hello"), filestore.WriteOptions{
		ContentType: "text/plain",
		Visibility:  filestore.VisibilityPublic,
	})
	require.NoError(t, err)
	assert.Equal(t, "tenant/a/b.txt", gotKey)
	assert.Equal(t, "hello", gotBody)
}

func TestWrite_UnknownVisibility(t *testing.T) {
	d := newTestDriver(t, &mockBucket{})
	err := d.Write(context.Background(), "a", bytes.NewReader(nil), filestore.WriteOptions{Visibility: "world"})
	assert.True(t, errs.IsInvalidArgument(err))
}

func TestRead_NotFound(t *testing.T) {
	d := newTestDriver(t, &mockBucket{
		GetObjectFunc: func(string, ...alioss.Option) (io.ReadCloser, error) {
			return nil, alioss.ServiceError{Code: "NoSuchKey", StatusCode: 404}
		},
	})

	body, err := d.Read(context.Background(), "missing.txt")
	assert.Nil(t, body)
	assert.True(t, errs.IsNotFound(err))
}

func TestRename_CopiesThenDeletes(t *testing.T) {
	var ops []string
	d := newTestDriver(t, &mockBucket{
		CopyObjectFunc: func(src, dst string, _ ...alioss.Option) (alioss.CopyObjectResult, error) {
			ops = append(ops, "copy "+src+" "+dst)
			return alioss.CopyObjectResult{}, nil
		},
		DeleteObjectFunc: func(key string, _ ...alioss.Option) error {
			ops = append(ops, "delete "+key)
			return nil
		},
	})

	require.NoError(t, d.Rename(context.Background(), "a.txt", "b.txt"))
	assert.Equal(t, []string{"copy tenant/a.txt tenant/b.txt", "delete tenant/a.txt"}, ops)
}

func TestRename_CopyFailureKeepsSource(t *testing.T) {
	deleted := false
	d := newTestDriver(t, &mockBucket{
		CopyObjectFunc: func(string, string, ...alioss.Option) (alioss.CopyObjectResult, error) {
			return alioss.CopyObjectResult{}, alioss.ServiceError{Code: "AccessDenied", StatusCode: 403}
		},
		DeleteObjectFunc: func(string, ...alioss.Option) error {
			deleted = true
			return nil
		},
	})

	err := d.Rename(context.Background(), "a.txt", "b.txt")
	assert.True(t, errs.IsPermissionDenied(err))
	assert.False(t, deleted)
}

func TestHas(t *testing.T) {
	d := newTestDriver(t, &mockBucket{
		IsObjectExistFunc: func(key string, _ ...alioss.Option) (bool, error) {
			return key == "tenant/yes.txt", nil
		},
	})

	ok, err := d.Has(context.Background(), "yes.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Has(context.Background(), "no.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStat(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "image/png")
	h.Set("Content-Length", "2048")
	h.Set("Etag", `"abc"`)
	h.Set("Last-Modified", "Tue, 02 Jan 2024 03:04:05 GMT")

	d := newTestDriver(t, &mockBucket{
		GetObjectDetailedMetaFunc: func(key string, _ ...alioss.Option) (http.Header, error) {
			assert.Equal(t, "tenant/img/a.png", key)
			return h, nil
		},
	})

	info, err := d.Stat(context.Background(), "img/a.png")
	require.NoError(t, err)
	assert.Equal(t, "img/a.png", info.Path)
	assert.Equal(t, "image/png", info.ContentType)
	assert.Equal(t, int64(2048), info.Size)
	assert.Equal(t, "abc", info.ETag)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), info.LastModified.UTC())
}

func TestCreateDir(t *testing.T) {
	var key string
	d := newTestDriver(t, &mockBucket{
		PutObjectFunc: func(k string, _ io.Reader, _ ...alioss.Option) error {
			key = k
			return nil
		},
	})

	require.NoError(t, d.CreateDir(context.Background(), "photos"))
	assert.Equal(t, "tenant/photos/", key)
}

func TestDeleteDir(t *testing.T) {
	b, _ := pagedBucket(
		alioss.ListObjectsResult{
			Objects:        []alioss.ObjectProperties{{Key: "tenant/docs/"}, {Key: "tenant/docs/a.txt"}},
			CommonPrefixes: []string{"tenant/docs/sub/"},
		},
		alioss.ListObjectsResult{
			Objects: []alioss.ObjectProperties{{Key: "tenant/docs/sub/"}, {Key: "tenant/docs/sub/b.txt"}},
		},
	)
	var deleted []string
	b.DeleteObjectFunc = func(key string, _ ...alioss.Option) error {
		deleted = append(deleted, key)
		return nil
	}
	d := newTestDriver(t, b)

	require.NoError(t, d.DeleteDir(context.Background(), "docs"))
	assert.Equal(t, []string{
		"tenant/docs/a.txt",
		"tenant/docs/sub/",
		"tenant/docs/sub/b.txt",
		"tenant/docs/sub/",
		"tenant/docs/",
	}, deleted)
}

func TestDeleteDir_RefusesRoot(t *testing.T) {
	d := newTestDriver(t, &mockBucket{})
	assert.True(t, errs.IsInvalidArgument(d.DeleteDir(context.Background(), "/")))
}

func TestSetVisibility(t *testing.T) {
	var got alioss.ACLType
	d := newTestDriver(t, &mockBucket{
		SetObjectACLFunc: func(_ string, acl alioss.ACLType, _ ...alioss.Option) error {
			got = acl
			return nil
		},
	})

	require.NoError(t, d.SetVisibility(context.Background(), "a", filestore.VisibilityPrivate))
	assert.Equal(t, alioss.ACLPrivate, got)

	require.NoError(t, d.SetVisibility(context.Background(), "a", filestore.VisibilityPublic))
	assert.Equal(t, alioss.ACLPublicRead, got)
}

func TestURL(t *testing.T) {
	d := newTestDriver(t, &mockBucket{})
	assert.Equal(t, "https://media.oss-cn-hangzhou.aliyuncs.com/tenant/a/b.png", d.URL("a/b.png"))
}

func TestSignURL(t *testing.T) {
	var (
		gotKey    string
		gotMethod alioss.HTTPMethod
		gotSecs   int64
	)
	d := newTestDriver(t, &mockBucket{
		SignURLFunc: func(key string, method alioss.HTTPMethod, secs int64, _ ...alioss.Option) (string, error) {
			gotKey, gotMethod, gotSecs = key, method, secs
			return "https://signed", nil
		},
	})

	u, err := d.SignURL(context.Background(), "a.txt", 90*time.Second, "")
	require.NoError(t, err)
	assert.Equal(t, "https://signed", u)
	assert.Equal(t, "tenant/a.txt", gotKey)
	assert.Equal(t, alioss.HTTPGet, gotMethod)
	assert.Equal(t, int64(90), gotSecs)

	_, err = d.SignURL(context.Background(), "a.txt", time.Minute, "put")
	require.NoError(t, err)
	assert.Equal(t, alioss.HTTPPut, gotMethod)
}

func TestSignURL_InvalidTTL(t *testing.T) {
	d := newTestDriver(t, &mockBucket{})
	for _, ttl := range []time.Duration{0, -time.Second, 500 * time.Millisecond} {
		_, err := d.SignURL(context.Background(), "a.txt", ttl, "GET")
		assert.True(t, errs.IsInvalidArgument(err), "ttl=%s", ttl)
	}
}

func TestTemporaryURL(t *testing.T) {
	now := time.Unix(1700000000, 0)
	var gotSecs int64
	d := newTestDriver(t, &mockBucket{
		SignURLFunc: func(_ string, _ alioss.HTTPMethod, secs int64, _ ...alioss.Option) (string, error) {
			gotSecs = secs
			return "u", nil
		},
	}, WithClock(func() time.Time { return now }))

	_, err := d.TemporaryURL(context.Background(), "a.txt", now.Add(10*time.Minute), "GET")
	require.NoError(t, err)
	assert.Equal(t, int64(600), gotSecs)

	_, err = d.TemporaryURL(context.Background(), "a.txt", now.Add(-time.Minute), "GET")
	assert.True(t, errs.IsInvalidArgument(err))
}

func TestUploadPolicy_AppliesPrefix(t *testing.T) {
	now := time.Unix(1700000000, 0)
	d := newTestDriver(t, &mockBucket{}, WithSignerOptions(policy.WithClock(func() time.Time { return now })))

	resp, err := d.UploadPolicy(policy.Request{Dir: "/uploads/", CallbackURL: "https://app.example.com/cb"})
	require.NoError(t, err)
	assert.Equal(t, "tenant/uploads/", resp.Dir)
	assert.Equal(t, "test-id", resp.AccessID)
	assert.Equal(t, "https://media.oss-cn-hangzhou.aliyuncs.com/", resp.Host)
	assert.Equal(t, int64(1700000030), resp.Expire)
	assert.NotEmpty(t, resp.Callback)
}

func TestMapError(t *testing.T) {
	assert.Nil(t, mapError(nil, "x"))

	err := mapError(context.DeadlineExceeded, "list")
	assert.True(t, errs.IsTransport(err))
	assert.True(t, errs.IsTimeout(err))

	err = mapError(alioss.ServiceError{Code: "SignatureDoesNotMatch", StatusCode: 403}, "list")
	assert.True(t, errs.IsPermissionDenied(err))

	var e *errs.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "SignatureDoesNotMatch", e.Code)
	assert.Equal(t, 403, e.StatusCode)

	err = mapError(errors.New("connection reset"), "list")
	assert.True(t, errs.IsTransport(err))
	assert.False(t, errs.IsNotFound(err))
}
