package server

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/koustreak/ossgate/internal/errs"
)

const (
	maxKeyBytes     = 16 << 10
	keyFetchTimeout = 10 * time.Second
)

// KeyFetcher resolves the public key that signed an upload callback.
type KeyFetcher interface {
	PublicKey(ctx context.Context, url string) (*rsa.PublicKey, error)
}

// HTTPKeyFetcher downloads PEM public keys and caches them by URL.
// Concurrent misses for the same URL share one request.
type HTTPKeyFetcher struct {
	client *http.Client
	group  singleflight.Group

	mu    sync.RWMutex
	cache map[string]*rsa.PublicKey
}

// NewHTTPKeyFetcher returns a fetcher using client, or a client with a 10s
// timeout when nil.
func NewHTTPKeyFetcher(client *http.Client) *HTTPKeyFetcher {
	if client == nil {
		client = &http.Client{Timeout: keyFetchTimeout}
	}
	return &HTTPKeyFetcher{client: client, cache: make(map[string]*rsa.PublicKey)}
}

// PublicKey returns the cached key for url, fetching it on first use.
func (f *HTTPKeyFetcher) PublicKey(ctx context.Context, url string) (*rsa.PublicKey, error) {
	f.mu.RLock()
	key, ok := f.cache[url]
	f.mu.RUnlock()
	if ok {
		return key, nil
	}

	// The fetch is shared with other waiters, so it must outlive the caller
	// that started it.
	v, err, _ := f.group.Do(url, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout())
		defer cancel()
		key, err := f.fetch(fctx, url)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.cache[url] = key
		f.mu.Unlock()
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*rsa.PublicKey), nil
}

func (f *HTTPKeyFetcher) timeout() time.Duration {
	if f.client.Timeout > 0 {
		return f.client.Timeout
	}
	return keyFetchTimeout
}

func (f *HTTPKeyFetcher) fetch(ctx context.Context, url string) (*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidArgument, "invalid public key url", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errs.Transport("failed to fetch callback public key", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.Remote("failed to fetch callback public key", "", resp.StatusCode, nil)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxKeyBytes))
	if err != nil {
		return nil, errs.Transport("failed to read callback public key", err)
	}
	return ParsePublicKey(raw)
}

// ParsePublicKey decodes a PEM "PUBLIC KEY" block holding an RSA key.
func ParsePublicKey(raw []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errs.InvalidArgument("public key is not PEM encoded")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidArgument, "invalid public key", err)
	}
	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errs.InvalidArgument("public key is %T, want RSA", pub)
	}
	return key, nil
}

// StaticKey is a KeyFetcher that always returns the same key.
type StaticKey struct {
	Key *rsa.PublicKey
}

// PublicKey returns k.Key.
func (k StaticKey) PublicKey(context.Context, string) (*rsa.PublicKey, error) {
	if k.Key == nil {
		return nil, fmt.Errorf("no static public key configured")
	}
	return k.Key, nil
}
