package filestore

import (
	"net/url"
	"strings"
	"time"

	"github.com/koustreak/ossgate/internal/errs"
)

// Provider identifies the object storage backend.
type Provider string

const (
	ProviderOSS   Provider = "oss"
	ProviderMinIO Provider = "minio"
)

// Proxy describes an optional forward proxy for storage requests.
type Proxy struct {
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Credentials is the credential/endpoint context shared by the drivers, the
// lister and the signer. It is treated as immutable once a driver is built.
type Credentials struct {
	// Provider is the storage backend (ProviderOSS by default).
	Provider Provider `yaml:"provider"`

	// Endpoint is the service endpoint, optionally with a scheme.
	// Example: "https://oss-cn-hangzhou.aliyuncs.com". Without a scheme the
	// connection is plain HTTP, as the vendor SDK does.
	Endpoint string `yaml:"endpoint"`

	AccessKeyID     string `yaml:"access_key_id"`
	AccessKeySecret string `yaml:"access_key_secret"`

	// Bucket is the bucket every path is resolved against.
	Bucket string `yaml:"bucket"`

	// CNAME is true when Endpoint is a custom domain already bound to Bucket.
	CNAME bool `yaml:"cname"`

	// SecurityToken is the optional STS session token.
	SecurityToken string `yaml:"security_token"`

	// Proxy is the optional network proxy.
	Proxy *Proxy `yaml:"proxy"`

	// PathPrefix is prepended to every logical path sent to storage.
	PathPrefix string `yaml:"path_prefix"`

	// ConnectTimeout and ReadWriteTimeout bound each remote call. Zero keeps
	// the SDK defaults. Calls are never retried here.
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	ReadWriteTimeout time.Duration `yaml:"read_write_timeout"`
}

// Validate reports a ConfigurationError for a context the drivers cannot use.
func (c *Credentials) Validate() error {
	if c == nil {
		return errs.Configuration("storage credentials are missing")
	}
	switch c.Provider {
	case "", ProviderOSS, ProviderMinIO:
	default:
		return errs.Configuration("unknown storage provider %q", c.Provider)
	}
	if c.Endpoint == "" {
		return errs.Configuration("storage endpoint is required")
	}
	if c.AccessKeyID == "" || c.AccessKeySecret == "" {
		return errs.Configuration("storage access key id and secret are required")
	}
	if c.Bucket == "" {
		return errs.Configuration("storage bucket is required")
	}
	if _, err := url.Parse(c.EndpointURL()); err != nil {
		return errs.Wrap(errs.ErrKindConfiguration, "invalid storage endpoint", err)
	}
	return nil
}

// Secure reports whether the endpoint is reached over TLS.
func (c *Credentials) Secure() bool {
	return strings.HasPrefix(strings.ToLower(c.Endpoint), "https://")
}

// EndpointHost returns the endpoint without scheme or trailing slash.
func (c *Credentials) EndpointHost() string {
	host := c.Endpoint
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	return strings.TrimRight(host, "/")
}

// EndpointURL returns the endpoint with an explicit scheme.
func (c *Credentials) EndpointURL() string {
	if c.Secure() {
		return "https://" + c.EndpointHost()
	}
	return "http://" + c.EndpointHost()
}

// Host returns the public base URL of the bucket, always ending in "/".
// With CNAME the endpoint itself is the bucket domain; otherwise the
// virtual-hosted form "bucket.endpoint" is used.
func (c *Credentials) Host() string {
	domain := c.Bucket + "." + c.EndpointHost()
	if c.CNAME {
		domain = c.EndpointHost()
	}
	scheme := "http://"
	if c.Secure() {
		scheme = "https://"
	}
	return scheme + strings.TrimRight(domain, "/") + "/"
}

// Prefixer returns the path prefixer for PathPrefix.
func (c *Credentials) Prefixer() Prefixer {
	return NewPrefixer(c.PathPrefix)
}
