// Package policy builds signed, time-boxed browser upload policies with a
// callback specification, in the form the storage service's direct-upload
// protocol verifies.
//
// The signer makes no remote calls. Its only failures are invalid arguments,
// reported before anything is produced.
package policy

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/koustreak/ossgate/internal/errs"
	"github.com/koustreak/ossgate/internal/filestore"
	"github.com/koustreak/ossgate/internal/logger"
)

const (
	// DefaultExpire is how long a policy stays valid when the request does
	// not say.
	DefaultExpire = 30 * time.Second

	// DefaultMaxContentLength caps the upload size when the request does not say.
	DefaultMaxContentLength int64 = 1048576000

	// CallbackBodyType is the content type of the callback request body.
	CallbackBodyType = "application/x-www-form-urlencoded"

	expirationLayout = "2006-01-02T15:04:05Z"
)

// Request describes one upload authorization.
type Request struct {
	// Dir is the key prefix uploads are restricted to. A leading "/" is dropped.
	Dir string

	// CallbackURL receives the post-upload notification. Empty means no
	// callback is issued and Response.Callback is empty.
	CallbackURL string

	// CustomFields become "x:" callback variables, in order.
	CustomFields []CustomField

	// Expire is the policy lifetime, truncated to whole seconds.
	// Zero means DefaultExpire.
	Expire time.Duration

	// MaxContentLength is the upper bound of content-length-range.
	// Zero means DefaultMaxContentLength.
	MaxContentLength int64

	// SystemFields replaces the default system field set when non-empty.
	SystemFields []SystemField
}

// Response is the authorization bundle handed to the uploading client.
// The JSON field names are the wire contract.
type Response struct {
	AccessID    string            `json:"accessid"`
	Host        string            `json:"host"`
	Policy      string            `json:"policy"`
	Signature   string            `json:"signature"`
	Expire      int64             `json:"expire"`
	Callback    string            `json:"callback"`
	CallbackVar map[string]string `json:"callback-var"`
	Dir         string            `json:"dir"`
}

// Callback is the decoded form of Response.Callback.
type Callback struct {
	CallbackURL      string `json:"callbackUrl"`
	CallbackBody     string `json:"callbackBody"`
	CallbackBodyType string `json:"callbackBodyType"`
}

// Document is the decoded form of Response.Policy.
type Document struct {
	Expiration string  `json:"expiration"`
	Conditions [][]any `json:"conditions"`
}

// Signer produces upload policies for one set of credentials.
// It is safe for concurrent use.
type Signer struct {
	accessKeyID string
	secret      string
	host        string
	now         func() time.Time
	log         *logger.Logger
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithHost overrides the upload host derived from the credentials.
func WithHost(host string) Option {
	return func(s *Signer) {
		if host != "" {
			s.host = strings.TrimRight(host, "/") + "/"
		}
	}
}

// WithLogger sets the signer's logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Signer) {
		if log != nil {
			s.log = log
		}
	}
}

// New returns a Signer for creds.
func New(creds *filestore.Credentials, opts ...Option) (*Signer, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	s := &Signer{
		accessKeyID: creds.AccessKeyID,
		secret:      creds.AccessKeySecret,
		host:        creds.Host(),
		now:         time.Now,
		log:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sign validates req and returns the signed upload authorization.
func (s *Signer) Sign(req Request) (*Response, error) {
	dir := strings.TrimLeft(req.Dir, "/")

	expire := req.Expire
	switch {
	case expire < 0:
		return nil, errs.InvalidArgument("expire must not be negative, got %s", expire)
	case expire > 0 && expire < time.Second:
		return nil, errs.InvalidArgument("expire must be at least one second, got %s", expire)
	case expire == 0:
		expire = DefaultExpire
	}
	maxLength := req.MaxContentLength
	switch {
	case maxLength < 0:
		return nil, errs.InvalidArgument("max content length must not be negative, got %d", maxLength)
	case maxLength == 0:
		maxLength = DefaultMaxContentLength
	}

	system, err := resolveSystemFields(req.SystemFields)
	if err != nil {
		return nil, err
	}
	tokens, vars, err := customTokens(req.CustomFields)
	if err != nil {
		return nil, err
	}
	if err := checkCollisions(system, tokens); err != nil {
		return nil, err
	}

	callback := ""
	if req.CallbackURL != "" {
		body, err := callbackBody(append(system, tokens...))
		if err != nil {
			return nil, err
		}
		raw, err := marshal(Callback{
			CallbackURL:      req.CallbackURL,
			CallbackBody:     body,
			CallbackBodyType: CallbackBodyType,
		})
		if err != nil {
			return nil, err
		}
		callback = base64.StdEncoding.EncodeToString(raw)
	}

	end := s.now().Unix() + int64(expire/time.Second)
	doc := Document{
		Expiration: FormatExpiration(time.Unix(end, 0)),
		Conditions: [][]any{
			{"content-length-range", 0, maxLength},
			{"starts-with", "$key", dir},
		},
	}
	raw, err := marshal(doc)
	if err != nil {
		return nil, err
	}
	encodedPolicy := base64.StdEncoding.EncodeToString(raw)

	s.log.DebugWith("signed upload policy", map[string]any{
		"dir":        dir,
		"expiration": doc.Expiration,
		"callback":   callback != "",
		"vars":       len(vars),
	})

	return &Response{
		AccessID:    s.accessKeyID,
		Host:        s.host,
		Policy:      encodedPolicy,
		Signature:   Signature(s.secret, encodedPolicy),
		Expire:      end,
		Callback:    callback,
		CallbackVar: vars,
		Dir:         dir,
	}, nil
}

// Signature is base64(HMAC-SHA1(secret, encodedPolicy)). The string to sign
// is the base64 policy, not the raw JSON.
func Signature(secret, encodedPolicy string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(encodedPolicy))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// FormatExpiration renders t as UTC ISO-8601 with a trailing Z and no
// fractional seconds, the only form the service accepts.
func FormatExpiration(t time.Time) string {
	return t.UTC().Format(expirationLayout)
}

// customTokens returns the "${x:name}" callback fields and the "x:name"
// variables for fields.
func customTokens(fields []CustomField) ([]SystemField, map[string]string, error) {
	vars := make(map[string]string, len(fields))
	tokens := make([]SystemField, 0, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return nil, nil, errs.InvalidArgument("custom field name must not be empty")
		}
		value, err := scalarString(f.Name, f.Value)
		if err != nil {
			return nil, nil, err
		}
		key := "x:" + f.Name
		if _, dup := vars[key]; dup {
			return nil, nil, errs.InvalidArgument("duplicate custom field %q", f.Name)
		}
		vars[key] = value
		tokens = append(tokens, SystemField{Name: f.Name, Token: "${" + key + "}"})
	}
	return tokens, vars, nil
}

// checkCollisions rejects custom fields that share a name with a system
// field. Each callback body key must appear once.
func checkCollisions(system, custom []SystemField) error {
	names := make(map[string]bool, len(system))
	for _, f := range system {
		names[f.Name] = true
	}
	for _, f := range custom {
		if names[f.Name] {
			return errs.InvalidArgument("custom field %q collides with a system callback field", f.Name)
		}
	}
	return nil
}

// callbackBody serializes fields as a query string and decodes it again, so
// the template placeholders stay literal ("${bucket}", not "%24%7Bbucket%7D").
func callbackBody(fields []SystemField) (string, error) {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = url.QueryEscape(f.Name) + "=" + url.QueryEscape(f.Token)
	}
	body, err := url.QueryUnescape(strings.Join(parts, "&"))
	if err != nil {
		return "", errs.Wrap(errs.ErrKindInvalidArgument, "callback body is not decodable", err)
	}
	return body, nil
}

// marshal encodes v as compact JSON without HTML escaping.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidArgument, "encode policy document", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
