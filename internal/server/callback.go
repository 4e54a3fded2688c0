package server

import (
	"crypto"
	"crypto/md5"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/koustreak/ossgate/internal/errs"
	"github.com/koustreak/ossgate/internal/filestore/policy"
	"github.com/koustreak/ossgate/internal/ledger"
)

// Headers the storage service sets on callback requests.
const (
	headerAuthorization = "Authorization"
	headerPubKeyURL     = "X-Oss-Pub-Key-Url"
)

// Public keys are only fetched from the vendor's key host.
var trustedKeyPrefixes = []string{
	"http://gosspublic.alicdn.com/",
	"https://gosspublic.alicdn.com/",
}

var errBadSignature = errors.New("callback signature mismatch")

type callbackVerifier struct {
	keys KeyFetcher
	skip bool
}

// Verify checks the RSA signature the storage service puts on callback
// requests: PKCS#1 v1.5 over MD5 of the decoded path, the raw query when
// present, a newline and the body.
func (v *callbackVerifier) Verify(r *http.Request, body []byte) error {
	if v.skip {
		return nil
	}

	sig, err := base64.StdEncoding.DecodeString(r.Header.Get(headerAuthorization))
	if err != nil || len(sig) == 0 {
		return fmt.Errorf("invalid %s header", headerAuthorization)
	}
	rawKeyURL, err := base64.StdEncoding.DecodeString(r.Header.Get(headerPubKeyURL))
	if err != nil || len(rawKeyURL) == 0 {
		return fmt.Errorf("invalid %s header", headerPubKeyURL)
	}
	keyURL := string(rawKeyURL)
	if !trustedKeyURL(keyURL) {
		return fmt.Errorf("untrusted public key url %q", keyURL)
	}

	key, err := v.keys.PublicKey(r.Context(), keyURL)
	if err != nil {
		return err
	}

	digest := md5.Sum(stringToSign(r, body))
	if err := rsa.VerifyPKCS1v15(key, crypto.MD5, digest[:], sig); err != nil {
		return errBadSignature
	}
	return nil
}

func trustedKeyURL(u string) bool {
	for _, p := range trustedKeyPrefixes {
		if strings.HasPrefix(u, p) {
			return true
		}
	}
	return false
}

func stringToSign(r *http.Request, body []byte) []byte {
	var b strings.Builder
	b.WriteString(r.URL.Path)
	if r.URL.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(r.URL.RawQuery)
	}
	b.WriteString("\n")
	b.Write(body)
	return []byte(b.String())
}

// parseCallback decodes a form-encoded callback body into an Upload.
// System fields are located through their configured names; every other
// field becomes an "x:" variable.
func parseCallback(body []byte, fields []policy.SystemField, now time.Time) (*ledger.Upload, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidArgument, "malformed callback body", err)
	}

	byToken := make(map[string]string, len(fields))
	system := make(map[string]bool, len(fields))
	for _, f := range fields {
		byToken[f.Token] = form.Get(f.Name)
		system[f.Name] = true
	}

	u := &ledger.Upload{
		Bucket:     byToken[policy.TokenBucket],
		Object:     byToken[policy.TokenObject],
		ETag:       strings.Trim(byToken[policy.TokenETag], `"`),
		MimeType:   byToken[policy.TokenMimeType],
		Format:     byToken[policy.TokenImageFormat],
		ReceivedAt: now.UTC(),
	}
	if u.Size, err = optionalInt64(byToken[policy.TokenSize], "size"); err != nil {
		return nil, err
	}
	if u.Width, err = optionalInt(byToken[policy.TokenImageWidth], "width"); err != nil {
		return nil, err
	}
	if u.Height, err = optionalInt(byToken[policy.TokenImageHeight], "height"); err != nil {
		return nil, err
	}

	for name, values := range form {
		if system[name] || len(values) == 0 {
			continue
		}
		if u.Vars == nil {
			u.Vars = make(map[string]string)
		}
		u.Vars[customVarPrefix+name] = values[0]
	}

	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

func optionalInt64(v, name string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errs.InvalidArgument("callback field %s is not an integer: %q", name, v)
	}
	return n, nil
}

// optionalInt tolerates empty values: image fields are blank for
// non-image uploads.
func optionalInt(v, name string) (int, error) {
	n, err := optionalInt64(v, name)
	return int(n), err
}
