package policy

import (
	"fmt"
	"strconv"

	"github.com/koustreak/ossgate/internal/errs"
)

// SystemField binds a callback body field name to a template token the
// storage service fills in after the upload.
type SystemField struct {
	Name  string
	Token string
}

// Template tokens recognized by the storage service.
const (
	TokenBucket      = "${bucket}"
	TokenETag        = "${etag}"
	TokenObject      = "${object}"
	TokenSize        = "${size}"
	TokenMimeType    = "${mimeType}"
	TokenImageHeight = "${imageInfo.height}"
	TokenImageWidth  = "${imageInfo.width}"
	TokenImageFormat = "${imageInfo.format}"
)

var defaultSystemFields = [...]SystemField{
	{Name: "bucket", Token: TokenBucket},
	{Name: "etag", Token: TokenETag},
	{Name: "filename", Token: TokenObject},
	{Name: "size", Token: TokenSize},
	{Name: "mimeType", Token: TokenMimeType},
	{Name: "height", Token: TokenImageHeight},
	{Name: "width", Token: TokenImageWidth},
	{Name: "format", Token: TokenImageFormat},
}

// DefaultSystemFields returns the built-in system field set, in callback
// body order.
func DefaultSystemFields() []SystemField {
	out := make([]SystemField, len(defaultSystemFields))
	copy(out, defaultSystemFields[:])
	return out
}

// IsSystemToken reports whether token is one of the built-in template tokens.
func IsSystemToken(token string) bool {
	for _, f := range defaultSystemFields {
		if f.Token == token {
			return true
		}
	}
	return false
}

// resolveSystemFields returns the defaults when overrides is empty, and
// otherwise the overrides alone after checking every token.
func resolveSystemFields(overrides []SystemField) ([]SystemField, error) {
	if len(overrides) == 0 {
		return DefaultSystemFields(), nil
	}
	seen := make(map[string]bool, len(overrides))
	for _, f := range overrides {
		if f.Name == "" {
			return nil, errs.InvalidArgument("system field for token %q has no name", f.Token)
		}
		if !IsSystemToken(f.Token) {
			return nil, errs.InvalidArgument("invalid oss system field: %s", f.Token)
		}
		if seen[f.Name] {
			return nil, errs.InvalidArgument("duplicate system field %q", f.Name)
		}
		seen[f.Name] = true
	}
	out := make([]SystemField, len(overrides))
	copy(out, overrides)
	return out, nil
}

// CustomField is a caller-chosen callback variable.
type CustomField struct {
	Name  string
	Value any
}

// scalarString renders a custom field value, rejecting anything that is not
// a scalar.
func scalarString(name string, v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case fmt.Stringer:
		return val.String(), nil
	default:
		return "", errs.InvalidArgument("custom field %q: value of type %T is not a scalar", name, v)
	}
}
