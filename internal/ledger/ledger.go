// Package ledger records uploads the storage service confirmed through the
// upload callback, so applications can list what clients actually stored
// under a policy directory.
//
// Two implementations live in subpackages: postgres (pgxpool) and mysql
// (database/sql). Both create their table with Migrate.
package ledger

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/koustreak/ossgate/internal/errs"
)

// Table is the name of the ledger table in both databases.
const Table = "oss_uploads"

// CodeDuplicate is the errs.Error code of a Record call for an upload that
// is already stored.
const CodeDuplicate = "Duplicate"

// DefaultListLimit caps ListByDir when the caller passes no limit.
const DefaultListLimit = 100

// Upload is one confirmed upload, as reported by the callback body.
type Upload struct {
	Bucket     string            `json:"bucket"`
	Object     string            `json:"object"`
	ETag       string            `json:"etag"`
	Size       int64             `json:"size"`
	MimeType   string            `json:"mime_type,omitempty"`
	Width      int               `json:"width,omitempty"`
	Height     int               `json:"height,omitempty"`
	Format     string            `json:"format,omitempty"`
	Vars       map[string]string `json:"vars,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// ID is the stable identity of an upload: SHA-1 of bucket, object and etag.
// A repeated callback for the same upload yields the same ID.
func (u *Upload) ID() string {
	sum := sha1.Sum([]byte(u.Bucket + "\x00" + u.Object + "\x00" + u.ETag))
	return hex.EncodeToString(sum[:])
}

// Validate rejects uploads that cannot be keyed.
func (u *Upload) Validate() error {
	if u.Bucket == "" || u.Object == "" {
		return errs.InvalidArgument("upload bucket and object are required")
	}
	if u.Size < 0 {
		return errs.InvalidArgument("upload size must not be negative, got %d", u.Size)
	}
	return nil
}

// Ledger persists confirmed uploads.
// Implementations must be safe for concurrent use.
type Ledger interface {
	// Migrate creates the ledger table if it does not exist.
	Migrate(ctx context.Context) error

	// Record stores u. Recording the same upload twice fails with an
	// InvalidArgument error whose code is CodeDuplicate.
	Record(ctx context.Context, u *Upload) error

	// ListByDir returns the most recent uploads whose object key starts
	// with dir, newest first. limit <= 0 means DefaultListLimit.
	ListByDir(ctx context.Context, dir string, limit int) ([]Upload, error)

	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Close releases the connection pool.
	Close() error
}

// IsDuplicate reports whether err is a Record call for an existing upload.
func IsDuplicate(err error) bool {
	var e *errs.Error
	return errors.As(err, &e) && e.Kind == errs.ErrKindInvalidArgument && e.Code == CodeDuplicate
}

// Duplicate builds the error implementations return for a repeated upload.
func Duplicate(cause error) error {
	return &errs.Error{
		Kind:    errs.ErrKindInvalidArgument,
		Message: "upload already recorded",
		Code:    CodeDuplicate,
		Cause:   cause,
	}
}

// LikePrefix escapes dir for a LIKE pattern and appends the wildcard.
// Both databases use backslash as the default escape character.
func LikePrefix(dir string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(dir) + "%"
}

// Limit normalizes a ListByDir limit.
func Limit(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	return n
}
