package filestore

import (
	"strings"
	"time"
)

// EntryType marks what kind of object a listing entry is.
type EntryType string

const (
	EntryNormal     EntryType = "Normal"
	EntryAppendable EntryType = "Appendable"
	EntryMultipart  EntryType = "Multipart"
	EntrySymlink    EntryType = "Symlink"
)

// ObjectEntry is one object returned by a listing page.
type ObjectEntry struct {
	Key          string    `json:"key"`
	LastModified time.Time `json:"last_modified"`
	ETag         string    `json:"etag"`
	Size         int64     `json:"size"`
	StorageClass string    `json:"storage_class"`
	Type         EntryType `json:"type"`
}

// PrefixEntry is a delimiter-terminated common prefix: one "directory"
// directly under the queried prefix.
type PrefixEntry struct {
	Prefix string `json:"prefix"`
}

// ListingPage is one paginated listing response. An empty NextMarker means
// there are no more pages.
type ListingPage struct {
	Objects    []ObjectEntry
	Prefixes   []PrefixEntry
	NextMarker string
}

// PageRequest is one delimiter-grouped, marker-paginated listing request.
type PageRequest struct {
	Prefix    string
	Delimiter string
	MaxKeys   int
	Marker    string
}

// Visibility is the public/private ACL of an object.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// FileInfo is the generic filesystem view of an entry, with paths already
// stripped of the configured path prefix.
type FileInfo struct {
	Path         string    `json:"path"`
	IsDir        bool      `json:"is_dir"`
	Size         int64     `json:"size,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified,omitzero"`
}

// WriteOptions tune a Write call.
type WriteOptions struct {
	ContentType string
	Visibility  Visibility
}

// Contents converts listing entries to FileInfo, files first, stripping p
// from every key. Directory marker objects ("dir/") are skipped: the
// directory already appears through its common prefix.
func Contents(p Prefixer, files []ObjectEntry, dirs []PrefixEntry) []FileInfo {
	out := make([]FileInfo, 0, len(files)+len(dirs))
	for _, f := range files {
		if strings.HasSuffix(f.Key, Delimiter) {
			continue
		}
		out = append(out, FileInfo{
			Path:         p.Strip(f.Key),
			Size:         f.Size,
			ETag:         strings.Trim(f.ETag, `"`),
			LastModified: f.LastModified,
		})
	}
	for _, d := range dirs {
		out = append(out, FileInfo{
			Path:  strings.TrimSuffix(p.Strip(d.Prefix), Delimiter),
			IsDir: true,
		})
	}
	return out
}
