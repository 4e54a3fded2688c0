package filestore

import "strings"

// Delimiter separates "directory" levels in a flat key space.
const Delimiter = "/"

// Prefixer maps logical paths to storage keys and back.
// Apply and Strip are inverse operations for every path.
type Prefixer struct {
	prefix string
}

// NewPrefixer normalizes prefix to either "" or "some/dir/".
func NewPrefixer(prefix string) Prefixer {
	prefix = strings.Trim(prefix, Delimiter)
	if prefix != "" {
		prefix += Delimiter
	}
	return Prefixer{prefix: prefix}
}

// Prefix returns the normalized prefix.
func (p Prefixer) Prefix() string {
	return p.prefix
}

// Apply turns a logical path into a storage key.
func (p Prefixer) Apply(path string) string {
	return p.prefix + path
}

// Strip turns a storage key back into a logical path. Keys outside the
// prefix are returned unchanged.
func (p Prefixer) Strip(key string) string {
	return strings.TrimPrefix(key, p.prefix)
}

// DirPrefix normalizes a directory path so it ends with the delimiter,
// leaving the empty string (bucket root) untouched.
func DirPrefix(dir string) string {
	if dir == "" || strings.HasSuffix(dir, Delimiter) {
		return dir
	}
	return dir + Delimiter
}
