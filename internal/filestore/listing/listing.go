// Package listing walks a delimiter-grouped, marker-paginated key space and
// flattens it into files and "directory" prefixes.
package listing

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/koustreak/ossgate/internal/errs"
	"github.com/koustreak/ossgate/internal/filestore"
	"github.com/koustreak/ossgate/internal/logger"
)

// DefaultMaxKeys is the page size requested from the backend.
const DefaultMaxKeys = 1000

// Lister enumerates entries under a prefix through a PageLister.
// It holds no per-call state and is safe for concurrent use.
type Lister struct {
	pages       filestore.PageLister
	log         *logger.Logger
	maxKeys     int
	parallelism int
}

// Option configures a Lister.
type Option func(*Lister)

// WithLogger sets the logger used for per-page debug output.
func WithLogger(log *logger.Logger) Option {
	return func(l *Lister) {
		if log != nil {
			l.log = log
		}
	}
}

// WithMaxKeys overrides the page size.
func WithMaxKeys(n int) Option {
	return func(l *Lister) {
		if n > 0 {
			l.maxKeys = n
		}
	}
}

// WithParallelism lets recursive listings fetch up to n sibling prefixes
// concurrently. Results are still merged in prefix discovery order.
// n <= 1 keeps the listing sequential.
func WithParallelism(n int) Option {
	return func(l *Lister) {
		l.parallelism = n
	}
}

// New returns a Lister reading pages from pages.
func New(pages filestore.PageLister, opts ...Option) *Lister {
	l := &Lister{
		pages:       pages,
		log:         logger.Nop(),
		maxKeys:     DefaultMaxKeys,
		parallelism: 1,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ListDirectory returns every object directly under prefix and the
// prefixes one level below it. With recursive set, the files of every
// sub-prefix are appended after the current level's files, depth first in
// discovery order.
//
// The returned directories are only the immediate prefixes of the queried
// level, even when recursive is set. Existing callers rely on this shape; it
// is pending product review and must not change silently.
//
// Any failed page request aborts the call with a transport error and no
// partial results. ctx is checked before every page request.
func (l *Lister) ListDirectory(ctx context.Context, prefix string, recursive bool) ([]filestore.ObjectEntry, []filestore.PrefixEntry, error) {
	prefix = filestore.DirPrefix(prefix)

	files, dirs, err := l.listLevel(ctx, prefix)
	if err != nil {
		return nil, nil, err
	}
	if !recursive || len(dirs) == 0 {
		return files, dirs, nil
	}

	nested, err := l.descend(ctx, dirs)
	if err != nil {
		return nil, nil, err
	}
	for _, sub := range nested {
		files = append(files, sub...)
	}
	return files, dirs, nil
}

// listLevel drains every page for a single prefix.
func (l *Lister) listLevel(ctx context.Context, prefix string) ([]filestore.ObjectEntry, []filestore.PrefixEntry, error) {
	files := make([]filestore.ObjectEntry, 0)
	dirs := make([]filestore.PrefixEntry, 0)

	marker := ""
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, errs.Transport("listing canceled", err)
		}

		page, err := l.pages.ListPage(ctx, filestore.PageRequest{
			Prefix:    prefix,
			Delimiter: filestore.Delimiter,
			MaxKeys:   l.maxKeys,
			Marker:    marker,
		})
		if err != nil {
			l.log.ErrorWith("list page failed", err, map[string]any{"prefix": prefix, "marker": marker})
			return nil, nil, asTransport(err)
		}
		pages++

		files = append(files, page.Objects...)
		dirs = append(dirs, page.Prefixes...)

		// An empty next marker is the only end-of-listing signal; a backend
		// that legitimately returns "" as a marker cannot be told apart.
		if page.NextMarker == "" {
			break
		}
		if page.NextMarker == marker {
			return nil, nil, errs.Transport("listing did not advance past marker "+marker, nil)
		}
		marker = page.NextMarker
	}

	l.log.DebugWith("listed prefix", map[string]any{
		"prefix": prefix,
		"pages":  pages,
		"files":  len(files),
		"dirs":   len(dirs),
	})
	return files, dirs, nil
}

// descend lists each directory recursively and returns the file lists in
// the same order as dirs.
func (l *Lister) descend(ctx context.Context, dirs []filestore.PrefixEntry) ([][]filestore.ObjectEntry, error) {
	nested := make([][]filestore.ObjectEntry, len(dirs))

	if l.parallelism <= 1 {
		for i, dir := range dirs {
			files, _, err := l.ListDirectory(ctx, dir.Prefix, true)
			if err != nil {
				return nil, err
			}
			nested[i] = files
		}
		return nested, nil
	}

	// Each level gets its own bounded group, so a parent waiting on its
	// children never holds a slot the children need.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.parallelism)
	for i, dir := range dirs {
		g.Go(func() error {
			files, _, err := l.ListDirectory(gctx, dir.Prefix, true)
			if err != nil {
				return err
			}
			nested[i] = files
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return nested, nil
}

// asTransport keeps typed errors from drivers and wraps anything else.
func asTransport(err error) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}
	return errs.Transport("list page failed", err)
}
