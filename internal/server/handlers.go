package server

import (
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/koustreak/ossgate/internal/errs"
	"github.com/koustreak/ossgate/internal/filestore"
	"github.com/koustreak/ossgate/internal/filestore/policy"
	"github.com/koustreak/ossgate/internal/ledger"
	"github.com/koustreak/ossgate/internal/logger"
)

const (
	defaultURLTTL    = 5 * time.Minute
	maxURLTTL        = 7 * 24 * time.Hour
	maxCallbackBytes = 64 << 10
	customVarPrefix  = "x:"
)

// listing is the body of GET /v1/objects.
type listing struct {
	Files []filestore.FileInfo `json:"files"`
	Dirs  []filestore.FileInfo `json:"dirs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger != nil {
		if err := s.deps.Ledger.Ping(r.Context()); err != nil {
			logger.FromContext(r.Context()).ErrorWith("ledger unreachable", err, nil)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /v1/uploads/policy?dir=&expire=&max_size=&x:<name>=<value>
func (s *Server) handleUploadPolicy(w http.ResponseWriter, r *http.Request) {
	if s.deps.Policies == nil {
		writeStatus(w, http.StatusNotImplemented, "upload policies are not available for this storage provider")
		return
	}
	q := r.URL.Query()

	req := policy.Request{
		Dir:              q.Get("dir"),
		CallbackURL:      s.upload.CallbackURL,
		Expire:           s.upload.Expire,
		MaxContentLength: s.upload.MaxContentLength,
		SystemFields:     s.upload.PolicySystemFields(),
	}
	if v := q.Get("expire"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil || secs <= 0 {
			writeError(w, r, errs.InvalidArgument("expire must be a positive number of seconds, got %q", v))
			return
		}
		req.Expire = time.Duration(secs) * time.Second
	}
	if v := q.Get("max_size"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, r, errs.InvalidArgument("max_size must be a positive number of bytes, got %q", v))
			return
		}
		req.MaxContentLength = n
	}
	req.CustomFields = customFields(q)

	resp, err := s.deps.Policies.UploadPolicy(req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// customFields collects "x:name" query parameters, sorted by name so the
// callback body is stable.
func customFields(q map[string][]string) []policy.CustomField {
	names := make([]string, 0)
	for k := range q {
		if strings.HasPrefix(k, customVarPrefix) {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	out := make([]policy.CustomField, 0, len(names))
	for _, k := range names {
		out = append(out, policy.CustomField{Name: strings.TrimPrefix(k, customVarPrefix), Value: q[k][0]})
	}
	return out
}

// GET /v1/objects?prefix=&recursive=
func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	recursive, err := parseBool(q.Get("recursive"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	entries, err := s.deps.Store.ListContents(r.Context(), q.Get("prefix"), recursive)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := listing{Files: make([]filestore.FileInfo, 0), Dirs: make([]filestore.FileInfo, 0)}
	for _, e := range entries {
		if e.IsDir {
			out.Dirs = append(out.Dirs, e)
		} else {
			out.Files = append(out.Files, e)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /v1/objects/url?path=&ttl=&method=
func (s *Server) handleObjectURL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := q.Get("path")
	if path == "" {
		writeError(w, r, errs.InvalidArgument("path is required"))
		return
	}

	ttl := defaultURLTTL
	if v := q.Get("ttl"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil || secs <= 0 || time.Duration(secs)*time.Second > maxURLTTL {
			writeError(w, r, errs.InvalidArgument("ttl must be between 1 and %d seconds, got %q", int64(maxURLTTL/time.Second), v))
			return
		}
		ttl = time.Duration(secs) * time.Second
	}

	expiresAt := s.deps.Now().Add(ttl)
	u, err := s.deps.Signing.TemporaryURL(r.Context(), path, expiresAt, q.Get("method"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":        u,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

// GET /v1/uploads?dir=&limit=
func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		writeStatus(w, http.StatusNotImplemented, "upload ledger is not configured")
		return
	}
	q := r.URL.Query()

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 1000 {
			writeError(w, r, errs.InvalidArgument("limit must be between 0 and 1000, got %q", v))
			return
		}
		limit = n
	}

	uploads, err := s.deps.Ledger.ListByDir(r.Context(), q.Get("dir"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": uploads})
}

// POST /v1/uploads/callback
func (s *Server) handleUploadCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes+1))
	if err != nil {
		writeError(w, r, errs.Transport("failed to read callback body", err))
		return
	}
	if len(body) > maxCallbackBytes {
		writeError(w, r, errs.InvalidArgument("callback body exceeds %d bytes", maxCallbackBytes))
		return
	}

	if err := s.verify.Verify(r, body); err != nil {
		logger.FromContext(r.Context()).ErrorWith("callback signature rejected", err, nil)
		writeStatus(w, http.StatusForbidden, "callback signature verification failed")
		return
	}

	upload, err := parseCallback(body, s.fields, s.deps.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}

	if s.deps.Ledger != nil {
		err := s.deps.Ledger.Record(r.Context(), upload)
		switch {
		case ledger.IsDuplicate(err):
			logger.FromContext(r.Context()).DebugWith("duplicate upload callback", map[string]any{"object": upload.Object})
		case err != nil:
			writeError(w, r, err)
			return
		}
	}

	logger.FromContext(r.Context()).InfoWith("upload confirmed", map[string]any{
		"bucket": upload.Bucket,
		"object": upload.Object,
		"size":   upload.Size,
	})
	writeJSON(w, http.StatusOK, map[string]string{"Status": "OK"})
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errs.InvalidArgument("invalid boolean %q", v)
	}
	return b, nil
}
