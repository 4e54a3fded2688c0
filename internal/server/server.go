// Package server exposes ossgate over HTTP with chi: upload policies for
// browsers, directory listings, signed URLs and the storage service's
// upload callback.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/koustreak/ossgate/internal/config"
	"github.com/koustreak/ossgate/internal/filestore"
	"github.com/koustreak/ossgate/internal/filestore/policy"
	"github.com/koustreak/ossgate/internal/ledger"
	"github.com/koustreak/ossgate/internal/logger"
)

// PolicyIssuer signs direct-upload policies. The oss driver implements it.
type PolicyIssuer interface {
	UploadPolicy(req policy.Request) (*policy.Response, error)
}

// Deps are the collaborators the handlers call. Store and Signing are
// required; a nil Policies or Ledger disables the routes that need them.
type Deps struct {
	Store    filestore.Store
	Signing  filestore.Signing
	Policies PolicyIssuer
	Ledger   ledger.Ledger
	Keys     KeyFetcher
	Log      *logger.Logger
	Now      func() time.Time
}

// Server is the HTTP front of ossgate.
type Server struct {
	cfg    config.Server
	upload config.Upload
	deps   Deps
	log    *logger.Logger
	router chi.Router
	verify *callbackVerifier
	fields []policy.SystemField
}

// New wires the router. It does not start listening.
func New(cfg config.Server, upload config.Upload, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Keys == nil {
		deps.Keys = NewHTTPKeyFetcher(nil)
	}

	fields := upload.PolicySystemFields()
	if len(fields) == 0 {
		fields = policy.DefaultSystemFields()
	}

	s := &Server{
		cfg:    cfg,
		upload: upload,
		deps:   deps,
		log:    log.Component("server"),
		verify: &callbackVerifier{keys: deps.Keys, skip: cfg.SkipCallbackVerify},
		fields: fields,
	}
	if cfg.SkipCallbackVerify {
		s.log.Warn("upload callback signature verification is disabled")
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/objects", s.handleListObjects)
		r.Get("/objects/url", s.handleObjectURL)

		r.Get("/uploads", s.handleListUploads)
		r.Get("/uploads/policy", s.handleUploadPolicy)
		r.Post("/uploads/callback", s.handleUploadCallback)
	})
	return r
}

// Handler returns the router, for tests and for embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully within
// ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.With().Str("addr", s.cfg.Addr).Logger().Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.log.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
