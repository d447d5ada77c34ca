// Package api exposes the retrieval service over HTTP: the retrieve
// endpoint, health and readiness probes, and the sync admin surface.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/avelin0/sage/internal/log"
	"github.com/avelin0/sage/internal/retrieval"
	"github.com/avelin0/sage/internal/syncer"
)

// Retriever is the answering surface the API needs.
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) (retrieval.Result, error)
	GeneratorAvailable() (available bool, reason string)
}

// SyncManager is the index-lifecycle surface exposed to operators.
type SyncManager interface {
	ForceRebuild(ctx context.Context) (syncer.RebuildResult, error)
	Status() syncer.Status
}

// Pinger reports knowledge-store reachability for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the server.
type Options struct {
	Addr      string
	RateBurst int
}

// Server is the HTTP front of the service.
type Server struct {
	retriever Retriever
	sync      SyncManager
	pinger    Pinger
	opts      Options
	logger    log.Logger
	version   string
}

// New creates a Server. version is reported by the health endpoint.
func New(retriever Retriever, sync SyncManager, pinger Pinger, opts Options, version string, logger log.Logger) *Server {
	return &Server{
		retriever: retriever,
		sync:      sync,
		pinger:    pinger,
		opts:      opts,
		logger:    logger,
		version:   version,
	}
}

// Handler assembles the routed and middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("POST /api/v1/retrieve", s.handleRetrieve)
	mux.HandleFunc("POST /api/v1/admin/rebuild", s.handleRebuild)
	mux.HandleFunc("GET /api/v1/admin/sync", s.handleSyncStatus)

	burst := s.opts.RateBurst
	if burst <= 0 {
		burst = 10
	}
	limiter := rate.NewLimiter(rate.Limit(burst), burst)

	return chain(mux,
		recovery(s.logger),
		requestID,
		rateLimit(limiter, s.logger),
		logging(s.logger),
	)
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.opts.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
