// Package server implements the HTTP server that exposes hybrid search,
// document ingestion, and the review lifecycle as a REST API.
// The server is started by the `kbase serve` CLI command.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/knowos/kbase-go/internal/corpus"
	"github.com/knowos/kbase-go/internal/logging"
)

// New constructs a Server from the retrieval engine, ingestion pipeline,
// corpus store, and config. reg receives the server's Prometheus metrics;
// pass a fresh registry in tests to stay hermetic.
func New(engine searcher, pipeline lifecycler, store corpus.Store, cfg *Config, reg prometheus.Registerer) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("server: engine must not be nil")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("server: pipeline must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("server: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must cover a full crawl-free ingest, which embeds
		// every chunk of the uploaded document.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		engine:   engine,
		pipeline: pipeline,
		store:    store,
		cfg:      cfg,
		log:      log,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(reg),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	if cfg.APIKey == "" {
		log.Warn("server: KBASE_API_KEY not set — API authentication is disabled")
	}

	// api wraps a handler with auth and per-IP rate limiting; health, ready,
	// and metrics stay open for probes and scrapers.
	api := func(name string, h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(s.instrument(name, h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/search", api("search", s.handleSearch))
	mux.Handle("POST /api/documents", api("documents_create", s.handleIngest))
	mux.Handle("GET /api/documents", api("documents_list", s.handleListDocuments))
	mux.Handle("GET /api/documents/{id}", api("documents_get", s.handleGetDocument))
	mux.Handle("DELETE /api/documents/{id}", api("documents_delete", s.handleDeleteDocument))
	mux.Handle("POST /api/documents/approve", api("documents_approve", s.handleApprove))
	mux.Handle("POST /api/documents/reject", api("documents_reject", s.handleReject))
	mux.Handle("PATCH /api/chunks/{id}", api("chunks_update", s.handleUpdateChunk))
	mux.Handle("DELETE /api/chunks/{id}", api("chunks_delete", s.handleDeleteChunk))
	mux.Handle("POST /api/statistics/rebuild", api("statistics_rebuild", s.handleRebuild))
	mux.Handle("GET /api/health", s.instrument("health", s.handleHealth))
	mux.Handle("GET /api/ready", s.instrument("ready", s.handleReady))
	if gatherer, ok := reg.(prometheus.Gatherer); ok {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		fmt.Printf("kbase server listening on http://%s\n", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// Handler returns the server's root handler. Exposed for httptest-based tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// instrument wraps a handler to record request count and latency under the
// given logical endpoint name.
func (s *Server) instrument(name string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)
		elapsed := time.Since(start)

		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, name, fmt.Sprintf("%d", rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(elapsed.Seconds())
	})
}
