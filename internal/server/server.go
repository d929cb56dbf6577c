package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"batchrest/internal/adapter"
	"batchrest/internal/config"
	"batchrest/internal/jsoncodec"
	"batchrest/internal/metrics"
	"batchrest/internal/proxy"
	"batchrest/internal/ws"
)

// ShutdownTimeout bounds graceful shutdown once Run's context ends
const ShutdownTimeout = 30 * time.Second

// Server runs the HTTP gateway, the WebSocket gateway and the metrics
// endpoint over one adapter per configured backend
type Server struct {
	cfg           *config.Config
	router        *proxy.Router
	registry      *prometheus.Registry
	metrics       *metrics.Collector
	rpcServer     *http.Server
	wsServer      *http.Server
	metricsServer *http.Server
	logger        zerolog.Logger
}

// New creates a new Server with an adapter for every configured backend
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := metrics.New(registry)
	if err := m.Register(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		router:   proxy.NewRouter(),
		registry: registry,
		metrics:  m,
		logger:   logger,
	}

	for _, bc := range cfg.Backends {
		if err := s.AddBackend(bc); err != nil {
			_ = s.router.CloseAll(context.Background())
			return nil, err
		}
	}

	return s, nil
}

// AddBackend creates the adapter for a backend and registers it
func (s *Server) AddBackend(bc config.BackendConfig) error {
	a, err := adapter.NewFromConfig(bc, s.cfg, s.metrics, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create backend %s: %w", bc.Name, err)
	}

	s.router.AddBackend(a)
	s.logger.Info().
		Str("backend", bc.Name).
		Str("url", bc.URL).
		Bool("batching", bc.Batching.IsEnabled()).
		Int("maxSize", bc.Batching.MaxSize).
		Int("maxWait", bc.Batching.MaxWait).
		Bool("cache", bc.IsCacheEnabled()).
		Msg("added backend")
	return nil
}

// Router returns the router
func (s *Server) Router() *proxy.Router {
	return s.router
}

// MetricsHandler serves /metrics and /health
func (s *Server) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = jsoncodec.Encode(w, map[string]interface{}{
			"status":   "ok",
			"backends": s.router.GetBackendNames(),
		})
	})
	return mux
}

func (s *Server) buildServers() []*http.Server {
	newServer := func(port int, handler http.Handler) *http.Server {
		return &http.Server{
			Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, port),
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
	}

	s.rpcServer = newServer(s.cfg.Port, proxy.NewHandler(s.router, s.cfg, s.logger))
	s.wsServer = newServer(s.cfg.WSPort, ws.NewHandler(s.router, s.logger))
	servers := []*http.Server{s.rpcServer, s.wsServer}

	if s.cfg.MetricsPort > 0 {
		s.metricsServer = newServer(s.cfg.MetricsPort, s.MetricsHandler())
		servers = append(servers, s.metricsServer)
	}

	for _, name := range s.router.GetBackendNames() {
		s.logger.Info().
			Str("backend", name).
			Str("http", fmt.Sprintf("http://%s/%s", s.rpcServer.Addr, name)).
			Str("ws", fmt.Sprintf("ws://%s/%s", s.wsServer.Addr, name)).
			Msg("endpoint available")
	}
	return servers
}

// Run serves until ctx ends or a listener fails, then shuts down
// gracefully. A clean shutdown returns nil.
func (s *Server) Run(ctx context.Context) error {
	servers := s.buildServers()
	g, gctx := errgroup.WithContext(ctx)

	for _, srv := range servers {
		g.Go(func() error {
			s.logger.Info().Str("addr", srv.Addr).Msg("starting listener")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listener %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	})

	return g.Wait()
}

// Stop gracefully stops the listeners and flushes every backend
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server...")

	var errs []error
	for _, srv := range []*http.Server{s.rpcServer, s.wsServer, s.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server %s shutdown error: %w", srv.Addr, err))
		}
	}

	if err := s.router.CloseAll(ctx); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Info().Msg("server stopped")
	return nil
}
