// Package api serves archived backtest runs over gRPC and HTTP, and exposes
// Prometheus metrics on the HTTP listener.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"stockbt/internal/store"
)

// ServerConfig holds listener addresses.
type ServerConfig struct {
	HTTPAddr string
	GRPCAddr string
	// MetricsPath mounts the Prometheus handler. Empty disables it.
	MetricsPath string
	Gatherer    prometheus.Gatherer
}

// Server hosts the HTTP and gRPC endpoints.
type Server struct {
	cfg      ServerConfig
	router   *mux.Router
	handlers *Handlers
	results  *ResultsServer
	grpc     *grpc.Server
	http     *http.Server
	log      *slog.Logger
}

// NewServer creates a Server for runs.
func NewServer(cfg ServerConfig, runs store.RunStore, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:      cfg,
		router:   mux.NewRouter(),
		handlers: NewHandlers(runs, log),
		results:  NewResultsServer(runs, log),
		grpc:     grpc.NewServer(),
		log:      log.With("component", "api"),
	}
	s.setupRoutes()
	s.results.RegisterGRPC(s.grpc)
	s.http = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(s.requestLogging)

	s.router.HandleFunc("/health", s.handlers.Health).Methods(http.MethodGet)
	s.router.HandleFunc("/runs", s.handlers.ListRuns).Methods(http.MethodGet)
	s.router.HandleFunc("/runs/{id}", s.handlers.GetRun).Methods(http.MethodGet)
	if s.cfg.MetricsPath != "" {
		s.router.Handle(s.cfg.MetricsPath, promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	s.router.NotFoundHandler = http.HandlerFunc(s.handlers.NotFound)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.code,
			"elapsed", time.Since(start).String(),
		)
	})
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a listener fails. Cancellation triggers a graceful
// shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	grpcLis, err := net.Listen("tcp", s.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.GRPCAddr, err)
	}
	httpLis, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		grpcLis.Close()
		return fmt.Errorf("listening on %s: %w", s.cfg.HTTPAddr, err)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		s.log.Info("grpc listening", "addr", grpcLis.Addr().String())
		if err := s.grpc.Serve(grpcLis); !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		s.log.Info("http listening", "addr", httpLis.Addr().String())
		if err := s.http.Serve(httpLis); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")
	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	err := s.http.Shutdown(ctx)
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpc.Stop()
	}
	return err
}
