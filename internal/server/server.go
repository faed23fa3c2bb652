package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jpalmerr/observatory/internal/queue"
	"github.com/jpalmerr/observatory/internal/store"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// Must be <= shutdownTimeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	serviceName = "LiteLLM Observatory"
)

// Backend is the job queue the server fronts.
type Backend interface {
	// SubmitJob enqueues a run. Errors are a *queue.DuplicateError,
	// queue.ErrStopped, or a validation error.
	SubmitJob(p queue.Params) (queue.SubmitResult, error)
	QueueStatus() queue.QueueStatus
	RunningJobs() []queue.JobInfo
	// Suites lists the accepted test suite names.
	Suites() []string
}

// Config holds the server settings.
type Config struct {
	// Port is the TCP port to listen on. Zero lets the OS choose.
	Port int

	// APIKey protects the API. Empty leaves it open.
	APIKey string

	// Version is reported by the root endpoint.
	Version string

	Logger *slog.Logger
}

// Server handles HTTP requests for the Observatory API.
type Server struct {
	backend    Backend
	store      store.Store
	cfg        Config
	httpServer *http.Server
	addr       net.Addr
	logger     *slog.Logger
}

// NewServer creates a new HTTP [Server].
//
// The server is not started until [Server.Start] is called.
func NewServer(b Backend, st store.Store, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		backend: b,
		store:   st,
		cfg:     cfg,
		logger:  logger,
	}
}

// Handler returns the routed handler with authentication applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /{$}", s.requireAPIKey(http.HandlerFunc(s.handleRoot)))
	mux.Handle("POST /run-test", s.requireAPIKey(http.HandlerFunc(s.handleRunTest)))
	mux.Handle("GET /queue/status", s.requireAPIKey(http.HandlerFunc(s.handleQueueStatus)))
	mux.Handle("GET /queue/running", s.requireAPIKey(http.HandlerFunc(s.handleQueueRunning)))
	mux.Handle("GET /jobs/{id}", s.requireAPIKey(http.HandlerFunc(s.handleJob)))
	mux.Handle("GET /api/sse", s.requireAPIKey(http.HandlerFunc(s.handleSSE)))

	return mux
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.cfg.Port, err)
	}
	s.addr = ln.Addr()

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts derive from ctx so long-running handlers like
		// SSE observe shutdown
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", s.addr.String())
	return nil
}

// Addr returns the bound address, or nil before [Server.Start].
func (s *Server) Addr() net.Addr {
	return s.addr
}
