package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/capstream/capstream/pkg/filter"
	"github.com/capstream/capstream/pkg/logging"
	"github.com/capstream/capstream/pkg/metrics"
	"github.com/capstream/capstream/pkg/relay"
)

// Errors
var (
	// ErrAlreadyStarted is returned by Start on a running server.
	ErrAlreadyStarted = errors.New("stream: server already started")
)

// Defaults
const (
	DefaultHost      = "0.0.0.0"
	DefaultPort      = 8000
	DefaultChunkSize = 32 << 10

	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

// Config holds the HTTP server settings.
type Config struct {
	Host string
	Port int
	// MaxConnections caps concurrently accepted connections; zero means
	// unlimited.
	MaxConnections int
	// ChunkSize is the read size for session output.
	ChunkSize int
	// Input describes the capture source on the info page.
	Input string
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:      DefaultHost,
		Port:      DefaultPort,
		ChunkSize: DefaultChunkSize,
	}
}

// Addr returns the configured listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// StatusSource reports the state of the capture relay.
type StatusSource interface {
	Stats() relay.Stats
}

// SessionManager opens and tracks filter sessions.
type SessionManager interface {
	Open(ctx context.Context, req filter.CaptureRequest, client string) (*filter.Session, error)
	Get(id string) (*filter.Session, bool)
	List() []filter.SessionInfo
	CloseAll(ctx context.Context) error
	Config() filter.Config
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		s.log = logging.Component(log, "stream")
	}
}

// WithMetrics exposes reg at /metrics.
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// Server serves capture streams over HTTP.
type Server struct {
	cfg       Config
	relay     StatusSource
	sessions  SessionManager
	registry  *metrics.Registry
	log       *slog.Logger
	startedAt time.Time

	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// New creates a server streaming sessions from sessions. src is consulted
// for the health endpoint.
func New(cfg Config, src StatusSource, sessions SessionManager, opts ...Option) *Server {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	s := &Server{
		cfg:       cfg,
		relay:     src,
		sessions:  sessions,
		log:       logging.Nop(),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	// WriteTimeout stays zero: stream responses last as long as the capture.
	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.withMiddleware(mux),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelDebug),
	}
	return s
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /sessions", s.handleSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleSession)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.registry != nil {
		mux.Handle("GET /metrics", s.registry.Handler())
	}
	mux.HandleFunc("/", s.handleFallback)
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("stream: listen on %s: %w", s.cfg.Addr(), err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	s.listener = ln

	s.log.Info("starting stream server", "addr", ln.Addr().String(), "maxConnections", s.cfg.MaxConnections)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("stream server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the address the server listens on, or the configured address
// before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr()
}

// Stop cancels all running sessions, which ends their responses, then shuts
// the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.sessions.CloseAll(ctx); err != nil {
		s.log.Warn("sessions did not close in time", "error", err)
	}
	return s.httpServer.Shutdown(ctx)
}

// withMiddleware logs each request once it has been served.
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		handler.ServeHTTP(rec, r)
		s.log.Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status(),
			"bytes", rec.written,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	})
}

// statusRecorder remembers the response status and size.
type statusRecorder struct {
	http.ResponseWriter
	code    int
	written int64
}

func (w *statusRecorder) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

func (w *statusRecorder) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController support.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
