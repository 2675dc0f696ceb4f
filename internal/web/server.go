package web

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultAddr is the default server address.
const DefaultAddr = ":8080"

const shutdownTimeout = 10 * time.Second

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr        string
	BaseURL     string
	TemplatesFS fs.FS
	StaticFS    fs.FS
	Logger      *log.Logger
}

// Server is the HTTP server for the web application.
type Server struct {
	router   chi.Router
	server   *http.Server
	handlers *Handlers
	logger   *log.Logger

	cancelBase context.CancelFunc
}

// NewServer creates a new web server.
func NewServer(cfg ServerConfig, broker Broker, streamer Streamer, profiles ProfileFetcher) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	templates, err := NewTemplates(cfg.TemplatesFS)
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}

	secure := strings.HasPrefix(cfg.BaseURL, "https://")
	handlers := NewHandlers(broker, streamer, profiles, templates, logger, secure)

	baseCtx, cancelBase := context.WithCancel(context.Background())

	s := &Server{
		router:     chi.NewRouter(),
		handlers:   handlers,
		logger:     logger.With("component", "server"),
		cancelBase: cancelBase,
	}

	s.setupMiddleware(logger)
	s.setupRoutes(cfg.StaticFS)

	// No write timeout: /xray responses stay open for the life of the client.
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return baseCtx
		},
	}

	return s, nil
}

// setupMiddleware configures middleware for the router.
func (s *Server) setupMiddleware(logger *log.Logger) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  logger.StandardLog(),
		NoColor: true,
	}))
	s.router.Use(middleware.Recoverer)
}

// setupRoutes configures routes for the application.
func (s *Server) setupRoutes(staticFS fs.FS) {
	// The event stream must not pass through the compressor, which buffers.
	s.router.Get("/xray", s.handlers.Xray)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))

		// Static files
		fileServer := http.FileServer(http.FS(staticFS))
		r.Handle("/static/*", http.StripPrefix("/static/", fileServer))

		// Pages
		r.Get("/", s.handlers.Home)

		// Auth routes
		r.Get("/authorize", s.handlers.Authorize)
		r.Get("/callback", s.handlers.Callback)
		r.Get("/refresh_token", s.handlers.RefreshToken)
		r.Post("/auth/logout", s.handlers.Logout)

		// API
		r.Get("/me", s.handlers.Me)
		r.Get("/session", s.handlers.Session)
		r.Get("/livez", s.handlers.Livez)
	})
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully. Open
// event streams are ended before waiting on in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		s.cancelBase()
		if ok {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutting down server")
	}

	s.cancelBase()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}
