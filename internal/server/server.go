// Package server provides the HTTP API for doctalk.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hyperjump/doctalk/internal/chat"
	"github.com/hyperjump/doctalk/internal/config"
	"github.com/hyperjump/doctalk/internal/storage"
)

// WatchService manages inbox directories at runtime.
type WatchService interface {
	Directories() []string
	AddDirectory(path string) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the doctalk API.
type Server struct {
	chat       *chat.Service
	archive    storage.Archive
	config     *config.Config
	configMu   sync.Mutex
	configPath string
	watch      WatchService
	logger     *zap.Logger
	router     chi.Router
	server     *http.Server
}

// NewServer creates a server with the given dependencies. archive and watch may be nil.
// When configPath is set, inbox directory changes are saved back to it.
func NewServer(
	svc *chat.Service,
	archive storage.Archive,
	cfg *config.Config,
	logger *zap.Logger,
	watch WatchService,
	configPath string,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		chat:       svc,
		archive:    archive,
		config:     cfg,
		configPath: configPath,
		watch:      watch,
		logger:     logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.Server.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	if d := s.config.Server.RequestTimeout; d > 0 {
		r.Use(middleware.Timeout(d))
	}

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Post("/chat", s.handleChat)
		r.Post("/chat/complete", s.handleChatComplete)
		r.Get("/document", s.handleDocument)
		r.Get("/history", s.handleHistory)
		r.Delete("/history", s.handleResetHistory)
		r.Get("/status", s.handleStatus)
		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	return r
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
