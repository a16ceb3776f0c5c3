// Package server provides the HTTP API for asil.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/asil/internal/config"
	"github.com/hyperjump/asil/internal/faq"
	"github.com/hyperjump/asil/internal/service"
	"github.com/hyperjump/asil/internal/watcher"
)

// minRequestTimeout bounds every request; uploads get the vision timeout on top.
const minRequestTimeout = 60 * time.Second

// WatchService is the subset of the inbox watcher used by the API.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
	Stats() watcher.Stats
}

// Server is the HTTP server for the asil API.
type Server struct {
	svc        *service.Service
	config     *config.Config
	configPath string
	faq        []faq.Entry
	watch      WatchService
	logger     *zap.Logger
	server     *http.Server

	configMu sync.Mutex
}

// NewServer creates a server. watch may be nil when no inbox is configured;
// configPath may be empty, in which case watch changes are not persisted.
func NewServer(svc *service.Service, cfg *config.Config, logger *zap.Logger, watch WatchService, configPath string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries := cfg.FAQ
	if len(entries) == 0 {
		entries = faq.Default()
	}
	return &Server{
		svc:        svc,
		config:     cfg,
		configPath: configPath,
		faq:        entries,
		watch:      watch,
		logger:     logger,
	}
}

// Routes returns the API router.
func (s *Server) Routes() http.Handler {
	timeout := minRequestTimeout + s.config.Vision.Timeout()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/analyses", s.handleSubmit)
		r.Get("/analyses", s.handleList)
		r.Get("/analyses/{id}", s.handleGet)
		r.Delete("/analyses/{id}", s.handleDelete)
		r.Get("/analyses/{id}/similar", s.handleSimilar)
		r.Get("/analyses/{id}/export.xlsx", s.handleExport)
		r.Post("/parse", s.handleParse)
		r.Get("/latest", s.handleLatest)
		r.Get("/search", s.handleSearch)
		r.Get("/faq", s.handleFAQ)
		r.Get("/status", s.handleStatus)

		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
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
