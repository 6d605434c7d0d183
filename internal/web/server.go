// Package web exposes the HTTP surface: client catalog browsing, download
// admission/streaming/cancellation, admin catalog management, and the live
// monitoring feeds.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/catalog"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/config"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/download"
	"github.com/vinayakrastogi/D3AS-DownloadDuplicationAlertSystem/internal/hub"
)

// Server is the HTTP server for the download service.
type Server struct {
	mgr     *download.Manager
	catalog *catalog.Store
	hub     *hub.Hub
	logger  *slog.Logger
	server  *http.Server
}

// New creates the server and registers all routes.
func New(cfg *config.Config, mgr *download.Manager, cat *catalog.Store, h *hub.Hub, logger *slog.Logger) *Server {
	s := &Server{
		mgr:     mgr,
		catalog: cat,
		hub:     h,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(s.sessionToken)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/download", func(r chi.Router) {
			r.Post("/init", s.handleDownloadInit)
			r.Get("/stream/{downloadID}", s.handleDownloadStream)
			r.Post("/cancel", s.handleDownloadCancel)
			r.Get("/status", s.handleDownloadStatus)
			r.Get("/events", s.handleDownloadEvents)
		})

		r.Route("/client", func(r chi.Router) {
			r.Get("/session", s.handleClientSession)
			r.Get("/objects", s.handleClientObjects)
			r.Get("/objects/recent", s.handleClientObjectsRecent)
			r.Get("/objects/search", s.handleClientObjectsSearch)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/objects", s.handleAdminListObjects)
			r.Post("/objects", s.handleAdminCreateObject)
			r.Get("/objects/{id}", s.handleAdminGetObject)
			r.Put("/objects/{id}", s.handleAdminUpdateObject)
			r.Delete("/objects/{id}", s.handleAdminDeleteObject)

			r.Route("/monitor", func(r chi.Router) {
				r.Get("/downloads/active", s.handleMonitorActive)
				r.Get("/users", s.handleMonitorUsers)
				r.Get("/stream", s.handleMonitorStream)
			})
		})
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoints need no write timeout
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins serving HTTP requests. It blocks until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the configured HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
