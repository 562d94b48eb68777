package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"lorevault/internal/api"
	"lorevault/internal/bridge"
	"lorevault/internal/config"
)

type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	httpServer *http.Server
	router     *chi.Mux
	handler    *api.Handler
	bridge     *bridge.Handler
}

func New(cfg *config.Config, logger zerolog.Logger, deps api.Deps) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		handler: api.NewHandler(deps, logger),
	}
	if cfg.Bridge.ServeRoot != "" {
		s.bridge = bridge.NewHandler(cfg.Bridge.ServeRoot, logger)
	}

	s.router = chi.NewRouter()
	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

// Router exposes the routes for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(RequestIDMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(LoggingMiddleware(s.logger))
}

func (s *Server) setupRoutes() {
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handler.Health)

		r.Get("/library", s.handler.GetLibrary)
		r.Delete("/library", s.handler.ClearLibrary)
		r.Post("/library/import", s.handler.ImportDirectory)
		r.Get("/library/import", s.handler.ListImportJobs)
		r.Get("/library/import/{job}", s.handler.GetImportJob)
		r.Post("/library/upload", s.handler.UploadFiles)
		r.Get("/library/browse", s.handler.BrowseDirectory)

		r.Get("/videos/{id}", s.handler.GetVideo)
		r.Delete("/videos/{id}", s.handler.DeleteVideo)
		r.Get("/videos/{id}/stream", s.handler.StreamVideo)

		// Progress
		r.Get("/videos/{id}/reference", s.handler.GetReference)
		r.Post("/videos/{id}/complete", s.handler.CompleteVideo)
		r.Get("/progress", s.handler.GetProgress)
	})

	if s.bridge != nil {
		s.router.Mount("/bridge", s.bridge.Routes())
	}
}

func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.httpServer.Addr).
		Bool("bridge", s.bridge != nil).
		Msg("starting server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}
