// Package server hosts the HTTP surface: the chi router and the ordered
// request pipeline every inbound call runs through.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Server struct {
	Router *chi.Mux
	Addr   string

	logger *slog.Logger
	http   *http.Server
}

// New builds the server. The pipeline order is declared here and nowhere
// else: HEAD normalization first (so routing sees GET), then request-id
// assignment, then tracking/error normalization. The router, with panic
// recovery, sits innermost.
func New(addr string, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	pipe := NewPipeline(
		HeadStage{},
		RequestIDStage{},
		&TrackingStage{Logger: logger},
	)

	handler := otelhttp.NewHandler(pipe.Wrap(r), "pipehub")

	return &Server{
		Router: r,
		Addr:   addr,
		logger: logger,
		http: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler exposes the fully composed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) Start() error {
	s.logger.Info("starting server", slog.String("addr", s.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
