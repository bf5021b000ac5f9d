// Package server exposes an Answerer over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xhad/aibots/internal/types"
)

type Config struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
}

// Server answers questions with a single Answerer built at startup and shared
// by every request.
type Server struct {
	answerer types.Answerer
	config   Config
	logger   *zap.Logger
	router   chi.Router
	server   *http.Server
}

func New(answerer types.Answerer, config Config, logger *zap.Logger) *Server {
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		answerer: answerer,
		config:   config,
		logger:   logger,
	}
	s.router = s.routes()
	s.server = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.config.RequestTimeout))
		r.Get("/healthz", s.handleHealth)
		r.Post("/ask", s.handleAsk)
	})

	// Long-lived connections are not subject to the request timeout.
	r.Get("/ws", s.handleWebSocket)

	return r
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Start serves until Shutdown is called. It returns nil after a graceful
// shutdown, even one that happened before Start.
func (s *Server) Start() error {
	s.logger.Info("server.start", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server.shutdown")
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info("http.request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote", r.RemoteAddr))
		}()
		next.ServeHTTP(ww, r)
	})
}
