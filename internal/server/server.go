// Package server wires the HTTP surface: routing, middleware, timeouts, and
// static delivery of finished renditions.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"chirpstream/internal/api"
	"chirpstream/internal/observability/logging"
	"chirpstream/internal/observability/metrics"
)

type Config struct {
	Addr string
	// Token guards the /api/ routes when non-empty. Playback and health
	// endpoints stay public.
	Token     string
	StaticDir string
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("api handler is required")
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/api/videos", handler.UploadVideo)
	mux.HandleFunc("/api/medias/video-status/", handler.VideoStatus)

	if staticDir := strings.TrimSpace(cfg.StaticDir); staticDir != "" {
		fileServer := http.FileServer(http.Dir(staticDir))
		mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	}

	handlerChain := http.Handler(mux)
	handlerChain = authMiddleware(strings.TrimSpace(cfg.Token), handlerChain)
	handlerChain = metrics.HTTPMiddleware(recorder, handlerChain)
	handlerChain = logging.RequestLogger(logging.RequestLoggerConfig{Logger: cfg.Logger})(handlerChain)
	// Outermost so every downstream log line carries the request ID.
	handlerChain = requestIDMiddleware(cfg.Logger, handlerChain)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: handlerChain,
		// Uploads stream up to the configured cap, so the read timeout is
		// generous while header and write timeouts stay tight.
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Minute,
		WriteTimeout:      time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{httpServer: httpServer, logger: cfg.Logger}, nil
}

func (s *Server) Start() error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func authMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		if !api.TokenMatches(api.ExtractToken(r), token) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			api.WriteError(w, http.StatusUnauthorized, fmt.Errorf("missing or invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
