// Package http exposes the tracker over JSON: the application API and the
// key-value persistence endpoint other instances can use as their backend.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"expensecf/internal/kv"
	"expensecf/internal/service"
)

type Server struct {
	http.Server
	svc     *service.Service
	backing kv.Store
	logger  *slog.Logger

	rateLimiter  *rateLimiter
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server. backing is the raw key-value store served at /api/kv; it is the
// same store the service persists through.
func NewServer(addr string, svc *service.Service, backing kv.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		svc:         svc,
		backing:     backing,
		logger:      logger.With("component", "http"),
		rateLimiter: newRateLimiter(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(securityHeaders)

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", handleReady)

	r.Route("/api", func(api chi.Router) {
		// The KV endpoint answers browsers on other origins, so it gets
		// permissive CORS. Method filtering happens inside the handler to
		// keep the JSON error shape for 405s.
		api.With(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
		})).HandleFunc("/kv", s.handleKV)

		api.Post("/login", s.handleLogin)
		api.Post("/logout", s.handleLogout)
		api.Get("/session", s.handleSession)

		api.Post("/groups", s.handleCreateGroup)
		api.Post("/groups/join", s.handleJoinGroup)
		api.Post("/groups/leave", s.handleLeaveGroup)
		api.Get("/groups/current", s.handleGetGroup)

		api.Post("/transactions", s.handleAddTransaction)
		api.Get("/analytics", s.handleAnalytics)
		api.Get("/categories", s.handleCategories)

		api.Post("/debug/clear", s.handleClearStorage)
		api.Get("/debug/storage", s.handleDebugStorage)
	})

	s.Server = http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// logRequests logs request start and completion and rate limits writes.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		requestID := middleware.GetReqID(ctx)

		s.logger.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", r.RemoteAddr)

		if r.Method == http.MethodPost && !s.rateLimiter.allow(r.RemoteAddr) {
			s.logger.WarnContext(ctx, "Rate limit exceeded",
				"client_ip", r.RemoteAddr, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			return
		}

		rw := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(rw, r)

		s.logger.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
