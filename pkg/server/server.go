// Package server exposes the HTTP/SSE surface: registration,
// collections, documents, retrieval, chat, presigned media, and
// metrics, with authentication and rate limiting in front.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/strata-ai/strata/pkg/auth"
	"github.com/strata-ai/strata/pkg/blob"
	"github.com/strata-ai/strata/pkg/chat"
	"github.com/strata-ai/strata/pkg/config"
	"github.com/strata-ai/strata/pkg/ingest"
	"github.com/strata-ai/strata/pkg/observability"
	"github.com/strata-ai/strata/pkg/ratelimit"
	"github.com/strata-ai/strata/pkg/retrieval"
	"github.com/strata-ai/strata/pkg/store"
)

// Server wires the service components behind the router.
type Server struct {
	cfg         *config.ServerConfig
	store       *store.Store
	auth        *auth.Service
	limiter     *ratelimit.Limiter
	metrics     *observability.Metrics
	coordinator *ingest.Coordinator
	engine      *retrieval.Engine
	chat        *chat.Orchestrator
	blobs       *blob.Store

	http *http.Server
}

// Deps collects the components the server fronts.
type Deps struct {
	Store       *store.Store
	Auth        *auth.Service
	Limiter     *ratelimit.Limiter
	Metrics     *observability.Metrics
	Coordinator *ingest.Coordinator
	Engine      *retrieval.Engine
	Chat        *chat.Orchestrator
	Blobs       *blob.Store
}

func New(cfg *config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:         cfg,
		store:       deps.Store,
		auth:        deps.Auth,
		limiter:     deps.Limiter,
		metrics:     deps.Metrics,
		coordinator: deps.Coordinator,
		engine:      deps.Engine,
		chat:        deps.Chat,
		blobs:       deps.Blobs,
	}
	s.http = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Router builds the full route tree. Exposed for tests.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.With(s.instrument("/api/auth/register"), s.rateLimit(config.EndpointAuth)).
			Post("/auth/register", s.handleRegister)

		// Presigned media URLs carry their own authentication.
		r.With(s.instrument("/api/media")).Get("/media/*", s.handleMedia)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Route("/collections", func(r chi.Router) {
				r.Use(s.instrument("/api/collections"))
				r.Post("/", s.handleCreateCollection)
				r.Get("/", s.handleListCollections)
				r.Get("/{id}", s.handleGetCollection)
				r.Patch("/{id}", s.handleUpdateCollection)
				r.Delete("/{id}", s.handleDeleteCollection)
			})

			r.Route("/documents", func(r chi.Router) {
				r.Use(s.instrument("/api/documents"))
				r.With(s.rateLimit(config.EndpointUpload)).Post("/", s.handleUploadDocument)
				r.Get("/", s.handleListDocuments)
				r.Get("/{id}", s.handleGetDocument)
				r.Patch("/{id}", s.handleUpdateDocument)
				r.Delete("/{id}", s.handleDeleteDocument)
				r.Get("/{id}/status", s.handleDocumentStatus)
				r.Post("/{id}/retry", s.handleRetryDocument)
				r.Get("/{id}/url", s.handleDocumentURL)
			})

			r.With(s.instrument("/api/retrievals"), s.rateLimit(config.EndpointRetrieval)).
				Post("/retrievals", s.handleRetrieve)

			r.Route("/chat", func(r chi.Router) {
				r.Use(s.instrument("/api/chat"))
				r.With(s.rateLimit(config.EndpointChat)).Post("/", s.handleChat)
				r.Get("/sessions", s.handleListSessions)
				r.Get("/sessions/{id}/messages", s.handleSessionMessages)
				r.Delete("/sessions/{id}", s.handleDeleteSession)
			})
		})
	})
	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("HTTP server listening", "addr", s.cfg.Address())
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

type contextKey string

const userContextKey contextKey = "user"

// currentUser returns the authenticated user placed by requireAuth.
func currentUser(r *http.Request) *store.User {
	u, _ := r.Context().Value(userContextKey).(*store.User)
	return u
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.auth.Authenticate(r.Context(), auth.ExtractKey(r))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) rateLimit(class config.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.ExtractKey(r)
			if identity == "" {
				identity = r.RemoteAddr
			}
			decision := s.limiter.Allow(class, identity)
			if !decision.Allowed {
				s.metrics.ObserveRateLimitRejection(string(class))
				retryAfter := int(decision.RetryAfter.Seconds())
				w.Header().Set("Retry-After", itoa(retryAfter))
				writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
					"error":       "rate_limit_exceeded",
					"retry_after": retryAfter,
					"limit":       decision.Limit,
					"endpoint":    string(class),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) instrument(route string) func(http.Handler) http.Handler {
	return s.metrics.Middleware(route)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("Request",
			"method", r.Method,
			"path", auth.SanitizeText(r.URL.Path),
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Handler panic",
					"panic", rec,
					"path", r.URL.Path,
					"request_id", middleware.GetReqID(r.Context()))
				writeInternalError(w, r)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
