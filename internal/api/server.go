package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/JakeFAU/media-scraper/internal/config"
	"github.com/JakeFAU/media-scraper/internal/metrics"
	"github.com/JakeFAU/media-scraper/internal/registry"
	"github.com/JakeFAU/media-scraper/internal/scraper"
)

const (
	requestTimeout = 120 * time.Second
	readyTimeout   = 2 * time.Second
	maxBodyBytes   = 1 << 20
	corsMaxAge     = 300
)

const queueFullMsg = "Job queue full, retry later"

// SyncScraper scrapes a batch inline and reports every outcome per URL.
type SyncScraper interface {
	ScrapeAll(ctx context.Context, urls []string) []scraper.ScrapeResult
}

// JobService admits and reports asynchronous scrape jobs.
type JobService interface {
	Submit(ctx context.Context, urls []string) (scraper.ScrapeJob, error)
	Job(id string) (scraper.ScrapeJob, bool)
	Jobs() []scraper.ScrapeJob
	Stats() scraper.QueueStats
	Sweep() registry.SweepResult
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the scrape pipeline and stores.
type Server struct {
	router  chi.Router
	scrapes SyncScraper
	jobs    JobService
	store   scraper.PageStore
	clock   scraper.Clock
	cfg     config.Config
	started time.Time
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	scrapes SyncScraper,
	jobs JobService,
	store scraper.PageStore,
	clock scraper.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		scrapes: scrapes,
		jobs:    jobs,
		store:   store,
		clock:   clock,
		cfg:     cfg,
		started: clock.Now(),
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: cfg.CORS.Credentials,
		MaxAge:           corsMaxAge,
	}))
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(requestTimeout))
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "The requested endpoint does not exist")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.routes(r)
	r.Route("/api", s.routes)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes(r chi.Router) {
	r.Get("/health", s.health)

	r.Group(func(r chi.Router) {
		if s.cfg.Auth.Enabled {
			r.Use(basicAuthMiddleware(s.cfg.Auth.Username, s.cfg.Auth.Password))
		}
		r.Post("/scrape", s.scrapeSync)
		r.Route("/scrape/v2", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/status", s.listJobs)
			r.Get("/status/{jobId}", s.getJob)
			r.Get("/stats", s.queueStats)
			r.Post("/clean", s.cleanJobs)
		})
	})

	r.Route("/pages", func(r chi.Router) {
		r.Get("/", s.listPages)
		r.Get("/stats", s.pageStats)
		r.Get("/url/*", s.getPageByURL)
		r.Get("/{id}", s.getPage)
		r.Delete("/{id}", s.deletePage)
	})
	r.Route("/assets", func(r chi.Router) {
		r.Get("/", s.listAssets)
		r.Get("/stats", s.assetStats)
		r.Get("/type/{type}", s.listAssetsByType)
		r.Get("/{id}", s.getAsset)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	now := s.clock.Now()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "OK",
		"timestamp":   now.Format(time.RFC3339Nano),
		"uptime":      now.Sub(s.started).Seconds(),
		"environment": s.cfg.Server.Environment,
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Info("request completed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic recovered",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.Any("panic", rec),
					zap.Stack("stack"),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func basicAuthMiddleware(username, password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="media-scraper"`)
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error":   "Unauthorized",
					"message": "Basic authentication required",
				})
				return
			}
			userOK := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
			passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
			if !userOK || !passOK {
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error":   "Unauthorized",
					"message": "Invalid credentials",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// writeFailure maps the error taxonomy onto HTTP status codes.
func (s *Server) writeFailure(w http.ResponseWriter, err error, fallback string) {
	var verr *scraper.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, scraper.ErrNotFound):
		writeError(w, http.StatusNotFound, fallback)
	case errors.Is(err, scraper.ErrQueueFull):
		s.logger.Warn("job queue full", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, queueFullMsg)
	case scraper.IsPipeline(err):
		s.logger.Error(fallback, zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, fallback)
	default:
		s.logger.Error(fallback, zap.Error(err))
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
