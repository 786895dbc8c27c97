package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"collectbook/internal/cache"
	"collectbook/internal/log"
	"collectbook/internal/middleware/ratelimit"
	"collectbook/internal/middleware/security"
	"collectbook/internal/middleware/trace"
	"collectbook/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Services are the application services the API exposes.
type Services struct {
	Records   *services.RecordService
	Anomalies *services.AnomalyService
	Imports   *services.ImportService
}

type Options struct {
	RateLimit      ratelimit.Config
	CacheSize      int
	CacheTTL       time.Duration
	MaxUploadBytes int64
	// Ready reports whether backing stores are reachable. Nil means always ready.
	Ready  func(ctx context.Context) error
	Logger *log.Logger
}

func DefaultOptions() Options {
	return Options{
		RateLimit:      ratelimit.DefaultConfig(),
		CacheSize:      200,
		CacheTTL:       5 * time.Minute,
		MaxUploadBytes: 10 << 20,
	}
}

type Server struct {
	http.Server
	records   *services.RecordService
	anomalies *services.AnomalyService
	imports   *services.ImportService

	ready          func(ctx context.Context) error
	maxUploadBytes int64
	logger         *log.Logger

	clientIP    *security.ClientIPResolver
	rateLimiter *ratelimit.Limiter
	tracer      *trace.Middleware

	// anomaly reports keyed by period and scope
	reportCache  *cache.LRUCache[services.Report]
	cacheManager *cache.Manager

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, svc Services, opts Options) *Server {
	def := DefaultOptions()
	if opts.CacheSize <= 0 {
		opts.CacheSize = def.CacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = def.CacheTTL
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = def.MaxUploadBytes
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}
	logger := opts.Logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		records:        svc.Records,
		anomalies:      svc.Anomalies,
		imports:        svc.Imports,
		ready:          opts.Ready,
		maxUploadBytes: opts.MaxUploadBytes,
		logger:         logger,
		clientIP:       security.NewClientIPResolver(),
		rateLimiter:    ratelimit.NewLimiter(opts.RateLimit),
		reportCache:    cache.NewLRUCache[services.Report](opts.CacheSize, opts.CacheTTL),
		cacheManager:   cache.NewManager(logger),
	}
	s.tracer = trace.NewMiddleware(logger, s.clientIP.ExtractClientIP)

	s.cacheManager.Register(s.reportCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(log.Middleware(s.logger))
	r.Use(log.RequestIDMiddleware(trace.RequestID))
	r.Use(s.tracer.Middleware)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.rateLimiter.Middleware(s.clientIP.ExtractClientIP, s.handleRateLimited,
			http.MethodPost, http.MethodPut, http.MethodDelete))

		r.Route("/customers", func(r chi.Router) {
			r.Get("/", s.handleListCustomers)
			r.Post("/", s.handleCreateCustomer)
			r.Get("/{id}", s.handleGetCustomer)
			r.Put("/{id}", s.handleUpdateCustomer)
			r.Delete("/{id}", s.handleDeleteCustomer)
			r.Get("/{id}/contracts", s.handleListCustomerContracts)
		})

		r.Route("/sites", func(r chi.Router) {
			r.Get("/", s.handleListSites)
			r.Post("/", s.handleCreateSite)
			r.Get("/{id}", s.handleGetSite)
			r.Post("/{id}/imports", s.handleImportSiteFile)
			r.Get("/{id}/imports", s.handleListImports)
		})

		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", s.handleListContracts)
			r.Post("/", s.handleCreateContract)
			r.Get("/{id}", s.handleGetContract)
			r.Put("/{id}", s.handleUpdateContract)
			r.Delete("/{id}", s.handleDeleteContract)
		})

		r.Route("/collections", func(r chi.Router) {
			r.Get("/", s.handleListCollections)
			r.Post("/", s.handleRecordCollection)
			r.Get("/{id}", s.handleGetCollection)
			r.Delete("/{id}", s.handleDeleteCollection)
		})

		r.Get("/anomalies", s.handleAnomalyReport)
		r.Get("/alerts", s.handleListAlerts)
		r.Get("/metrics", s.handleMetrics)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

// Shutdown stops background routines and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.clientIP.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded, please try again later")
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"requests":     s.tracer.GetMetrics(),
		"rate_limit":   s.rateLimiter.GetMetrics(),
		"report_cache": s.reportCache.Size(),
	})
}
