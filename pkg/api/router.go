package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/agrisync/internal/logger"
	"github.com/marmos91/agrisync/pkg/api/handlers"
)

// RouterOptions carries the optional parts of the router.
type RouterOptions struct {
	// FetchTimeout bounds POST /v1/entries/{key}/fetch.
	FetchTimeout time.Duration

	// Metrics, when set, is served on /metrics.
	Metrics http.Handler
}

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//
// Routes:
//   - GET    /health                    - Liveness probe
//   - GET    /health/ready              - Readiness probe
//   - GET    /metrics                   - Prometheus metrics (when enabled)
//   - GET    /v1/status                 - Storage status
//   - GET    /v1/entries                - Entry listing (metadata only)
//   - GET    /v1/entries/{key}          - Read, never blocks on the network
//   - PUT    /v1/entries/{key}          - Local write
//   - POST   /v1/entries/{key}/fetch    - Direct fetch
//   - POST   /v1/refresh                - Queue refreshes
//   - GET    /v1/operations             - Request queue snapshot
//   - DELETE /v1/user-data              - User data deletion
func NewRouter(eng handlers.Engine, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	healthHandler := handlers.NewHealthHandler(eng)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	if eng == nil {
		return r
	}

	entryHandler := handlers.NewEntryHandler(eng, opts.FetchTimeout)
	syncHandler := handlers.NewSyncHandler(eng)
	userDataHandler := handlers.NewUserDataHandler(eng)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", userDataHandler.Status)

		r.Route("/entries", func(r chi.Router) {
			r.Get("/", entryHandler.List)
			r.Get("/{key}", entryHandler.Get)
			r.Put("/{key}", entryHandler.Put)
			r.Post("/{key}/fetch", entryHandler.Fetch)
		})

		r.Post("/refresh", syncHandler.Refresh)
		r.Get("/operations", syncHandler.Operations)
		r.Delete("/user-data", userDataHandler.Delete)
	})

	return r
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (DEBUG level for probes, INFO otherwise): method, path, status, duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		log := logger.Info
		if r.URL.Path == "/health" || r.URL.Path == "/health/ready" || r.URL.Path == "/metrics" {
			log = logger.Debug
		}
		log("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.KeyDurationMs, logger.Duration(start),
		)
	})
}
