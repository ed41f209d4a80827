package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sandtrap-io/sandtrap/internal/logger"
)

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// Routes:
//   - GET    /health       - Liveness probe
//   - GET    /status       - Task and session counts
//   - GET    /tasks        - List registered tasks
//   - POST   /tasks        - Register a task for a VM address
//   - DELETE /tasks/{id}   - Remove a task registration
func NewRouter(backend TaskBackend) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	health := &healthHandler{backend: backend}
	tasks := &taskHandler{backend: backend}

	r.Get("/health", health.liveness)
	r.Get("/status", health.status)

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", tasks.list)
		r.Post("/", tasks.create)
		r.Delete("/{id}", tasks.delete)
	})

	return r
}

// requestLogger logs requests using the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("control API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Info("control API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
