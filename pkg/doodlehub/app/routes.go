package app

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tsarna/doodlehub/pkg/doodlehub/placeholder"
	"go.uber.org/zap"
)

func (a *App) routes() http.Handler {
	settings := a.config.Server

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// The WebSocket endpoint skips request logging: connections are logged
	// by the listener for their whole lifetime.
	r.Get(settings.WSPath, a.listener.ServeWebsocket)

	r.Group(func(r chi.Router) {
		r.Use(NewLoggingMiddleware(a.logger))

		r.Get("/health", a.handleHealth)
		r.Get("/stats", a.handleStats)
		r.Get("/api/placeholder/{className}/{variant}", placeholder.Handler(settings.PlaceholderMaxAge))

		if a.metricsHandler != nil {
			r.Method(http.MethodGet, a.config.Metrics.Path, a.metricsHandler)
		}

		if settings.StaticDir != "" {
			r.Handle("/*", http.FileServer(http.Dir(settings.StaticDir)))
		}
	})

	return r
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.registry.Stats())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// NewLoggingMiddleware logs every request with its status and duration.
func NewLoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Info("Request",
				zap.String("method", r.Method),
				zap.String("url", r.URL.String()),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
