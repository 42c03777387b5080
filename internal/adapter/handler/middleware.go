package handler

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const healthPath = "/api/v1/health"

// NewRouter wires the REST API under /api/v1 plus /metrics, behind request
// logging and bearer-token auth. An empty authToken disables auth.
func NewRouter(h *RestHandler, authToken string, log *zap.Logger) *mux.Router {
	if log == nil {
		log = zap.NewNop()
	}
	router := mux.NewRouter()
	h.Register(router.PathPrefix("/api/v1").Subrouter())

	// Metrics endpoint (requires authentication)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.Use(loggingMiddleware(log))
	router.Use(authMiddleware(authToken))
	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(log *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

func authMiddleware(expectedToken string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth for health check
			if expectedToken == "" || r.URL.Path == healthPath {
				next.ServeHTTP(w, r)
				return
			}

			token := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(token), []byte("Bearer "+expectedToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
