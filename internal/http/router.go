package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/sensor-dashboard/internal/observability"
)

// NewRouter wires the dashboard routes. The JSON API is rate limited and bounded by
// requestTimeout; the page, chart, health and metrics routes are not. API routes sit on the
// top-level router so a wrong method is answered with 405 rather than 404.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/", h.GetDashboard).Methods(http.MethodGet)
	router.HandleFunc("/chart.svg", h.GetChart).Methods(http.MethodGet)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler())

	api := func(hf http.HandlerFunc) http.Handler {
		var next http.Handler = hf
		if requestTimeout > 0 {
			next = TimeoutMiddleware(requestTimeout)(next)
		}
		return RateLimitMiddleware(limiter)(next)
	}
	router.Handle("/api/live", api(h.GetLive)).Methods(http.MethodGet)
	router.Handle("/api/history", api(h.GetHistory)).Methods(http.MethodGet)
	return router
}
