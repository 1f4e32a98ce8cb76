package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/sensor-dashboard/internal/dashboard"
	"github.com/kjstillabower/sensor-dashboard/internal/lifecycle"
	"github.com/kjstillabower/sensor-dashboard/internal/traffic"
	"github.com/kjstillabower/sensor-dashboard/internal/validation"
	"github.com/kjstillabower/sensor-dashboard/internal/views"
)

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int
	RateLimitBurst       int // 0 when rate limiter disabled
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// PageConfig holds presentation settings for the HTML dashboard.
type PageConfig struct {
	FeedName       string
	RefreshSeconds int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	dashboard        *dashboard.Dashboard
	healthConfig     *HealthConfig
	page             PageConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	d *dashboard.Dashboard,
	healthConfig *HealthConfig,
	page PageConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		dashboard:    d,
		healthConfig: healthConfig,
		page:         page,
		logger:       logger,
	}
}

// GetDashboard handles GET /. Query: tab=live|history, page=N. A history page past the end
// redirects to the last page so the address bar matches what is shown.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tab, err := validation.ValidateTab(q.Get("tab"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_TAB", err.Error())
		return
	}
	requested, err := validation.ParsePage(q.Get("page"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PAGE", err.Error())
		return
	}

	data := &views.DashboardData{
		Tab:      tab,
		FeedName: h.page.FeedName,
		Location: h.dashboard.Settings().Location,
	}
	state := dashboard.DefaultViewState().SelectTab(tab)
	state.Page = requested

	switch tab {
	case dashboard.TabHistory:
		hv := h.dashboard.HistoryView(r.Context(), requested)
		if next, changed := state.Converge(hv.Page.TotalPages); changed && q.Get("page") != "" {
			http.Redirect(w, r, dashboardURL(next), http.StatusSeeOther)
			return
		}
		data.Connected, data.Err, data.History = hv.Connected, hv.Err, &hv
	default:
		lv := h.dashboard.LiveView()
		data.Connected, data.Err, data.Live = lv.Connected, lv.Err, &lv
		data.RefreshSeconds = h.page.RefreshSeconds
	}

	var buf bytes.Buffer
	if err := views.RenderDashboard(&buf, data); err != nil {
		loggerFrom(r, h.logger).Error("render dashboard", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "RENDER_FAILED", "Unable to render dashboard")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// dashboardURL is the canonical address of a view state.
func dashboardURL(v dashboard.ViewState) string {
	q := url.Values{}
	q.Set("tab", string(v.Tab))
	if v.Tab == dashboard.TabHistory {
		q.Set("page", strconv.Itoa(v.Page))
	}
	return "/?" + q.Encode()
}

// GetLive handles GET /api/live.
func (h *Handler) GetLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dashboard.LiveView())
}

// GetHistory handles GET /api/history?page=N. Out-of-range pages are clamped; the response's
// page.currentPage is the page actually served.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	requested, err := validation.ParsePage(r.URL.Query().Get("page"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PAGE", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.dashboard.HistoryView(r.Context(), requested))
}

// GetChart handles GET /chart.svg.
func (h *Handler) GetChart(w http.ResponseWriter, r *http.Request) {
	lv := h.dashboard.LiveView()
	var buf bytes.Buffer
	if err := views.RenderChart(&buf, lv.Chart, lv.Location); err != nil {
		loggerFrom(r, h.logger).Error("render chart", zap.Error(err), zap.Int("rows", len(lv.Chart)))
		writeError(w, r, http.StatusInternalServerError, "RENDER_FAILED", "Unable to render chart")
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	state := h.dashboard.State()
	checks := make(map[string]string)
	if state.Connected {
		checks["feed"] = "healthy"
	} else {
		checks["feed"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	now := time.Now()
	resp := map[string]interface{}{
		"status":        result.status,
		"service":       "sensor-dashboard",
		"version":       "dev",
		"checks":        checks,
		"points":        state.Store.Len(),
		"uptimeSeconds": int64(lifecycle.Uptime(now).Seconds()),
		"timestamp":     now.UTC().Format(time.RFC3339),
	}
	if !state.UpdatedAt.IsZero() {
		resp["lastSnapshot"] = state.UpdatedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus determines the current health status by evaluating conditions in
// priority order: shutting-down > overloaded > disconnected > healthy.
func (h *Handler) computeHealthStatus(_ context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig != nil && traffic.Overloaded(h.healthConfig.OverloadWindow, h.healthConfig.RateLimitRPS, h.healthConfig.OverloadThresholdPct) {
		return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
	}
	// A disconnected dashboard still serves the last data it received.
	if !h.dashboard.State().Connected {
		return healthResult{"disconnected", http.StatusServiceUnavailable, "feed_not_connected"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
// Sets Content-Type header to application/json and encodes the provided value.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": correlationID(r),
		},
	})
}

func correlationID(r *http.Request) string {
	if v, ok := r.Context().Value("correlation_id").(string); ok {
		return v
	}
	return ""
}

// loggerFrom returns the request-scoped logger, or fallback when middleware did not run.
func loggerFrom(r *http.Request, fallback *zap.Logger) *zap.Logger {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		return logger
	}
	return fallback
}
