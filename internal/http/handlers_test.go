package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/sensor-dashboard/internal/dashboard"
	"github.com/kjstillabower/sensor-dashboard/internal/feed"
	"github.com/kjstillabower/sensor-dashboard/internal/lifecycle"
	"github.com/kjstillabower/sensor-dashboard/internal/sensor"
	"github.com/kjstillabower/sensor-dashboard/internal/traffic"
	"github.com/kjstillabower/sensor-dashboard/internal/views"
)

func TestMain(m *testing.M) {
	if err := views.LoadTemplates(); err != nil {
		fmt.Fprintf(os.Stderr, "load templates: %v\n", err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// minuteSnapshot returns n records one minute apart, so each lands in its own bucket.
func minuteSnapshot(n int) sensor.Snapshot {
	snap := make(sensor.Snapshot, n)
	for i := range snap {
		ts := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute)
		snap[i] = sensor.Entry{
			ID: fmt.Sprintf("-N%03d", i),
			Raw: sensor.RawRecord{
				"Temp": 20.0 + float64(i)/10,
				"Hum":  55.0,
				"STT":  float64(i + 1),
				"Time": ts.Format("02/01/2006 15:04:05"),
			},
		}
	}
	return snap
}

func newTestDashboard(snap sensor.Snapshot) *dashboard.Dashboard {
	d := dashboard.New(dashboard.Settings{
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
	}, nil, zap.NewNop())
	if snap != nil {
		d.ApplySnapshot(snap)
	}
	return d
}

func newTestRouter(d *dashboard.Dashboard, hc *HealthConfig) http.Handler {
	h := NewHandler(d, hc, PageConfig{FeedName: "sensor_data", RefreshSeconds: 5}, zap.NewNop())
	return NewRouter(h, zap.NewNop(), nil, time.Second)
}

func serve(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type errorEnvelope struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return env
}

// TestGetLive_Empty verifies the live endpoint before any snapshot arrives.
func TestGetLive_Empty(t *testing.T) {
	w := serve(t, newTestRouter(newTestDashboard(nil), nil), "/api/live")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body struct {
		Connected   bool              `json:"connected"`
		Chart       []sensor.ChartRow `json:"chart"`
		Current     *sensor.Point     `json:"current"`
		TotalPoints int               `json:"totalPoints"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Connected || body.TotalPoints != 0 || body.Current != nil || len(body.Chart) != 0 {
		t.Errorf("body = %+v, want disconnected and empty", body)
	}
}

// TestGetLive_WithData verifies the chart window and current reading are served.
func TestGetLive_WithData(t *testing.T) {
	w := serve(t, newTestRouter(newTestDashboard(minuteSnapshot(3)), nil), "/api/live")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Connected      bool              `json:"connected"`
		Chart          []sensor.ChartRow `json:"chart"`
		Current        *sensor.Point     `json:"current"`
		TotalPoints    int               `json:"totalPoints"`
		HistoryBuckets int               `json:"historyBuckets"`
		ChartMaxPoints int               `json:"chartMaxPoints"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Connected {
		t.Error("connected = false, want true")
	}
	if body.TotalPoints != 3 || len(body.Chart) != 3 || body.HistoryBuckets != 3 {
		t.Errorf("totals = %d points, %d rows, %d buckets, want 3 each", body.TotalPoints, len(body.Chart), body.HistoryBuckets)
	}
	if body.ChartMaxPoints != sensor.DefaultChartPoints {
		t.Errorf("chartMaxPoints = %d, want %d", body.ChartMaxPoints, sensor.DefaultChartPoints)
	}
	if body.Current == nil || math.Abs(body.Current.Temperature-20.2) > 1e-9 {
		t.Errorf("current = %+v, want latest reading 20.2", body.Current)
	}
}

// TestGetHistory_Pages verifies requested pages are clamped into range, never rejected.
func TestGetHistory_Pages(t *testing.T) {
	router := newTestRouter(newTestDashboard(minuteSnapshot(25)), nil)
	tests := []struct {
		query    string
		wantPage int
		wantRows int
	}{
		{"", 1, 10},
		{"?page=2", 2, 10},
		{"?page=3", 3, 5},
		{"?page=99", 3, 5},
		{"?page=0", 1, 10},
		{"?page=-4", 1, 10},
		{"?page=+2", 2, 10},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			w := serve(t, router, "/api/history"+tc.query)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			var body struct {
				Page     sensor.Page     `json:"page"`
				Pager    dashboard.Pager `json:"pager"`
				PageSize int             `json:"pageSize"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Page.CurrentPage != tc.wantPage || len(body.Page.Rows) != tc.wantRows {
				t.Errorf("page %d with %d rows, want page %d with %d rows",
					body.Page.CurrentPage, len(body.Page.Rows), tc.wantPage, tc.wantRows)
			}
			if body.Page.TotalPages != 3 || body.Page.TotalBuckets != 25 || body.PageSize != 10 {
				t.Errorf("page = %+v pageSize = %d", body.Page, body.PageSize)
			}
			if len(body.Pager.Items) != 3 || body.Pager.Current != tc.wantPage {
				t.Errorf("pager = %+v, want pages 1..3 at page %d", body.Pager, tc.wantPage)
			}
		})
	}
}

// TestGetHistory_NewestFirst verifies history rows are ordered newest bucket first.
func TestGetHistory_NewestFirst(t *testing.T) {
	w := serve(t, newTestRouter(newTestDashboard(minuteSnapshot(3)), nil), "/api/history")
	var body struct {
		Page sensor.Page `json:"page"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	rows := body.Page.Rows
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i-1].Start <= rows[i].Start {
			t.Errorf("row %d start %d not after row %d start %d", i-1, rows[i-1].Start, i, rows[i].Start)
		}
	}
}

// TestGetHistory_InvalidPage verifies non-integer pages are rejected with the error envelope.
func TestGetHistory_InvalidPage(t *testing.T) {
	router := newTestRouter(newTestDashboard(nil), nil)
	for _, page := range []string{"abc", "1.5", "2x"} {
		t.Run(page, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/history?page="+page, nil)
			req.Header.Set("X-Correlation-ID", "req-123")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			env := decodeError(t, w)
			if env.Error.Code != "INVALID_PAGE" {
				t.Errorf("error.code = %q, want INVALID_PAGE", env.Error.Code)
			}
			if env.Error.RequestID != "req-123" {
				t.Errorf("error.requestId = %q, want req-123", env.Error.RequestID)
			}
		})
	}
}

// TestGetDashboard_Live verifies the HTML live tab shows connection state, the chart and the
// current reading.
func TestGetDashboard_Live(t *testing.T) {
	w := serve(t, newTestRouter(newTestDashboard(minuteSnapshot(3)), nil), "/")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	body := w.Body.String()
	for _, want := range []string{"DB Connected", "Data: /sensor_data", `src="/chart.svg"`, "Total points: 3", `http-equiv="refresh"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

// TestGetDashboard_Disconnected verifies the badge and the inline error card after a feed failure.
func TestGetDashboard_Disconnected(t *testing.T) {
	d := newTestDashboard(minuteSnapshot(2))
	d.ApplyFailure(fmt.Errorf("%w: HTTP 401", feed.ErrUnauthorized))

	body := serve(t, newTestRouter(d, nil), "/?tab=live").Body.String()
	if !strings.Contains(body, "DB Not Connected") {
		t.Error("body missing DB Not Connected badge")
	}
	if !strings.Contains(body, "<b>Error:</b>") || !strings.Contains(body, "HTTP 401") {
		t.Error("body missing error card with cause")
	}
	if !strings.Contains(body, "Total points: 2") {
		t.Error("last data should stay visible after a failure")
	}
}

// TestGetDashboard_History verifies the HTML history tab renders the requested page and pager.
func TestGetDashboard_History(t *testing.T) {
	w := serve(t, newTestRouter(newTestDashboard(minuteSnapshot(25)), nil), "/?tab=history&page=2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"Page 2/3", "Total buckets: <b>25</b>", `<span class="current">2</span>`} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
	if strings.Contains(body, `http-equiv="refresh"`) {
		t.Error("history tab should not auto-refresh")
	}
}

// TestGetDashboard_HistoryPastEndRedirects verifies a page beyond the last converges with a
// redirect to the last page.
func TestGetDashboard_HistoryPastEndRedirects(t *testing.T) {
	router := newTestRouter(newTestDashboard(minuteSnapshot(25)), nil)
	tests := []struct {
		path         string
		wantLocation string
	}{
		{"/?tab=history&page=9", "/?page=3&tab=history"},
		{"/?tab=history&page=0", "/?page=1&tab=history"},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			w := serve(t, router, tc.path)
			if w.Code != http.StatusSeeOther {
				t.Fatalf("status = %d, want 303", w.Code)
			}
			if got := w.Header().Get("Location"); got != tc.wantLocation {
				t.Errorf("Location = %q, want %q", got, tc.wantLocation)
			}
		})
	}
}

// TestGetDashboard_EmptyHistory verifies the empty placeholder and that page 1 does not redirect.
func TestGetDashboard_EmptyHistory(t *testing.T) {
	w := serve(t, newTestRouter(newTestDashboard(nil), nil), "/?tab=history&page=1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "No data to build history yet") {
		t.Error("body missing empty history placeholder")
	}
}

// TestGetDashboard_InvalidQuery verifies bad tab and page values return 400 with a code.
func TestGetDashboard_InvalidQuery(t *testing.T) {
	router := newTestRouter(newTestDashboard(nil), nil)
	tests := []struct {
		path     string
		wantCode string
	}{
		{"/?tab=settings", "INVALID_TAB"},
		{"/?tab=history&page=two", "INVALID_PAGE"},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			w := serve(t, router, tc.path)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if got := decodeError(t, w).Error.Code; got != tc.wantCode {
				t.Errorf("error.code = %q, want %q", got, tc.wantCode)
			}
		})
	}
}

// TestGetChart verifies the chart endpoint serves SVG with and without data.
func TestGetChart(t *testing.T) {
	tests := []struct {
		name string
		snap sensor.Snapshot
	}{
		{"empty", nil},
		{"single point", minuteSnapshot(1)},
		{"series", minuteSnapshot(30)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(t, newTestRouter(newTestDashboard(tc.snap), nil), "/chart.svg")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "image/svg+xml" {
				t.Errorf("Content-Type = %q, want image/svg+xml", ct)
			}
			if !strings.Contains(w.Body.String(), "<svg") {
				t.Error("body is not an SVG document")
			}
		})
	}
}

type healthBody struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks"`
	Points  int               `json:"points"`
}

func decodeHealth(t *testing.T, w *httptest.ResponseRecorder) healthBody {
	t.Helper()
	var body healthBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	return body
}

// TestGetHealth_Status verifies the status priority: shutting-down, overloaded, disconnected,
// then healthy.
func TestGetHealth_Status(t *testing.T) {
	hc := &HealthConfig{OverloadWindow: time.Minute, OverloadThresholdPct: 10, RateLimitRPS: 1}
	tests := []struct {
		name       string
		connected  bool
		shutdown   bool
		load       int
		wantStatus string
		wantCode   int
	}{
		{"healthy", true, false, 0, "healthy", http.StatusOK},
		{"disconnected", false, false, 0, "disconnected", http.StatusServiceUnavailable},
		{"overloaded beats disconnected", false, false, 7, "overloaded", http.StatusServiceUnavailable},
		{"below overload threshold", true, false, 6, "healthy", http.StatusOK},
		{"shutting down beats overloaded", true, true, 7, "shutting-down", http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			traffic.Reset()
			t.Cleanup(traffic.Reset)
			lifecycle.SetShuttingDown(tc.shutdown)
			t.Cleanup(func() { lifecycle.SetShuttingDown(false) })
			for i := 0; i < tc.load; i++ {
				traffic.RecordServed()
			}

			var snap sensor.Snapshot
			if tc.connected {
				snap = minuteSnapshot(4)
			}
			w := serve(t, newTestRouter(newTestDashboard(snap), hc), "/health")
			if w.Code != tc.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tc.wantCode)
			}
			body := decodeHealth(t, w)
			if body.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tc.wantStatus)
			}
			if body.Service != "sensor-dashboard" {
				t.Errorf("service = %q, want sensor-dashboard", body.Service)
			}
		})
	}
}

// TestGetHealth_Checks verifies the feed and cache checks.
func TestGetHealth_Checks(t *testing.T) {
	tests := []struct {
		name      string
		ping      func() error
		wantCache string
	}{
		{"no cache ping", nil, ""},
		{"cache reachable", func() error { return nil }, "healthy"},
		{"cache unreachable", func() error { return errors.New("dial tcp: connection refused") }, "unhealthy"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hc := &HealthConfig{OverloadWindow: time.Minute, OverloadThresholdPct: 80, RateLimitRPS: 100, CachePing: tc.ping}
			body := decodeHealth(t, serve(t, newTestRouter(newTestDashboard(minuteSnapshot(2)), hc), "/health"))
			if body.Checks["feed"] != "healthy" {
				t.Errorf("checks.feed = %q, want healthy", body.Checks["feed"])
			}
			if got := body.Checks["cache"]; got != tc.wantCache {
				t.Errorf("checks.cache = %q, want %q", got, tc.wantCache)
			}
			if body.Points != 2 {
				t.Errorf("points = %d, want 2", body.Points)
			}
		})
	}
}

// TestGetHealth_LogsTransition verifies a status change between calls is logged once.
func TestGetHealth_LogsTransition(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	d := newTestDashboard(nil)
	h := NewHandler(d, nil, PageConfig{}, zap.New(core))

	call := func() {
		w := httptest.NewRecorder()
		h.GetHealth(w, httptest.NewRequest("GET", "/health", nil))
	}
	call()
	call()
	if n := logs.FilterMessage("health status transition").Len(); n != 0 {
		t.Fatalf("transition logs = %d before any change, want 0", n)
	}

	d.ApplySnapshot(minuteSnapshot(1))
	call()
	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("transition logs = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != "disconnected" || fields["current_status"] != "healthy" {
		t.Errorf("transition fields = %v", fields)
	}
}
