// Package dashboard owns the application state fed by the sensor feed and derives the live and
// history views from it. State only changes through ApplySnapshot, ApplyFailure and Reset; each
// transition replaces the previous value.
package dashboard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/sensor-dashboard/internal/cache"
	"github.com/kjstillabower/sensor-dashboard/internal/feed"
	"github.com/kjstillabower/sensor-dashboard/internal/observability"
	"github.com/kjstillabower/sensor-dashboard/internal/sensor"
)

// Settings configures the derived views.
type Settings struct {
	ChartMaxPoints int
	BucketWidth    time.Duration
	PageSize       int
	Location       *time.Location
	CacheTTL       time.Duration
	Now            func() time.Time
}

func (s Settings) withDefaults() Settings {
	if s.ChartMaxPoints <= 0 {
		s.ChartMaxPoints = sensor.DefaultChartPoints
	}
	if s.BucketWidth <= 0 {
		s.BucketWidth = sensor.DefaultBucketWidth
	}
	if s.PageSize <= 0 {
		s.PageSize = sensor.DefaultPageSize
	}
	if s.Location == nil {
		s.Location = time.Local
	}
	if s.CacheTTL <= 0 {
		s.CacheTTL = 5 * time.Minute
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// State is the feed-derived application state. Store is immutable once published.
type State struct {
	Connected bool
	Err       string
	Store     *sensor.Store
	UpdatedAt time.Time
}

// withSnapshot is the snapshot transition: connected, error cleared, store replaced.
func (s State) withSnapshot(store *sensor.Store, at time.Time) State {
	return State{Connected: true, Store: store, UpdatedAt: at}
}

// withFailure is the failure transition: disconnected, message set, last store kept.
func (s State) withFailure(msg string) State {
	s.Connected = false
	s.Err = msg
	return s
}

// Dashboard holds the current State and implements feed.Sink.
type Dashboard struct {
	settings Settings
	cache    cache.Cache
	builds   *pageCoalescer
	logger   *zap.Logger

	mu    sync.RWMutex
	state State
}

var _ feed.Sink = (*Dashboard)(nil)

// New returns a Dashboard in the initial state. c may be nil to disable page caching.
func New(settings Settings, c cache.Cache, logger *zap.Logger) *Dashboard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dashboard{
		settings: settings.withDefaults(),
		cache:    c,
		builds:   newPageCoalescer(),
		logger:   logger,
	}
}

// Settings returns the effective settings after defaults.
func (d *Dashboard) Settings() Settings {
	return d.settings
}

// State returns the current state value.
func (d *Dashboard) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Snapshot implements feed.Sink.
func (d *Dashboard) Snapshot(snap sensor.Snapshot) {
	d.ApplySnapshot(snap)
}

// Fail implements feed.Sink.
func (d *Dashboard) Fail(err error) {
	d.ApplyFailure(err)
}

// ApplySnapshot rebuilds the point store from snap and replaces the previous one.
func (d *Dashboard) ApplySnapshot(snap sensor.Snapshot) {
	now := d.settings.Now()
	store := sensor.NewStore(snap, sensor.Normalizer{Now: func() time.Time { return now }, Location: d.settings.Location})

	d.mu.Lock()
	wasConnected := d.state.Connected
	d.state = d.state.withSnapshot(store, now)
	d.mu.Unlock()

	observability.FeedSnapshotsTotal.Inc()
	observability.FeedConnected.Set(1)
	observability.StorePoints.Set(float64(store.Len()))
	observability.RecordsDroppedTotal.Add(float64(store.Dropped()))
	observability.TimestampFallbacksTotal.Add(float64(store.TimeFallbacks()))

	if !wasConnected {
		d.logger.Info("feed connected", zap.Int("records", len(snap)), zap.Int("points", store.Len()))
	}
	d.logger.Debug("snapshot applied",
		zap.Int("records", len(snap)),
		zap.Int("points", store.Len()),
		zap.Int("dropped", store.Dropped()),
		zap.Int("time_fallbacks", store.TimeFallbacks()),
	)
}

// ApplyFailure marks the feed disconnected. The last store stays available.
func (d *Dashboard) ApplyFailure(err error) {
	if err == nil {
		return
	}
	category := feed.CategorizeError(err)
	msg := FailureMessage(err)

	d.mu.Lock()
	d.state = d.state.withFailure(msg)
	points := d.state.Store.Len()
	d.mu.Unlock()

	observability.FeedErrorsTotal.WithLabelValues(string(category)).Inc()
	observability.FeedConnected.Set(0)
	d.logger.Error("feed subscription failed",
		zap.Error(err),
		zap.String("category", string(category)),
		zap.Int("stale_points", points),
	)
}

// Reset returns to the initial state: disconnected, no error, empty store. Call before opening
// a new subscription.
func (d *Dashboard) Reset() {
	d.mu.Lock()
	d.state = State{}
	d.mu.Unlock()
	observability.FeedConnected.Set(0)
	observability.StorePoints.Set(0)
}

// LiveView derives the live tab from the current state.
func (d *Dashboard) LiveView() LiveView {
	st := d.State()
	points := st.Store.Points()
	v := LiveView{
		Connected:      st.Connected,
		Err:            st.Err,
		Chart:          sensor.ProjectChart(points, d.settings.ChartMaxPoints, d.settings.Location),
		TotalPoints:    len(points),
		BucketCount:    sensor.CountBuckets(points, d.settings.BucketWidth),
		ChartMaxPoints: d.settings.ChartMaxPoints,
		BucketWidth:    d.settings.BucketWidth,
		Location:       d.settings.Location,
	}
	if p, ok := st.Store.Latest(); ok {
		v.Current = &p
	}
	return v
}

// HistoryView derives one history page from the current state. The requested page is clamped;
// compare the returned CurrentPage with the request to detect convergence. Pages are cached by
// store fingerprint, so a cache hit is always consistent with the current store.
func (d *Dashboard) HistoryView(ctx context.Context, requested int) HistoryView {
	st := d.State()
	page := d.historyPage(ctx, st.Store, requested)
	viewer := DefaultViewState().SelectTab(TabHistory).GoToPage(page.CurrentPage, page.TotalPages)
	return HistoryView{
		Connected:   st.Connected,
		Err:         st.Err,
		Page:        page,
		Pager:       NewPager(viewer, page.TotalPages),
		PageSize:    d.settings.PageSize,
		BucketWidth: d.settings.BucketWidth,
		Location:    d.settings.Location,
	}
}

// historyPage keys the cache by the clamped page, so out-of-range requests share one entry.
func (d *Dashboard) historyPage(ctx context.Context, store *sensor.Store, requested int) sensor.Page {
	points := store.Points()
	totalPages := sensor.TotalPages(sensor.CountBuckets(points, d.settings.BucketWidth), d.settings.PageSize)
	current := sensor.ClampPage(requested, totalPages)
	build := func() sensor.Page {
		return sensor.Paginate(sensor.Aggregate(points, d.settings.BucketWidth), d.settings.PageSize, current)
	}
	if d.cache == nil {
		return build()
	}

	logger := loggerFromContext(ctx, d.logger)
	key := cache.PageKey(store.Fingerprint(), d.settings.PageSize, current)
	cached, ok, err := d.cache.Get(ctx, key)
	switch {
	case err != nil:
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		logger.Warn("history cache get failed", zap.String("key", key), zap.Error(err))
	case ok:
		observability.CacheHitsTotal.WithLabelValues("history").Inc()
		return cached
	default:
		observability.CacheMissesTotal.WithLabelValues("history").Inc()
	}

	page, shared := d.builds.do(key, func() sensor.Page {
		page := build()
		if err := d.cache.Set(ctx, key, page, d.settings.CacheTTL); err != nil {
			observability.CacheErrorsTotal.WithLabelValues("set").Inc()
			logger.Warn("history cache set failed", zap.String("key", key), zap.Error(err))
		}
		return page
	})
	if shared {
		observability.HistoryBuildsCoalescedTotal.Inc()
	}
	return page
}

// loggerFromContext returns the request-scoped logger placed by the HTTP middleware, or fallback.
func loggerFromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return fallback
}
