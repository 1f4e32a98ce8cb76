package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/sensor-dashboard/internal/cache"
	"github.com/kjstillabower/sensor-dashboard/internal/config"
	"github.com/kjstillabower/sensor-dashboard/internal/dashboard"
	"github.com/kjstillabower/sensor-dashboard/internal/feed"
	httphandler "github.com/kjstillabower/sensor-dashboard/internal/http"
	"github.com/kjstillabower/sensor-dashboard/internal/lifecycle"
	"github.com/kjstillabower/sensor-dashboard/internal/observability"
	"github.com/kjstillabower/sensor-dashboard/internal/views"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	if err := views.LoadTemplates(); err != nil {
		logger.Fatal("templates", zap.Error(err))
	}

	var pageCache cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		pageCache = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		pageCache = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	source, feedName, err := newSource(cfg, logger)
	if err != nil {
		logger.Fatal("feed source", zap.Error(err))
	}

	d := dashboard.New(dashboard.Settings{
		ChartMaxPoints: cfg.ChartMaxPoints,
		BucketWidth:    cfg.HistoryBucketWidth,
		PageSize:       cfg.HistoryPageSize,
		Location:       cfg.Location,
		CacheTTL:       cfg.CacheTTL,
	}, pageCache, logger)

	// The server keeps serving when the feed is down; the page shows the failure instead.
	d.Reset()
	subCtx, cancelSub := context.WithCancel(context.Background())
	defer cancelSub()
	sub, err := source.Subscribe(subCtx, d)
	if err != nil {
		d.Fail(err)
	} else {
		defer sub.Unsubscribe()
	}

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		RateLimitBurst:       cfg.RateLimitBurst,
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(d, healthConfig, httphandler.PageConfig{
		FeedName:       feedName,
		RefreshSeconds: int(cfg.RefreshInterval / time.Second),
	}, logger)

	observability.RegisterRateLimitGauges(cfg.OverloadWindow)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      httphandler.NewRouter(handler, logger, limiter, cfg.RequestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort), zap.String("feed", cfg.FeedSource))
		lifecycle.MarkStarted(time.Now())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	select {
	case <-ctx.Done():
		logger.Info("graceful shutdown triggered")
	case err := <-serverErr:
		logger.Error("server", zap.Error(err))
	}
	stop()

	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if sub != nil {
		sub.Unsubscribe()
		logger.Info("feed unsubscribed")
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// newSource builds the configured feed source and the collection name shown in the page header.
func newSource(cfg *config.Config, logger *zap.Logger) (feed.Source, string, error) {
	switch cfg.FeedSource {
	case "mqtt":
		src, err := feed.NewMQTTSource(feed.MQTTConfig{
			Broker:         cfg.MQTTBroker,
			ClientID:       cfg.MQTTClientID,
			Topic:          cfg.MQTTTopic,
			Username:       cfg.MQTTUsername,
			Password:       cfg.MQTTPassword,
			QoS:            byte(cfg.MQTTQoS),
			Limit:          cfg.FeedLimit,
			ConnectTimeout: cfg.FeedConnectTimeout,
		}, logger)
		return src, cfg.MQTTTopic, err
	default:
		src, err := feed.NewFirebaseSource(feed.FirebaseConfig{
			URL:            cfg.FirebaseURL,
			Path:           cfg.FirebasePath,
			AuthToken:      cfg.FirebaseAuthToken,
			Limit:          cfg.FeedLimit,
			ConnectTimeout: cfg.FeedConnectTimeout,
		}, logger)
		return src, cfg.FirebasePath, err
	}
}
