package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	FeedSource         string // "firebase" or "mqtt"
	FeedLimit          int
	FeedConnectTimeout time.Duration

	FirebaseURL       string
	FirebasePath      string
	FirebaseAuthToken string

	MQTTBroker   string
	MQTTClientID string
	MQTTTopic    string
	MQTTUsername string
	MQTTPassword string
	MQTTQoS      int

	ChartMaxPoints     int
	HistoryBucketWidth time.Duration
	HistoryPageSize    int

	DisplayTimezone string
	Location        *time.Location
	// RefreshInterval reloads the HTML live tab; 0 disables reloading.
	RefreshInterval time.Duration

	RequestTimeout time.Duration
	CacheTTL       time.Duration
	CacheBackend   string // "in_memory" or "memcached"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RateLimitRPS   int
	RateLimitBurst int

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	OverloadWindow       time.Duration
	OverloadThresholdPct int
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Feed struct {
		Source         string `yaml:"source"`
		Limit          int    `yaml:"limit"`
		ConnectTimeout string `yaml:"connect_timeout"`
		Firebase       struct {
			URL  string `yaml:"url"`
			Path string `yaml:"path"`
		} `yaml:"firebase"`
		MQTT struct {
			Broker   string `yaml:"broker"`
			ClientID string `yaml:"client_id"`
			Topic    string `yaml:"topic"`
			Username string `yaml:"username"`
			QoS      *int   `yaml:"qos"`
		} `yaml:"mqtt"`
	} `yaml:"feed"`

	Chart struct {
		MaxPoints int `yaml:"max_points"`
	} `yaml:"chart"`

	History struct {
		BucketWidth string `yaml:"bucket_width"`
		PageSize    int    `yaml:"page_size"`
	} `yaml:"history"`

	Display struct {
		Timezone        string `yaml:"timezone"`
		RefreshInterval string `yaml:"refresh_interval"`
	} `yaml:"display"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
	} `yaml:"lifecycle"`
}

type secretsFile struct {
	FirebaseAuthToken string `yaml:"firebase_auth_token"`
	MQTTPassword      string `yaml:"mqtt_password"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// Credentials come from env (FIREBASE_AUTH_TOKEN, MQTT_PASSWORD) or the secrets file; both are
// optional since a feed may be public. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.FeedSource = firstNonEmpty(strings.ToLower(os.Getenv("FEED_SOURCE")), strings.ToLower(fc.Feed.Source), "firebase")
	cfg.FeedLimit = fc.Feed.Limit
	if cfg.FeedLimit <= 0 {
		cfg.FeedLimit = 1500
	}
	cfg.FeedConnectTimeout = parseDurationOrZero(fc.Feed.ConnectTimeout, 10*time.Second)

	cfg.FirebaseURL = firstNonEmpty(os.Getenv("FIREBASE_URL"), fc.Feed.Firebase.URL)
	cfg.FirebasePath = firstNonEmpty(fc.Feed.Firebase.Path, "sensor_data")
	cfg.FirebaseAuthToken = firstNonEmpty(os.Getenv("FIREBASE_AUTH_TOKEN"), sec.FirebaseAuthToken)

	cfg.MQTTBroker = firstNonEmpty(os.Getenv("MQTT_BROKER"), fc.Feed.MQTT.Broker)
	cfg.MQTTClientID = fc.Feed.MQTT.ClientID
	cfg.MQTTTopic = firstNonEmpty(fc.Feed.MQTT.Topic, "sensor_data")
	cfg.MQTTUsername = fc.Feed.MQTT.Username
	cfg.MQTTPassword = firstNonEmpty(os.Getenv("MQTT_PASSWORD"), sec.MQTTPassword)
	cfg.MQTTQoS = 1
	if fc.Feed.MQTT.QoS != nil {
		cfg.MQTTQoS = *fc.Feed.MQTT.QoS
	}

	cfg.ChartMaxPoints = fc.Chart.MaxPoints
	if cfg.ChartMaxPoints <= 0 {
		cfg.ChartMaxPoints = 120
	}
	cfg.HistoryBucketWidth = parseDuration(fc.History.BucketWidth, time.Minute)
	cfg.HistoryPageSize = fc.History.PageSize
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 10
	}

	cfg.DisplayTimezone = firstNonEmpty(os.Getenv("DISPLAY_TIMEZONE"), fc.Display.Timezone, "Local")
	cfg.RefreshInterval = parseDurationOrZero(fc.Display.RefreshInterval, 5*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 5*time.Minute)
	cfg.CacheBackend = firstNonEmpty(
		strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND"))),
		strings.TrimSpace(strings.ToLower(fc.Cache.Backend)),
		"in_memory",
	)
	cfg.MemcachedAddrs = firstNonEmpty(
		strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")),
		strings.TrimSpace(fc.Cache.Memcached.Addrs),
		"localhost:11211",
	)
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values and resolves the display
// location. Source-specific settings are only required for the selected source.
func validate(cfg *Config) error {
	switch cfg.FeedSource {
	case "firebase":
		if cfg.FirebaseURL == "" {
			return fmt.Errorf("FIREBASE_URL required when feed.source is firebase (set env or feed.firebase.url)")
		}
	case "mqtt":
		if cfg.MQTTBroker == "" {
			return fmt.Errorf("MQTT_BROKER required when feed.source is mqtt (set env or feed.mqtt.broker)")
		}
		if cfg.MQTTQoS < 0 || cfg.MQTTQoS > 2 {
			return fmt.Errorf("feed.mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTTQoS)
		}
	default:
		return fmt.Errorf("feed.source must be firebase or mqtt, got %q", cfg.FeedSource)
	}
	if cfg.FeedConnectTimeout <= 0 {
		return fmt.Errorf("FEED_CONNECT_TIMEOUT must be positive")
	}

	if cfg.RefreshInterval < 0 {
		return fmt.Errorf("display.refresh_interval must not be negative")
	}

	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}

	loc, err := time.LoadLocation(cfg.DisplayTimezone)
	if err != nil {
		return fmt.Errorf("display.timezone %q: %w", cfg.DisplayTimezone, err)
	}
	cfg.Location = loc
	return nil
}
