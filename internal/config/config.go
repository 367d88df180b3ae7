package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/meshsync/internal/logger"
)

// loadEnv reads .env only outside production. Existing variables win.
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		path := dir + "/.env"
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				logger.Warnf("config: %s: %v", path, err)
			}
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		idx := strings.LastIndex(parent, "/")
		if idx <= 0 {
			return
		}
		dir = parent[:idx]
	}
}

// Config holds the gateway link, renderer API and store settings.
// Priority: environment > YAML file > defaults.
type Config struct {
	// Gateway
	GatewayURL       string
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
	PingPeriod       time.Duration
	PongWait         time.Duration
	SnapshotTimeout  time.Duration
	SendRatePerMin   int
	SendBurst        int
	MaxFrameSize     int64
	AckTimeout       time.Duration
	AckCheckInterval time.Duration

	// Engine
	QueueSize        int
	SubscriberBuffer int

	// Renderer API
	HTTPAddr           string
	CORSAllowedOrigins string
	MaxWSSubscribers   int
	APIRatePerSec      int

	LogLevel string

	// Markers: Redis when RedisURL is set, else MarkerFile, else memory only.
	RedisURL   string
	MarkerFile string

	// Web push is off when PushVAPIDFile is empty.
	PushVAPIDFile  string
	PushSubscriber string
}

// yamlConfig mirrors the file layout; durations are plain numbers.
type yamlConfig struct {
	GatewayURL         string `yaml:"gateway_url"`
	HTTPAddr           string `yaml:"http_addr"`
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`
	LogLevel           string `yaml:"log_level"`
	ReconnectMinMS     int    `yaml:"reconnect_min_ms"`
	ReconnectMaxMS     int    `yaml:"reconnect_max_ms"`
	PingPeriodS        int    `yaml:"ping_period_s"`
	PongWaitS          int    `yaml:"pong_wait_s"`
	SnapshotTimeoutS   int    `yaml:"snapshot_timeout_s"`
	AckTimeoutS        int    `yaml:"ack_timeout_s"`
	AckCheckIntervalMS int    `yaml:"ack_check_interval_ms"`
	QueueSize          int    `yaml:"queue_size"`
	SubscriberBuffer   int    `yaml:"subscriber_buffer"`
	SendRatePerMin     int    `yaml:"send_rate_per_min"`
	SendBurst          int    `yaml:"send_burst"`
	MaxFrameKB         int    `yaml:"max_frame_kb"`
	RedisURL           string `yaml:"redis_url"`
	MarkerFile         string `yaml:"marker_file"`
	MaxWSSubscribers   int    `yaml:"max_ws_subscribers"`
	APIRatePerSec      int    `yaml:"api_rate_per_sec"`
	PushVAPIDFile      string `yaml:"push_vapid_file"`
	PushSubscriber     string `yaml:"push_subscriber"`
}

func defaults() yamlConfig {
	return yamlConfig{
		GatewayURL:         "ws://localhost:8000/ws",
		HTTPAddr:           ":8090",
		CORSAllowedOrigins: "*",
		LogLevel:           "info",
		ReconnectMinMS:     500,
		ReconnectMaxMS:     30000,
		PingPeriodS:        27,
		PongWaitS:          30,
		SnapshotTimeoutS:   10,
		AckTimeoutS:        120,
		AckCheckIntervalMS: 5000,
		QueueSize:          1024,
		SubscriberBuffer:   64,
		SendRatePerMin:     20,
		SendBurst:          3,
		MaxFrameKB:         256,
		MaxWSSubscribers:   64,
		APIRatePerSec:      50,
		PushSubscriber:     "meshsync",
	}
}

// Load reads .env (if any), then CONFIG_PATH or config/meshsync.yaml, then
// the environment.
func Load() *Config {
	loadEnv()
	yc := defaults()

	paths := []string{os.Getenv("CONFIG_PATH"), "config/meshsync.yaml"}
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: parse %s: %v (using defaults)", path, err)
			yc = defaults()
		} else {
			logger.Infof("config: loaded %s", path)
		}
		break
	}

	cfg := &Config{
		GatewayURL:         envStr("GATEWAY_URL", yc.GatewayURL),
		ReconnectMin:       ms(envInt("RECONNECT_MIN_MS", yc.ReconnectMinMS)),
		ReconnectMax:       ms(envInt("RECONNECT_MAX_MS", yc.ReconnectMaxMS)),
		PingPeriod:         sec(envInt("PING_PERIOD_S", yc.PingPeriodS)),
		PongWait:           sec(envInt("PONG_WAIT_S", yc.PongWaitS)),
		SnapshotTimeout:    sec(envInt("SNAPSHOT_TIMEOUT_S", yc.SnapshotTimeoutS)),
		SendRatePerMin:     envInt("SEND_RATE_PER_MIN", yc.SendRatePerMin),
		SendBurst:          envInt("SEND_BURST", yc.SendBurst),
		MaxFrameSize:       int64(envInt("MAX_FRAME_KB", yc.MaxFrameKB)) << 10,
		AckTimeout:         sec(envInt("ACK_TIMEOUT_S", yc.AckTimeoutS)),
		AckCheckInterval:   ms(envInt("ACK_CHECK_INTERVAL_MS", yc.AckCheckIntervalMS)),
		QueueSize:          envInt("QUEUE_SIZE", yc.QueueSize),
		SubscriberBuffer:   envInt("SUBSCRIBER_BUFFER", yc.SubscriberBuffer),
		HTTPAddr:           envStr("HTTP_ADDR", yc.HTTPAddr),
		CORSAllowedOrigins: envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		MaxWSSubscribers:   envInt("MAX_WS_SUBSCRIBERS", yc.MaxWSSubscribers),
		APIRatePerSec:      envInt("API_RATE_PER_SEC", yc.APIRatePerSec),
		LogLevel:           envStr("LOG_LEVEL", yc.LogLevel),
		RedisURL:           envStr("REDIS_URL", yc.RedisURL),
		MarkerFile:         envStr("MARKER_FILE", yc.MarkerFile),
		PushVAPIDFile:      envStr("PUSH_VAPID_FILE", yc.PushVAPIDFile),
		PushSubscriber:     envStr("PUSH_SUBSCRIBER", yc.PushSubscriber),
	}
	cfg.normalize()

	if os.Getenv("APP_ENV") == "production" && (cfg.CORSAllowedOrigins == "" || cfg.CORSAllowedOrigins == "*") {
		logger.Errorf("config: set CORS_ALLOWED_ORIGINS in production (explicit origins, not *)")
	}
	return cfg
}

// normalize replaces values that would stall the client with defaults.
func (c *Config) normalize() {
	d := defaults()
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = ms(d.ReconnectMinMS)
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = c.ReconnectMin
	}
	if c.PongWait <= 0 {
		c.PongWait = sec(d.PongWaitS)
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.SnapshotTimeout <= 0 {
		c.SnapshotTimeout = sec(d.SnapshotTimeoutS)
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = sec(d.AckTimeoutS)
	}
	if c.AckCheckInterval <= 0 {
		c.AckCheckInterval = ms(d.AckCheckIntervalMS)
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = d.SubscriberBuffer
	}
	if c.SendBurst <= 0 {
		c.SendBurst = 1
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = int64(d.MaxFrameKB) << 10
	}
}

func ms(n int) time.Duration  { return time.Duration(n) * time.Millisecond }
func sec(n int) time.Duration { return time.Duration(n) * time.Second }

// envStr returns the variable or fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt returns the numeric variable or fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
