package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	SourceSynthetic = "synthetic"
	SourceFeed      = "feed"

	FeedTransportMQTT = "mqtt"
	FeedTransportREST = "rest"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	SQLiteDriver          string
	SQLiteDSN             string
	SQLitePath            string
	SQLiteMaxOpenConns    int
	SQLiteMaxIdleConns    int
	SQLiteConnMaxLifetime time.Duration
	// SQLLog wraps the driver so every statement is logged at debug level.
	SQLLog bool

	// Source selects where readings come from: "synthetic" or "feed".
	Source        string
	FeedTransport string
	FeedPath      string
	FeedURL       string
	FeedTimeout   time.Duration

	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string

	StoreCapacity     int
	IngestInterval    time.Duration
	StoreWriteRetries int
}

func LoadFromEnv() (Config, error) {
	appEnv := envOr("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(envOr("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	maxOpenConns, err := envInt("DB_MAX_OPEN_CONNS", 1)
	if err != nil {
		return Config{}, err
	}
	maxIdleConns, err := envInt("DB_MAX_IDLE_CONNS", 1)
	if err != nil {
		return Config{}, err
	}
	connMaxLifetime, err := envDuration("DB_CONN_MAX_LIFETIME", 0)
	if err != nil {
		return Config{}, err
	}
	sqlLog, err := envBool("SQL_LOG", false)
	if err != nil {
		return Config{}, err
	}

	source := strings.ToLower(envOr("SOURCE", SourceSynthetic))
	switch source {
	case SourceSynthetic, SourceFeed:
	default:
		return Config{}, fmt.Errorf("invalid SOURCE %q (allowed: synthetic, feed)", source)
	}

	transport := strings.ToLower(envOr("FEED_TRANSPORT", FeedTransportMQTT))
	switch transport {
	case FeedTransportMQTT, FeedTransportREST:
	default:
		return Config{}, fmt.Errorf("invalid FEED_TRANSPORT %q (allowed: mqtt, rest)", transport)
	}

	feedPath := strings.Trim(envOr("FEED_PATH", "sensors"), "/")
	if feedPath == "" {
		return Config{}, fmt.Errorf("invalid FEED_PATH %q: must not be empty", os.Getenv("FEED_PATH"))
	}

	feedURL := strings.TrimRight(strings.TrimSpace(os.Getenv("FEED_URL")), "/")
	if source == SourceFeed && transport == FeedTransportREST && feedURL == "" {
		return Config{}, fmt.Errorf("FEED_URL is required when FEED_TRANSPORT=rest")
	}

	feedTimeout, err := envDuration("FEED_TIMEOUT", 3*time.Second)
	if err != nil {
		return Config{}, err
	}
	if feedTimeout <= 0 {
		return Config{}, fmt.Errorf("invalid FEED_TIMEOUT %q: must be > 0", feedTimeout)
	}

	mqttPort, err := envInt("MQTT_PORT", 1883)
	if err != nil {
		return Config{}, err
	}
	if mqttPort <= 0 || mqttPort > 65535 {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %d (allowed: 1-65535)", mqttPort)
	}

	capacity, err := envInt("STORE_CAPACITY", 20)
	if err != nil {
		return Config{}, err
	}
	if capacity < 1 {
		return Config{}, fmt.Errorf("invalid STORE_CAPACITY %d: must be >= 1", capacity)
	}

	interval, err := envDuration("INGEST_INTERVAL", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	if interval <= 0 {
		return Config{}, fmt.Errorf("invalid INGEST_INTERVAL %q: must be > 0", interval)
	}

	retries, err := envInt("STORE_WRITE_RETRIES", 3)
	if err != nil {
		return Config{}, err
	}
	if retries < 0 {
		return Config{}, fmt.Errorf("invalid STORE_WRITE_RETRIES %d: must be >= 0", retries)
	}

	return Config{
		AppEnv:   appEnv,
		LogLevel: level,
		HTTPAddr: envOr("HTTP_ADDR", ":8080"),

		SQLiteDriver:          envOr("DB_DRIVER", "sqlite3"),
		SQLiteDSN:             strings.TrimSpace(os.Getenv("DB_DSN")),
		SQLitePath:            envOr("SQLITE_PATH", "data/sensor_data.db"),
		SQLiteMaxOpenConns:    maxOpenConns,
		SQLiteMaxIdleConns:    maxIdleConns,
		SQLiteConnMaxLifetime: connMaxLifetime,
		SQLLog:                sqlLog,

		Source:        source,
		FeedTransport: transport,
		FeedPath:      feedPath,
		FeedURL:       feedURL,
		FeedTimeout:   feedTimeout,

		MQTTBroker:   envOr("MQTT_BROKER", "localhost"),
		MQTTPort:     mqttPort,
		MQTTClientID: envOr("MQTT_CLIENT_ID", "iotdrone-monitor"),

		StoreCapacity:     capacity,
		IngestInterval:    interval,
		StoreWriteRetries: retries,
	}, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func envBool(key string, def bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
