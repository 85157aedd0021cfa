package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"iotdrone-monitor/internal/config"
	"iotdrone-monitor/internal/modules/sensors/types"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func testConfig(t *testing.T) config.Config {
	return config.Config{
		AppEnv:             "dev",
		LogLevel:           slog.LevelInfo,
		HTTPAddr:           freeAddr(t),
		SQLiteDriver:       "sqlite3",
		SQLitePath:         filepath.Join(t.TempDir(), "sensor_data.db"),
		SQLiteMaxOpenConns: 1,
		SQLiteMaxIdleConns: 1,
		Source:             config.SourceSynthetic,
		FeedTransport:      config.FeedTransportMQTT,
		FeedPath:           "sensors",
		FeedTimeout:        time.Second,
		MQTTBroker:         "127.0.0.1",
		MQTTPort:           1883,
		MQTTClientID:       "app-test",
		StoreCapacity:      5,
		IngestInterval:     20 * time.Millisecond,
		StoreWriteRetries:  1,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startApp runs Run in the background and returns a stop func that cancels it
// and returns its error.
func startApp(t *testing.T, cfg config.Config) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, discardLogger()) }()

	var stopped bool
	var runErr error
	stop := func() error {
		if stopped {
			return runErr
		}
		stopped = true
		cancel()
		select {
		case runErr = <-done:
		case <-time.After(10 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
		return runErr
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

// getJSON polls url until it answers 200 and decodes the body into v.
func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			func() {
				defer resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					err = json.NewDecoder(resp.Body).Decode(v)
				} else {
					err = errors.New(resp.Status)
				}
			}()
			if err == nil {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("GET %s did not return 200 before the deadline", url)
}

func TestRun_Synthetic(t *testing.T) {
	cfg := testConfig(t)
	stop := startApp(t, cfg)
	base := "http://" + cfg.HTTPAddr

	var health map[string]string
	getJSON(t, base+"/healthz", &health)
	if health["status"] != "ok" {
		t.Errorf("healthz = %v; want status ok", health)
	}

	// Wait for the window to fill past capacity.
	deadline := time.Now().Add(10 * time.Second)
	var readings []types.Reading
	for time.Now().Before(deadline) {
		getJSON(t, base+"/api/v1/readings?limit=100", &readings)
		if len(readings) == cfg.StoreCapacity && readings[0].ID != "1" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(readings) != cfg.StoreCapacity {
		t.Fatalf("got %d readings; want the window capped at %d", len(readings), cfg.StoreCapacity)
	}
	for _, r := range readings {
		if r.Temperature < 20 || r.Temperature >= 30 {
			t.Errorf("temperature %v out of range", r.Temperature)
		}
	}

	var latest types.Reading
	getJSON(t, base+"/api/v1/readings/latest", &latest)
	if latest.ID == "" {
		t.Error("latest reading has no id")
	}

	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v; want context.Canceled", err)
	}
}

func TestRun_FeedOverREST(t *testing.T) {
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sensors.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"-a":{"temperature":21.0},"-b":{"temperature":22.0,"humidity":40.0}}`))
	}))
	defer feed.Close()

	cfg := testConfig(t)
	cfg.Source = config.SourceFeed
	cfg.FeedTransport = config.FeedTransportREST
	cfg.FeedURL = feed.URL
	stop := startApp(t, cfg)

	var latest types.Reading
	getJSON(t, "http://"+cfg.HTTPAddr+"/api/v1/readings/latest", &latest)
	if latest.Temperature != 22.0 || latest.Humidity != 40.0 {
		t.Errorf("latest = %+v; want temperature 22 humidity 40", latest)
	}
	if latest.Timestamp == "" {
		t.Error("timestamp was not backfilled")
	}

	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v; want context.Canceled", err)
	}
}

func TestRun_InvalidDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.SQLLog = true
	cfg.SQLiteDriver = "postgres"

	if err := Run(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatal("Run() = nil; want db open error")
	}
}

func TestNewSource(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*config.Config)
		wantName string
		wantErr  bool
	}{
		{name: "synthetic", mutate: func(*config.Config) {}, wantName: "synthetic"},
		{name: "feed over mqtt", mutate: func(c *config.Config) { c.Source = config.SourceFeed }, wantName: "feed"},
		{name: "feed over rest", mutate: func(c *config.Config) {
			c.Source = config.SourceFeed
			c.FeedTransport = config.FeedTransportREST
			c.FeedURL = "https://example.test"
		}, wantName: "feed"},
		{name: "rest without url", mutate: func(c *config.Config) {
			c.Source = config.SourceFeed
			c.FeedTransport = config.FeedTransportREST
		}, wantErr: true},
		{name: "unknown source", mutate: func(c *config.Config) { c.Source = "camera" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			src, closeSource, err := newSource(ctx, cfg, discardLogger())
			if tt.wantErr {
				if err == nil {
					t.Fatal("newSource() error = nil; want non-nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("newSource() error = %v", err)
			}
			defer closeSource()
			if src.Name() != tt.wantName {
				t.Errorf("Name() = %q; want %q", src.Name(), tt.wantName)
			}
		})
	}
}
