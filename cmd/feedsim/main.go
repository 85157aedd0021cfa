// Command feedsim publishes a growing keyed snapshot of synthetic readings to
// the MQTT feed topic, the way a phone app pushing to a realtime database
// would. It exists for local runs and the e2e test.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"iotdrone-monitor/internal/config"
	"iotdrone-monitor/internal/logging"
	"iotdrone-monitor/internal/modules/sensors/source"
	"iotdrone-monitor/internal/mqtt"
)

const appName = "feedsim"

var version = "dev"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.MQTTClientID == "iotdrone-monitor" {
		cfg.MQTTClientID = "iotdrone-feedsim"
	}

	logger := logging.New(os.Stdout, cfg, version, appName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "err", err)
		os.Exit(1)
	}
	slog.Info("shutting down")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	pub, err := mqtt.NewPublisher(mqtt.OptionsFromConfig(cfg), logger)
	if err != nil {
		return err
	}
	defer pub.Disconnect()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = pub.Connect(connectCtx)
	cancel()
	if err != nil {
		return err
	}

	gen := source.NewGenerator(nil)
	snap := newSnapshot(cfg.StoreCapacity)

	ticker := time.NewTicker(cfg.IngestInterval)
	defer ticker.Stop()

	for {
		r, _, _ := gen.Next(ctx)
		if err := snap.add(r); err != nil {
			return err
		}
		payload, err := snap.encode()
		if err != nil {
			return err
		}
		if err := pub.Publish(ctx, payload, true); err != nil {
			logger.Warn("publish failed", "error", err)
		} else {
			logger.Info("snapshot published",
				"records", snap.len(),
				"temperature", r.Temperature,
				"humidity", r.Humidity,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
