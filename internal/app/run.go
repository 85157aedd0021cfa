package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"iotdrone-monitor/internal/config"
	"iotdrone-monitor/internal/db"
	"iotdrone-monitor/internal/httpapi"
	"iotdrone-monitor/internal/metrics"
	"iotdrone-monitor/internal/migrate"
	"iotdrone-monitor/internal/modules/sensors/controller"
	"iotdrone-monitor/internal/modules/sensors/pipeline"
	"iotdrone-monitor/internal/modules/sensors/repository"
	"iotdrone-monitor/internal/modules/sensors/service"
	"iotdrone-monitor/internal/modules/sensors/source"
	"iotdrone-monitor/internal/modules/sensors/views"
	"iotdrone-monitor/internal/mqtt"
	"iotdrone-monitor/internal/rtdb"
)

// Run opens the window store, starts the ingestion pipeline and serves HTTP
// until ctx is cancelled or the pipeline fails fatally.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"sqliteDriver", cfg.SQLiteDriver,
		"sqlitePath", cfg.SQLitePath,
		"sqliteMaxOpenConns", cfg.SQLiteMaxOpenConns,
		"source", cfg.Source,
		"feedTransport", cfg.FeedTransport,
		"feedPath", cfg.FeedPath,
		"storeCapacity", cfg.StoreCapacity,
		"ingestInterval", cfg.IngestInterval,
		"storeWriteRetries", cfg.StoreWriteRetries,
	)

	dbConn, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(dbConn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	if err := migrate.Run(ctx, dbConn, logger); err != nil {
		return err
	}
	logger.Info("database ready")

	if err := views.LoadTemplates(); err != nil {
		return err
	}

	repo, err := repository.NewRepository(dbConn, cfg.StoreCapacity, logger)
	if err != nil {
		return err
	}
	query := service.NewService(repo)
	m := metrics.New()

	if n, err := repo.Count(ctx); err == nil {
		m.ObserveStoreRows(n)
	}

	src, closeSource, err := newSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	sensorController := controller.NewSensorController(query, controller.Settings{
		Source:   src.Name(),
		Capacity: cfg.StoreCapacity,
		Refresh:  cfg.IngestInterval,
	})
	router := httpapi.NewMux(dbConn, m)
	sensorController.RegisterRoutes(router)

	p, err := pipeline.New(src, repo, query, sensorController, m, pipeline.Options{
		Interval:     cfg.IngestInterval,
		WriteRetries: cfg.StoreWriteRetries,
	}, logger)
	if err != nil {
		return err
	}

	srv := httpapi.NewServer(cfg, router)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	pipelineCtx, stopPipeline := context.WithCancel(ctx)
	defer stopPipeline()
	pipelineErr := make(chan error, 1)
	go func() {
		pipelineErr <- p.Run(pipelineCtx)
	}()

	var runErr error
	pipelineRunning := true
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-errCh:
		stopPipeline()
		<-pipelineErr
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-pipelineErr:
		// Only a fatal store error ends the pipeline before ctx does.
		pipelineRunning = false
		runErr = fmt.Errorf("ingestion pipeline: %w", err)
	}

	if pipelineRunning {
		stopPipeline()
		<-pipelineErr
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return runErr
}

// newSource builds the configured reading source. The returned func releases
// any transport it opened.
func newSource(ctx context.Context, cfg config.Config, logger *slog.Logger) (source.Source, func(), error) {
	switch cfg.Source {
	case config.SourceSynthetic:
		return source.NewGenerator(nil), func() {}, nil

	case config.SourceFeed:
		switch cfg.FeedTransport {
		case config.FeedTransportREST:
			client, err := rtdb.New(cfg.FeedURL, cfg.FeedPath, cfg.FeedTimeout, logger)
			if err != nil {
				return nil, nil, err
			}
			logger.Info("feed over rest", "url", client.URL())
			return source.NewFeed(client, logger), func() {}, nil

		case config.FeedTransportMQTT:
			sub, err := mqtt.NewSubscriber(mqtt.OptionsFromConfig(cfg), logger)
			if err != nil {
				return nil, nil, err
			}
			// Connect keeps retrying until the broker answers. Until then
			// every cycle reports the feed as unreachable.
			go func() {
				if err := sub.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("mqtt connect failed", "error", err)
				}
			}()
			return source.NewFeed(sub, logger), sub.Disconnect, nil
		}
	}
	return nil, nil, fmt.Errorf("unsupported source %q (transport %q)", cfg.Source, cfg.FeedTransport)
}
