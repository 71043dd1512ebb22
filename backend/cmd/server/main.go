package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"iot-ingestion/backend/internal/api"
	"iot-ingestion/backend/internal/apicommon"
	"iot-ingestion/backend/internal/auth"
	"iot-ingestion/backend/internal/bus"
	"iot-ingestion/backend/internal/config"
	"iot-ingestion/backend/internal/ingest"
	"iot-ingestion/backend/internal/metrics"
	"iot-ingestion/backend/internal/shared/helpers"
	"iot-ingestion/backend/internal/store"
	"iot-ingestion/backend/internal/subscriber"
	"iot-ingestion/backend/pkg/dialect"
	"iot-ingestion/backend/pkg/router"
	"iot-ingestion/backend/pkg/utils"
	"iot-ingestion/web"
)

func main() {
	sigCtx, sigCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer sigCancel()

	config, err := config.New(dialect.PostgreSQL)
	if err != nil {
		fatalIfErr(slog.Default(), fmt.Errorf("failed to create config: %w", err))
	}

	defer func() {
		if err := config.Close(); err != nil {
			slog.Default().Error("failed to close config", utils.ErrAttr(err))
		}
	}()

	logger := helpers.GetLogger(config)

	if len(config.KafkaBrokers) == 0 {
		fatalIfErr(logger, errors.New("KAFKA_BROKERS is required"))
	}

	fatalIfErr(logger, config.Validate())

	m := metrics.New()

	st, err := store.NewRedis(logger, store.RedisOptions{URL: config.RedisURL})
	fatalIfErr(logger, err)

	defer utils.LogOnError(logger, st.Close, "failed to close redis")

	fatalIfErr(logger, st.Ping(sigCtx))

	producer, err := bus.NewKafka(logger, m, bus.KafkaOptions{
		Brokers:  config.KafkaBrokers,
		ClientID: config.KafkaClientID,
	})
	fatalIfErr(logger, err)

	defer utils.LogOnError(logger, producer.Close, "failed to close kafka producer")

	// The registry owns its schema in production.
	dir, err := helpers.OpenDirectory(sigCtx, logger, config, st, false)
	fatalIfErr(logger, err)

	defer dir.Close()

	engine, err := ingest.New(logger, ingest.Deps{
		Store:     st,
		Publisher: producer,
		Directory: dir,
		Verifier:  auth.NewVerifier(config.JWTSecret),
		Topics:    config.Topics,
		Metrics:   m,
	})
	fatalIfErr(logger, err)

	if config.JWTSecret == "" {
		logger.Warn("JWT_SECRET_KEY is not set, device token signatures are not checked")
	}

	sub, err := subscriber.New(logger, engine, m, subscriber.Options{Namespace: config.MQTTNamespace})
	fatalIfErr(logger, err)

	feed, err := helpers.StartFeed(sigCtx, logger, config, sub)
	fatalIfErr(logger, err)

	helpers.StartCleanup(sigCtx, logger, config.CleanupInterval, engine)

	// HTTP Server
	rb, err := router.NewRouteBuilder(logger, router.Info{
		Title:       "IoT Data Ingestion API",
		Version:     utils.GetVersionShort(),
		Description: "Receives device readings over HTTP and MQTT and forwards them to Kafka",
		ServerURL:   fmt.Sprintf("http://localhost:%d", config.Port),
	})
	fatalIfErr(logger, err)

	h, err := api.NewHandler(logger, engine, m, helpers.HealthChecks(st, producer, feed, dir))
	fatalIfErr(logger, err)

	h.Register(rb, apicommon.NewMiddlewareHandler(logger, m))

	docs, err := web.DocsApp(logger)
	fatalIfErr(logger, err)
	docs.Register(rb.Router())

	httpServer := apicommon.NewHTTPServer(logger, fmt.Sprintf(":%d", config.Port), rb.Router())
	httpServer.StartOnBackground(sigCancel)

	// Wait for signal (either OS or some failure)
	<-sigCtx.Done()
	logger.Info("received signal, shutting down...")

	logger.Info("disconnecting from MQTT broker...")
	feed.Disconnect()

	if sub.Drain(config.DrainTimeout) {
		logger.Info("in-flight MQTT messages drained")
	}

	logger.Info("http server shutting down...")

	if err := httpServer.ShutdownWithDefaultTimeout(); err != nil {
		logger.Error("http server shutdown failed", utils.ErrAttr(err))
	}

	logger.Info("server exited gracefully")
}

func fatalIfErr(l *slog.Logger, err error) {
	if err == nil {
		return
	}

	l.Error("error", utils.ErrAttr(err))
	os.Exit(1)
}
