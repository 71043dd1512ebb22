// Command local runs the whole pipeline on one machine: an embedded MQTT
// broker, a SQLite device directory and, without KAFKA_BROKERS, an
// in-memory bus that logs what it would have sent.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mqttbroker "github.com/mochi-mqtt/server/v2"

	"iot-ingestion/backend/internal/api"
	"iot-ingestion/backend/internal/apicommon"
	"iot-ingestion/backend/internal/auth"
	"iot-ingestion/backend/internal/bus"
	"iot-ingestion/backend/internal/config"
	"iot-ingestion/backend/internal/directory"
	"iot-ingestion/backend/internal/ingest"
	"iot-ingestion/backend/internal/ingest/types"
	"iot-ingestion/backend/internal/metrics"
	"iot-ingestion/backend/internal/shared/helpers"
	"iot-ingestion/backend/internal/store"
	"iot-ingestion/backend/internal/subscriber"
	"iot-ingestion/backend/pkg/dialect"
	"iot-ingestion/backend/pkg/mqtt"
	"iot-ingestion/backend/pkg/router"
	"iot-ingestion/backend/pkg/utils"
	"iot-ingestion/web"
)

const (
	demoDeviceID = "demo-sensor-01"
	memoryBusCap = 1000
)

func main() {
	sigCtx, sigCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer sigCancel()

	cfg, err := config.New(dialect.SQLite)
	if err != nil {
		fatalIfErr(slog.Default(), fmt.Errorf("failed to create config: %w", err))
	}

	defer func() {
		if err := cfg.Close(); err != nil {
			slog.Default().Error("failed to close config", utils.ErrAttr(err))
		}
	}()

	// Devices are read from the local database.
	cfg.DirectorySource = config.DirectorySQL

	logger := helpers.GetLogger(cfg)
	fatalIfErr(logger, cfg.Validate())

	//  MQTT Broker
	mqttAddr := fmt.Sprintf(":%d", cfg.MQTTBrokerPort)
	broker, err := mqtt.NewBroker(logger, mqttAddr)
	fatalIfErr(logger, err)

	// Serve returns once the listeners are accepting.
	fatalIfErr(logger, broker.Serve())
	logger.Info("MQTT broker listening", slog.String("address", mqttAddr))

	m := metrics.New()

	st, err := store.NewRedis(logger, store.RedisOptions{URL: cfg.RedisURL})
	fatalIfErr(logger, err)

	defer utils.LogOnError(logger, st.Close, "failed to close redis")

	pub, closePub, err := newPublisher(logger, m, cfg)
	fatalIfErr(logger, err)

	defer closePub()

	dir, err := helpers.OpenDirectory(sigCtx, logger, cfg, st, true)
	fatalIfErr(logger, err)

	defer dir.Close()

	tokens := auth.NewVerifier(cfg.JWTSecret)
	fatalIfErr(logger, seedDemoDevice(sigCtx, logger, dir.SQL, tokens))

	engine, err := ingest.New(logger, ingest.Deps{
		Store:     st,
		Publisher: pub,
		Directory: dir,
		Verifier:  tokens,
		Topics:    cfg.Topics,
		Metrics:   m,
	})
	fatalIfErr(logger, err)

	sub, err := subscriber.New(logger, engine, m, subscriber.Options{Namespace: cfg.MQTTNamespace})
	fatalIfErr(logger, err)

	feed, err := helpers.StartFeed(sigCtx, logger, cfg, sub)
	fatalIfErr(logger, err)

	helpers.StartCleanup(sigCtx, logger, cfg.CleanupInterval, engine)

	// HTTP Server
	rb, err := router.NewRouteBuilder(logger, router.Info{
		Title:       "IoT Data Ingestion API (local)",
		Version:     utils.GetVersionShort(),
		Description: "Local deployment with an embedded MQTT broker",
		ServerURL:   fmt.Sprintf("http://localhost:%d", cfg.Port),
	})
	fatalIfErr(logger, err)

	h, err := api.NewHandler(logger, engine, m, helpers.HealthChecks(st, pub, feed, dir))
	fatalIfErr(logger, err)

	h.Register(rb, apicommon.NewMiddlewareHandler(logger, m))

	docs, err := web.DocsApp(logger)
	fatalIfErr(logger, err)
	docs.Register(rb.Router())

	httpServer := apicommon.NewHTTPServer(logger, fmt.Sprintf(":%d", cfg.Port), rb.Router())
	httpServer.StartOnBackground(sigCancel)

	// Wait for signal (either OS or some failure)
	<-sigCtx.Done()
	logger.Info("received signal, shutting down...")

	feed.Disconnect()
	sub.Drain(cfg.DrainTimeout)

	if err := httpServer.ShutdownWithDefaultTimeout(); err != nil {
		logger.Error("http server shutdown failed", utils.ErrAttr(err))
	}

	closeBroker(logger, broker)

	logger.Info("server exited gracefully")
}

// newPublisher uses Kafka when brokers are configured and the in-memory bus
// otherwise.
func newPublisher(l *slog.Logger, m *metrics.Metrics, c *config.Config) (bus.Publisher, func(), error) {
	if len(c.KafkaBrokers) == 0 {
		l.Warn("KAFKA_BROKERS is not set, messages are kept in memory")
		return bus.NewMemory(l, memoryBusCap), func() {}, nil
	}

	producer, err := bus.NewKafka(l, m, bus.KafkaOptions{Brokers: c.KafkaBrokers, ClientID: c.KafkaClientID})
	if err != nil {
		return nil, nil, err
	}

	return producer, func() { utils.LogOnError(l, producer.Close, "failed to close kafka producer") }, nil
}

// seedDemoDevice registers a device to ingest against and, when tokens can
// be signed, logs a token for it.
func seedDemoDevice(ctx context.Context, l *slog.Logger, lookup *directory.SQLLookup, tokens *auth.Verifier) error {
	_, err := lookup.Get(ctx, demoDeviceID)

	switch {
	case errors.Is(err, directory.ErrNotFound):
		err = lookup.Save(ctx, directory.Record{
			DeviceID:   demoDeviceID,
			Name:       "Demo sensor",
			DeviceType: "multisensor",
			Status:     "active",
			OwnerID:    "local",
			Thresholds: map[string]types.Threshold{
				"humidity": {Min: utils.Ptr(20.0), Max: utils.Ptr(70.0)},
			},
		})
		if err != nil {
			return fmt.Errorf("failed to seed demo device: %w", err)
		}

		l.Info("Seeded demo device", slog.String("deviceID", demoDeviceID))
	case err != nil:
		return fmt.Errorf("failed to look up demo device: %w", err)
	}

	if !tokens.Enabled() {
		l.Info("Token signatures are not checked, any bearer token is accepted")
		return nil
	}

	token, err := tokens.Issue(demoDeviceID, auth.DeviceTokenTTL)
	if err != nil {
		return err
	}

	l.Info("Demo device token", slog.String("deviceID", demoDeviceID), slog.String("token", token))

	return nil
}

func closeBroker(l *slog.Logger, broker *mqttbroker.Server) {
	l.Info("mqtt broker shutting down...")

	if err := broker.Close(); err != nil {
		l.Error("mqtt broker shutdown failed", utils.ErrAttr(err))
	}
}

func fatalIfErr(l *slog.Logger, err error) {
	if err == nil {
		return
	}

	l.Error("error", utils.ErrAttr(err))
	os.Exit(1)
}
