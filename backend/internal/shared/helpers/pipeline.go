package helpers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"iot-ingestion/backend/internal/api"
	"iot-ingestion/backend/internal/bus"
	"iot-ingestion/backend/internal/config"
	"iot-ingestion/backend/internal/directory"
	"iot-ingestion/backend/internal/store"
	"iot-ingestion/backend/internal/subscriber"
	"iot-ingestion/backend/pkg/mqtt"
	"iot-ingestion/backend/pkg/utils"
)

// Directory is a cached device directory and the source behind it.
type Directory struct {
	*directory.Client
	// SQL is set when the source is the registry database.
	SQL   *directory.SQLLookup
	close func()
}

func (d *Directory) Close() {
	if d.close != nil {
		d.close()
	}
}

// OpenDirectory builds the directory source picked by the configuration.
// migrate applies the registry schema before the SQL source is used.
func OpenDirectory(ctx context.Context, l *slog.Logger, c *config.Config, st store.Store, migrate bool) (*Directory, error) {
	switch c.DirectorySource {
	case config.DirectoryHTTP:
		lookup, err := directory.NewHTTPLookup(l, directory.HTTPOptions{
			BaseURL:      c.RegistryURL,
			ServiceToken: c.ServiceToken,
			Timeout:      c.DirectoryTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create registry client: %w", err)
		}

		return &Directory{Client: directory.NewClient(l, st, lookup)}, nil
	case config.DirectorySQL:
		if migrate {
			if err := RunMigrations(l, c); err != nil {
				return nil, err
			}
		}

		db, closeDB, err := OpenDatabase(ctx, c)
		if err != nil {
			return nil, err
		}

		lookup, err := directory.NewSQLLookup(db, c.Dialect)
		if err != nil {
			closeDB()
			return nil, fmt.Errorf("failed to create sql directory: %w", err)
		}

		return &Directory{Client: directory.NewClient(l, st, lookup), SQL: lookup, close: closeDB}, nil
	default:
		return nil, fmt.Errorf("unknown directory source %q", c.DirectorySource)
	}
}

// StartFeed subscribes sub's topics and connects. The initial connection
// must succeed; later drops are retried by the client.
func StartFeed(ctx context.Context, l *slog.Logger, c *config.Config, sub *subscriber.Subscriber) (*mqtt.Feed, error) {
	feed, err := mqtt.NewFeed(l, mqtt.FeedOptions{
		BrokerURL: c.MQTTBroker,
		ClientID:  c.MQTTClientID,
		Username:  c.MQTTUsername,
		Password:  c.MQTTPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mqtt feed: %w", err)
	}

	for _, spec := range sub.Specs() {
		if err := feed.Subscribe(spec); err != nil {
			return nil, fmt.Errorf("failed to subscribe %s: %w", spec.Topic, err)
		}
	}

	if err := feed.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", c.MQTTBroker, err)
	}

	go sub.Run(ctx, feed.Messages())

	return feed, nil
}

// Cleaner removes expired device state.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// StartCleanup runs c every interval until ctx is done.
func StartCleanup(ctx context.Context, l *slog.Logger, interval time.Duration, c Cleaner) {
	l = l.With(slog.String("component", "cleanup"))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := c.CleanupExpired(ctx)
				if err != nil {
					l.Error("Cleanup failed", utils.ErrAttr(err))
					continue
				}

				l.Info("Cleanup finished", slog.Int64("removed", removed))
			}
		}
	}()
}

// HealthChecks names the dependencies reported by the health endpoint.
// pub is checked only when it is a Kafka producer.
func HealthChecks(st store.Store, pub bus.Publisher, feed *mqtt.Feed, dir *Directory) map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{
		"redis":     st.Ping,
		"directory": dir.Ping,
		"mqtt": func(context.Context) error {
			if state := feed.State(); state != mqtt.StateConnected {
				return fmt.Errorf("mqtt feed is %s", state)
			}

			return nil
		},
	}

	if k, ok := pub.(*bus.Kafka); ok {
		checks["kafka"] = func(context.Context) error {
			if !k.Healthy() {
				return errors.New("kafka producer is closed")
			}

			return nil
		}
	}

	return checks
}
