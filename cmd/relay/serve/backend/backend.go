// Package backend builds the pieces shared by the serve commands from a
// layered viper configuration: the transcript store, the session event
// publisher and the relay settings.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/papercomputeco/relay/pkg/config"
	"github.com/papercomputeco/relay/pkg/eventstream"
	"github.com/papercomputeco/relay/pkg/eventstream/kafka"
	"github.com/papercomputeco/relay/pkg/eventstream/nop"
	"github.com/papercomputeco/relay/pkg/storage"
	"github.com/papercomputeco/relay/pkg/storage/inmemory"
	"github.com/papercomputeco/relay/pkg/storage/postgres"
	"github.com/papercomputeco/relay/pkg/storage/sqlite"
	"github.com/papercomputeco/relay/pkg/upstream"
	"github.com/papercomputeco/relay/relay"
)

// NewStorageDriver opens PostgreSQL when storage.postgres_dsn is set, SQLite
// when storage.sqlite_path is set, and an in-memory store otherwise.
func NewStorageDriver(ctx context.Context, v *viper.Viper, log *slog.Logger) (storage.Driver, error) {
	if dsn := v.GetString("storage.postgres_dsn"); dsn != "" {
		driver, err := postgres.NewDriver(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL driver: %w", err)
		}
		log.Info("using PostgreSQL storage")
		return driver, nil
	}

	if path := v.GetString("storage.sqlite_path"); path != "" {
		driver, err := sqlite.NewDriver(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite driver: %w", err)
		}
		log.Info("using SQLite storage", "path", path)
		return driver, nil
	}

	log.Info("using in-memory storage")
	return inmemory.NewDriver(), nil
}

// NewPublisher returns a Kafka publisher when events.kafka_brokers is set and
// a no-op publisher otherwise.
func NewPublisher(v *viper.Viper, log *slog.Logger) (eventstream.Publisher, error) {
	brokers := config.KafkaBrokers(v)
	if len(brokers) == 0 {
		log.Debug("session events disabled")
		return nop.NewPublisher(), nil
	}

	topic := v.GetString("events.kafka_topic")
	p, err := kafka.NewPublisher(kafka.Config{
		Brokers: brokers,
		Topic:   topic,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka publisher: %w", err)
	}

	log.Info("publishing session events to Kafka", "brokers", brokers, "topic", topic)
	return p, nil
}

// RelayConfig reads the relay settings.
func RelayConfig(v *viper.Viper) (relay.Config, error) {
	connectTimeout, err := duration(v, "upstream.connect_timeout")
	if err != nil {
		return relay.Config{}, err
	}
	readTimeout, err := duration(v, "upstream.read_timeout")
	if err != nil {
		return relay.Config{}, err
	}
	pacing, err := duration(v, "relay.pacing")
	if err != nil {
		return relay.Config{}, err
	}

	return relay.Config{
		ListenAddr: v.GetString("relay.listen"),
		Upstream: upstream.Options{
			URL:            v.GetString("upstream.url"),
			Referer:        v.GetString("upstream.referer"),
			Title:          v.GetString("upstream.title"),
			ConnectTimeout: connectTimeout,
			ReadTimeout:    readTimeout,
		},
		APIKey:     v.GetString("upstream.api_key"),
		Pacing:     pacing,
		GuestQuota: v.GetUint("relay.guest_quota"),
	}, nil
}

// PacingSetter receives pacing changes.
type PacingSetter interface {
	SetPacing(time.Duration)
}

// WatchPacing applies relay.pacing to target whenever the config file
// changes. It does nothing when no config file was read.
func WatchPacing(v *viper.Viper, target PacingSetter, log *slog.Logger) bool {
	if v.ConfigFileUsed() == "" {
		return false
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		pacing, err := duration(v, "relay.pacing")
		if err != nil {
			log.Warn("ignoring config change", "file", e.Name, "error", err)
			return
		}
		target.SetPacing(pacing)
	})
	v.WatchConfig()

	log.Debug("watching config file", "file", v.ConfigFileUsed())
	return true
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", key, raw)
	}
	return d, nil
}
