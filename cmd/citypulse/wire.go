package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/city-pulse/internal/adapter/duckdb"
	kafkaadapter "github.com/couchcryptid/city-pulse/internal/adapter/kafka"
	"github.com/couchcryptid/city-pulse/internal/adapter/mapbox"
	"github.com/couchcryptid/city-pulse/internal/adapter/openchargemap"
	"github.com/couchcryptid/city-pulse/internal/adapter/postgres"
	"github.com/couchcryptid/city-pulse/internal/adapter/supabase"
	"github.com/couchcryptid/city-pulse/internal/aggregator"
	"github.com/couchcryptid/city-pulse/internal/backend"
	"github.com/couchcryptid/city-pulse/internal/config"
	"github.com/couchcryptid/city-pulse/internal/domain"
	"github.com/couchcryptid/city-pulse/internal/observability"
)

// openedStore is a backend store plus its release function.
type openedStore struct {
	backend.Store
	close func()
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (openedStore, error) {
	switch cfg.BackendDriver {
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return openedStore{}, fmt.Errorf("open postgres backend: %w", err)
		}
		logger.Info("backend: postgres")
		return openedStore{Store: s, close: s.Close}, nil
	case config.DriverDuckDB:
		s, err := duckdb.Open(ctx, cfg.FixturesDir, logger)
		if err != nil {
			return openedStore{}, fmt.Errorf("open duckdb fixtures: %w", err)
		}
		logger.Info("backend: duckdb fixtures", "dir", cfg.FixturesDir, "tables", s.Tables())
		return openedStore{Store: s, close: func() {
			if err := s.Close(); err != nil {
				logger.Error("duckdb close error", "error", err)
			}
		}}, nil
	default:
		logger.Info("backend: supabase", "url", cfg.SupabaseURL)
		return openedStore{
			Store: supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.FetchTimeout, logger),
			close: func() {},
		}, nil
	}
}

func openFeed(cfg *config.Config, logger *slog.Logger) (backend.ChangeFeed, error) {
	switch cfg.RealtimeDriver {
	case config.DriverSupabase:
		rt, err := supabase.NewRealtime(cfg.SupabaseURL, cfg.SupabaseAnonKey, logger)
		if err != nil {
			return nil, fmt.Errorf("supabase realtime: %w", err)
		}
		return rt, nil
	case config.DriverPostgres:
		return postgres.NewFeed(cfg.DatabaseURL, logger), nil
	case config.DriverKafka:
		logger.Info("realtime: kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaChangesTopic)
		return kafkaadapter.NewFeed(cfg, logger), nil
	default:
		logger.Info("realtime disabled", "backend", cfg.BackendDriver)
		return backend.NoFeed{}, nil
	}
}

// newMapbox returns the cached geocoder and, when enabled, the traffic tile
// source. Both are nil without a token.
func newMapbox(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (domain.Geocoder, aggregator.SegmentSource) {
	if !cfg.MapboxEnabled {
		metrics.GeocodeEnabled.Set(0)
		logger.Info("mapbox disabled: map and search not configured")
		return nil, nil
	}
	metrics.GeocodeEnabled.Set(1)

	client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, cfg.MapboxRateLimit, metrics, logger)
	geocoder := mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
	logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)

	if !cfg.TrafficTilesEnabled {
		return geocoder, nil
	}
	logger.Info("mapbox traffic tiles enabled")
	return geocoder, mapbox.NewTrafficTiles(client, 0, 0, logger)
}

func newHubSource(cfg *config.Config, logger *slog.Logger) aggregator.HubSource {
	if cfg.OpenChargeMapKey == "" {
		logger.Info("ev hubs disabled: OPENCHARGEMAP_KEY not set")
		return nil
	}
	return openchargemap.NewClient(cfg.OpenChargeMapKey, cfg.OpenChargeMapCountry, cfg.OpenChargeMapMaxResults, cfg.FetchTimeout, logger)
}
