// Package app assembles the simulation stack from configuration. Commands
// share it so the server and the CLI run the same engine.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"

	"solar-platform/internal/climate"
	"solar-platform/internal/config"
	"solar-platform/internal/financing"
	"solar-platform/internal/models"
	"solar-platform/internal/repository"
	"solar-platform/internal/simulation"
	"solar-platform/internal/tariff"
	"solar-platform/pkg/database"
	"solar-platform/pkg/logging"
	"solar-platform/pkg/metrics"
)

// Deps are the shared clients. DB and Redis may be nil.
type Deps struct {
	DB         *database.PostgresDB
	Redis      *redis.Client
	HTTPClient *http.Client
	Logger     *logging.StructuredLogger
	Metrics    *metrics.Collector
}

// Stack is the assembled engine and its collaborators.
type Stack struct {
	Engine    *simulation.Engine
	Financing *financing.Engine
	Tariffs   *tariff.Resolver
	Climate   climate.Provider
}

// DatabaseConfig maps configuration onto the database client settings.
func DatabaseConfig(cfg *config.Config) *database.Config {
	return &database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}
}

// NewRedisClient connects to the shared cache tier. It returns nil when no
// address is configured.
func NewRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	return client, nil
}

// LogLevel maps the configured level name.
func LogLevel(cfg *config.Config) logging.LogLevel {
	return logging.ParseLevel(cfg.Logging.Level)
}

// NewClimateProvider builds the irradiance source. The live source is
// cached in memory, then Redis, then PostgreSQL, and falls back to the
// clear-sky model when enabled. The fixture source is the clear-sky model
// alone and never leaves the process.
func NewClimateProvider(cfg *config.Config, d Deps) climate.Provider {
	clearSky := climate.NewClearSkyProvider(cfg.Climate.ClearnessIndex)
	if cfg.Climate.Source == climate.SourceFixture {
		return clearSky
	}

	live := climate.NewHTTPProvider(climate.HTTPConfig{
		BaseURL: cfg.Climate.BaseURL,
		Timeout: cfg.Climate.Timeout,
	}, d.HTTPClient, d.Logger, d.Metrics)

	tiers := []climate.Cache{climate.NewMemoryCache(cfg.Climate.CacheTTL, d.Metrics)}
	if d.Redis != nil {
		tiers = append(tiers, climate.NewRedisCache(d.Redis, cfg.Redis.TTL, d.Metrics))
	}
	if d.DB != nil {
		tiers = append(tiers, repository.NewClimateRepository(d.DB, d.Logger, d.Metrics))
	}

	var provider climate.Provider = climate.NewCachedProvider(live, climate.NewTieredCache(tiers...), d.Logger)
	if cfg.Climate.FallbackEnabled {
		provider = climate.NewFallbackProvider(provider, clearSky, d.Logger)
	}
	return provider
}

// NewTariffProvider builds the tariff source. fixtures seed the fixture
// source and are ignored otherwise.
func NewTariffProvider(cfg *config.Config, d Deps, fixtures ...models.TariffRate) (tariff.Provider, error) {
	switch cfg.Tariff.Source {
	case tariff.SourceStore:
		if d.DB == nil {
			return nil, fmt.Errorf("tariff source %q needs a database", cfg.Tariff.Source)
		}
		return tariff.NewStoreProvider(repository.NewTariffRepository(d.DB, d.Logger, d.Metrics)), nil
	case tariff.SourceANEEL:
		return tariff.NewHTTPProvider(tariff.HTTPConfig{
			BaseURL:    cfg.Tariff.BaseURL,
			ResourceID: cfg.Tariff.ResourceID,
			Timeout:    cfg.Tariff.Timeout,
		}, d.HTTPClient, d.Logger, d.Metrics), nil
	case tariff.SourceFixture:
		return tariff.NewFixtureProvider(fixtures...), nil
	default:
		return nil, fmt.Errorf("unknown tariff source %q", cfg.Tariff.Source)
	}
}

// NewFinancingEngine maps configuration onto the amortization engine.
func NewFinancingEngine(cfg *config.Config) *financing.Engine {
	return financing.NewEngine(financing.Config{
		RateBasis:     cfg.Financing.RateBasis,
		DefaultSystem: cfg.Financing.DefaultSystem,
		DefaultRates:  cfg.Financing.DefaultRates,
	})
}

// NewStack assembles the simulation engine.
func NewStack(cfg *config.Config, d Deps, tariffFixtures ...models.TariffRate) (*Stack, error) {
	if d.Logger == nil {
		d.Logger = logging.NewNopLogger()
	}
	if d.Metrics == nil {
		return nil, fmt.Errorf("metrics collector is required")
	}

	tariffProvider, err := NewTariffProvider(cfg, d, tariffFixtures...)
	if err != nil {
		return nil, err
	}

	resolver := tariff.NewResolver(tariffProvider, tariff.Defaults{
		Energy:       cfg.Tariff.DefaultEnergy,
		Distribution: cfg.Tariff.DefaultDistribution,
	}, cfg.Tariff.CacheTTL, d.Logger, d.Metrics)

	climateProvider := NewClimateProvider(cfg, d)
	fin := NewFinancingEngine(cfg)

	return &Stack{
		Engine:    simulation.NewEngine(climateProvider, resolver, fin, simulation.OptionsFromConfig(cfg), d.Logger),
		Financing: fin,
		Tariffs:   resolver,
		Climate:   climateProvider,
	}, nil
}
