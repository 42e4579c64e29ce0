package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"solar-platform/internal/models"
	"solar-platform/pkg/database"
	"solar-platform/pkg/logging"
	"solar-platform/pkg/metrics"
)

// ClimateRepository persists fetched climate records. It satisfies
// climate.Cache and acts as the durable tier behind memory and Redis.
type ClimateRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewClimateRepository creates a new climate repository
func NewClimateRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ClimateRepository {
	return &ClimateRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Get loads the record stored under key.
func (r *ClimateRepository) Get(ctx context.Context, key string) (models.ClimateRecord, bool, error) {
	query := `
		SELECT payload
		FROM climate_records
		WHERE cache_key = $1
	`

	var payload []byte
	err := r.db.GetContext(ctx, "get_climate_record", &payload, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		r.metrics.CacheMiss("postgres")
		return models.ClimateRecord{}, false, nil
	}
	if err != nil {
		return models.ClimateRecord{}, false, fmt.Errorf("failed to get climate record: %w", err)
	}

	var rec models.ClimateRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return models.ClimateRecord{}, false, fmt.Errorf("failed to decode climate record %s: %w", key, err)
	}
	r.metrics.CacheHit("postgres")
	return rec, true, nil
}

// Add stores rec under key. An existing row is left untouched.
func (r *ClimateRepository) Add(ctx context.Context, key string, rec models.ClimateRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode climate record: %w", err)
	}

	query := `
		INSERT INTO climate_records (
			cache_key, source, latitude, longitude,
			range_start, range_end, payload, fetched_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (cache_key) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, "insert_climate_record", query,
		key,
		rec.Source,
		rec.Location.Latitude,
		rec.Location.Longitude,
		rec.Range.Start,
		rec.Range.End,
		payload,
		rec.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store climate record: %w", err)
	}

	inserted, _ := result.RowsAffected()
	r.logger.Debug(ctx, "[REPO_CLIMATE_ADD] Climate record stored", logging.Fields{
		"cache_key": key,
		"source":    rec.Source,
		"inserted":  inserted == 1,
	})
	return nil
}
