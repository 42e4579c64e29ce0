package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"solar-platform/internal/models"
	"solar-platform/pkg/database"
	"solar-platform/pkg/logging"
	"solar-platform/pkg/metrics"
)

// Pagination bounds shared by list queries.
const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// TariffStore provides data access for ingested tariffs
type TariffStore interface {
	CreateTariffsBatch(ctx context.Context, rates []*models.TariffRate) (int, error)
	ListTariffs(ctx context.Context, filter TariffFilter) ([]*models.TariffRate, int, error)
	LatestTariff(ctx context.Context, distributor, class string, asOf time.Time) (*models.TariffRate, error)
	HealthCheck(ctx context.Context) error
}

// TariffFilter defines filters for listing tariffs
type TariffFilter struct {
	Distributor *string
	Class       *string
	AsOf        *time.Time
	Limit       int
	Offset      int
}

// Normalize upper-cases identifiers and clamps pagination.
func (f TariffFilter) Normalize() TariffFilter {
	if f.Distributor != nil {
		d := strings.ToUpper(strings.TrimSpace(*f.Distributor))
		f.Distributor = &d
	}
	if f.Class != nil {
		c := strings.ToUpper(strings.TrimSpace(*f.Class))
		f.Class = &c
	}
	f.Limit, f.Offset = clampPage(f.Limit, f.Offset)
	return f
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// TariffRepository implements TariffStore on PostgreSQL
type TariffRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewTariffRepository creates a new tariff repository
func NewTariffRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *TariffRepository {
	return &TariffRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// CreateTariffsBatch inserts rates in a single transaction and returns how
// many were new. Rows already present for a distributor, class and as-of
// date are kept as they are.
func (r *TariffRepository) CreateTariffsBatch(ctx context.Context, rates []*models.TariffRate) (int, error) {
	if len(rates) == 0 {
		return 0, nil
	}

	timer := time.Now()
	inserted := 0
	defer func() {
		duration := time.Since(timer)
		r.metrics.IngestionBatchSize.Observe(float64(len(rates)))
		r.logger.Debug(ctx, "[REPO_BATCH_INSERT] Batch insert completed", logging.Fields{
			"count":       len(rates),
			"inserted":    inserted,
			"duration_ms": duration.Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tariff_rates (
			distributor, class, energy_charge, distribution_charge,
			source_url, as_of, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (distributor, class, as_of) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rate := range rates {
		result, err := stmt.ExecContext(ctx,
			rate.Distributor,
			rate.Class,
			rate.EnergyCharge,
			rate.DistributionCharge,
			rate.SourceURL,
			rate.AsOf,
			rate.CreatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert tariff %s/%s: %w", rate.Distributor, rate.Class, err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.IngestionRecordsTotal.Add(float64(inserted))
	return inserted, nil
}

// ListTariffs retrieves tariffs with filtering and pagination
func (r *TariffRepository) ListTariffs(ctx context.Context, filter TariffFilter) ([]*models.TariffRate, int, error) {
	filter = filter.Normalize()

	query := `
		SELECT id, distributor, class, energy_charge, distribution_charge,
		       source_url, as_of, created_at
		FROM tariff_rates
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.Distributor != nil {
		query += fmt.Sprintf(" AND distributor = $%d", argNum)
		args = append(args, *filter.Distributor)
		argNum++
	}

	if filter.Class != nil {
		query += fmt.Sprintf(" AND class = $%d", argNum)
		args = append(args, *filter.Class)
		argNum++
	}

	if filter.AsOf != nil {
		query += fmt.Sprintf(" AND as_of <= $%d", argNum)
		args = append(args, *filter.AsOf)
		argNum++
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	if err := r.db.GetContext(ctx, "count_tariffs", &totalCount, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count tariffs: %w", err)
	}

	query += " ORDER BY distributor, class, as_of DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	var rates []*models.TariffRate
	if err := r.db.SelectContext(ctx, "list_tariffs", &rates, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list tariffs: %w", err)
	}

	return rates, totalCount, nil
}

// LatestTariff returns the rate in force on asOf, or nil when none is.
func (r *TariffRepository) LatestTariff(ctx context.Context, distributor, class string, asOf time.Time) (*models.TariffRate, error) {
	query := `
		SELECT id, distributor, class, energy_charge, distribution_charge,
		       source_url, as_of, created_at
		FROM tariff_rates
		WHERE distributor = $1 AND class = $2 AND as_of <= $3
		ORDER BY as_of DESC
		LIMIT 1
	`

	var rate models.TariffRate
	err := r.db.GetContext(ctx, "latest_tariff", &rate, query, distributor, class, asOf)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tariff: %w", err)
	}

	return &rate, nil
}

// HealthCheck performs a repository health check
func (r *TariffRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
