package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"solar-platform/internal/models"
	"solar-platform/pkg/database"
	"solar-platform/pkg/logging"
	"solar-platform/pkg/metrics"
)

// SimulationStore provides data access for stored simulations
type SimulationStore interface {
	SaveSimulation(ctx context.Context, rec *models.SimulationRecord) error
	GetSimulation(ctx context.Context, id string) (*models.SimulationRecord, error)
	ListSimulations(ctx context.Context, filter SimulationFilter) ([]*models.SimulationRecord, int, error)
	SummarizeQuote(ctx context.Context, quoteID string) (*models.QuoteSummary, error)
}

// SimulationFilter defines filters for listing simulations
type SimulationFilter struct {
	QuoteID *string
	Since   *time.Time
	Limit   int
	Offset  int
}

// simulationRow is the storage shape of a SimulationRecord.
type simulationRow struct {
	ID        string         `db:"id"`
	QuoteID   sql.NullString `db:"quote_id"`
	Input     []byte         `db:"input"`
	Result    []byte         `db:"result"`
	CreatedAt time.Time      `db:"created_at"`
}

func (row simulationRow) record() (*models.SimulationRecord, error) {
	rec := &models.SimulationRecord{
		ID:        row.ID,
		QuoteID:   row.QuoteID.String,
		CreatedAt: row.CreatedAt,
	}
	if err := json.Unmarshal(row.Input, &rec.Input); err != nil {
		return nil, fmt.Errorf("failed to decode simulation %s input: %w", row.ID, err)
	}
	rec.Result = &models.SimulationResult{}
	if err := json.Unmarshal(row.Result, rec.Result); err != nil {
		return nil, fmt.Errorf("failed to decode simulation %s result: %w", row.ID, err)
	}
	return rec, nil
}

// SimulationRepository implements SimulationStore on PostgreSQL
type SimulationRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewSimulationRepository creates a new simulation repository
func NewSimulationRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *SimulationRepository {
	return &SimulationRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// SaveSimulation stores rec. Records are written once.
func (r *SimulationRepository) SaveSimulation(ctx context.Context, rec *models.SimulationRecord) error {
	if rec.Result == nil {
		return fmt.Errorf("simulation %s has no result", rec.ID)
	}

	input, err := json.Marshal(rec.Input)
	if err != nil {
		return fmt.Errorf("failed to encode simulation input: %w", err)
	}
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("failed to encode simulation result: %w", err)
	}

	query := `
		INSERT INTO simulations (
			id, quote_id, input, result,
			system_size_kwp, annual_savings, payback_months, annualized_roi_percent,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, "insert_simulation", query,
		rec.ID,
		sql.NullString{String: rec.QuoteID, Valid: rec.QuoteID != ""},
		input,
		result,
		rec.Result.SystemSizeKWp,
		rec.Result.AnnualSavings,
		rec.Result.PaybackMonths,
		rec.Result.AnnualizedROIPercent,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save simulation: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_SAVE_SIMULATION] Simulation stored", logging.Fields{
		"simulation_id": rec.ID,
		"quote_id":      rec.QuoteID,
	})
	return nil
}

// GetSimulation retrieves a stored simulation by ID
func (r *SimulationRepository) GetSimulation(ctx context.Context, id string) (*models.SimulationRecord, error) {
	query := `
		SELECT id, quote_id, input, result, created_at
		FROM simulations
		WHERE id = $1
	`

	var row simulationRow
	err := r.db.GetContext(ctx, "get_simulation", &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Resource: "simulation", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get simulation: %w", err)
	}

	return row.record()
}

// ListSimulations retrieves simulations, newest first, with filtering and
// pagination
func (r *SimulationRepository) ListSimulations(ctx context.Context, filter SimulationFilter) ([]*models.SimulationRecord, int, error) {
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset)

	query := `
		SELECT id, quote_id, input, result, created_at
		FROM simulations
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.QuoteID != nil {
		query += fmt.Sprintf(" AND quote_id = $%d", argNum)
		args = append(args, *filter.QuoteID)
		argNum++
	}

	if filter.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argNum)
		args = append(args, *filter.Since)
		argNum++
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	if err := r.db.GetContext(ctx, "count_simulations", &totalCount, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count simulations: %w", err)
	}

	query += " ORDER BY created_at DESC, id"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	var rows []simulationRow
	if err := r.db.SelectContext(ctx, "list_simulations", &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list simulations: %w", err)
	}

	records := make([]*models.SimulationRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}

	return records, totalCount, nil
}

// SummarizeQuote aggregates the stored simulations of a quote
func (r *SimulationRepository) SummarizeQuote(ctx context.Context, quoteID string) (*models.QuoteSummary, error) {
	timer := time.Now()
	defer func() {
		r.logger.Debug(ctx, "[REPO_QUOTE_SUMMARY] Quote summary calculated", logging.Fields{
			"quote_id":    quoteID,
			"duration_ms": time.Since(timer).Milliseconds(),
		})
	}()

	query := `
		SELECT
			$1::text AS quote_id,
			COUNT(*) AS simulation_count,
			MIN(payback_months) AS best_payback_months,
			MAX(annualized_roi_percent) AS best_roi_percent,
			AVG(annual_savings) AS avg_annual_savings,
			MAX(created_at) AS latest_simulation_at
		FROM simulations
		WHERE quote_id = $1
	`

	var summary models.QuoteSummary
	if err := r.db.GetContext(ctx, "summarize_quote", &summary, query, quoteID); err != nil {
		return nil, fmt.Errorf("failed to summarize quote: %w", err)
	}
	if summary.SimulationCount == 0 {
		return nil, &models.NotFoundError{Resource: "quote", ID: quoteID}
	}

	return &summary, nil
}
