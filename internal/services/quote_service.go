package services

import (
	"context"
	"strings"
	"time"

	"solar-platform/internal/models"
	"solar-platform/internal/repository"
	"solar-platform/internal/scenario"
	"solar-platform/pkg/logging"
	"solar-platform/pkg/metrics"
)

// QuoteService aggregates the simulations stored for a quote
type QuoteService struct {
	repo    repository.SimulationStore
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewQuoteService creates a new quote service
func NewQuoteService(repo repository.SimulationStore, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *QuoteService {
	return &QuoteService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// QuoteOverview is the summary of a quote plus its best stored simulation.
type QuoteOverview struct {
	Summary *models.QuoteSummary     `json:"summary"`
	Best    *models.SimulationRecord `json:"best,omitempty"`
}

// Overview summarizes the quote and picks its best simulation using the
// scenario ranking: earliest payback, then highest ROI.
func (s *QuoteService) Overview(ctx context.Context, quoteID string) (*QuoteOverview, error) {
	quoteID = strings.TrimSpace(quoteID)
	if quoteID == "" {
		return nil, models.NewValidationError("quote_id", quoteID, nil, "quote id is required")
	}
	if s.repo == nil {
		return nil, ErrPersistenceDisabled
	}

	startTime := time.Now()

	summary, err := s.repo.SummarizeQuote(ctx, quoteID)
	if err != nil {
		return nil, err
	}

	records, _, err := s.repo.ListSimulations(ctx, repository.SimulationFilter{QuoteID: &quoteID, Limit: repository.MaxPageSize})
	if err != nil {
		return nil, err
	}

	overview := &QuoteOverview{Summary: summary}
	if best := bestRecord(records); best != nil {
		overview.Best = best
	}

	s.logger.Info(ctx, "[QUOTE_OVERVIEW] Quote overview calculated", logging.Fields{
		"quote_id":         quoteID,
		"simulation_count": summary.SimulationCount,
		"duration_ms":      time.Since(startTime).Milliseconds(),
	})

	return overview, nil
}

// bestRecord ranks records the way scenarios are ranked and returns the
// first. Ties keep the newest record since lists are newest first.
func bestRecord(records []*models.SimulationRecord) *models.SimulationRecord {
	ranked := make([]models.ScenarioResult, 0, len(records))
	index := make([]*models.SimulationRecord, 0, len(records))
	for _, rec := range records {
		if rec == nil || rec.Result == nil {
			continue
		}
		ranked = append(ranked, models.ScenarioResult{
			Factor:               float64(len(index)),
			PaybackMonths:        rec.Result.PaybackMonths,
			AnnualizedROIPercent: rec.Result.AnnualizedROIPercent,
		})
		index = append(index, rec)
	}
	if len(ranked) == 0 {
		return nil
	}
	scenario.Rank(ranked)
	return index[int(ranked[0].Factor)]
}
