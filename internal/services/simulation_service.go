package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"solar-platform/internal/models"
	"solar-platform/internal/repository"
	"solar-platform/pkg/logging"
	"solar-platform/pkg/metrics"
)

// ErrPersistenceDisabled is returned by read operations when the service
// runs without a store.
var ErrPersistenceDisabled = errors.New("simulation persistence is not configured")

// Simulator runs the simulation engine.
type Simulator interface {
	Run(ctx context.Context, in models.SimulationInput) (*models.SimulationResult, error)
}

// SimulationService gives engine results an identity and stores them
type SimulationService struct {
	engine  Simulator
	store   repository.SimulationStore
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	now     func() time.Time
}

// NewSimulationService creates a new simulation service. A nil store runs
// simulations without keeping them.
func NewSimulationService(engine Simulator, store repository.SimulationStore, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *SimulationService {
	return &SimulationService{
		engine:  engine,
		store:   store,
		logger:  logger,
		metrics: metricsCollector,
		now:     time.Now,
	}
}

// Simulate runs in through the engine and stores the outcome.
func (s *SimulationService) Simulate(ctx context.Context, in models.SimulationInput) (*models.SimulationRecord, error) {
	id := uuid.NewString()
	ctx = logging.WithSimulationID(ctx, id)

	s.logger.Info(ctx, "[SIMULATION_START] Running simulation", logging.Fields{
		"quote_id":  in.QuoteID,
		"latitude":  in.Location.Latitude,
		"longitude": in.Location.Longitude,
		"scenarios": len(in.OversizingFactors),
	})

	timer := s.metrics.NewTimer(s.metrics.SimulationDuration)
	result, err := s.engine.Run(ctx, in)
	duration := timer.ObserveDuration()

	if err != nil {
		kind := models.KindOf(err)
		s.metrics.RecordSimulation(string(kind))
		var computation *models.ComputationError
		if errors.As(err, &computation) {
			s.metrics.ComputationDefects.WithLabelValues(computation.Stage).Inc()
		}
		s.logger.Warn(ctx, "[SIMULATION_FAILED] Simulation did not complete", logging.Fields{
			"quote_id":    in.QuoteID,
			"error_kind":  string(kind),
			"error":       err.Error(),
			"duration_ms": duration.Milliseconds(),
		})
		return nil, err
	}

	s.metrics.RecordSimulation("success")
	s.metrics.ScenariosEvaluated.Add(float64(len(result.Scenarios)))

	rec := &models.SimulationRecord{
		ID:        id,
		QuoteID:   in.QuoteID,
		Input:     in,
		Result:    result,
		CreatedAt: s.now().UTC(),
	}

	if s.store != nil {
		if err := s.store.SaveSimulation(ctx, rec); err != nil {
			s.logger.Error(ctx, "[SIMULATION_SAVE_ERROR] Failed to store simulation", logging.Fields{
				"quote_id": in.QuoteID,
			}, err)
			return nil, fmt.Errorf("failed to store simulation %s: %w", id, err)
		}
	}

	s.logger.Info(ctx, "[SIMULATION_COMPLETE] Simulation completed", logging.Fields{
		"quote_id":         in.QuoteID,
		"system_size_kwp":  result.SystemSizeKWp,
		"annual_savings":   result.AnnualSavings,
		"payback_months":   result.PaybackMonths,
		"alert_count":      len(result.Alerts),
		"assumption_count": len(result.Assumptions),
		"duration_ms":      duration.Milliseconds(),
	})

	return rec, nil
}

// GetSimulation retrieves a stored simulation
func (s *SimulationService) GetSimulation(ctx context.Context, id string) (*models.SimulationRecord, error) {
	if s.store == nil {
		return nil, ErrPersistenceDisabled
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.NewValidationError("id", id, nil, "simulation id must be a UUID")
	}
	return s.store.GetSimulation(ctx, id)
}

// ListSimulations retrieves stored simulations with filtering
func (s *SimulationService) ListSimulations(ctx context.Context, filter repository.SimulationFilter) ([]*models.SimulationRecord, int, error) {
	if s.store == nil {
		return nil, 0, ErrPersistenceDisabled
	}
	return s.store.ListSimulations(ctx, filter)
}
