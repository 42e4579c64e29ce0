package climate

import (
	"context"

	"solar-platform/internal/models"
	"solar-platform/pkg/logging"
)

// FallbackProvider asks the primary source first and the secondary one only
// when the primary reports DataUnavailable. Records from the secondary are
// marked degraded.
type FallbackProvider struct {
	primary   Provider
	secondary Provider
	logger    *logging.StructuredLogger
}

// NewFallbackProvider chains primary and secondary.
func NewFallbackProvider(primary, secondary Provider, logger *logging.StructuredLogger) *FallbackProvider {
	return &FallbackProvider{primary: primary, secondary: secondary, logger: logger}
}

// Name returns the primary source name
func (p *FallbackProvider) Name() string {
	return p.primary.Name()
}

// Fetch returns the primary record or, on DataUnavailable, the secondary.
func (p *FallbackProvider) Fetch(ctx context.Context, q Query) (models.ClimateRecord, error) {
	rec, err := p.primary.Fetch(ctx, q)
	if err == nil {
		return rec, nil
	}
	if models.KindOf(err) != models.KindDataUnavailable || ctx.Err() != nil {
		return models.ClimateRecord{}, err
	}

	p.logger.Warn(ctx, "[CLIMATE_FALLBACK] Primary source unavailable, using secondary", logging.Fields{
		"primary":   p.primary.Name(),
		"secondary": p.secondary.Name(),
		"error":     err.Error(),
	})

	rec, fbErr := p.secondary.Fetch(ctx, q)
	if fbErr != nil {
		return models.ClimateRecord{}, fbErr
	}
	rec.Degraded = true
	return rec, nil
}
