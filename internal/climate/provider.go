// Package climate fetches and normalizes monthly solar irradiance for a
// location from pluggable sources.
package climate

import (
	"context"
	"errors"
	"time"

	"solar-platform/internal/models"
)

// Source names reported in ClimateRecord.Source and used in cache keys.
const (
	SourceNASAPower = "nasa-power"
	SourceClearSky  = "clear-sky"
	SourceFixture   = "fixture"
)

// Query identifies an irradiance lookup.
type Query struct {
	Location models.Coordinates
	Range    models.DateRange
}

// Provider returns the irradiance series of a point for a period. A source
// without coverage fails with *models.DataUnavailableError.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, q Query) (models.ClimateRecord, error)
}

// Observer receives cache lookup outcomes per tier.
type Observer interface {
	CacheHit(cache string)
	CacheMiss(cache string)
}

type nopObserver struct{}

func (nopObserver) CacheHit(string)  {}
func (nopObserver) CacheMiss(string) {}

func unavailable(source string, q Query, transient bool, err error) error {
	return &models.DataUnavailableError{
		Source:    source,
		Key:       models.ClimateKey(source, q.Location, q.Range),
		Transient: transient,
		Err:       err,
	}
}

// contextFailure maps a cancelled or timed-out call to DataUnavailable.
func contextFailure(source string, q Query, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return unavailable(source, q, true, err)
	}
	return nil
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
