package climate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"solar-platform/internal/models"
)

// FixtureProvider serves fixed records keyed by location. It never touches
// the network and always returns the same record for the same query.
type FixtureProvider struct {
	name     string
	mu       sync.RWMutex
	records  map[string]models.ClimateRecord
	fallback *models.ClimateRecord
	calls    int
}

// NewFixtureProvider creates a fixture source holding records.
func NewFixtureProvider(name string, records ...models.ClimateRecord) *FixtureProvider {
	f := &FixtureProvider{
		name:    name,
		records: make(map[string]models.ClimateRecord, len(records)),
	}
	for _, r := range records {
		f.records[locationKey(r.Location)] = r
	}
	return f
}

// SetDefault makes rec the answer for locations without their own record.
func (f *FixtureProvider) SetDefault(rec models.ClimateRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = &rec
}

// Name returns the source name
func (f *FixtureProvider) Name() string {
	return f.name
}

// Calls reports how many times Fetch was invoked.
func (f *FixtureProvider) Calls() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.calls
}

// Fetch returns the record registered for the query location.
func (f *FixtureProvider) Fetch(ctx context.Context, q Query) (models.ClimateRecord, error) {
	f.mu.Lock()
	f.calls++
	rec, ok := f.records[locationKey(q.Location)]
	if !ok && f.fallback != nil {
		rec, ok = *f.fallback, true
	}
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return models.ClimateRecord{}, unavailable(f.name, q, true, err)
	}
	if !ok {
		return models.ClimateRecord{}, unavailable(f.name, q, false, errors.New("no fixture for location"))
	}

	rec.Source = f.name
	rec.Location = q.Location
	rec.Range = q.Range
	return rec, nil
}

func locationKey(c models.Coordinates) string {
	return fmt.Sprintf("%.4f:%.4f", c.Latitude, c.Longitude)
}

// MonthlyRecord builds a 12-month record starting at start. temps may be nil.
func MonthlyRecord(loc models.Coordinates, start time.Time, irradiation []float64, temps []float64) models.ClimateRecord {
	rec := models.ClimateRecord{
		Source:    SourceFixture,
		Location:  loc,
		FetchedAt: time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC),
	}
	cursor := rec.FetchedAt
	rec.Range.Start = cursor
	for i, v := range irradiation {
		m := models.MonthlyIrradiance{
			Year:                cursor.Year(),
			Month:               cursor.Month(),
			IrradiationKWhPerM2: v,
		}
		if i < len(temps) && !math.IsNaN(temps[i]) {
			t := temps[i]
			m.AmbientTempCelsius = &t
		}
		rec.Monthly = append(rec.Monthly, m)
		rec.Range.End = cursor
		cursor = cursor.AddDate(0, 1, 0)
	}
	return rec
}
