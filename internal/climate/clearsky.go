package climate

import (
	"context"
	"errors"
	"math"
	"time"

	"solar-platform/internal/models"
)

// solarConstant is the mean irradiance at the top of the atmosphere in W/m².
const solarConstant = 1361.0

// ClearSkyProvider estimates monthly irradiation from solar geometry alone:
// daily extraterrestrial horizontal irradiation scaled by a clearness
// index. It covers every point on Earth and its records are always
// flagged degraded.
type ClearSkyProvider struct {
	clearness float64
}

// NewClearSkyProvider creates a geometric fallback source. clearness is the
// ratio of surface to extraterrestrial irradiation, typically 0.5 to 0.75.
func NewClearSkyProvider(clearness float64) *ClearSkyProvider {
	return &ClearSkyProvider{clearness: clearness}
}

// Name returns the source name
func (p *ClearSkyProvider) Name() string {
	return SourceClearSky
}

// Fetch computes one value per month of the range.
func (p *ClearSkyProvider) Fetch(ctx context.Context, q Query) (models.ClimateRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.ClimateRecord{}, unavailable(SourceClearSky, q, true, err)
	}
	if p.clearness <= 0 || p.clearness > 1 {
		return models.ClimateRecord{}, unavailable(SourceClearSky, q, false, errors.New("clearness index out of range"))
	}

	rec := models.ClimateRecord{
		Source:    SourceClearSky,
		Location:  q.Location,
		Range:     q.Range,
		FetchedAt: time.Date(q.Range.Start.Year(), q.Range.Start.Month(), 1, 0, 0, 0, 0, time.UTC),
		Degraded:  true,
	}

	cursor := rec.FetchedAt
	for i := 0; i < q.Range.Months(); i++ {
		var total float64
		for d := 1; d <= daysIn(cursor.Year(), cursor.Month()); d++ {
			day := time.Date(cursor.Year(), cursor.Month(), d, 0, 0, 0, 0, time.UTC)
			total += extraterrestrialDaily(q.Location.Latitude, day.YearDay())
		}
		rec.Monthly = append(rec.Monthly, models.MonthlyIrradiance{
			Year:                cursor.Year(),
			Month:               cursor.Month(),
			IrradiationKWhPerM2: total * p.clearness,
		})
		cursor = cursor.AddDate(0, 1, 0)
	}
	return rec, nil
}

// extraterrestrialDaily returns the daily irradiation on a horizontal plane
// at the top of the atmosphere, in kWh/m².
func extraterrestrialDaily(latitude float64, dayOfYear int) float64 {
	phi := degToRad(latitude)
	delta := degToRad(23.45 * math.Sin(degToRad(360.0/365.0*float64(dayOfYear-81))))

	// Sunset hour angle; clamped for polar day and night.
	cosWs := -math.Tan(phi) * math.Tan(delta)
	cosWs = math.Max(-1, math.Min(1, cosWs))
	ws := math.Acos(cosWs)

	e0 := 1 + 0.033*math.Cos(degToRad(360.0*float64(dayOfYear)/365.0))
	h0 := (24 / math.Pi) * solarConstant * e0 *
		(math.Cos(phi)*math.Cos(delta)*math.Sin(ws) + ws*math.Sin(phi)*math.Sin(delta))

	return math.Max(0, h0) / 1000
}

func degToRad(deg float64) float64 {
	return deg * (math.Pi / 180.0)
}
