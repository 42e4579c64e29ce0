package models

import (
	"fmt"
	"time"
)

// MonthlyIrradiance is the solar energy received on a horizontal surface
// during one calendar month.
type MonthlyIrradiance struct {
	Year                int        `json:"year"`
	Month               time.Month `json:"month"`
	IrradiationKWhPerM2 float64    `json:"irradiation_kwh_m2"`
	AmbientTempCelsius  *float64   `json:"ambient_temp_celsius,omitempty"`
}

// ClimateRecord is an irradiance series for one point and period, tied to
// the source that produced it. Records are immutable once fetched.
type ClimateRecord struct {
	Source         string              `json:"source"`
	Location       Coordinates         `json:"location"`
	Range          DateRange           `json:"range"`
	Monthly        []MonthlyIrradiance `json:"monthly,omitempty"`
	AnnualKWhPerM2 *float64            `json:"annual_kwh_m2,omitempty"`
	FetchedAt      time.Time           `json:"fetched_at"`
	Degraded       bool                `json:"degraded,omitempty"`
}

// ClimateKey renders the cache key of a (source, point, period) lookup.
// Coordinates are rounded to four decimals (about 11 m).
func ClimateKey(source string, loc Coordinates, r DateRange) string {
	return fmt.Sprintf("climate:%s:%.4f:%.4f:%s:%s",
		source, loc.Latitude, loc.Longitude,
		r.Start.Format("200601"), r.End.Format("200601"))
}

// IrradianceSeries is a ClimateRecord normalized to 12 calendar months
// starting at StartMonth.
type IrradianceSeries struct {
	StartMonth   time.Month
	Irradiation  [12]float64
	AmbientTemp  [12]*float64
	Distribution Distribution
}

// MonthAt returns the calendar month of index i.
func (s IrradianceSeries) MonthAt(i int) time.Month {
	return MonthOffset(s.StartMonth, i)
}

// Annual returns the total irradiation over the 12 months.
func (s IrradianceSeries) Annual() float64 {
	var total float64
	for _, v := range s.Irradiation {
		total += v
	}
	return total
}

// MonthOffset returns the month i months after start, wrapping at December.
func MonthOffset(start time.Month, i int) time.Month {
	return time.Month((int(start)-1+i)%12 + 1)
}
