package climate

import (
	"fmt"
	"math"
	"time"

	"solar-platform/internal/models"
)

// Normalize turns a record into a 12-month series starting at start. Values
// for the same calendar month in different years are averaged. A record
// without full monthly coverage falls back to its annual aggregate spread
// uniformly, tagged DistributionAnnualUniform.
func Normalize(rec models.ClimateRecord, start time.Month) (models.IrradianceSeries, error) {
	if start < time.January || start > time.December {
		start = time.January
	}
	series := models.IrradianceSeries{StartMonth: start}

	var (
		irrSum    [12]float64
		irrCount  [12]int
		tempSum   [12]float64
		tempCount [12]int
	)
	for _, m := range rec.Monthly {
		if m.Month < time.January || m.Month > time.December {
			continue
		}
		v := m.IrradiationKWhPerM2
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return series, &models.ComputationError{
				Stage:   "climate",
				Message: fmt.Sprintf("invalid irradiation %v for %04d-%02d from %s", v, m.Year, int(m.Month), rec.Source),
			}
		}
		idx := int(m.Month) - 1
		irrSum[idx] += v
		irrCount[idx]++
		if m.AmbientTempCelsius != nil {
			tempSum[idx] += *m.AmbientTempCelsius
			tempCount[idx]++
		}
	}

	complete := len(rec.Monthly) > 0
	for _, n := range irrCount {
		if n == 0 {
			complete = false
			break
		}
	}

	if complete {
		series.Distribution = models.DistributionMonthly
		for i := 0; i < 12; i++ {
			idx := int(models.MonthOffset(start, i)) - 1
			series.Irradiation[i] = irrSum[idx] / float64(irrCount[idx])
			if tempCount[idx] > 0 {
				t := tempSum[idx] / float64(tempCount[idx])
				series.AmbientTemp[i] = &t
			}
		}
		return series, nil
	}

	if rec.AnnualKWhPerM2 != nil {
		annual := *rec.AnnualKWhPerM2
		if math.IsNaN(annual) || annual < 0 {
			return series, &models.ComputationError{
				Stage:   "climate",
				Message: fmt.Sprintf("invalid annual irradiation %v from %s", annual, rec.Source),
			}
		}
		series.Distribution = models.DistributionAnnualUniform
		for i := range series.Irradiation {
			series.Irradiation[i] = annual / 12
		}
		return series, nil
	}

	return series, &models.DataUnavailableError{
		Source: rec.Source,
		Key:    models.ClimateKey(rec.Source, rec.Location, rec.Range),
		Err:    fmt.Errorf("record covers %d of 12 calendar months and has no annual aggregate", covered(irrCount)),
	}
}

func covered(counts [12]int) int {
	n := 0
	for _, c := range counts {
		if c > 0 {
			n++
		}
	}
	return n
}
