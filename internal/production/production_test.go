package production

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solar-platform/internal/models"
)

// weightedSeries returns a 12-month series summing to annual, shaped like a
// southern hemisphere site.
func weightedSeries(annual float64, start time.Month) models.IrradianceSeries {
	weights := []float64{1.12, 1.05, 1.04, 0.95, 0.88, 0.80, 0.85, 0.95, 1.00, 1.08, 1.12, 1.16}
	var total float64
	for _, w := range weights {
		total += w
	}
	s := models.IrradianceSeries{StartMonth: start, Distribution: models.DistributionMonthly}
	for i, w := range weights {
		s.Irradiation[i] = annual * w / total
	}
	return s
}

func TestEstimate_ReferenceSystem(t *testing.T) {
	series := weightedSeries(1600, time.January)
	p := ParamsFor(-20, models.SystemDesign{TiltDegrees: 20, AzimuthDegrees: 0, SystemLossPercent: 15}, 5)

	y, err := Estimate(series, p)
	require.NoError(t, err)

	assert.InDelta(t, 6800.0, y.Annual, 1e-6)
	var sum float64
	for _, v := range y.Monthly {
		sum += v
		assert.GreaterOrEqual(t, v, 0.0)
	}
	assert.InDelta(t, 6800.0, sum, 1e-6)
	assert.InDelta(t, 1360.0, y.SpecificYield, 1e-9)
	assert.Equal(t, 1.0, y.OrientationFactor)
	assert.Greater(t, y.Monthly[11], y.Monthly[5], "December outproduces June in the south")

	require.Len(t, y.Assumptions, 1)
	assert.Equal(t, models.AssumptionNoTemperatureDerating, y.Assumptions[0].Code)

	values := y.MonthlyValues()
	assert.Equal(t, time.January, values[0].Month)
	assert.Equal(t, time.December, values[11].Month)
}

func TestEstimate_Deterministic(t *testing.T) {
	series := weightedSeries(1750, time.April)
	p := ParamsFor(-23.5, models.SystemDesign{TiltDegrees: 15, AzimuthDegrees: 30, SystemLossPercent: 12}, 7.7)

	a, err := Estimate(series, p)
	require.NoError(t, err)
	b, err := Estimate(series, p)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEstimate_TemperatureDerating(t *testing.T) {
	series := weightedSeries(1600, time.January)
	for i := range series.AmbientTemp {
		temp := 30.0
		series.AmbientTemp[i] = &temp
	}
	p := ParamsFor(-20, models.SystemDesign{TiltDegrees: 20, SystemLossPercent: 15}, 5)

	y, err := Estimate(series, p)
	require.NoError(t, err)
	// Cell at 50 °C: 1 - 0.004 × 25 = 0.9
	assert.InDelta(t, 6800.0*0.9, y.Annual, 1e-6)
	assert.Empty(t, y.Assumptions)
}

func TestEstimate_UniformSeries(t *testing.T) {
	s := models.IrradianceSeries{StartMonth: time.January, Distribution: models.DistributionAnnualUniform}
	for i := range s.Irradiation {
		s.Irradiation[i] = 1600.0 / 12
	}
	y, err := Estimate(s, ParamsFor(-20, models.SystemDesign{TiltDegrees: 20}, 1))
	require.NoError(t, err)
	assert.Equal(t, models.DistributionAnnualUniform, y.Distribution)
	for _, v := range y.Monthly {
		assert.InDelta(t, y.Monthly[0], v, 1e-12)
	}
	codes := []string{}
	for _, a := range y.Assumptions {
		codes = append(codes, a.Code)
	}
	assert.Contains(t, codes, models.AssumptionUniformIrradiance)
}

func TestEstimate_InvalidParams(t *testing.T) {
	series := weightedSeries(1600, time.January)
	_, err := Estimate(series, ParamsFor(0, models.SystemDesign{}, 0))
	assert.Equal(t, models.KindInvalidInput, models.KindOf(err))

	_, err = Estimate(series, ParamsFor(0, models.SystemDesign{SystemLossPercent: 100}, 1))
	assert.Equal(t, models.KindInvalidInput, models.KindOf(err))

	series.Irradiation[3] = math.NaN()
	_, err = Estimate(series, ParamsFor(0, models.SystemDesign{}, 1))
	assert.Equal(t, models.KindComputationError, models.KindOf(err))
}

func TestOrientationFactor(t *testing.T) {
	tests := []struct {
		name     string
		lat      float64
		tilt     float64
		azimuth  float64
		expected float64
		delta    float64
	}{
		{name: "south hemisphere facing north at latitude tilt", lat: -20, tilt: 20, azimuth: 0, expected: 1, delta: 1e-12},
		{name: "north hemisphere facing south at latitude tilt", lat: 40, tilt: 40, azimuth: 180, expected: 1, delta: 1e-12},
		{name: "flat roof ignores azimuth", lat: -20, tilt: 0, azimuth: 180, expected: math.Cos(degToRad(20)), delta: 1e-12},
		{name: "facing away from equator", lat: -20, tilt: 20, azimuth: 180, expected: 1 - 0.35*math.Sin(degToRad(20)), delta: 1e-12},
		{name: "facing east", lat: -20, tilt: 20, azimuth: 90, expected: 1 - 0.35*math.Sin(degToRad(20))/2, delta: 1e-12},
		{name: "tilt floor", lat: 0, tilt: 90, azimuth: 180, expected: 0.5 * (1 - 0.35*0), delta: 1e-12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, OrientationFactor(tt.lat, tt.tilt, tt.azimuth), tt.delta)
		})
	}
}

func TestTemperatureFactor(t *testing.T) {
	assert.InDelta(t, 1.0, TemperatureFactor(5, 20, -0.004), 1e-12)
	assert.InDelta(t, 0.96, TemperatureFactor(15, 20, -0.004), 1e-12)
	assert.InDelta(t, 1.02, TemperatureFactor(0, 20, -0.004), 1e-12)
	assert.Equal(t, 0.0, TemperatureFactor(400, 20, -0.004))
}

func TestInferSize(t *testing.T) {
	tests := []struct {
		name        string
		consumption float64
		specific    float64
		moduleW     float64
		wantKWp     float64
		wantModules int
		wantKind    models.ErrorKind
	}{
		{name: "rounds up to whole modules", consumption: 6000, specific: 1360, moduleW: 550, wantKWp: 4.95, wantModules: 9},
		{name: "exact fit does not add a module", consumption: 1360 * 5.5, specific: 1360, moduleW: 550, wantKWp: 5.5, wantModules: 10},
		{name: "zero consumption keeps one module", consumption: 0, specific: 1360, moduleW: 550, wantKWp: 0.55, wantModules: 1},
		{name: "zero specific yield", consumption: 6000, specific: 0, moduleW: 550, wantKind: models.KindComputationError},
		{name: "zero module power", consumption: 6000, specific: 1360, moduleW: 0, wantKind: models.KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kwp, modules, err := InferSize(tt.consumption, tt.specific, tt.moduleW)
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, models.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.wantKWp, kwp, 1e-9)
			assert.Equal(t, tt.wantModules, modules)
		})
	}
}

func TestEquipmentFor(t *testing.T) {
	spec := EquipmentSpec{ModulePowerW: 550, ModuleAreaM2: 2.58, InverterKW: 5, InverterDCACRatio: 1.2}

	eq, err := EquipmentFor(8.25, spec)
	require.NoError(t, err)
	assert.Equal(t, 15, eq.Modules)
	assert.Equal(t, 2, eq.Inverters)
	assert.InDelta(t, 38.7, eq.CoveredAreaM2, 1e-9)

	eq, err = EquipmentFor(5, spec)
	require.NoError(t, err)
	assert.Equal(t, 10, eq.Modules, "5 kWp needs ten 550 W modules")
	assert.Equal(t, 1, eq.Inverters)

	_, err = EquipmentFor(5, EquipmentSpec{})
	assert.Equal(t, models.KindInvalidInput, models.KindOf(err))
}
