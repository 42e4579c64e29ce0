// Package production converts a normalized irradiance series and an array
// design into monthly energy yield.
package production

import (
	"fmt"
	"math"
	"time"

	"solar-platform/internal/models"
)

// Module and derating defaults.
const (
	DefaultTempCoefficient = -0.004
	DefaultCellTempOffsetC = 20.0
	stcCellTempC           = 25.0

	// Maximum relative loss when the array faces away from the equator.
	azimuthPenalty = 0.35
	minTiltFactor  = 0.5

	// Absorbs float noise before rounding counts up.
	countEpsilon = 1e-9
)

// Params describes the array being simulated.
type Params struct {
	Latitude          float64
	TiltDegrees       float64
	AzimuthDegrees    float64
	SystemLossPercent float64
	SystemSizeKWp     float64
	TempCoefficient   float64
	CellTempOffsetC   float64
}

// ParamsFor builds Params from a design. size overrides the design hint.
func ParamsFor(lat float64, d models.SystemDesign, size float64) Params {
	return Params{
		Latitude:          lat,
		TiltDegrees:       d.TiltDegrees,
		AzimuthDegrees:    d.AzimuthDegrees,
		SystemLossPercent: d.SystemLossPercent,
		SystemSizeKWp:     size,
		TempCoefficient:   DefaultTempCoefficient,
		CellTempOffsetC:   DefaultCellTempOffsetC,
	}
}

// Yield is the energy produced by an array over one year.
type Yield struct {
	StartMonth        time.Month
	Monthly           [12]float64
	Annual            float64
	SpecificYield     float64
	OrientationFactor float64
	Distribution      models.Distribution
	Assumptions       []models.Assumption
}

// MonthlyValues renders Monthly as calendar-tagged values.
func (y Yield) MonthlyValues() []models.MonthlyValue {
	out := make([]models.MonthlyValue, 12)
	for i, v := range y.Monthly {
		out[i] = models.MonthlyValue{Month: models.MonthOffset(y.StartMonth, i), Value: v}
	}
	return out
}

// Estimate computes monthly yield in kWh:
//
//	kWp × H_m × orientation × temperature_m × (1 − loss)
//
// H_m is the month's irradiation in kWh/m², numerically equal to peak sun
// hours. Estimate is pure; equal inputs give equal outputs.
func Estimate(series models.IrradianceSeries, p Params) (Yield, error) {
	if !(p.SystemSizeKWp > 0) {
		return Yield{}, models.NewValidationError("system_size_kwp", p.SystemSizeKWp, nil, "system size must be positive")
	}
	if p.SystemLossPercent < 0 || p.SystemLossPercent >= 100 {
		return Yield{}, models.NewValidationError("system_loss_percent", p.SystemLossPercent, nil, "system loss must be in [0, 100)")
	}

	y := Yield{
		StartMonth:        series.StartMonth,
		Distribution:      series.Distribution,
		OrientationFactor: OrientationFactor(p.Latitude, p.TiltDegrees, p.AzimuthDegrees),
	}
	lossFactor := 1 - p.SystemLossPercent/100

	missingTemp := 0
	for i, h := range series.Irradiation {
		tempFactor := 1.0
		if t := series.AmbientTemp[i]; t != nil {
			tempFactor = TemperatureFactor(*t, p.CellTempOffsetC, p.TempCoefficient)
		} else {
			missingTemp++
		}

		v := p.SystemSizeKWp * h * y.OrientationFactor * tempFactor * lossFactor
		if math.IsNaN(v) || v < 0 {
			return Yield{}, &models.ComputationError{
				Stage:   "production",
				Message: fmt.Sprintf("month %d yield %v is not a non-negative number", i+1, v),
			}
		}
		y.Monthly[i] = v
		y.Annual += v
	}
	y.SpecificYield = y.Annual / p.SystemSizeKWp

	if missingTemp > 0 {
		y.Assumptions = append(y.Assumptions, models.Assumption{
			Code:        models.AssumptionNoTemperatureDerating,
			Description: fmt.Sprintf("no ambient temperature for %d of 12 months; temperature derating not applied to those months", missingTemp),
		})
	}
	if series.Distribution == models.DistributionAnnualUniform {
		y.Assumptions = append(y.Assumptions, models.Assumption{
			Code:        models.AssumptionUniformIrradiance,
			Description: "only annual irradiation available; yield spread uniformly across months",
		})
	}
	return y, nil
}

// OrientationFactor is the incidence correction of a tilted, rotated array
// relative to one facing the equator at a tilt equal to the latitude.
// Azimuth is clockwise from true north.
func OrientationFactor(latitude, tilt, azimuth float64) float64 {
	tiltFactor := math.Max(minTiltFactor, math.Cos(degToRad(tilt-math.Abs(latitude))))

	equator := 180.0
	if latitude < 0 {
		equator = 0
	}
	deviation := degToRad(azimuth - equator)
	azimuthFactor := 1 - azimuthPenalty*math.Sin(degToRad(tilt))*(1-math.Cos(deviation))/2

	return tiltFactor * azimuthFactor
}

// TemperatureFactor derates output for cell temperatures above 25 °C and
// boosts it below. The result never goes negative.
func TemperatureFactor(ambientC, cellOffsetC, coefficient float64) float64 {
	cell := ambientC + cellOffsetC
	return math.Max(0, 1+coefficient*(cell-stcCellTempC))
}

// InferSize returns the smallest whole number of modules whose yield covers
// annualConsumption, and the matching size in kWp. At least one module is
// always returned.
func InferSize(annualConsumption, specificYield, modulePowerW float64) (float64, int, error) {
	if !(modulePowerW > 0) {
		return 0, 0, models.NewValidationError("module_power_w", modulePowerW, nil, "module power must be positive")
	}
	if !(specificYield > 0) {
		return 0, 0, &models.ComputationError{
			Stage:   "production",
			Message: fmt.Sprintf("cannot size a system with specific yield %v kWh/kWp", specificYield),
		}
	}

	moduleKW := modulePowerW / 1000
	modules := 1
	if annualConsumption > 0 {
		modules = int(math.Ceil(annualConsumption/specificYield/moduleKW - countEpsilon))
		if modules < 1 {
			modules = 1
		}
	}
	return float64(modules) * moduleKW, modules, nil
}

// EquipmentSpec describes the catalog items a system is built from.
type EquipmentSpec struct {
	ModulePowerW      float64
	ModuleAreaM2      float64
	InverterKW        float64
	InverterDCACRatio float64
}

// Equipment is the bill of materials of a system.
type Equipment struct {
	Modules       int
	Inverters     int
	CoveredAreaM2 float64
}

// EquipmentFor sizes modules, inverters and area for sizeKWp.
func EquipmentFor(sizeKWp float64, spec EquipmentSpec) (Equipment, error) {
	if !(spec.ModulePowerW > 0) || !(spec.InverterKW > 0) || !(spec.InverterDCACRatio > 0) || spec.ModuleAreaM2 < 0 {
		return Equipment{}, models.NewValidationError("equipment", fmt.Sprintf("%+v", spec), nil, "equipment ratings must be positive")
	}
	if !(sizeKWp > 0) {
		return Equipment{}, models.NewValidationError("system_size_kwp", sizeKWp, nil, "system size must be positive")
	}

	modules := int(math.Ceil(sizeKWp*1000/spec.ModulePowerW - countEpsilon))
	if modules < 1 {
		modules = 1
	}
	inverters := int(math.Ceil(sizeKWp/(spec.InverterKW*spec.InverterDCACRatio) - countEpsilon))
	if inverters < 1 {
		inverters = 1
	}
	return Equipment{
		Modules:       modules,
		Inverters:     inverters,
		CoveredAreaM2: float64(modules) * spec.ModuleAreaM2,
	}, nil
}

func degToRad(deg float64) float64 {
	return deg * (math.Pi / 180.0)
}
