package models

import (
	"math"
	"strings"
)

// MaxOversizingFactors bounds the number of what-if scenarios per request.
const MaxOversizingFactors = 8

// Validate checks every field of the input before any computation starts.
// The first violation is returned as a *ValidationError.
func (in SimulationInput) Validate() error {
	if err := in.Location.Validate(); err != nil {
		return err
	}

	if n := len(in.ConsumptionHistory); n != 0 && n != 12 {
		return NewValidationError("consumption_history_kwh", n, nil,
			"consumption history must have exactly 12 monthly entries or be empty, got %d", n)
	}
	for i, v := range in.ConsumptionHistory {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return NewValidationError("consumption_history_kwh", v, nil,
				"month %d consumption must be a non-negative number", i+1)
		}
	}
	if in.AnnualConsumptionKWh != nil {
		v := *in.AnnualConsumptionKWh
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return NewValidationError("annual_consumption_kwh", v, nil, "annual consumption must be a non-negative number")
		}
	}

	if err := in.Design.Validate(); err != nil {
		return err
	}

	if strings.TrimSpace(in.Tariff.Distributor) == "" {
		return NewValidationError("tariff.distributor", in.Tariff.Distributor, nil, "distributor is required")
	}
	if strings.TrimSpace(in.Tariff.Class) == "" {
		return NewValidationError("tariff.class", in.Tariff.Class, nil, "customer class is required")
	}

	if in.ClimatePeriod != nil {
		if in.ClimatePeriod.Start.IsZero() || in.ClimatePeriod.End.IsZero() {
			return NewValidationError("climate_period", "", nil, "climate period needs both start and end")
		}
		if in.ClimatePeriod.Months() < 12 {
			return NewValidationError("climate_period", in.ClimatePeriod.Months(), nil,
				"climate period must cover at least 12 months")
		}
	}

	if in.CapexOverride != nil && !(*in.CapexOverride > 0) {
		return NewValidationError("capex", *in.CapexOverride, ErrInvalidAmount, "capex must be positive")
	}

	if in.Financing != nil {
		if err := in.Financing.Validate(); err != nil {
			return err
		}
	}

	if len(in.OversizingFactors) > MaxOversizingFactors {
		return NewValidationError("oversizing_factors", len(in.OversizingFactors), nil,
			"at most %d oversizing factors are allowed", MaxOversizingFactors)
	}
	for _, f := range in.OversizingFactors {
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 1 {
			return NewValidationError("oversizing_factors", f, nil, "oversizing factors must be at least 1")
		}
	}

	return nil
}

// Validate checks that c is a valid point on Earth.
func (c Coordinates) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return NewValidationError("location.latitude", c.Latitude, nil, "latitude must be between -90 and 90")
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return NewValidationError("location.longitude", c.Longitude, nil, "longitude must be between -180 and 180")
	}
	return nil
}

// Validate checks array geometry and losses.
func (d SystemDesign) Validate() error {
	if math.IsNaN(d.TiltDegrees) || d.TiltDegrees < 0 || d.TiltDegrees > 90 {
		return NewValidationError("design.tilt_degrees", d.TiltDegrees, nil, "tilt must be between 0 and 90 degrees")
	}
	if math.IsNaN(d.AzimuthDegrees) || d.AzimuthDegrees < 0 || d.AzimuthDegrees >= 360 {
		return NewValidationError("design.azimuth_degrees", d.AzimuthDegrees, nil, "azimuth must be in [0, 360) degrees")
	}
	if math.IsNaN(d.SystemLossPercent) || d.SystemLossPercent < 0 || d.SystemLossPercent >= 100 {
		return NewValidationError("design.system_loss_percent", d.SystemLossPercent, nil, "system loss must be in [0, 100) percent")
	}
	if d.SystemSizeKWp != nil && !(*d.SystemSizeKWp > 0) {
		return NewValidationError("design.system_size_kwp", *d.SystemSizeKWp, nil, "system size must be positive")
	}
	return nil
}
