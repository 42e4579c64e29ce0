package models

import (
	"time"
)

// Coordinates is a point on Earth in decimal degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// SystemDesign holds the PV array parameters chosen by the designer.
// Azimuth is measured clockwise from true north (0=N, 90=E, 180=S).
type SystemDesign struct {
	TiltDegrees       float64  `json:"tilt_degrees"`
	AzimuthDegrees    float64  `json:"azimuth_degrees"`
	SystemLossPercent float64  `json:"system_loss_percent"`
	SystemSizeKWp     *float64 `json:"system_size_kwp,omitempty"`
}

// TariffClassification identifies the utility tariff a site is billed under.
type TariffClassification struct {
	Distributor string `json:"distributor"`
	Class       string `json:"class"`
}

// DateRange is a closed range of calendar months. Only year and month are
// significant.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Months returns the number of calendar months covered, inclusive.
func (r DateRange) Months() int {
	return (r.End.Year()-r.Start.Year())*12 + int(r.End.Month()) - int(r.Start.Month()) + 1
}

// CalendarYear returns the January..December range of year.
func CalendarYear(year int) DateRange {
	return DateRange{
		Start: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(year, time.December, 1, 0, 0, 0, 0, time.UTC),
	}
}

// SimulationInput is everything the engine needs for one site. Consumption
// history, when present, is in calendar order, index 0 being January,
// whatever month the climate period starts in.
type SimulationInput struct {
	QuoteID              string               `json:"quote_id,omitempty"`
	Location             Coordinates          `json:"location"`
	ConsumptionHistory   []float64            `json:"consumption_history_kwh,omitempty"`
	AnnualConsumptionKWh *float64             `json:"annual_consumption_kwh,omitempty"`
	Design               SystemDesign         `json:"design"`
	Tariff               TariffClassification `json:"tariff"`
	ClimatePeriod        *DateRange           `json:"climate_period,omitempty"`
	CapexOverride        *float64             `json:"capex,omitempty"`
	Financing            *FinancingProposal   `json:"financing,omitempty"`
	OversizingFactors    []float64            `json:"oversizing_factors,omitempty"`
}

// HasMonthlyConsumption reports whether a 12-month history was provided.
func (in SimulationInput) HasMonthlyConsumption() bool {
	return len(in.ConsumptionHistory) == 12
}

// AnnualConsumption returns the annual consumption and whether any
// consumption information was supplied.
func (in SimulationInput) AnnualConsumption() (float64, bool) {
	if in.HasMonthlyConsumption() {
		var total float64
		for _, v := range in.ConsumptionHistory {
			total += v
		}
		return total, true
	}
	if in.AnnualConsumptionKWh != nil {
		return *in.AnnualConsumptionKWh, true
	}
	return 0, false
}

// MonthlyValue is one entry of a 12-month series.
type MonthlyValue struct {
	Month time.Month `json:"month"`
	Value float64    `json:"value"`
}

// Distribution tells how a 12-month series was obtained.
type Distribution string

const (
	DistributionMonthly       Distribution = "monthly"
	DistributionAnnualUniform Distribution = "annual_uniform"
)

// Alert codes attached to a SimulationResult.
const (
	AlertTariffDefaultApplied    = "tariff_default_applied"
	AlertTariffPartial           = "tariff_partially_resolved"
	AlertFullSelfConsumption     = "full_self_consumption"
	AlertClimateFallback         = "climate_fallback_source"
	AlertPaybackNotReached       = "payback_not_reached"
	AlertAnnualClimateOnly       = "annual_climate_only"
	AlertAnnualConsumptionOnly   = "annual_consumption_only"
	AlertUnusedNetMeteringCredit = "unused_net_metering_credit"
	AlertFinancingCapexMismatch  = "financing_capex_mismatch"
)

// Assumption codes attached to a SimulationResult.
const (
	AssumptionSizeInferred          = "system_size_inferred"
	AssumptionNoTemperatureDerating = "no_temperature_derating"
	AssumptionUniformIrradiance     = "uniform_irradiance"
	AssumptionUniformConsumption    = "uniform_consumption"
	AssumptionSelfConsumption       = "full_self_consumption"
	AssumptionCapexEstimated        = "capex_estimated"
	AssumptionDefaultRate           = "default_financing_rate"
	AssumptionRateBasis             = "monthly_rate_basis"
	AssumptionNetMetering           = "net_metering"
	AssumptionLifetime              = "lifetime_projection"
	AssumptionClimatePeriod         = "climate_period"
)

// Alert is a condition the caller should surface next to the result.
type Alert struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Assumption is a modeling choice the engine applied on the caller's behalf.
type Assumption struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Provenance identifies where a piece of external data came from.
type Provenance struct {
	Source    string    `json:"source"`
	SourceURL string    `json:"source_url,omitempty"`
	AsOf      time.Time `json:"as_of"`
	Degraded  bool      `json:"degraded,omitempty"`
}

// ScenarioResult is one evaluated system size.
type ScenarioResult struct {
	Factor               float64  `json:"factor"`
	SystemSizeKWp        float64  `json:"system_size_kwp"`
	ModuleCount          int      `json:"module_count"`
	AnnualYieldKWh       float64  `json:"annual_yield_kwh"`
	AnnualSavings        float64  `json:"annual_savings"`
	Capex                float64  `json:"capex"`
	PaybackMonths        *int     `json:"payback_months,omitempty"`
	PaybackYears         *float64 `json:"payback_years,omitempty"`
	AnnualizedROIPercent float64  `json:"annualized_roi_percent"`
	LifetimeSavings      float64  `json:"lifetime_savings"`
	TotalOutflow         float64  `json:"total_outflow"`
}

// SimulationResult is the terminal output of the engine. It carries no
// identity or timestamps of its own so equal inputs give equal results.
type SimulationResult struct {
	QuoteID              string                `json:"quote_id,omitempty"`
	SystemSizeKWp        float64               `json:"system_size_kwp"`
	ModuleCount          int                   `json:"module_count"`
	InverterCount        int                   `json:"inverter_count"`
	CoveredAreaM2        float64               `json:"covered_area_m2"`
	SystemLossPercent    float64               `json:"system_loss_percent"`
	MonthlyYieldKWh      []MonthlyValue        `json:"monthly_yield_kwh"`
	YieldDistribution    Distribution          `json:"yield_distribution"`
	AnnualYieldKWh       float64               `json:"annual_yield_kwh"`
	SpecificYield        float64               `json:"specific_yield_kwh_per_kwp"`
	MonthlySavings       []MonthlyValue        `json:"monthly_savings"`
	AnnualSavings        float64               `json:"annual_savings"`
	SavingsPercent       float64               `json:"savings_percent"`
	Capex                float64               `json:"capex"`
	Financing            *AmortizationSchedule `json:"financing,omitempty"`
	PaybackMonths        *int                  `json:"payback_months,omitempty"`
	PaybackYears         *float64              `json:"payback_years,omitempty"`
	AnnualizedROIPercent float64               `json:"annualized_roi_percent"`
	LifetimeSavings      float64               `json:"lifetime_savings"`
	ClimateSource        Provenance            `json:"climate_source"`
	TariffSource         Provenance            `json:"tariff_source"`
	Alerts               []Alert               `json:"alerts"`
	Assumptions          []Assumption          `json:"assumptions"`
	Scenarios            []ScenarioResult      `json:"scenarios,omitempty"`
}

// SimulationRecord is a stored simulation result with its identity.
type SimulationRecord struct {
	ID        string            `json:"id"`
	QuoteID   string            `json:"quote_id,omitempty"`
	Input     SimulationInput   `json:"input"`
	Result    *SimulationResult `json:"result"`
	CreatedAt time.Time         `json:"created_at"`
}

// QuoteSummary aggregates the stored simulations of one quote.
type QuoteSummary struct {
	QuoteID            string     `json:"quote_id" db:"quote_id"`
	SimulationCount    int        `json:"simulation_count" db:"simulation_count"`
	BestPaybackMonths  *int       `json:"best_payback_months,omitempty" db:"best_payback_months"`
	BestROIPercent     *float64   `json:"best_roi_percent,omitempty" db:"best_roi_percent"`
	AvgAnnualSavings   *float64   `json:"avg_annual_savings,omitempty" db:"avg_annual_savings"`
	LatestSimulationAt *time.Time `json:"latest_simulation_at,omitempty" db:"latest_simulation_at"`
}
