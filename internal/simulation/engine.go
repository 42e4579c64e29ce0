// Package simulation runs one site through climate, production, tariff,
// savings, financing and scenario stages and assembles the result.
package simulation

import (
	"context"
	"fmt"
	"math"
	"time"

	"solar-platform/internal/climate"
	"solar-platform/internal/config"
	"solar-platform/internal/models"
	"solar-platform/internal/production"
	"solar-platform/internal/savings"
	"solar-platform/internal/scenario"
	"solar-platform/internal/tariff"
	"solar-platform/pkg/logging"
)

// TariffResolver returns the tariff a site is billed under, with defaults
// already applied.
type TariffResolver interface {
	ResolveWithDefaults(ctx context.Context, key models.TariffKey) (tariff.Resolution, error)
}

// ScheduleBuilder turns a proposal into an amortization schedule.
type ScheduleBuilder interface {
	Schedule(p models.FinancingProposal) (*models.AmortizationSchedule, []models.Assumption, error)
}

// Options are the physical and economic assumptions of the engine.
type Options struct {
	ReferenceYear   int
	Equipment       production.EquipmentSpec
	TempCoefficient float64
	CellTempOffsetC float64
	CapexPerKWp     float64
	NetMetering     savings.NetMetering
	Projection      scenario.Params
	ScenarioTimeout time.Duration
	// Now supplies the as-of date for tariff lookups.
	Now func() time.Time
}

// OptionsFromConfig maps configuration onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	s := cfg.Simulation
	return Options{
		ReferenceYear: cfg.Climate.ReferenceYear,
		Equipment: production.EquipmentSpec{
			ModulePowerW:      s.ModulePowerW,
			ModuleAreaM2:      s.ModuleAreaM2,
			InverterKW:        s.InverterKW,
			InverterDCACRatio: s.InverterDCACRatio,
		},
		TempCoefficient: s.TempCoefficient,
		CellTempOffsetC: s.CellTempOffsetC,
		CapexPerKWp:     s.CapexPerKWp,
		NetMetering: savings.NetMetering{
			Enabled:      s.NetMeteringEnabled,
			Compensation: s.NetMeteringCompensation,
		},
		Projection: scenario.Params{
			LifetimeYears:           s.LifetimeYears,
			DegradationPercent:      s.DegradationPercent,
			TariffEscalationPercent: s.TariffEscalationPercent,
		},
		ScenarioTimeout: s.ScenarioTimeout,
		Now:             time.Now,
	}
}

// Engine orchestrates the simulation stages. Stages of one run are
// sequential; oversizing scenarios run concurrently and share only
// read-only state.
type Engine struct {
	climate   climate.Provider
	tariffs   TariffResolver
	financing ScheduleBuilder
	opts      Options
	logger    *logging.StructuredLogger
}

// NewEngine creates an engine.
func NewEngine(climateProvider climate.Provider, tariffs TariffResolver, financing ScheduleBuilder, opts Options, logger *logging.StructuredLogger) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReferenceYear == 0 {
		opts.ReferenceYear = opts.Now().Year() - 1
	}
	if opts.TempCoefficient == 0 {
		opts.TempCoefficient = production.DefaultTempCoefficient
	}
	if opts.CellTempOffsetC == 0 {
		opts.CellTempOffsetC = production.DefaultCellTempOffsetC
	}
	return &Engine{
		climate:   climateProvider,
		tariffs:   tariffs,
		financing: financing,
		opts:      opts,
		logger:    logger,
	}
}

// site is the per-request state shared by every scenario of a run.
type site struct {
	input      models.SimulationInput
	series     models.IrradianceSeries
	tariff     tariff.Resolution
	baseSizeKW float64
}

// outcome is one system size evaluated through production, savings and
// financing.
type outcome struct {
	sizeKWp     float64
	yield       production.Yield
	equipment   production.Equipment
	savings     savings.Result
	capex       float64
	schedule    *models.AmortizationSchedule
	assumptions []models.Assumption
}

func (o *outcome) evaluation(factor float64) scenario.Evaluation {
	return scenario.Evaluation{
		Factor:         factor,
		SystemSizeKWp:  o.sizeKWp,
		ModuleCount:    o.equipment.Modules,
		AnnualYieldKWh: o.yield.Annual,
		MonthlySavings: o.savings.Monthly,
		Capex:          o.capex,
		Schedule:       o.schedule,
	}
}

// Run simulates in. Equal inputs against equal source data give equal
// results.
func (e *Engine) Run(ctx context.Context, in models.SimulationInput) (*models.SimulationResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if _, ok := in.AnnualConsumption(); !ok && in.Design.SystemSizeKWp == nil {
		return nil, models.NewValidationError("design.system_size_kwp", nil, nil,
			"system size is required when no consumption is supplied")
	}

	var (
		alerts      []models.Alert
		assumptions []models.Assumption
	)

	period := models.CalendarYear(e.opts.ReferenceYear)
	if in.ClimatePeriod != nil {
		period = *in.ClimatePeriod
	} else {
		assumptions = append(assumptions, models.Assumption{
			Code:        models.AssumptionClimatePeriod,
			Description: fmt.Sprintf("climate data for reference year %d", e.opts.ReferenceYear),
		})
	}

	rec, err := e.climate.Fetch(ctx, climate.Query{Location: in.Location, Range: period})
	if err != nil {
		return nil, e.fail(ctx, in, "climate", err)
	}
	if rec.Degraded {
		alerts = append(alerts, models.Alert{
			Code:    models.AlertClimateFallback,
			Message: fmt.Sprintf("primary climate source unavailable; irradiance estimated by %s", rec.Source),
		})
	}

	series, err := climate.Normalize(rec, period.Start.Month())
	if err != nil {
		return nil, e.fail(ctx, in, "climate", err)
	}
	if series.Distribution == models.DistributionAnnualUniform {
		alerts = append(alerts, models.Alert{
			Code:    models.AlertAnnualClimateOnly,
			Message: "climate source returned only an annual aggregate; monthly yield is uniform",
		})
	}

	st := &site{input: in, series: series}

	st.baseSizeKW, err = e.baseSize(st, &assumptions)
	if err != nil {
		return nil, e.fail(ctx, in, "production", err)
	}

	key := models.NewTariffKey(in.Tariff, e.opts.Now())
	st.tariff, err = e.tariffs.ResolveWithDefaults(ctx, key)
	if err != nil {
		return nil, e.fail(ctx, in, "tariff", err)
	}
	alerts = append(alerts, st.tariff.Alerts...)

	base, err := e.evaluate(st, 1)
	if err != nil {
		return nil, e.fail(ctx, in, "evaluate", err)
	}
	alerts = append(alerts, base.savings.Alerts...)
	assumptions = append(assumptions, base.assumptions...)
	if base.schedule != nil {
		requested := base.schedule.Proposal.RequestedAmount.InexactFloat64()
		if math.Abs(requested-base.capex) >= 0.01 {
			alerts = append(alerts, models.Alert{
				Code: models.AlertFinancingCapexMismatch,
				Message: fmt.Sprintf("requested amount %.2f differs from capex %.2f; %.2f is paid up front",
					requested, base.capex, math.Max(base.capex-base.schedule.FinancedAmount.InexactFloat64(), 0)),
			})
		}
	}

	baseScenario, err := scenario.Evaluate(base.evaluation(1), e.opts.Projection)
	if err != nil {
		return nil, e.fail(ctx, in, "scenario", err)
	}
	if baseScenario.PaybackMonths == nil {
		alerts = append(alerts, models.Alert{
			Code:    models.AlertPaybackNotReached,
			Message: fmt.Sprintf("cumulative savings do not cover the outflow within %d years", e.opts.Projection.LifetimeYears),
		})
	}
	assumptions = append(assumptions, models.Assumption{
		Code: models.AssumptionLifetime,
		Description: fmt.Sprintf("%d-year lifetime, %.2f%%/yr degradation, %.2f%%/yr tariff escalation",
			e.opts.Projection.LifetimeYears, e.opts.Projection.DegradationPercent, e.opts.Projection.TariffEscalationPercent),
	})

	scenarios, err := e.scenarios(ctx, st, baseScenario)
	if err != nil {
		return nil, e.fail(ctx, in, "scenario", err)
	}

	result := &models.SimulationResult{
		QuoteID:              in.QuoteID,
		SystemSizeKWp:        base.sizeKWp,
		ModuleCount:          base.equipment.Modules,
		InverterCount:        base.equipment.Inverters,
		CoveredAreaM2:        base.equipment.CoveredAreaM2,
		SystemLossPercent:    in.Design.SystemLossPercent,
		MonthlyYieldKWh:      base.yield.MonthlyValues(),
		YieldDistribution:    base.yield.Distribution,
		AnnualYieldKWh:       base.yield.Annual,
		SpecificYield:        base.yield.SpecificYield,
		MonthlySavings:       base.savings.MonthlyValues(),
		AnnualSavings:        base.savings.Annual,
		SavingsPercent:       base.savings.Percent,
		Capex:                base.capex,
		Financing:            base.schedule,
		PaybackMonths:        baseScenario.PaybackMonths,
		PaybackYears:         baseScenario.PaybackYears,
		AnnualizedROIPercent: baseScenario.AnnualizedROIPercent,
		LifetimeSavings:      baseScenario.LifetimeSavings,
		ClimateSource: models.Provenance{
			Source:   rec.Source,
			AsOf:     rec.FetchedAt,
			Degraded: rec.Degraded,
		},
		TariffSource: st.tariff.Provenance,
		Alerts:       nonNilAlerts(alerts),
		Assumptions:  nonNilAssumptions(assumptions),
		Scenarios:    scenarios,
	}
	return result, nil
}

// baseSize returns the size hint, or the minimum size covering annual
// consumption.
func (e *Engine) baseSize(st *site, assumptions *[]models.Assumption) (float64, error) {
	in := st.input
	if in.Design.SystemSizeKWp != nil {
		return *in.Design.SystemSizeKWp, nil
	}

	annual, _ := in.AnnualConsumption()

	unit, err := production.Estimate(st.series, e.params(in, 1))
	if err != nil {
		return 0, err
	}
	size, modules, err := production.InferSize(annual, unit.SpecificYield, e.opts.Equipment.ModulePowerW)
	if err != nil {
		return 0, err
	}
	*assumptions = append(*assumptions, models.Assumption{
		Code: models.AssumptionSizeInferred,
		Description: fmt.Sprintf("%.0f kWh/yr at %.1f kWh/kWp needs %d modules of %.0f W (%.2f kWp)",
			annual, unit.SpecificYield, modules, e.opts.Equipment.ModulePowerW, size),
	})
	return size, nil
}

func (e *Engine) params(in models.SimulationInput, size float64) production.Params {
	p := production.ParamsFor(in.Location.Latitude, in.Design, size)
	p.TempCoefficient = e.opts.TempCoefficient
	p.CellTempOffsetC = e.opts.CellTempOffsetC
	return p
}

// evaluate runs production, savings and financing for the base size scaled
// by factor. It reads st but never writes it.
func (e *Engine) evaluate(st *site, factor float64) (*outcome, error) {
	in := st.input
	o := &outcome{sizeKWp: st.baseSizeKW * factor}

	var err error
	o.yield, err = production.Estimate(st.series, e.params(in, o.sizeKWp))
	if err != nil {
		return nil, err
	}
	o.assumptions = append(o.assumptions, o.yield.Assumptions...)

	o.equipment, err = production.EquipmentFor(o.sizeKWp, e.opts.Equipment)
	if err != nil {
		return nil, err
	}

	o.savings, err = savings.Calculate(savings.Input{
		StartMonth:        st.series.StartMonth,
		Yield:             o.yield.Monthly,
		Consumption:       in.ConsumptionHistory,
		AnnualConsumption: in.AnnualConsumptionKWh,
		Rate:              st.tariff.Combined,
		NetMetering:       e.opts.NetMetering,
	})
	if err != nil {
		return nil, err
	}
	o.assumptions = append(o.assumptions, o.savings.Assumptions...)

	if in.CapexOverride != nil {
		o.capex = *in.CapexOverride * factor
	} else {
		o.capex = o.sizeKWp * e.opts.CapexPerKWp
		o.assumptions = append(o.assumptions, models.Assumption{
			Code:        models.AssumptionCapexEstimated,
			Description: fmt.Sprintf("capex estimated at %.2f per kWp", e.opts.CapexPerKWp),
		})
	}
	if math.IsNaN(o.capex) || !(o.capex > 0) {
		return nil, &models.ComputationError{Stage: "capex", Message: fmt.Sprintf("capex %v is not positive", o.capex)}
	}

	if in.Financing != nil {
		proposal := *in.Financing
		if factor != 1 {
			proposal = proposal.Scaled(factor)
		}
		schedule, financingAssumptions, err := e.financing.Schedule(proposal)
		if err != nil {
			return nil, err
		}
		o.schedule = schedule
		o.assumptions = append(o.assumptions, financingAssumptions...)
	}
	return o, nil
}

// scenarios evaluates the oversizing factors next to the base result and
// ranks them. No factors means no scenarios.
func (e *Engine) scenarios(ctx context.Context, st *site, base models.ScenarioResult) ([]models.ScenarioResult, error) {
	factors := make([]float64, 0, len(st.input.OversizingFactors))
	seen := map[float64]bool{1: true}
	for _, f := range st.input.OversizingFactors {
		if !seen[f] {
			seen[f] = true
			factors = append(factors, f)
		}
	}
	if len(st.input.OversizingFactors) == 0 {
		return nil, nil
	}

	if e.opts.ScenarioTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.ScenarioTimeout)
		defer cancel()
	}

	results, err := scenario.Explore(ctx, factors, e.opts.Projection, func(ctx context.Context, factor float64) (scenario.Evaluation, error) {
		o, err := e.evaluate(st, factor)
		if err != nil {
			return scenario.Evaluation{}, err
		}
		return o.evaluation(factor), nil
	})
	if err != nil {
		return nil, err
	}

	base.Factor = 1
	results = append(results, base)
	scenario.Rank(results)
	return results, nil
}

// fail logs err with the input that caused it and returns it unchanged.
func (e *Engine) fail(ctx context.Context, in models.SimulationInput, stage string, err error) error {
	fields := logging.Fields{
		"stage":       stage,
		"quote_id":    in.QuoteID,
		"latitude":    in.Location.Latitude,
		"longitude":   in.Location.Longitude,
		"distributor": in.Tariff.Distributor,
		"class":       in.Tariff.Class,
		"error_kind":  string(models.KindOf(err)),
	}
	switch models.KindOf(err) {
	case models.KindComputationError:
		fields["input"] = in
		e.logger.Error(ctx, "[SIMULATION_COMPUTATION_ERROR] Simulation stage failed", fields, err)
	case models.KindDataUnavailable:
		e.logger.Warn(ctx, "[SIMULATION_DATA_UNAVAILABLE] External data unavailable", fields)
	default:
		e.logger.Debug(ctx, "[SIMULATION_REJECTED] Simulation input rejected", fields)
	}
	return err
}

func nonNilAlerts(a []models.Alert) []models.Alert {
	if a == nil {
		return []models.Alert{}
	}
	return a
}

func nonNilAssumptions(a []models.Assumption) []models.Assumption {
	if a == nil {
		return []models.Assumption{}
	}
	return a
}
