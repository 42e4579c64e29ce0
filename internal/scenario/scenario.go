// Package scenario projects savings over the system lifetime, derives
// payback and ROI, and ranks oversizing alternatives.
package scenario

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"solar-platform/internal/models"
)

// Params control the lifetime projection.
type Params struct {
	LifetimeYears           int
	DegradationPercent      float64
	TariffEscalationPercent float64
}

// Validate rejects projections that cannot be computed.
func (p Params) Validate() error {
	if p.LifetimeYears <= 0 {
		return &models.ComputationError{Stage: "scenario", Message: fmt.Sprintf("lifetime must be positive, got %d", p.LifetimeYears)}
	}
	if p.DegradationPercent < 0 || p.DegradationPercent >= 100 {
		return &models.ComputationError{Stage: "scenario", Message: fmt.Sprintf("degradation %.2f%% out of range", p.DegradationPercent)}
	}
	if p.TariffEscalationPercent <= -100 {
		return &models.ComputationError{Stage: "scenario", Message: fmt.Sprintf("tariff escalation %.2f%% out of range", p.TariffEscalationPercent)}
	}
	return nil
}

// Evaluation is the first-year outcome of one system size, ready to be
// projected. Schedule is nil for a cash purchase.
type Evaluation struct {
	Factor         float64
	SystemSizeKWp  float64
	ModuleCount    int
	AnnualYieldKWh float64
	MonthlySavings [12]float64
	Capex          float64
	Schedule       *models.AmortizationSchedule
}

// Evaluate projects e over the lifetime. Savings in year y are scaled by
// (1-degradation)^y·(1+escalation)^y. Payback is the first month whose
// cumulative savings cover cumulative outflow; it stays nil when that
// never happens within the lifetime. With a schedule, the part of CAPEX
// not financed is paid up front and installments follow.
func Evaluate(e Evaluation, p Params) (models.ScenarioResult, error) {
	if err := p.Validate(); err != nil {
		return models.ScenarioResult{}, err
	}
	if math.IsNaN(e.Capex) || e.Capex <= 0 {
		return models.ScenarioResult{}, &models.ComputationError{Stage: "scenario", Message: fmt.Sprintf("capex must be positive, got %v", e.Capex)}
	}

	res := models.ScenarioResult{
		Factor:         e.Factor,
		SystemSizeKWp:  e.SystemSizeKWp,
		ModuleCount:    e.ModuleCount,
		AnnualYieldKWh: e.AnnualYieldKWh,
		Capex:          e.Capex,
	}
	for _, v := range e.MonthlySavings {
		res.AnnualSavings += v
	}

	outflow := e.Capex
	if e.Schedule != nil {
		outflow = math.Max(e.Capex-e.Schedule.FinancedAmount.InexactFloat64(), 0)
	}

	degradation := 1 - p.DegradationPercent/100
	escalation := 1 + p.TariffEscalationPercent/100

	var cumulative float64
	months := p.LifetimeYears * 12
	for m := 1; m <= months; m++ {
		year := (m - 1) / 12
		factor := math.Pow(degradation, float64(year)) * math.Pow(escalation, float64(year))
		cumulative += e.MonthlySavings[(m-1)%12] * factor
		if e.Schedule != nil {
			outflow += e.Schedule.PaymentAt(m).InexactFloat64()
		}
		if res.PaybackMonths == nil && cumulative > 0 && cumulative >= outflow {
			month := m
			years := float64(m) / 12
			res.PaybackMonths = &month
			res.PaybackYears = &years
		}
	}
	// Installments beyond the lifetime still count as outflow.
	if e.Schedule != nil {
		for m := months + 1; m <= len(e.Schedule.Installments); m++ {
			outflow += e.Schedule.PaymentAt(m).InexactFloat64()
		}
	}

	res.LifetimeSavings = cumulative
	res.TotalOutflow = outflow
	res.AnnualizedROIPercent = AnnualizedROI(cumulative, e.Capex, p.LifetimeYears)

	if math.IsNaN(res.LifetimeSavings) || math.IsNaN(res.AnnualizedROIPercent) || math.IsInf(res.AnnualizedROIPercent, 0) {
		return models.ScenarioResult{}, &models.ComputationError{Stage: "scenario", Message: "projection produced a non-finite value"}
	}
	return res, nil
}

// AnnualizedROI returns ((lifetime/capex)^(1/years) - 1) in percent.
func AnnualizedROI(lifetimeSavings, capex float64, years int) float64 {
	if capex <= 0 || years <= 0 {
		return 0
	}
	if lifetimeSavings <= 0 {
		return -100
	}
	return (math.Pow(lifetimeSavings/capex, 1/float64(years)) - 1) * 100
}

// Runner evaluates the system scaled by factor.
type Runner func(ctx context.Context, factor float64) (Evaluation, error)

// Explore evaluates every factor concurrently and returns the ranked
// results. The first failure cancels the remaining runs.
func Explore(ctx context.Context, factors []float64, p Params, run Runner) ([]models.ScenarioResult, error) {
	if len(factors) == 0 {
		return nil, nil
	}

	results := make([]models.ScenarioResult, len(factors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i, factor := range factors {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ev, err := run(gctx, factor)
			if err != nil {
				return fmt.Errorf("scenario x%.2f: %w", factor, err)
			}
			ev.Factor = factor
			res, err := Evaluate(ev, p)
			if err != nil {
				return fmt.Errorf("scenario x%.2f: %w", factor, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	Rank(results)
	return results, nil
}

// Rank orders results by payback ascending with never-paid-back last, then
// ROI descending, then factor ascending.
func Rank(results []models.ScenarioResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		switch {
		case a.PaybackMonths != nil && b.PaybackMonths == nil:
			return true
		case a.PaybackMonths == nil && b.PaybackMonths != nil:
			return false
		case a.PaybackMonths != nil && *a.PaybackMonths != *b.PaybackMonths:
			return *a.PaybackMonths < *b.PaybackMonths
		}
		if a.AnnualizedROIPercent != b.AnnualizedROIPercent {
			return a.AnnualizedROIPercent > b.AnnualizedROIPercent
		}
		return a.Factor < b.Factor
	})
}
