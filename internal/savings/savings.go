// Package savings turns energy yield and a tariff into avoided cost.
package savings

import (
	"fmt"
	"math"
	"time"

	"solar-platform/internal/models"
)

// NetMetering configures excess-generation credits. Compensation is the
// fraction of each exported kWh that comes back as credit.
type NetMetering struct {
	Enabled      bool
	Compensation float64
}

// Input is one year of yield plus the site's consumption. Yield starts at
// StartMonth; Consumption is in calendar order, index 0 being January, and is
// rotated to line up with Yield.
type Input struct {
	StartMonth        time.Month
	Yield             [12]float64
	Consumption       []float64
	AnnualConsumption *float64
	Rate              float64
	NetMetering       NetMetering
}

// Result is the monetary outcome of one year.
type Result struct {
	StartMonth      time.Month
	Monthly         [12]float64
	Annual          float64
	BaselineBill    float64
	Percent         float64
	CreditUsedKWh   float64
	CreditUnusedKWh float64
	Alerts          []models.Alert
	Assumptions     []models.Assumption
}

// MonthlyValues renders Monthly as calendar-tagged values.
func (r Result) MonthlyValues() []models.MonthlyValue {
	out := make([]models.MonthlyValue, 12)
	for i, v := range r.Monthly {
		out[i] = models.MonthlyValue{Month: models.MonthOffset(r.StartMonth, i), Value: v}
	}
	return out
}

// Calculate computes monthly savings as
//
//	(min(yield, consumption) + credit used) × rate
//
// An absent consumption history values all yield at the tariff. Zero
// consumption gives zero savings.
func Calculate(in Input) (Result, error) {
	if math.IsNaN(in.Rate) || math.IsInf(in.Rate, 0) || in.Rate < 0 {
		return Result{}, &models.ComputationError{Stage: "savings", Message: fmt.Sprintf("invalid tariff rate %v", in.Rate)}
	}
	for i, y := range in.Yield {
		if math.IsNaN(y) || y < 0 {
			return Result{}, &models.ComputationError{Stage: "savings", Message: fmt.Sprintf("invalid yield %v in month %d", y, i+1)}
		}
	}

	res := Result{StartMonth: in.StartMonth}

	consumption, known := monthlyConsumption(in, &res)
	if !known {
		var totalYield float64
		for i, y := range in.Yield {
			res.Monthly[i] = y * in.Rate
			res.Annual += res.Monthly[i]
			totalYield += y
		}
		res.BaselineBill = totalYield * in.Rate
		if res.BaselineBill > 0 {
			res.Percent = 100
		}
		res.Alerts = append(res.Alerts, models.Alert{
			Code:    models.AlertFullSelfConsumption,
			Message: "no consumption history supplied; all generated energy is assumed to be consumed on site",
		})
		res.Assumptions = append(res.Assumptions, models.Assumption{
			Code:        models.AssumptionSelfConsumption,
			Description: "savings computed against yield alone",
		})
		return res, nil
	}

	compensation := 0.0
	if in.NetMetering.Enabled {
		compensation = math.Max(0, math.Min(1, in.NetMetering.Compensation))
		res.Assumptions = append(res.Assumptions, models.Assumption{
			Code:        models.AssumptionNetMetering,
			Description: fmt.Sprintf("excess generation credited at %.0f%% and offset against later months of the same year", compensation*100),
		})
	}

	var bank, totalConsumption float64
	for i := 0; i < 12; i++ {
		y, c := in.Yield[i], consumption[i]
		totalConsumption += c

		self := math.Min(y, c)
		if y > c {
			bank += (y - c) * compensation
		}
		used := math.Min(bank, c-self)
		bank -= used
		res.CreditUsedKWh += used

		res.Monthly[i] = (self + used) * in.Rate
		res.Annual += res.Monthly[i]
	}
	res.CreditUnusedKWh = bank
	res.BaselineBill = totalConsumption * in.Rate
	if res.BaselineBill > 0 {
		res.Percent = res.Annual / res.BaselineBill * 100
	}

	if in.NetMetering.Enabled && bank > 0 {
		res.Alerts = append(res.Alerts, models.Alert{
			Code:    models.AlertUnusedNetMeteringCredit,
			Message: fmt.Sprintf("%.1f kWh of net metering credit is not offset within the year; the system may be oversized", bank),
		})
	}
	return res, nil
}

// monthlyConsumption returns the 12-month consumption the calculation uses
// and whether any consumption was supplied.
func monthlyConsumption(in Input, res *Result) ([12]float64, bool) {
	var out [12]float64
	if len(in.Consumption) == 12 {
		start := in.StartMonth
		if start < time.January || start > time.December {
			start = time.January
		}
		for i := range out {
			out[i] = in.Consumption[models.MonthOffset(start, i)-1]
		}
		return out, true
	}
	if in.AnnualConsumption != nil {
		for i := range out {
			out[i] = *in.AnnualConsumption / 12
		}
		res.Alerts = append(res.Alerts, models.Alert{
			Code:    models.AlertAnnualConsumptionOnly,
			Message: "only annual consumption supplied; monthly consumption assumed uniform",
		})
		res.Assumptions = append(res.Assumptions, models.Assumption{
			Code:        models.AssumptionUniformConsumption,
			Description: fmt.Sprintf("annual consumption %.0f kWh spread as %.1f kWh per month", *in.AnnualConsumption, *in.AnnualConsumption/12),
		})
		return out, true
	}
	return out, false
}
