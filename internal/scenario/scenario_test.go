package scenario

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solar-platform/internal/models"
)

func flatSavings(v float64) [12]float64 {
	var out [12]float64
	for i := range out {
		out[i] = v
	}
	return out
}

func intPtr(v int) *int { return &v }

var flatParams = Params{LifetimeYears: 25}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name        string
		evaluation  Evaluation
		params      Params
		checkValues func(*testing.T, models.ScenarioResult)
	}{
		{
			name:       "cash purchase pays back when savings cover capex",
			evaluation: Evaluation{Capex: 12000, MonthlySavings: flatSavings(200)},
			params:     flatParams,
			checkValues: func(t *testing.T, r models.ScenarioResult) {
				require.NotNil(t, r.PaybackMonths)
				assert.Equal(t, 60, *r.PaybackMonths)
				assert.InDelta(t, 5.0, *r.PaybackYears, 1e-12)
				assert.InDelta(t, 2400.0, r.AnnualSavings, 1e-9)
				assert.InDelta(t, 60000.0, r.LifetimeSavings, 1e-6)
				assert.InDelta(t, 12000.0, r.TotalOutflow, 1e-9)
				// (60000/12000)^(1/25) - 1
				assert.InDelta(t, 6.6494, r.AnnualizedROIPercent, 1e-3)
			},
		},
		{
			name:       "never reached within lifetime",
			evaluation: Evaluation{Capex: 100000, MonthlySavings: flatSavings(100)},
			params:     flatParams,
			checkValues: func(t *testing.T, r models.ScenarioResult) {
				assert.Nil(t, r.PaybackMonths)
				assert.Nil(t, r.PaybackYears)
				assert.Less(t, r.AnnualizedROIPercent, 0.0)
			},
		},
		{
			name:       "zero savings",
			evaluation: Evaluation{Capex: 1000},
			params:     flatParams,
			checkValues: func(t *testing.T, r models.ScenarioResult) {
				assert.Nil(t, r.PaybackMonths)
				assert.Equal(t, -100.0, r.AnnualizedROIPercent)
			},
		},
		{
			name:       "degradation delays payback",
			evaluation: Evaluation{Capex: 12000, MonthlySavings: flatSavings(200)},
			params:     Params{LifetimeYears: 25, DegradationPercent: 5},
			checkValues: func(t *testing.T, r models.ScenarioResult) {
				require.NotNil(t, r.PaybackMonths)
				assert.Greater(t, *r.PaybackMonths, 60)
			},
		},
		{
			name:       "escalation shortens payback",
			evaluation: Evaluation{Capex: 12000, MonthlySavings: flatSavings(200)},
			params:     Params{LifetimeYears: 25, TariffEscalationPercent: 10},
			checkValues: func(t *testing.T, r models.ScenarioResult) {
				require.NotNil(t, r.PaybackMonths)
				assert.Less(t, *r.PaybackMonths, 60)
			},
		},
		{
			name: "financed outflow follows installments",
			evaluation: Evaluation{
				Capex:          12000,
				MonthlySavings: flatSavings(150),
				Schedule:       schedule(10000, 100, 100),
			},
			params: flatParams,
			checkValues: func(t *testing.T, r models.ScenarioResult) {
				// 150m >= 2000 + 100m from month 40.
				require.NotNil(t, r.PaybackMonths)
				assert.Equal(t, 40, *r.PaybackMonths)
				assert.InDelta(t, 12000.0, r.TotalOutflow, 1e-9)
			},
		},
		{
			name: "installments past the lifetime count as outflow",
			evaluation: Evaluation{
				Capex:          5000,
				MonthlySavings: flatSavings(10),
				Schedule:       schedule(5000, 50, 24),
			},
			params: Params{LifetimeYears: 1},
			checkValues: func(t *testing.T, r models.ScenarioResult) {
				assert.InDelta(t, 1200.0, r.TotalOutflow, 1e-9)
				assert.Nil(t, r.PaybackMonths)
			},
		},
		{
			name: "unfinanced capex is paid up front",
			evaluation: Evaluation{
				Capex:          30000,
				MonthlySavings: flatSavings(200),
				Schedule:       schedule(1000, 100, 12),
			},
			params: flatParams,
			checkValues: func(t *testing.T, r models.ScenarioResult) {
				// 29000 up front plus 1200 in installments.
				require.NotNil(t, r.PaybackMonths)
				assert.Equal(t, 151, *r.PaybackMonths)
				assert.InDelta(t, 30200.0, r.TotalOutflow, 1e-9)
			},
		},
		{
			name: "financing above capex has no up-front payment",
			evaluation: Evaluation{
				Capex:          10000,
				MonthlySavings: flatSavings(300),
				Schedule:       schedule(12000, 250, 48),
			},
			params: flatParams,
			checkValues: func(t *testing.T, r models.ScenarioResult) {
				require.NotNil(t, r.PaybackMonths)
				assert.Equal(t, 1, *r.PaybackMonths)
				assert.InDelta(t, 12000.0, r.TotalOutflow, 1e-9)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Evaluate(tt.evaluation, tt.params)
			require.NoError(t, err)
			tt.checkValues(t, r)
		})
	}
}

// schedule builds a flat schedule of n payments over a financed amount.
func schedule(financed, payment float64, n int) *models.AmortizationSchedule {
	s := &models.AmortizationSchedule{FinancedAmount: decimal.NewFromFloat(financed)}
	for i := 1; i <= n; i++ {
		s.Installments = append(s.Installments, models.Installment{Period: i, Payment: decimal.NewFromFloat(payment)})
	}
	return s
}

func TestEvaluate_Errors(t *testing.T) {
	_, err := Evaluate(Evaluation{Capex: 0}, flatParams)
	assert.Equal(t, models.KindComputationError, models.KindOf(err))

	_, err = Evaluate(Evaluation{Capex: 100}, Params{LifetimeYears: 0})
	assert.Equal(t, models.KindComputationError, models.KindOf(err))

	_, err = Evaluate(Evaluation{Capex: 100}, Params{LifetimeYears: 10, DegradationPercent: 100})
	assert.Error(t, err)
}

func TestRank(t *testing.T) {
	results := []models.ScenarioResult{
		{Factor: 1.5, PaybackMonths: nil, AnnualizedROIPercent: 20},
		{Factor: 1.2, PaybackMonths: intPtr(70), AnnualizedROIPercent: 8},
		{Factor: 1.0, PaybackMonths: intPtr(70), AnnualizedROIPercent: 9},
		{Factor: 1.1, PaybackMonths: intPtr(64), AnnualizedROIPercent: 5},
		{Factor: 1.3, PaybackMonths: intPtr(70), AnnualizedROIPercent: 9},
		{Factor: 1.4, PaybackMonths: nil, AnnualizedROIPercent: 20},
	}
	Rank(results)

	factors := make([]float64, len(results))
	for i, r := range results {
		factors[i] = r.Factor
	}
	assert.Equal(t, []float64{1.1, 1.0, 1.3, 1.2, 1.4, 1.5}, factors)
}

func TestExplore(t *testing.T) {
	var calls atomic.Int32
	run := func(ctx context.Context, factor float64) (Evaluation, error) {
		calls.Add(1)
		return Evaluation{
			SystemSizeKWp:  5 * factor,
			Capex:          10000 * factor,
			MonthlySavings: flatSavings(200),
		}, nil
	}

	results, err := Explore(context.Background(), []float64{1.5, 1, 1.25}, flatParams, run)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.EqualValues(t, 3, calls.Load())

	// Same savings, so the smallest system pays back first.
	assert.Equal(t, 1.0, results[0].Factor)
	assert.Equal(t, 1.25, results[1].Factor)
	assert.Equal(t, 1.5, results[2].Factor)
	assert.InDelta(t, 7.5, results[2].SystemSizeKWp, 1e-12)
}

func TestExplore_PropagatesFailure(t *testing.T) {
	boom := errors.New("boom")
	run := func(ctx context.Context, factor float64) (Evaluation, error) {
		if factor == 2 {
			return Evaluation{}, boom
		}
		return Evaluation{Capex: 1, MonthlySavings: flatSavings(1)}, nil
	}

	_, err := Explore(context.Background(), []float64{1, 2, 3}, flatParams, run)
	assert.ErrorIs(t, err, boom)
}

func TestExplore_Empty(t *testing.T) {
	results, err := Explore(context.Background(), nil, flatParams, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
