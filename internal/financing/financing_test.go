package financing

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solar-platform/internal/models"
)

func testEngine() *Engine {
	return NewEngine(Config{
		RateBasis:     models.RateNominal,
		DefaultSystem: models.SystemPRICE,
		DefaultRates: map[models.Modality]float64{
			models.ModalityRevolvingCredit:  0.24,
			models.ModalityLease:            0.18,
			models.ModalityEnergyAsAService: 0.15,
		},
	})
}

func proposal(amount, down float64, term int, system models.AmortizationSystem, rate *float64) models.FinancingProposal {
	return models.FinancingProposal{
		Modality:        models.ModalityRevolvingCredit,
		RequestedAmount: decimal.NewFromFloat(amount),
		DownPayment:     decimal.NewFromFloat(down),
		TermMonths:      term,
		System:          system,
		AnnualRate:      rate,
	}
}

func ratePtr(v float64) *float64 { return &v }

func TestSchedule_PriceReference(t *testing.T) {
	s, _, err := testEngine().Schedule(proposal(100000, 0, 12, models.SystemPRICE, ratePtr(0.12)))
	require.NoError(t, err)
	require.Len(t, s.Installments, 12)

	first := s.Installments[0]
	assert.Equal(t, "8884.88", first.Payment.StringFixed(2))
	assert.Equal(t, "1000.00", first.Interest.StringFixed(2))
	assert.Equal(t, "7884.88", first.Principal.StringFixed(2))

	// Installments are quoted in cents; the last one absorbs the residual.
	last := s.Installments[11]
	assert.True(t, last.ClosingBalance.IsZero(), "closing balance %s", last.ClosingBalance)
	assert.Equal(t, "8884.85", last.Payment.StringFixed(2))
	assert.Equal(t, "87.97", last.Interest.StringFixed(2))
	assert.True(t, s.TotalPrincipal.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, "6618.53", s.TotalInterest.StringFixed(2))

	for _, in := range s.Installments {
		assert.True(t, in.Payment.Equal(in.Payment.Round(2)), "period %d payment %s", in.Period, in.Payment)
		assert.True(t, in.Interest.Equal(in.Interest.Round(2)), "period %d interest %s", in.Period, in.Interest)
	}
}

func TestSchedule_Invariants(t *testing.T) {
	tests := []struct {
		name        string
		proposal    models.FinancingProposal
		checkValues func(*testing.T, *models.AmortizationSchedule)
	}{
		{
			name:     "price installment is constant and interest decreases",
			proposal: proposal(35000, 5000, 60, models.SystemPRICE, ratePtr(0.18)),
			checkValues: func(t *testing.T, s *models.AmortizationSchedule) {
				require.Len(t, s.Installments, 60)
				payment := s.Installments[0].Payment
				for i, in := range s.Installments {
					if i < len(s.Installments)-1 {
						assert.True(t, in.Payment.Equal(payment), "period %d", in.Period)
					}
					if i > 0 {
						assert.True(t, in.Interest.LessThanOrEqual(s.Installments[i-1].Interest), "period %d", in.Period)
					}
				}
				assert.Equal(t, "761.80", payment.StringFixed(2))
				// Cent rounding residual carried into the last installment.
				assert.Equal(t, "762.11", s.Installments[59].Payment.StringFixed(2))
			},
		},
		{
			name:     "sac principal is constant and payments do not increase",
			proposal: proposal(30000, 0, 36, models.SystemSAC, ratePtr(0.12)),
			checkValues: func(t *testing.T, s *models.AmortizationSchedule) {
				require.Len(t, s.Installments, 36)
				principal := s.Installments[0].Principal
				assert.Equal(t, "833.34", principal.StringFixed(2))
				for i, in := range s.Installments {
					if i < len(s.Installments)-1 {
						assert.True(t, in.Principal.Equal(principal), "period %d", in.Period)
					}
					if i > 0 {
						assert.True(t, in.Payment.LessThanOrEqual(s.Installments[i-1].Payment), "period %d", in.Period)
					}
				}
				assert.Equal(t, "1133.34", s.Installments[0].Payment.StringFixed(2))
				assert.Equal(t, "833.10", s.Installments[35].Principal.StringFixed(2))
			},
		},
		{
			name:     "zero rate splits principal evenly",
			proposal: proposal(1200, 0, 12, models.SystemPRICE, ratePtr(0)),
			checkValues: func(t *testing.T, s *models.AmortizationSchedule) {
				for _, in := range s.Installments {
					assert.True(t, in.Payment.Equal(decimal.NewFromInt(100)), "period %d", in.Period)
					assert.True(t, in.Interest.IsZero())
				}
				assert.True(t, s.TotalInterest.IsZero())
			},
		},
		{
			name:     "uneven zero rate split keeps exact total",
			proposal: proposal(1000, 0, 3, models.SystemPRICE, ratePtr(0)),
			checkValues: func(t *testing.T, s *models.AmortizationSchedule) {
				assert.True(t, s.TotalPaid.Equal(decimal.NewFromInt(1000)))
				assert.Equal(t, "333.33", s.Installments[0].Payment.StringFixed(2))
				assert.Equal(t, "333.34", s.Installments[2].Payment.StringFixed(2))
			},
		},
		{
			name:     "single month term",
			proposal: proposal(5000, 0, 1, models.SystemSAC, ratePtr(0.24)),
			checkValues: func(t *testing.T, s *models.AmortizationSchedule) {
				require.Len(t, s.Installments, 1)
				assert.Equal(t, "5100.00", s.Installments[0].Payment.StringFixed(2))
			},
		},
		{
			name:     "full down payment gives empty schedule",
			proposal: proposal(20000, 20000, 24, models.SystemPRICE, ratePtr(0.2)),
			checkValues: func(t *testing.T, s *models.AmortizationSchedule) {
				assert.Empty(t, s.Installments)
				assert.True(t, s.TotalPaid.IsZero())
				assert.True(t, s.FinancedAmount.IsZero())
			},
		},
		{
			name:     "long term price",
			proposal: proposal(250000, 10000, 360, models.SystemPRICE, ratePtr(0.0999)),
			checkValues: func(t *testing.T, s *models.AmortizationSchedule) {
				require.Len(t, s.Installments, 360)
			},
		},
		{
			// (1+r)^n leaves the float64 range here.
			name:     "extreme rate over the maximum term",
			proposal: proposal(1000, 0, models.MaxTermMonths, models.SystemPRICE, ratePtr(40)),
			checkValues: func(t *testing.T, s *models.AmortizationSchedule) {
				require.Len(t, s.Installments, models.MaxTermMonths)
				first := s.Installments[0]
				assert.Equal(t, "3333.33", first.Interest.StringFixed(2))
				assert.True(t, first.Payment.Equal(first.Interest), "payment %s", first.Payment)
				assert.True(t, s.Installments[models.MaxTermMonths-1].Principal.Equal(decimal.NewFromInt(1000)))
			},
		},
		{
			name:     "maximum term at a market rate",
			proposal: proposal(100000, 0, models.MaxTermMonths, models.SystemPRICE, ratePtr(0.12)),
			checkValues: func(t *testing.T, s *models.AmortizationSchedule) {
				require.Len(t, s.Installments, models.MaxTermMonths)
				assert.Equal(t, "1002.56", s.Installments[0].Payment.StringFixed(2))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, err := testEngine().Schedule(tt.proposal)
			require.NoError(t, err)

			sum := decimal.Zero
			for _, in := range s.Installments {
				sum = sum.Add(in.Principal)
				assert.True(t, in.OpeningBalance.Sub(in.Principal).Equal(in.ClosingBalance))
				assert.True(t, in.Principal.Add(in.Interest).Equal(in.Payment))
			}
			assert.True(t, sum.Equal(s.FinancedAmount), "principal sum %s", sum)
			if n := len(s.Installments); n > 0 {
				assert.True(t, s.Installments[n-1].ClosingBalance.IsZero())
			}
			tt.checkValues(t, s)
		})
	}
}

func TestSchedule_Defaults(t *testing.T) {
	p := proposal(10000, 0, 12, "", nil)
	p.Modality = models.ModalityLease

	s, assumptions, err := testEngine().Schedule(p)
	require.NoError(t, err)

	assert.Equal(t, models.SystemPRICE, s.System)
	assert.Equal(t, models.RateNominal, s.RateBasis)
	assert.InDelta(t, 0.18, s.AnnualRate, 1e-12)
	assert.InDelta(t, 0.015, s.MonthlyRate.InexactFloat64(), 1e-15)

	codes := make([]string, 0, len(assumptions))
	for _, a := range assumptions {
		codes = append(codes, a.Code)
	}
	assert.Contains(t, codes, models.AssumptionDefaultRate)
	assert.Contains(t, codes, models.AssumptionRateBasis)
}

func TestSchedule_Errors(t *testing.T) {
	tests := []struct {
		name     string
		proposal models.FinancingProposal
		target   error
	}{
		{"zero term", proposal(1000, 0, 0, models.SystemPRICE, ratePtr(0.1)), models.ErrInvalidTerm},
		{"negative term", proposal(1000, 0, -3, models.SystemPRICE, ratePtr(0.1)), models.ErrInvalidTerm},
		{"term above maximum", proposal(100000, 0, 80000, models.SystemPRICE, ratePtr(0.12)), models.ErrInvalidTerm},
		{"zero amount", proposal(0, 0, 12, models.SystemPRICE, ratePtr(0.1)), models.ErrInvalidAmount},
		{"down payment above amount", proposal(1000, 1500, 12, models.SystemPRICE, ratePtr(0.1)), models.ErrInvalidAmount},
		{"negative rate", proposal(1000, 0, 12, models.SystemSAC, ratePtr(-0.01)), models.ErrInvalidRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := testEngine().Schedule(tt.proposal)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
			assert.True(t, errors.Is(err, models.ErrInvalidInput))
		})
	}

	t.Run("no default for modality", func(t *testing.T) {
		e := NewEngine(Config{})
		_, _, err := e.Schedule(proposal(1000, 0, 12, models.SystemPRICE, nil))
		assert.True(t, errors.Is(err, models.ErrInvalidRate))
	})
}

func TestMonthlyRate(t *testing.T) {
	nominal, err := MonthlyRate(0.12, models.RateNominal)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, nominal, 1e-15)

	effective, err := MonthlyRate(0.12, models.RateEffective)
	require.NoError(t, err)
	assert.InDelta(t, 0.12, math.Pow(1+effective, 12)-1, 1e-12)
	assert.Less(t, effective, nominal)

	_, err = MonthlyRate(math.NaN(), models.RateNominal)
	assert.True(t, errors.Is(err, models.ErrInvalidRate))

	_, err = MonthlyRate(0.1, models.RateBasis("weekly"))
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestSchedule_EffectiveBasisLowersInstallment(t *testing.T) {
	nominal := proposal(50000, 0, 48, models.SystemPRICE, ratePtr(0.2))
	effective := nominal
	effective.RateBasis = models.RateEffective

	sn, _, err := testEngine().Schedule(nominal)
	require.NoError(t, err)
	se, _, err := testEngine().Schedule(effective)
	require.NoError(t, err)

	assert.True(t, se.Installments[0].Payment.LessThan(sn.Installments[0].Payment))
}

func TestPaymentAt(t *testing.T) {
	s, _, err := testEngine().Schedule(proposal(1200, 0, 12, models.SystemPRICE, ratePtr(0)))
	require.NoError(t, err)

	assert.True(t, s.PaymentAt(1).Equal(decimal.NewFromInt(100)))
	assert.True(t, s.PaymentAt(0).IsZero())
	assert.True(t, s.PaymentAt(13).IsZero())

	var none *models.AmortizationSchedule
	assert.True(t, none.PaymentAt(1).IsZero())
}
