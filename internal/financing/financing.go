// Package financing builds PRICE and SAC amortization schedules.
package financing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"solar-platform/internal/models"
)

// currencyPlaces is the precision installments are quoted in. Each period's
// interest and payment are rounded to it; the final installment absorbs the
// residual so the balance closes at exactly zero.
const currencyPlaces = 2

// Config holds defaults applied to proposals that omit them.
type Config struct {
	RateBasis     models.RateBasis
	DefaultSystem models.AmortizationSystem
	DefaultRates  map[models.Modality]float64
}

// Engine produces schedules from validated proposals. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine. Missing basis and system default to nominal
// and PRICE.
func NewEngine(cfg Config) *Engine {
	if cfg.RateBasis == "" {
		cfg.RateBasis = models.RateNominal
	}
	if cfg.DefaultSystem == "" {
		cfg.DefaultSystem = models.SystemPRICE
	}
	return &Engine{cfg: cfg}
}

// MonthlyRate converts an annual rate (a fraction, 0.12 for 12%) to the
// monthly rate used by the schedule.
func MonthlyRate(annual float64, basis models.RateBasis) (float64, error) {
	if math.IsNaN(annual) || math.IsInf(annual, 0) || annual < 0 {
		return 0, models.NewValidationError("annual_rate", annual, models.ErrInvalidRate, "rate must be a non-negative number")
	}
	switch basis {
	case models.RateNominal, "":
		return annual / 12, nil
	case models.RateEffective:
		return math.Pow(1+annual, 1.0/12) - 1, nil
	default:
		return 0, models.NewValidationError("rate_basis", basis, nil, "unknown rate basis %q", basis)
	}
}

// Schedule validates p and builds its schedule. The assumptions describe
// the defaults that were applied.
func (e *Engine) Schedule(p models.FinancingProposal) (*models.AmortizationSchedule, []models.Assumption, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}

	var assumptions []models.Assumption

	system := p.System
	if system == "" {
		system = e.cfg.DefaultSystem
	}
	basis := p.RateBasis
	if basis == "" {
		basis = e.cfg.RateBasis
	}

	var annual float64
	switch {
	case p.AnnualRate != nil:
		annual = *p.AnnualRate
	default:
		modality := p.Modality
		if modality == "" {
			modality = models.ModalityRevolvingCredit
		}
		rate, ok := e.cfg.DefaultRates[modality]
		if !ok {
			return nil, nil, models.NewValidationError("annual_rate", "", models.ErrInvalidRate,
				"no rate given and no default configured for %s", modality)
		}
		annual = rate
		assumptions = append(assumptions, models.Assumption{
			Code:        models.AssumptionDefaultRate,
			Description: fmt.Sprintf("configured %.2f%% annual rate for %s applied", annual*100, modality),
		})
	}

	monthly, err := MonthlyRate(annual, basis)
	if err != nil {
		return nil, nil, err
	}
	assumptions = append(assumptions, models.Assumption{
		Code:        models.AssumptionRateBasis,
		Description: fmt.Sprintf("%s annual rate %.4f converted to monthly rate %.6f", basis, annual, monthly),
	})

	financed := p.FinancedAmount()
	r := decimal.NewFromFloat(monthly)

	var installments []models.Installment
	switch system {
	case models.SystemPRICE:
		installments = Price(financed, r, p.TermMonths)
	case models.SystemSAC:
		installments = SAC(financed, r, p.TermMonths)
	default:
		return nil, nil, models.NewValidationError("system", system, nil, "unknown amortization system %q", system)
	}

	schedule := &models.AmortizationSchedule{
		Proposal:       p,
		System:         system,
		FinancedAmount: financed,
		AnnualRate:     annual,
		RateBasis:      basis,
		MonthlyRate:    r,
		Installments:   installments,
		TotalInterest:  decimal.Zero,
		TotalPrincipal: decimal.Zero,
		TotalPaid:      decimal.Zero,
	}
	for _, in := range installments {
		schedule.TotalInterest = schedule.TotalInterest.Add(in.Interest)
		schedule.TotalPrincipal = schedule.TotalPrincipal.Add(in.Principal)
		schedule.TotalPaid = schedule.TotalPaid.Add(in.Payment)
	}

	if err := verify(schedule); err != nil {
		return nil, nil, err
	}
	return schedule, assumptions, nil
}

// verify enforces the closing invariants; a failure is a defect.
func verify(s *models.AmortizationSchedule) error {
	if !s.TotalPrincipal.Equal(s.FinancedAmount) {
		return &models.ComputationError{
			Stage:   "financing",
			Message: fmt.Sprintf("principal portions sum to %s, financed amount is %s", s.TotalPrincipal, s.FinancedAmount),
		}
	}
	if n := len(s.Installments); n > 0 && !s.Installments[n-1].ClosingBalance.IsZero() {
		return &models.ComputationError{
			Stage:   "financing",
			Message: fmt.Sprintf("final balance is %s, expected zero", s.Installments[n-1].ClosingBalance),
		}
	}
	for _, in := range s.Installments {
		if in.Principal.IsNegative() || in.Interest.IsNegative() {
			return &models.ComputationError{
				Stage:   "financing",
				Message: fmt.Sprintf("period %d has a negative portion", in.Period),
			}
		}
	}
	return nil
}

// Price builds a fixed-installment schedule:
//
//	installment = P·r(1+r)^n / ((1+r)^n − 1)
//
// with P/n when r is zero. The last installment pays off the remaining
// balance exactly.
func Price(principal, r decimal.Decimal, n int) []models.Installment {
	if n <= 0 || !principal.IsPositive() {
		return []models.Installment{}
	}

	var payment decimal.Decimal
	if rf := r.InexactFloat64(); rf == 0 {
		payment = principal.DivRound(decimal.NewFromInt(int64(n)), currencyPlaces)
	} else {
		payment = principal.Mul(decimal.NewFromFloat(priceFactor(rf, n))).Round(currencyPlaces)
	}

	out := make([]models.Installment, 0, n)
	balance := principal
	for period := 1; period <= n; period++ {
		interest := balance.Mul(r).Round(currencyPlaces)
		amort := payment.Sub(interest)
		pay := payment
		if period == n || amort.GreaterThan(balance) {
			amort = balance
			pay = amort.Add(interest)
		}
		closing := balance.Sub(amort)
		out = append(out, models.Installment{
			Period:         period,
			OpeningBalance: balance,
			Interest:       interest,
			Principal:      amort,
			Payment:        pay,
			ClosingBalance: closing,
		})
		balance = closing
		if balance.IsZero() {
			break
		}
	}
	return out
}

// priceFactor is r / (1 − (1+r)^−n), the PRICE installment per unit of
// principal. It is evaluated through Log1p and Expm1 so that it stays finite
// and tends to r when (1+r)^n leaves the float64 range.
func priceFactor(r float64, n int) float64 {
	return r / -math.Expm1(-float64(n)*math.Log1p(r))
}

// SAC builds a constant-amortization schedule. The principal portion is
// P/n rounded up to the cent, so the last installment, which takes the
// remaining balance, is never larger than the one before it.
func SAC(principal, r decimal.Decimal, n int) []models.Installment {
	if n <= 0 || !principal.IsPositive() {
		return []models.Installment{}
	}

	amort := principal.Div(decimal.NewFromInt(int64(n))).RoundCeil(currencyPlaces)

	out := make([]models.Installment, 0, n)
	balance := principal
	for period := 1; period <= n; period++ {
		interest := balance.Mul(r).Round(currencyPlaces)
		portion := amort
		if period == n || portion.GreaterThan(balance) {
			portion = balance
		}
		closing := balance.Sub(portion)
		out = append(out, models.Installment{
			Period:         period,
			OpeningBalance: balance,
			Interest:       interest,
			Principal:      portion,
			Payment:        portion.Add(interest),
			ClosingBalance: closing,
		})
		balance = closing
		if balance.IsZero() {
			break
		}
	}
	return out
}
