package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Modality is the commercial form of a financing offer.
type Modality string

const (
	ModalityRevolvingCredit  Modality = "revolving_credit"
	ModalityLease            Modality = "lease"
	ModalityEnergyAsAService Modality = "energy_as_a_service"
)

// Modalities lists every accepted Modality.
var Modalities = []Modality{ModalityRevolvingCredit, ModalityLease, ModalityEnergyAsAService}

// ParseModality accepts the canonical names case-insensitively.
func ParseModality(s string) (Modality, error) {
	m := Modality(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modalities {
		if m == known {
			return m, nil
		}
	}
	return "", NewValidationError("modality", s, nil, "unknown financing modality %q", s)
}

// AmortizationSystem selects how installments are built.
type AmortizationSystem string

const (
	// SystemPRICE holds the installment constant.
	SystemPRICE AmortizationSystem = "price"
	// SystemSAC holds the principal portion constant.
	SystemSAC AmortizationSystem = "sac"
)

// ParseAmortizationSystem accepts "price" or "sac", case-insensitively.
func ParseAmortizationSystem(s string) (AmortizationSystem, error) {
	switch AmortizationSystem(strings.ToLower(strings.TrimSpace(s))) {
	case SystemPRICE:
		return SystemPRICE, nil
	case SystemSAC:
		return SystemSAC, nil
	default:
		return "", NewValidationError("system", s, nil, "unknown amortization system %q", s)
	}
}

// RateBasis tells how an annual rate converts to a monthly one.
type RateBasis string

const (
	// RateNominal divides the annual rate by 12.
	RateNominal RateBasis = "nominal"
	// RateEffective compounds: (1+annual)^(1/12) - 1.
	RateEffective RateBasis = "effective"
)

// ParseRateBasis accepts "nominal" or "effective", case-insensitively.
func ParseRateBasis(s string) (RateBasis, error) {
	switch RateBasis(strings.ToLower(strings.TrimSpace(s))) {
	case RateNominal:
		return RateNominal, nil
	case RateEffective:
		return RateEffective, nil
	default:
		return "", NewValidationError("rate_basis", s, nil, "unknown rate basis %q", s)
	}
}

// FinancingProposal is a validated request for credit. It is never
// mutated once a schedule has been generated from it.
type FinancingProposal struct {
	Modality        Modality           `json:"modality"`
	RequestedAmount decimal.Decimal    `json:"requested_amount"`
	DownPayment     decimal.Decimal    `json:"down_payment"`
	TermMonths      int                `json:"term_months"`
	System          AmortizationSystem `json:"system"`
	AnnualRate      *float64           `json:"annual_rate,omitempty"`
	RateBasis       RateBasis          `json:"rate_basis,omitempty"`
}

// MaxTermMonths is the longest financing term accepted, 50 years.
const MaxTermMonths = 600

// Validate checks the proposal. Errors match ErrInvalidTerm,
// ErrInvalidAmount or ErrInvalidRate, and all of them ErrInvalidInput.
func (p FinancingProposal) Validate() error {
	if p.TermMonths <= 0 {
		return NewValidationError("term_months", p.TermMonths, ErrInvalidTerm, "term must be a positive number of months")
	}
	if p.TermMonths > MaxTermMonths {
		return NewValidationError("term_months", p.TermMonths, ErrInvalidTerm, "term must not exceed %d months", MaxTermMonths)
	}
	if !p.RequestedAmount.IsPositive() {
		return NewValidationError("requested_amount", p.RequestedAmount, ErrInvalidAmount, "requested amount must be positive")
	}
	if p.DownPayment.IsNegative() {
		return NewValidationError("down_payment", p.DownPayment, ErrInvalidAmount, "down payment must not be negative")
	}
	if p.DownPayment.GreaterThan(p.RequestedAmount) {
		return NewValidationError("down_payment", p.DownPayment, ErrInvalidAmount,
			"down payment %s exceeds requested amount %s", p.DownPayment, p.RequestedAmount)
	}
	if p.AnnualRate != nil && *p.AnnualRate < 0 {
		return NewValidationError("annual_rate", *p.AnnualRate, ErrInvalidRate, "rate must not be negative")
	}
	if p.Modality != "" {
		if _, err := ParseModality(string(p.Modality)); err != nil {
			return err
		}
	}
	if p.System != "" {
		if _, err := ParseAmortizationSystem(string(p.System)); err != nil {
			return err
		}
	}
	if p.RateBasis != "" {
		if _, err := ParseRateBasis(string(p.RateBasis)); err != nil {
			return err
		}
	}
	return nil
}

// FinancedAmount is the requested amount minus the down payment.
func (p FinancingProposal) FinancedAmount() decimal.Decimal {
	return p.RequestedAmount.Sub(p.DownPayment)
}

// Scaled returns a new proposal with amounts multiplied by factor.
func (p FinancingProposal) Scaled(factor float64) FinancingProposal {
	f := decimal.NewFromFloat(factor)
	scaled := p
	scaled.RequestedAmount = p.RequestedAmount.Mul(f)
	scaled.DownPayment = p.DownPayment.Mul(f)
	if p.AnnualRate != nil {
		rate := *p.AnnualRate
		scaled.AnnualRate = &rate
	}
	return scaled
}

func (p FinancingProposal) String() string {
	return fmt.Sprintf("%s/%s %s over %d months", p.Modality, p.System, p.FinancedAmount(), p.TermMonths)
}

// Installment is one row of an amortization schedule.
type Installment struct {
	Period         int             `json:"period"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Interest       decimal.Decimal `json:"interest"`
	Principal      decimal.Decimal `json:"principal"`
	Payment        decimal.Decimal `json:"payment"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
}

// AmortizationSchedule is the full repayment plan of a proposal.
type AmortizationSchedule struct {
	Proposal       FinancingProposal  `json:"proposal"`
	System         AmortizationSystem `json:"system"`
	FinancedAmount decimal.Decimal    `json:"financed_amount"`
	AnnualRate     float64            `json:"annual_rate"`
	RateBasis      RateBasis          `json:"rate_basis"`
	MonthlyRate    decimal.Decimal    `json:"monthly_rate"`
	Installments   []Installment      `json:"installments"`
	TotalInterest  decimal.Decimal    `json:"total_interest"`
	TotalPrincipal decimal.Decimal    `json:"total_principal"`
	TotalPaid      decimal.Decimal    `json:"total_paid"`
}

// PaymentAt returns the payment due in month m (1-based), zero outside the
// schedule.
func (s *AmortizationSchedule) PaymentAt(m int) decimal.Decimal {
	if s == nil || m < 1 || m > len(s.Installments) {
		return decimal.Zero
	}
	return s.Installments[m-1].Payment
}
