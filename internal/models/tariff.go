package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TariffRate holds the per-kWh charges of a distributor and customer class.
// A nil component means the source had no value for it.
type TariffRate struct {
	ID                 int64     `json:"id,omitempty" db:"id"`
	Distributor        string    `json:"distributor" db:"distributor"`
	Class              string    `json:"class" db:"class"`
	EnergyCharge       *float64  `json:"energy_charge,omitempty" db:"energy_charge"`
	DistributionCharge *float64  `json:"distribution_charge,omitempty" db:"distribution_charge"`
	SourceURL          string    `json:"source_url" db:"source_url"`
	AsOf               time.Time `json:"as_of" db:"as_of"`
	CreatedAt          time.Time `json:"created_at,omitempty" db:"created_at"`
}

// Combined returns energy + distribution charge. ok is false when either
// component is unknown.
func (t TariffRate) Combined() (float64, bool) {
	if t.EnergyCharge == nil || t.DistributionCharge == nil {
		return 0, false
	}
	return *t.EnergyCharge + *t.DistributionCharge, true
}

// Resolved reports whether both components are known.
func (t TariffRate) Resolved() bool {
	_, ok := t.Combined()
	return ok
}

// TariffKey identifies a tariff lookup. AsOf is truncated to the day.
type TariffKey struct {
	Distributor string
	Class       string
	AsOf        time.Time
}

// NewTariffKey normalizes identifiers and truncates the as-of date.
func NewTariffKey(c TariffClassification, asOf time.Time) TariffKey {
	return TariffKey{
		Distributor: strings.ToUpper(strings.TrimSpace(c.Distributor)),
		Class:       strings.ToUpper(strings.TrimSpace(c.Class)),
		AsOf:        time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC),
	}
}

func (k TariffKey) String() string {
	return fmt.Sprintf("tariff:%s:%s:%s", k.Distributor, k.Class, k.AsOf.Format("2006-01-02"))
}

// RawTariffRecord is a single line of a tariff ingestion file:
// DISTRIBUTOR\tCLASS\tENERGY\tDISTRIBUTION\tAS_OF\tSOURCE_URL.
// Charges are in currency per MWh as published; "-" or empty marks a
// missing value.
type RawTariffRecord struct {
	Distributor  string
	Class        string
	EnergyMWh    string
	Distribution string
	AsOf         string
	SourceURL    string
}

// ToTariffRate converts a RawTariffRecord to a TariffRate in currency per
// kWh, keeping missing values as nil.
func (r *RawTariffRecord) ToTariffRate() (*TariffRate, error) {
	asOf, err := time.Parse("2006-01-02", strings.TrimSpace(r.AsOf))
	if err != nil {
		return nil, &ValidationError{
			Field:   "as_of",
			Value:   r.AsOf,
			Message: "invalid date format, expected YYYY-MM-DD",
		}
	}

	if strings.TrimSpace(r.Distributor) == "" || strings.TrimSpace(r.Class) == "" {
		return nil, &ValidationError{
			Field:   "distributor",
			Value:   r.Distributor + "/" + r.Class,
			Message: "distributor and class are required",
		}
	}

	energy, err := parseChargePerMWh("energy_charge", r.EnergyMWh)
	if err != nil {
		return nil, err
	}
	distribution, err := parseChargePerMWh("distribution_charge", r.Distribution)
	if err != nil {
		return nil, err
	}

	key := NewTariffKey(TariffClassification{Distributor: r.Distributor, Class: r.Class}, asOf)
	return &TariffRate{
		Distributor:        key.Distributor,
		Class:              key.Class,
		EnergyCharge:       energy,
		DistributionCharge: distribution,
		SourceURL:          strings.TrimSpace(r.SourceURL),
		AsOf:               key.AsOf,
		CreatedAt:          time.Now().UTC(),
	}, nil
}

func parseChargePerMWh(field, raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "-" {
		return nil, nil
	}
	// Published sheets use a decimal comma.
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil {
		return nil, &ValidationError{Field: field, Value: raw, Message: "invalid charge value"}
	}
	if v < 0 {
		return nil, &ValidationError{Field: field, Value: raw, Message: "charge must not be negative"}
	}
	perKWh := v / 1000.0
	return &perKWh, nil
}
