package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawTariffRecord_ToTariffRate(t *testing.T) {
	tests := []struct {
		name        string
		record      RawTariffRecord
		wantErr     bool
		checkValues func(*testing.T, *TariffRate)
	}{
		{
			name: "valid record with both components",
			record: RawTariffRecord{
				Distributor:  " cemig-d ",
				Class:        "b1",
				EnergyMWh:    "312,45",
				Distribution: "401.10",
				AsOf:         "2024-05-28",
				SourceURL:    "https://dadosabertos.aneel.gov.br",
			},
			checkValues: func(t *testing.T, r *TariffRate) {
				assert.Equal(t, "CEMIG-D", r.Distributor)
				assert.Equal(t, "B1", r.Class)
				require.NotNil(t, r.EnergyCharge)
				assert.InDelta(t, 0.31245, *r.EnergyCharge, 1e-12)
				require.NotNil(t, r.DistributionCharge)
				assert.InDelta(t, 0.4011, *r.DistributionCharge, 1e-12)
				assert.True(t, r.AsOf.Equal(time.Date(2024, 5, 28, 0, 0, 0, 0, time.UTC)))

				combined, ok := r.Combined()
				assert.True(t, ok)
				assert.InDelta(t, 0.71355, combined, 1e-12)
			},
		},
		{
			name: "missing distribution charge stays unknown",
			record: RawTariffRecord{
				Distributor:  "ENEL-SP",
				Class:        "B1",
				EnergyMWh:    "290",
				Distribution: "-",
				AsOf:         "2024-07-04",
			},
			checkValues: func(t *testing.T, r *TariffRate) {
				assert.NotNil(t, r.EnergyCharge)
				assert.Nil(t, r.DistributionCharge)
				assert.False(t, r.Resolved())
				_, ok := r.Combined()
				assert.False(t, ok)
			},
		},
		{
			name: "empty energy charge stays unknown",
			record: RawTariffRecord{
				Distributor: "ENEL-SP",
				Class:       "B1",
				AsOf:        "2024-07-04",
			},
			checkValues: func(t *testing.T, r *TariffRate) {
				assert.Nil(t, r.EnergyCharge)
				assert.Nil(t, r.DistributionCharge)
			},
		},
		{
			name:    "invalid date",
			record:  RawTariffRecord{Distributor: "X", Class: "B1", AsOf: "04/07/2024"},
			wantErr: true,
		},
		{
			name:    "missing class",
			record:  RawTariffRecord{Distributor: "X", AsOf: "2024-07-04"},
			wantErr: true,
		},
		{
			name:    "negative charge",
			record:  RawTariffRecord{Distributor: "X", Class: "B1", EnergyMWh: "-10", AsOf: "2024-07-04"},
			wantErr: true,
		},
		{
			name:    "garbage charge",
			record:  RawTariffRecord{Distributor: "X", Class: "B1", EnergyMWh: "abc", AsOf: "2024-07-04"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.record.ToTariffRate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidInput))
				assert.Equal(t, KindInvalidInput, KindOf(err))
				return
			}
			require.NoError(t, err)
			if tt.checkValues != nil {
				tt.checkValues(t, got)
			}
		})
	}
}

func TestNewTariffKey(t *testing.T) {
	asOf := time.Date(2024, 3, 9, 17, 45, 0, 0, time.FixedZone("BRT", -3*3600))
	key := NewTariffKey(TariffClassification{Distributor: " light ", Class: "b1"}, asOf)

	assert.Equal(t, "LIGHT", key.Distributor)
	assert.Equal(t, "B1", key.Class)
	assert.Equal(t, "tariff:LIGHT:B1:2024-03-09", key.String())
}
