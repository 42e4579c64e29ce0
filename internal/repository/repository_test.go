package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solar-platform/internal/models"
	"solar-platform/pkg/database"
	"solar-platform/pkg/logging"
	"solar-platform/pkg/metrics"
)

func strPtr(s string) *string { return &s }

func TestTariffFilter_Normalize(t *testing.T) {
	tests := []struct {
		name        string
		filter      TariffFilter
		checkValues func(*testing.T, TariffFilter)
	}{
		{
			name:   "defaults pagination",
			filter: TariffFilter{},
			checkValues: func(t *testing.T, f TariffFilter) {
				assert.Equal(t, DefaultPageSize, f.Limit)
				assert.Zero(t, f.Offset)
				assert.Nil(t, f.Distributor)
			},
		},
		{
			name:   "clamps oversized pages",
			filter: TariffFilter{Limit: 50000, Offset: -4},
			checkValues: func(t *testing.T, f TariffFilter) {
				assert.Equal(t, MaxPageSize, f.Limit)
				assert.Zero(t, f.Offset)
			},
		},
		{
			name:   "upper-cases identifiers",
			filter: TariffFilter{Distributor: strPtr(" cemig "), Class: strPtr("b1"), Limit: 10},
			checkValues: func(t *testing.T, f TariffFilter) {
				assert.Equal(t, "CEMIG", *f.Distributor)
				assert.Equal(t, "B1", *f.Class)
				assert.Equal(t, 10, f.Limit)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.checkValues(t, tt.filter.Normalize())
		})
	}
}

func TestSimulationRow_Record(t *testing.T) {
	months := 60
	input, err := json.Marshal(models.SimulationInput{QuoteID: "Q-9", Location: models.Coordinates{Latitude: -19.9, Longitude: -43.9}})
	require.NoError(t, err)
	result, err := json.Marshal(models.SimulationResult{QuoteID: "Q-9", SystemSizeKWp: 4.95, PaybackMonths: &months})
	require.NoError(t, err)

	row := simulationRow{
		ID:        "6f1c1a8e-0000-4000-8000-000000000001",
		QuoteID:   sql.NullString{String: "Q-9", Valid: true},
		Input:     input,
		Result:    result,
		CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	rec, err := row.record()
	require.NoError(t, err)
	assert.Equal(t, "Q-9", rec.QuoteID)
	assert.InDelta(t, -19.9, rec.Input.Location.Latitude, 1e-12)
	require.NotNil(t, rec.Result.PaybackMonths)
	assert.Equal(t, 60, *rec.Result.PaybackMonths)

	row.Result = []byte("{not json")
	_, err = row.record()
	assert.Error(t, err)
}

// The tests below need a migrated PostgreSQL database. They run only when
// TEST_DB_HOST is set.
func testDB(t *testing.T) *database.PostgresDB {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("TEST_DB_PORT"))
	if port == 0 {
		port = 5432
	}
	cfg := &database.Config{
		Host:         host,
		Port:         port,
		User:         os.Getenv("TEST_DB_USER"),
		Password:     os.Getenv("TEST_DB_PASSWORD"),
		Database:     os.Getenv("TEST_DB_NAME"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
	}
	m := metrics.NewCollector("test", prometheus.NewRegistry())
	db, err := database.NewPostgresDB(cfg, logging.NewNopLogger(), m)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile(filepath.Join("..", "..", "migrations", "001_create_schema.up.sql"))
	require.NoError(t, err)
	_, err = db.DB().Exec(string(schema))
	require.NoError(t, err)
	return db
}

func TestTariffRepository_Postgres(t *testing.T) {
	db := testDB(t)
	m := metrics.NewCollector("test_tariff", prometheus.NewRegistry())
	repo := NewTariffRepository(db, logging.NewNopLogger(), m)
	ctx := context.Background()

	distributor := "TEST-" + uuid.NewString()[:8]
	older := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	energy, tusd := 0.31, 0.42
	rates := []*models.TariffRate{
		{Distributor: distributor, Class: "B1", EnergyCharge: &energy, DistributionCharge: &tusd, AsOf: older, CreatedAt: time.Now().UTC()},
		{Distributor: distributor, Class: "B1", EnergyCharge: &energy, AsOf: newer, CreatedAt: time.Now().UTC()},
	}

	inserted, err := repo.CreateTariffsBatch(ctx, rates)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Re-ingesting the same file is a no-op.
	inserted, err = repo.CreateTariffsBatch(ctx, rates)
	require.NoError(t, err)
	assert.Zero(t, inserted)

	latest, err := repo.LatestTariff(ctx, distributor, "B1", newer.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.AsOf.Equal(newer))
	assert.Nil(t, latest.DistributionCharge)

	none, err := repo.LatestTariff(ctx, distributor, "B1", older.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Nil(t, none)

	list, total, err := repo.ListTariffs(ctx, TariffFilter{Distributor: &distributor})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, list, 2)
}

func TestSimulationRepository_Postgres(t *testing.T) {
	db := testDB(t)
	m := metrics.NewCollector("test_simulation", prometheus.NewRegistry())
	repo := NewSimulationRepository(db, logging.NewNopLogger(), m)
	ctx := context.Background()

	quote := "Q-" + uuid.NewString()[:8]
	for i, payback := range []int{72, 60} {
		p := payback
		rec := &models.SimulationRecord{
			ID:        uuid.NewString(),
			QuoteID:   quote,
			Input:     models.SimulationInput{QuoteID: quote},
			Result:    &models.SimulationResult{QuoteID: quote, AnnualSavings: float64(1000 * (i + 1)), PaybackMonths: &p, AnnualizedROIPercent: float64(5 + i)},
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.SaveSimulation(ctx, rec))
	}

	list, total, err := repo.ListSimulations(ctx, SimulationFilter{QuoteID: &quote})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, list, 2)

	got, err := repo.GetSimulation(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, quote, got.QuoteID)

	summary, err := repo.SummarizeQuote(ctx, quote)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.SimulationCount)
	require.NotNil(t, summary.BestPaybackMonths)
	assert.Equal(t, 60, *summary.BestPaybackMonths)
	require.NotNil(t, summary.AvgAnnualSavings)
	assert.InDelta(t, 1500.0, *summary.AvgAnnualSavings, 1e-9)

	_, err = repo.GetSimulation(ctx, uuid.NewString())
	var nf *models.NotFoundError
	assert.True(t, errors.As(err, &nf))

	_, err = repo.SummarizeQuote(ctx, "Q-missing-"+uuid.NewString())
	assert.True(t, errors.As(err, &nf))
}

func TestClimateRepository_Postgres(t *testing.T) {
	db := testDB(t)
	m := metrics.NewCollector("test_climate", prometheus.NewRegistry())
	repo := NewClimateRepository(db, logging.NewNopLogger(), m)
	ctx := context.Background()

	loc := models.Coordinates{Latitude: -19.9167, Longitude: -43.9345}
	annual := 1900.0
	rec := models.ClimateRecord{Source: "test", Location: loc, Range: models.CalendarYear(2023), AnnualKWhPerM2: &annual, FetchedAt: time.Now().UTC()}
	key := models.ClimateKey("test-"+uuid.NewString()[:8], loc, rec.Range)

	_, ok, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Add(ctx, key, rec))
	changed := rec
	other := 10.0
	changed.AnnualKWhPerM2 = &other
	require.NoError(t, repo.Add(ctx, key, changed))

	got, ok, err := repo.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1900.0, *got.AnnualKWhPerM2)
}
