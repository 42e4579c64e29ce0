package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solar-platform/internal/financing"
	"solar-platform/internal/models"
	"solar-platform/internal/repository"
	"solar-platform/internal/services"
	"solar-platform/pkg/logging"
	"solar-platform/pkg/metrics"
)

type fakeSimulations struct {
	err        error
	lastFilter repository.SimulationFilter
	stored     map[string]*models.SimulationRecord
}

func (f *fakeSimulations) Simulate(ctx context.Context, in models.SimulationInput) (*models.SimulationRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	months := 60
	return &models.SimulationRecord{
		ID:      "2d1e4c8a-8c7b-4b5e-9f3e-0a1b2c3d4e5f",
		QuoteID: in.QuoteID,
		Input:   in,
		Result:  &models.SimulationResult{QuoteID: in.QuoteID, AnnualSavings: 7200, PaybackMonths: &months},
	}, nil
}

func (f *fakeSimulations) GetSimulation(ctx context.Context, id string) (*models.SimulationRecord, error) {
	if rec, ok := f.stored[id]; ok {
		return rec, nil
	}
	return nil, &models.NotFoundError{Resource: "simulation", ID: id}
}

func (f *fakeSimulations) ListSimulations(ctx context.Context, filter repository.SimulationFilter) ([]*models.SimulationRecord, int, error) {
	f.lastFilter = filter
	if f.err != nil {
		return nil, 0, f.err
	}
	out := make([]*models.SimulationRecord, 0, len(f.stored))
	for _, rec := range f.stored {
		out = append(out, rec)
	}
	return out, 250, nil
}

type fakeTariffs struct {
	lastFilter repository.TariffFilter
}

func (f *fakeTariffs) ListTariffs(ctx context.Context, filter repository.TariffFilter) ([]*models.TariffRate, int, error) {
	f.lastFilter = filter
	energy := 0.31
	return []*models.TariffRate{{Distributor: "CEMIG", Class: "B1", EnergyCharge: &energy}}, 1, nil
}

type fakeQuotes struct{}

func (fakeQuotes) Overview(ctx context.Context, quoteID string) (*services.QuoteOverview, error) {
	if quoteID != "Q-1" {
		return nil, &models.NotFoundError{Resource: "quote", ID: quoteID}
	}
	return &services.QuoteOverview{Summary: &models.QuoteSummary{QuoteID: quoteID, SimulationCount: 3}}, nil
}

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(ctx context.Context) error { return f.err }

type testServer struct {
	router      *mux.Router
	simulations *fakeSimulations
	tariffs     *fakeTariffs
	metrics     *metrics.Collector
}

func newTestServer(t *testing.T, health HealthChecker) *testServer {
	t.Helper()
	m := metrics.NewCollector("test", prometheus.NewRegistry())
	sims := &fakeSimulations{stored: map[string]*models.SimulationRecord{
		"2d1e4c8a-8c7b-4b5e-9f3e-0a1b2c3d4e5f": {ID: "2d1e4c8a-8c7b-4b5e-9f3e-0a1b2c3d4e5f", QuoteID: "Q-1"},
	}}
	tariffs := &fakeTariffs{}
	engine := financing.NewEngine(financing.Config{
		DefaultRates: map[models.Modality]float64{models.ModalityRevolvingCredit: 0.24},
	})

	h := NewSimulationHandler(sims, fakeQuotes{}, tariffs, engine, health, logging.NewNopLogger(), m)
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return &testServer{router: router, simulations: sims, tariffs: tariffs, metrics: m}
}

func (s *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateSimulation(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		engineErr   error
		wantStatus  int
		checkValues func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name:       "created",
			body:       `{"quote_id":"Q-1","location":{"latitude":-19.9,"longitude":-43.9},"design":{"tilt_degrees":20},"tariff":{"distributor":"CEMIG","class":"B1"}}`,
			wantStatus: http.StatusCreated,
			checkValues: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Equal(t, "/api/simulations/2d1e4c8a-8c7b-4b5e-9f3e-0a1b2c3d4e5f", rec.Header().Get("Location"))
				var got models.SimulationRecord
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				assert.Equal(t, "Q-1", got.QuoteID)
				assert.InDelta(t, -19.9, got.Input.Location.Latitude, 1e-12)
				assert.Equal(t, 7200.0, got.Result.AnnualSavings)
			},
		},
		{
			name:       "malformed body",
			body:       `{"location":`,
			wantStatus: http.StatusBadRequest,
			checkValues: func(t *testing.T, rec *httptest.ResponseRecorder) {
				resp := decodeError(t, rec)
				assert.Equal(t, string(models.KindInvalidInput), resp.Kind)
				assert.Equal(t, "body", resp.Field)
			},
		},
		{
			name:       "unknown field",
			body:       `{"latitude":-19.9}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "validation error",
			body:       `{}`,
			engineErr:  models.NewValidationError("location.latitude", 95, nil, "latitude out of range"),
			wantStatus: http.StatusBadRequest,
			checkValues: func(t *testing.T, rec *httptest.ResponseRecorder) {
				resp := decodeError(t, rec)
				assert.Equal(t, "location.latitude", resp.Field)
				assert.Equal(t, http.StatusBadRequest, resp.Code)
			},
		},
		{
			name:       "data unavailable",
			body:       `{}`,
			engineErr:  &models.DataUnavailableError{Source: "nasa_power", Key: "-19.90,-43.90", Transient: true},
			wantStatus: http.StatusServiceUnavailable,
			checkValues: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Equal(t, string(models.KindDataUnavailable), decodeError(t, rec).Kind)
			},
		},
		{
			name:       "computation error hides details",
			body:       `{}`,
			engineErr:  &models.ComputationError{Stage: "financing", Message: "principal mismatch"},
			wantStatus: http.StatusInternalServerError,
			checkValues: func(t *testing.T, rec *httptest.ResponseRecorder) {
				resp := decodeError(t, rec)
				assert.Equal(t, string(models.KindComputationError), resp.Kind)
				assert.Equal(t, "internal error", resp.Message)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			s.simulations.err = tt.engineErr

			rec := s.do(http.MethodPost, "/api/simulations", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if tt.checkValues != nil {
				tt.checkValues(t, rec)
			}
		})
	}
}

func TestGetAndListSimulations(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/api/simulations/2d1e4c8a-8c7b-4b5e-9f3e-0a1b2c3d4e5f", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/simulations/8f9e0d1c-0000-4000-8000-000000000000", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(models.KindNotFound), decodeError(t, rec).Kind)

	rec = s.do(http.MethodGet, "/api/simulations?quote_id=Q-1&since=2024-01-01&page=3&limit=50", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page PaginatedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 250, page.Total)
	assert.Equal(t, 3, page.Page)
	assert.Equal(t, 5, page.TotalPages)
	require.NotNil(t, s.simulations.lastFilter.QuoteID)
	assert.Equal(t, "Q-1", *s.simulations.lastFilter.QuoteID)
	assert.Equal(t, 100, s.simulations.lastFilter.Offset)
	assert.Equal(t, 50, s.simulations.lastFilter.Limit)
	require.NotNil(t, s.simulations.lastFilter.Since)
	assert.True(t, s.simulations.lastFilter.Since.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	rec = s.do(http.MethodGet, "/api/simulations?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.simulations.err = services.ErrPersistenceDisabled
	rec = s.do(http.MethodGet, "/api/simulations", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestCreateSchedule(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantStatus  int
		checkValues func(*testing.T, ScheduleResponse)
	}{
		{
			name:       "price schedule",
			body:       `{"modality":"revolving_credit","requested_amount":"100000","term_months":12,"system":"price","annual_rate":0.12}`,
			wantStatus: http.StatusOK,
			checkValues: func(t *testing.T, resp ScheduleResponse) {
				require.Len(t, resp.Schedule.Installments, 12)
				assert.Equal(t, "8884.88", resp.Schedule.Installments[0].Payment.StringFixed(2))
				assert.True(t, resp.Schedule.Installments[11].ClosingBalance.IsZero())
			},
		},
		{
			name:       "default rate applied",
			body:       `{"requested_amount":12000,"term_months":24,"system":"sac"}`,
			wantStatus: http.StatusOK,
			checkValues: func(t *testing.T, resp ScheduleResponse) {
				assert.Equal(t, models.SystemSAC, resp.Schedule.System)
				assert.InDelta(t, 0.24, resp.Schedule.AnnualRate, 1e-12)
				codes := make([]string, 0, len(resp.Assumptions))
				for _, a := range resp.Assumptions {
					codes = append(codes, a.Code)
				}
				assert.Contains(t, codes, models.AssumptionDefaultRate)
			},
		},
		{
			name:       "zero term",
			body:       `{"requested_amount":12000,"term_months":0}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "down payment above amount",
			body:       `{"requested_amount":1000,"down_payment":2000,"term_months":12}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			rec := s.do(http.MethodPost, "/api/financing/schedules", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.checkValues != nil {
				var resp ScheduleResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				tt.checkValues(t, resp)
			}
		})
	}
}

func TestListTariffsAndQuotes(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/api/tariffs?distributor=cemig&class=B1&as_of=2024-06-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, s.tariffs.lastFilter.Distributor)
	assert.Equal(t, "cemig", *s.tariffs.lastFilter.Distributor)
	require.NotNil(t, s.tariffs.lastFilter.AsOf)

	rec = s.do(http.MethodGet, "/api/tariffs?as_of=06/2024", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/quotes/Q-1/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var overview services.QuoteOverview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &overview))
	assert.Equal(t, 3, overview.Summary.SimulationCount)

	rec = s.do(http.MethodGet, "/api/quotes/Q-2/summary", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	m := metrics.NewCollector("test", prometheus.NewRegistry())
	h := NewSimulationHandler(&fakeSimulations{}, nil, nil, financing.NewEngine(financing.Config{}), nil, logging.NewNopLogger(), m)
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	for _, target := range []string{"/api/tariffs", "/api/quotes/Q-1/summary"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusNotImplemented, rr.Code, target)
	}
}

func TestHealthCheck(t *testing.T) {
	rec := newTestServer(t, fakeHealth{}).do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = newTestServer(t, fakeHealth{err: errors.New("connection refused")}).do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "unhealthy", status["status"])
}

func TestDocs(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/api/docs/openapi.json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	paths, ok := doc["paths"].(map[string]interface{})
	require.True(t, ok)
	for _, p := range []string{"/api/simulations", "/api/simulations/{id}", "/api/financing/schedules", "/api/tariffs", "/api/quotes/{id}/summary"} {
		assert.Contains(t, paths, p)
	}

	rec = s.do(http.MethodGet, "/api/docs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Solar Platform API")
}

func TestMiddleware(t *testing.T) {
	m := metrics.NewCollector("test", prometheus.NewRegistry())
	var seenID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = logging.RequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	limiter := NewRateLimiter(1, 2, m)
	h := Chain(inner, logging.NewNopLogger(), limiter, []string{"https://app.example.com"})

	send := func(remote, requestID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/tariffs", nil)
		req.RemoteAddr = remote
		if requestID != "" {
			req.Header.Set(RequestIDHeader, requestID)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := send("10.0.0.1:5000", "req-123")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-123", seenID)

	rec = send("10.0.0.1:5001", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = send("10.0.0.1:5002", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeError(t, rec).Kind)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIErrorsTotal.WithLabelValues("rate_limited", "/api/tariffs")))

	// Other clients keep their own budget.
	rec = send("10.0.0.2:5000", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	panicking := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), logging.NewNopLogger(), nil, nil)
	rr := httptest.NewRecorder()
	panicking.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
