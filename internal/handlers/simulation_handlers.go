package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"solar-platform/internal/models"
	"solar-platform/internal/repository"
	"solar-platform/internal/services"
	"solar-platform/pkg/logging"
	"solar-platform/pkg/metrics"
)

const maxBodyBytes = 1 << 20

// SimulationAPI runs and reads simulations.
type SimulationAPI interface {
	Simulate(ctx context.Context, in models.SimulationInput) (*models.SimulationRecord, error)
	GetSimulation(ctx context.Context, id string) (*models.SimulationRecord, error)
	ListSimulations(ctx context.Context, filter repository.SimulationFilter) ([]*models.SimulationRecord, int, error)
}

// QuoteAPI summarizes the simulations of a quote.
type QuoteAPI interface {
	Overview(ctx context.Context, quoteID string) (*services.QuoteOverview, error)
}

// TariffAPI lists ingested tariffs.
type TariffAPI interface {
	ListTariffs(ctx context.Context, filter repository.TariffFilter) ([]*models.TariffRate, int, error)
}

// ScheduleBuilder generates amortization schedules.
type ScheduleBuilder interface {
	Schedule(p models.FinancingProposal) (*models.AmortizationSchedule, []models.Assumption, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SimulationHandler handles the simulation API endpoints
type SimulationHandler struct {
	simulations SimulationAPI
	quotes      QuoteAPI
	tariffs     TariffAPI
	financing   ScheduleBuilder
	health      HealthChecker
	logger      *logging.StructuredLogger
	metrics     *metrics.Collector
}

// NewSimulationHandler creates a new simulation handler. tariffs, quotes
// and health may be nil when the server runs without a database.
func NewSimulationHandler(
	simulations SimulationAPI,
	quotes QuoteAPI,
	tariffs TariffAPI,
	financing ScheduleBuilder,
	health HealthChecker,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *SimulationHandler {
	return &SimulationHandler{
		simulations: simulations,
		quotes:      quotes,
		tariffs:     tariffs,
		financing:   financing,
		health:      health,
		logger:      logger,
		metrics:     metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// ScheduleResponse is the body of a financing schedule response
type ScheduleResponse struct {
	Schedule    *models.AmortizationSchedule `json:"schedule"`
	Assumptions []models.Assumption          `json:"assumptions"`
}

// CreateSimulation handles POST /api/simulations
func (h *SimulationHandler) CreateSimulation(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/simulations"
	ctx := r.Context()
	defer h.observe(endpoint, time.Now())

	var in models.SimulationInput
	if err := decodeBody(w, r, &in); err != nil {
		h.sendError(w, r, endpoint, err)
		return
	}

	rec, err := h.simulations.Simulate(ctx, in)
	if err != nil {
		h.sendError(w, r, endpoint, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "201")
	w.Header().Set("Location", endpoint+"/"+rec.ID)
	h.sendJSON(w, rec, http.StatusCreated)
}

// GetSimulation handles GET /api/simulations/{id}
func (h *SimulationHandler) GetSimulation(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/simulations/{id}"
	ctx := r.Context()
	defer h.observe(endpoint, time.Now())

	rec, err := h.simulations.GetSimulation(ctx, mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, r, endpoint, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, rec, http.StatusOK)
}

// ListSimulations handles GET /api/simulations
func (h *SimulationHandler) ListSimulations(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/simulations"
	ctx := r.Context()
	defer h.observe(endpoint, time.Now())

	page, limit := pagination(r)
	filter := repository.SimulationFilter{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	if quoteID := r.URL.Query().Get("quote_id"); quoteID != "" {
		filter.QuoteID = &quoteID
	}

	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		since, err := time.Parse("2006-01-02", sinceStr)
		if err != nil {
			h.sendError(w, r, endpoint, models.NewValidationError("since", sinceStr, nil, "invalid since format, expected YYYY-MM-DD"))
			return
		}
		filter.Since = &since
	}

	records, total, err := h.simulations.ListSimulations(ctx, filter)
	if err != nil {
		h.sendError(w, r, endpoint, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, paginated(records, total, page, limit), http.StatusOK)
}

// CreateSchedule handles POST /api/financing/schedules
func (h *SimulationHandler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/financing/schedules"
	defer h.observe(endpoint, time.Now())

	var p models.FinancingProposal
	if err := decodeBody(w, r, &p); err != nil {
		h.sendError(w, r, endpoint, err)
		return
	}

	schedule, assumptions, err := h.financing.Schedule(p)
	if err != nil {
		h.sendError(w, r, endpoint, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, ScheduleResponse{Schedule: schedule, Assumptions: assumptions}, http.StatusOK)
}

// ListTariffs handles GET /api/tariffs
func (h *SimulationHandler) ListTariffs(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/tariffs"
	ctx := r.Context()
	defer h.observe(endpoint, time.Now())

	if h.tariffs == nil {
		h.sendError(w, r, endpoint, services.ErrPersistenceDisabled)
		return
	}

	page, limit := pagination(r)
	filter := repository.TariffFilter{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	if distributor := r.URL.Query().Get("distributor"); distributor != "" {
		filter.Distributor = &distributor
	}
	if class := r.URL.Query().Get("class"); class != "" {
		filter.Class = &class
	}
	if asOfStr := r.URL.Query().Get("as_of"); asOfStr != "" {
		asOf, err := time.Parse("2006-01-02", asOfStr)
		if err != nil {
			h.sendError(w, r, endpoint, models.NewValidationError("as_of", asOfStr, nil, "invalid as_of format, expected YYYY-MM-DD"))
			return
		}
		filter.AsOf = &asOf
	}

	tariffs, total, err := h.tariffs.ListTariffs(ctx, filter)
	if err != nil {
		h.sendError(w, r, endpoint, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, paginated(tariffs, total, page, limit), http.StatusOK)
}

// GetQuoteSummary handles GET /api/quotes/{id}/summary
func (h *SimulationHandler) GetQuoteSummary(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/quotes/{id}/summary"
	ctx := r.Context()
	defer h.observe(endpoint, time.Now())

	if h.quotes == nil {
		h.sendError(w, r, endpoint, services.ErrPersistenceDisabled)
		return
	}

	overview, err := h.quotes.Overview(ctx, mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, r, endpoint, err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, overview, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *SimulationHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if h.health != nil {
		if err := h.health.HealthCheck(ctx); err != nil {
			h.logger.Warn(ctx, "[HEALTH_CHECK_FAILED] Dependency unhealthy", logging.Fields{
				"error": err.Error(),
			})
			status["status"] = "unhealthy"
			status["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, code)
}

func (h *SimulationHandler) observe(endpoint string, start time.Time) {
	h.metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// sendJSON sends a JSON response
func (h *SimulationHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	sendJSON(w, data, statusCode)
}

// sendError maps err to a status code and sends an error response
func (h *SimulationHandler) sendError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	statusCode, kind := classify(err)
	h.metrics.RecordAPIRequest(endpoint, r.Method, strconv.Itoa(statusCode))
	h.metrics.RecordAPIError(kind, endpoint)

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Kind:    kind,
		Message: err.Error(),
		Code:    statusCode,
	}

	var validation *models.ValidationError
	if errors.As(err, &validation) {
		response.Field = validation.Field
	}

	if statusCode >= http.StatusInternalServerError {
		h.logger.Error(r.Context(), "[API_ERROR] Request failed", logging.Fields{
			"endpoint": endpoint,
			"method":   r.Method,
			"kind":     kind,
		}, err)
		if statusCode == http.StatusInternalServerError {
			response.Message = "internal error"
		}
	}

	sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all simulation API routes
func (h *SimulationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/simulations", h.CreateSimulation).Methods("POST")
	router.HandleFunc("/api/simulations", h.ListSimulations).Methods("GET")
	router.HandleFunc("/api/simulations/{id}", h.GetSimulation).Methods("GET")
	router.HandleFunc("/api/financing/schedules", h.CreateSchedule).Methods("POST")
	router.HandleFunc("/api/tariffs", h.ListTariffs).Methods("GET")
	router.HandleFunc("/api/quotes/{id}/summary", h.GetQuoteSummary).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}

// classify maps an error to its HTTP status and error kind label.
func classify(err error) (int, string) {
	if errors.Is(err, services.ErrPersistenceDisabled) {
		return http.StatusNotImplemented, "persistence_disabled"
	}

	kind := models.KindOf(err)
	switch kind {
	case models.KindInvalidInput:
		return http.StatusBadRequest, string(kind)
	case models.KindNotFound:
		return http.StatusNotFound, string(kind)
	case models.KindDataUnavailable:
		return http.StatusServiceUnavailable, string(kind)
	default:
		return http.StatusInternalServerError, string(kind)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return models.NewValidationError("body", nil, err, "invalid request body: %v", err)
	}
	if dec.More() {
		return models.NewValidationError("body", nil, nil, "request body must hold a single JSON object")
	}
	return nil
}

func pagination(r *http.Request) (page, limit int) {
	page, limit = 1, repository.DefaultPageSize

	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= repository.MaxPageSize {
		limit = l
	}
	return page, limit
}

func paginated(data interface{}, total, page, limit int) PaginatedResponse {
	return PaginatedResponse{
		Data:       data,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}
}

func sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}
