package climate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"solar-platform/internal/models"
	"solar-platform/pkg/logging"
	"solar-platform/pkg/metrics"
)

const (
	paramIrradiance  = "ALLSKY_SFC_SW_DWN"
	paramTemperature = "T2M"
	powerFillValue   = -999.0
	maxResponseBytes = 4 << 20
)

// HTTPConfig configures the NASA POWER monthly point adapter.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPProvider queries the NASA POWER monthly point API. Irradiance comes
// back in kWh/m²/day and is converted to monthly totals.
type HTTPProvider struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewHTTPProvider creates a NASA POWER adapter.
func NewHTTPProvider(cfg HTTPConfig, client *http.Client, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *HTTPProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPProvider{
		baseURL: cfg.BaseURL,
		timeout: cfg.Timeout,
		client:  client,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Name returns the source name
func (p *HTTPProvider) Name() string {
	return SourceNASAPower
}

type powerResponse struct {
	Header struct {
		FillValue *float64 `json:"fill_value"`
	} `json:"header"`
	Properties struct {
		Parameter map[string]map[string]float64 `json:"parameter"`
	} `json:"properties"`
	Messages []string `json:"messages"`
}

// Fetch performs a single request bounded by the configured timeout.
func (p *HTTPProvider) Fetch(ctx context.Context, q Query) (models.ClimateRecord, error) {
	start := time.Now()
	rec, reason, err := p.fetch(ctx, q)
	p.metrics.RecordExternalFetch(SourceNASAPower, time.Since(start), err, reason)

	if err != nil {
		p.logger.Warn(ctx, "[CLIMATE_FETCH_ERROR] NASA POWER request failed", logging.Fields{
			"latitude":  q.Location.Latitude,
			"longitude": q.Location.Longitude,
			"reason":    reason,
			"error":     err.Error(),
		})
		return models.ClimateRecord{}, err
	}

	p.logger.Debug(ctx, "[CLIMATE_FETCH] NASA POWER record fetched", logging.Fields{
		"latitude":    q.Location.Latitude,
		"longitude":   q.Location.Longitude,
		"months":      len(rec.Monthly),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return rec, nil
}

func (p *HTTPProvider) fetch(ctx context.Context, q Query) (models.ClimateRecord, string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	params := url.Values{}
	params.Set("parameters", paramIrradiance+","+paramTemperature)
	params.Set("community", "RE")
	params.Set("latitude", strconv.FormatFloat(q.Location.Latitude, 'f', 4, 64))
	params.Set("longitude", strconv.FormatFloat(q.Location.Longitude, 'f', 4, 64))
	params.Set("start", strconv.Itoa(q.Range.Start.Year()))
	params.Set("end", strconv.Itoa(q.Range.End.Year()))
	params.Set("format", "JSON")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return models.ClimateRecord{}, "request", unavailable(SourceNASAPower, q, false, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctxErr := contextFailure(SourceNASAPower, q, err); ctxErr != nil {
			return models.ClimateRecord{}, "timeout", ctxErr
		}
		return models.ClimateRecord{}, "transport", unavailable(SourceNASAPower, q, true, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return models.ClimateRecord{}, "upstream", unavailable(SourceNASAPower, q, true,
			fmt.Errorf("upstream status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return models.ClimateRecord{}, "no_coverage", unavailable(SourceNASAPower, q, false,
			fmt.Errorf("status %d", resp.StatusCode))
	}

	var body powerResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		if ctxErr := contextFailure(SourceNASAPower, q, err); ctxErr != nil {
			return models.ClimateRecord{}, "timeout", ctxErr
		}
		return models.ClimateRecord{}, "decode", unavailable(SourceNASAPower, q, false, err)
	}

	rec, err := p.toRecord(q, body)
	if err != nil {
		return models.ClimateRecord{}, "no_coverage", err
	}
	return rec, "", nil
}

func (p *HTTPProvider) toRecord(q Query, body powerResponse) (models.ClimateRecord, error) {
	fill := powerFillValue
	if body.Header.FillValue != nil {
		fill = *body.Header.FillValue
	}
	missing := func(v float64) bool { return v == fill || v < 0 }

	irradiance := body.Properties.Parameter[paramIrradiance]
	temperature := body.Properties.Parameter[paramTemperature]

	rec := models.ClimateRecord{
		Source:    SourceNASAPower,
		Location:  q.Location,
		Range:     q.Range,
		FetchedAt: time.Now().UTC(),
	}

	cursor := time.Date(q.Range.Start.Year(), q.Range.Start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < q.Range.Months(); i++ {
		year, month := cursor.Year(), cursor.Month()
		cursor = cursor.AddDate(0, 1, 0)

		key := fmt.Sprintf("%04d%02d", year, int(month))
		daily, ok := irradiance[key]
		if !ok || missing(daily) {
			continue
		}
		m := models.MonthlyIrradiance{
			Year:                year,
			Month:               month,
			IrradiationKWhPerM2: daily * float64(daysIn(year, month)),
		}
		if t, ok := temperature[key]; ok && t != fill {
			m.AmbientTempCelsius = &t
		}
		rec.Monthly = append(rec.Monthly, m)
	}

	// POWER reports the yearly mean under month "13". It is kept whenever
	// present so months dropped as fill values can fall back to it.
	var annual float64
	var years int
	for y := q.Range.Start.Year(); y <= q.Range.End.Year(); y++ {
		daily, ok := irradiance[fmt.Sprintf("%04d13", y)]
		if !ok || missing(daily) {
			continue
		}
		annual += daily * float64(time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC).YearDay())
		years++
	}
	if years > 0 {
		annual /= float64(years)
		rec.AnnualKWhPerM2 = &annual
	}

	var counts [12]int
	for _, m := range rec.Monthly {
		counts[m.Month-1]++
	}
	switch {
	case len(rec.Monthly) == 0 && rec.AnnualKWhPerM2 == nil:
		return models.ClimateRecord{}, unavailable(SourceNASAPower, q, false, errors.New("no irradiance values in response"))
	case covered(counts) < 12 && rec.AnnualKWhPerM2 == nil:
		return models.ClimateRecord{}, unavailable(SourceNASAPower, q, false,
			fmt.Errorf("response covers %d of 12 calendar months and has no annual mean", covered(counts)))
	}
	return rec, nil
}
