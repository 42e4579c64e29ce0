package tariff

import (
	"bytes"
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
	aneelBaseTariff = "Tarifa de Aplicação"
	aneelModality   = "Convencional"
	aneelPageSize   = 100
	maxResponseSize = 4 << 20
)

// HTTPConfig configures the ANEEL open-data adapter.
type HTTPConfig struct {
	BaseURL    string
	ResourceID string
	Timeout    time.Duration
}

// HTTPProvider queries the ANEEL CKAN datastore for homologated tariffs.
// TE and TUSD are published in R$/MWh.
type HTTPProvider struct {
	cfg     HTTPConfig
	client  *http.Client
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewHTTPProvider creates an ANEEL adapter.
func NewHTTPProvider(cfg HTTPConfig, client *http.Client, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *HTTPProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPProvider{cfg: cfg, client: client, logger: logger, metrics: metricsCollector}
}

// Name returns the source name
func (p *HTTPProvider) Name() string {
	return SourceANEEL
}

// ckanValue accepts JSON strings, numbers and null.
type ckanValue string

func (v *ckanValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = ckanValue(s)
		return nil
	}
	*v = ckanValue(data)
	return nil
}

type aneelRecord struct {
	Agent      ckanValue `json:"SigAgente"`
	SubGroup   ckanValue `json:"DscSubGrupo"`
	ValidFrom  ckanValue `json:"DatInicioVigencia"`
	TUSD       ckanValue `json:"VlrTUSD"`
	TE         ckanValue `json:"VlrTE"`
	Unit       ckanValue `json:"DscUnidadeTerciaria"`
	BaseTariff ckanValue `json:"DscBaseTarifaria"`
}

type ckanResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Records []aneelRecord `json:"records"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Lookup performs one bounded request and picks the latest tariff in force.
func (p *HTTPProvider) Lookup(ctx context.Context, key models.TariffKey) (models.TariffRate, error) {
	start := time.Now()
	rate, reason, err := p.lookup(ctx, key)
	p.metrics.RecordExternalFetch(SourceANEEL, time.Since(start), err, reason)

	if err != nil && !errors.Is(err, ErrTariffNotFound) {
		p.logger.Warn(ctx, "[TARIFF_FETCH_ERROR] ANEEL request failed", logging.Fields{
			"distributor": key.Distributor,
			"class":       key.Class,
			"reason":      reason,
			"error":       err.Error(),
		})
	}
	return rate, err
}

func (p *HTTPProvider) lookup(ctx context.Context, key models.TariffKey) (models.TariffRate, string, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	filters, err := json.Marshal(map[string]string{
		"SigAgente":              key.Distributor,
		"DscSubGrupo":            key.Class,
		"DscBaseTarifaria":       aneelBaseTariff,
		"DscModalidadeTarifaria": aneelModality,
	})
	if err != nil {
		return models.TariffRate{}, "request", err
	}

	params := url.Values{}
	params.Set("resource_id", p.cfg.ResourceID)
	params.Set("filters", string(filters))
	params.Set("sort", "DatInicioVigencia desc")
	params.Set("limit", strconv.Itoa(aneelPageSize))
	requestURL := p.cfg.BaseURL + "?" + params.Encode()

	unavailable := func(transient bool, err error) error {
		return &models.DataUnavailableError{Source: SourceANEEL, Key: key.String(), Transient: transient, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return models.TariffRate{}, "request", unavailable(false, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.TariffRate{}, "timeout", unavailable(true, err)
		}
		return models.TariffRate{}, "transport", unavailable(true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return models.TariffRate{}, "upstream", unavailable(true, fmt.Errorf("upstream status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return models.TariffRate{}, "status", unavailable(false, fmt.Errorf("status %d", resp.StatusCode))
	}

	var body ckanResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&body); err != nil {
		return models.TariffRate{}, "decode", unavailable(false, err)
	}
	if !body.Success {
		msg := "request rejected"
		if body.Error != nil && body.Error.Message != "" {
			msg = body.Error.Message
		}
		return models.TariffRate{}, "rejected", unavailable(false, errors.New(msg))
	}

	var candidates []models.TariffRate
	for _, r := range body.Result.Records {
		if r.BaseTariff != "" && string(r.BaseTariff) != aneelBaseTariff {
			continue
		}
		validFrom := string(r.ValidFrom)
		if len(validFrom) > 10 {
			validFrom = validFrom[:10]
		}
		raw := models.RawTariffRecord{
			Distributor:  string(r.Agent),
			Class:        string(r.SubGroup),
			EnergyMWh:    string(r.TE),
			Distribution: string(r.TUSD),
			AsOf:         validFrom,
			SourceURL:    requestURL,
		}
		rate, err := raw.ToTariffRate()
		if err != nil {
			p.logger.Debug(ctx, "[TARIFF_SKIP] Skipping malformed ANEEL record", logging.Fields{
				"distributor": key.Distributor,
				"error":       err.Error(),
			})
			continue
		}
		if unit := string(r.Unit); unit == "kWh" {
			// Already per kWh; undo the per-MWh conversion.
			rate = perKWh(rate)
		}
		candidates = append(candidates, *rate)
	}

	rate, ok := latestInForce(candidates, key.AsOf)
	if !ok {
		return models.TariffRate{}, "not_found", notFound(SourceANEEL, key)
	}
	rate.CreatedAt = time.Time{}
	return rate, "", nil
}

func perKWh(r *models.TariffRate) *models.TariffRate {
	scale := func(v *float64) *float64 {
		if v == nil {
			return nil
		}
		x := *v * 1000
		return &x
	}
	r.EnergyCharge = scale(r.EnergyCharge)
	r.DistributionCharge = scale(r.DistributionCharge)
	return r
}
