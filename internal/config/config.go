package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"solar-platform/internal/models"
)

// Config is the full application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Logging    LoggingConfig
	Redis      RedisConfig
	Climate    ClimateConfig
	Tariff     TariffConfig
	Simulation SimulationConfig
	Financing  FinancingConfig
	RateLimit  RateLimitConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level string
}

// RedisConfig holds the shared cache tier settings. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// ClimateConfig selects and tunes the irradiance source.
type ClimateConfig struct {
	Source          string
	BaseURL         string
	Timeout         time.Duration
	FallbackEnabled bool
	ClearnessIndex  float64
	ReferenceYear   int
	CacheTTL        time.Duration
}

// TariffConfig selects the tariff source and the defaults applied when a
// component cannot be resolved. Nil defaults disable the fallback.
type TariffConfig struct {
	Source              string
	BaseURL             string
	ResourceID          string
	Timeout             time.Duration
	CacheTTL            time.Duration
	DefaultEnergy       *float64
	DefaultDistribution *float64
}

// SimulationConfig holds the physical and economic assumptions.
type SimulationConfig struct {
	LifetimeYears           int
	DegradationPercent      float64
	TariffEscalationPercent float64
	NetMeteringEnabled      bool
	NetMeteringCompensation float64
	CapexPerKWp             float64
	ModulePowerW            float64
	ModuleAreaM2            float64
	InverterKW              float64
	InverterDCACRatio       float64
	TempCoefficient         float64
	CellTempOffsetC         float64
	ScenarioTimeout         time.Duration
}

// FinancingConfig holds default rates per modality.
type FinancingConfig struct {
	RateBasis     models.RateBasis
	DefaultSystem models.AmortizationSystem
	DefaultRates  map[models.Modality]float64
}

// RateLimitConfig holds the API limiter settings
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
}

// LoadConfig reads an optional .env file and then the environment.
// Malformed values are reported together rather than silently defaulted.
func LoadConfig() (*Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	l := &loader{}

	cfg := &Config{
		Server: ServerConfig{
			Host:         l.getString("SERVER_HOST", "0.0.0.0"),
			Port:         l.getInt("SERVER_PORT", 8080),
			ReadTimeout:  l.getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: l.getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  l.getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			CORSOrigins:  l.getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:            l.getString("DB_HOST", "localhost"),
			Port:            l.getInt("DB_PORT", 5432),
			User:            l.getString("DB_USER", "postgres"),
			Password:        l.getString("DB_PASSWORD", "postgres"),
			Database:        l.getString("DB_NAME", "solar_platform"),
			SSLMode:         l.getString("DB_SSLMODE", "disable"),
			MaxOpenConns:    l.getInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    l.getInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: l.getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: l.getDuration("DB_CONN_MAX_IDLE_TIME", time.Minute),
		},
		Logging: LoggingConfig{
			Level: strings.ToLower(l.getString("LOG_LEVEL", "info")),
		},
		Redis: RedisConfig{
			Addr:     l.getString("REDIS_ADDR", ""),
			Password: l.getString("REDIS_PASSWORD", ""),
			DB:       l.getInt("REDIS_DB", 0),
			TTL:      l.getDuration("REDIS_TTL", 30*24*time.Hour),
		},
		Climate: ClimateConfig{
			Source:          strings.ToLower(l.getString("CLIMATE_SOURCE", "nasa-power")),
			BaseURL:         l.getString("CLIMATE_BASE_URL", "https://power.larc.nasa.gov/api/temporal/monthly/point"),
			Timeout:         l.getDuration("CLIMATE_TIMEOUT", 10*time.Second),
			FallbackEnabled: l.getBool("CLIMATE_FALLBACK_ENABLED", true),
			ClearnessIndex:  l.getFloat("CLIMATE_CLEARNESS_INDEX", 0.7),
			ReferenceYear:   l.getInt("CLIMATE_REFERENCE_YEAR", 2023),
			CacheTTL:        l.getDuration("CLIMATE_CACHE_TTL", 24*time.Hour),
		},
		Tariff: TariffConfig{
			Source:              strings.ToLower(l.getString("TARIFF_SOURCE", "store")),
			BaseURL:             l.getString("TARIFF_BASE_URL", "https://dadosabertos.aneel.gov.br/api/3/action/datastore_search"),
			ResourceID:          l.getString("TARIFF_RESOURCE_ID", "fcf2906c-7c32-4b9b-a637-054e7a5234f4"),
			Timeout:             l.getDuration("TARIFF_TIMEOUT", 10*time.Second),
			CacheTTL:            l.getDuration("TARIFF_CACHE_TTL", 6*time.Hour),
			DefaultEnergy:       l.getOptionalFloat("TARIFF_DEFAULT_ENERGY"),
			DefaultDistribution: l.getOptionalFloat("TARIFF_DEFAULT_DISTRIBUTION"),
		},
		Simulation: SimulationConfig{
			LifetimeYears:           l.getInt("SIM_LIFETIME_YEARS", 25),
			DegradationPercent:      l.getFloat("SIM_DEGRADATION_PERCENT", 0.5),
			TariffEscalationPercent: l.getFloat("SIM_TARIFF_ESCALATION_PERCENT", 0),
			NetMeteringEnabled:      l.getBool("SIM_NET_METERING_ENABLED", true),
			NetMeteringCompensation: l.getFloat("SIM_NET_METERING_COMPENSATION", 1.0),
			CapexPerKWp:             l.getFloat("SIM_CAPEX_PER_KWP", 4500),
			ModulePowerW:            l.getFloat("SIM_MODULE_POWER_W", 550),
			ModuleAreaM2:            l.getFloat("SIM_MODULE_AREA_M2", 2.58),
			InverterKW:              l.getFloat("SIM_INVERTER_KW", 5),
			InverterDCACRatio:       l.getFloat("SIM_INVERTER_DC_AC_RATIO", 1.2),
			TempCoefficient:         l.getFloat("SIM_TEMP_COEFFICIENT", -0.004),
			CellTempOffsetC:         l.getFloat("SIM_CELL_TEMP_OFFSET_C", 20),
			ScenarioTimeout:         l.getDuration("SIM_SCENARIO_TIMEOUT", 30*time.Second),
		},
		Financing: FinancingConfig{
			RateBasis:     models.RateBasis(strings.ToLower(l.getString("FINANCING_RATE_BASIS", string(models.RateNominal)))),
			DefaultSystem: models.AmortizationSystem(strings.ToLower(l.getString("FINANCING_DEFAULT_SYSTEM", string(models.SystemPRICE)))),
			DefaultRates: map[models.Modality]float64{
				models.ModalityRevolvingCredit:  l.getFloat("FINANCING_RATE_REVOLVING_CREDIT", 0.24),
				models.ModalityLease:            l.getFloat("FINANCING_RATE_LEASE", 0.18),
				models.ModalityEnergyAsAService: l.getFloat("FINANCING_RATE_ENERGY_AS_A_SERVICE", 0.15),
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           l.getBool("RATE_LIMIT_ENABLED", true),
			RequestsPerSecond: l.getFloat("RATE_LIMIT_RPS", 10),
			Burst:             l.getInt("RATE_LIMIT_BURST", 20),
		},
	}

	if len(l.errs) > 0 {
		return nil, fmt.Errorf("failed to parse configuration: %w", errors.Join(l.errs...))
	}

	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Database.Host == "" || c.Database.Database == "" {
		errs = append(errs, errors.New("DB_HOST and DB_NAME are required"))
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		errs = append(errs, fmt.Errorf("DB_MAX_IDLE_CONNS (%d) exceeds DB_MAX_OPEN_CONNS (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "fatal":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error, fatal", c.Logging.Level))
	}

	switch c.Climate.Source {
	case "nasa-power", "fixture":
	default:
		errs = append(errs, fmt.Errorf("CLIMATE_SOURCE %q is not one of nasa-power, fixture", c.Climate.Source))
	}
	if c.Climate.Timeout <= 0 {
		errs = append(errs, errors.New("CLIMATE_TIMEOUT must be positive"))
	}
	if c.Climate.ClearnessIndex <= 0 || c.Climate.ClearnessIndex > 1 {
		errs = append(errs, fmt.Errorf("CLIMATE_CLEARNESS_INDEX must be in (0, 1], got %v", c.Climate.ClearnessIndex))
	}

	switch c.Tariff.Source {
	case "store", "aneel", "fixture":
	default:
		errs = append(errs, fmt.Errorf("TARIFF_SOURCE %q is not one of store, aneel, fixture", c.Tariff.Source))
	}
	if c.Tariff.Timeout <= 0 {
		errs = append(errs, errors.New("TARIFF_TIMEOUT must be positive"))
	}
	for name, v := range map[string]*float64{
		"TARIFF_DEFAULT_ENERGY":       c.Tariff.DefaultEnergy,
		"TARIFF_DEFAULT_DISTRIBUTION": c.Tariff.DefaultDistribution,
	} {
		if v != nil && *v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	s := c.Simulation
	if s.LifetimeYears <= 0 || s.LifetimeYears > 50 {
		errs = append(errs, fmt.Errorf("SIM_LIFETIME_YEARS must be between 1 and 50, got %d", s.LifetimeYears))
	}
	if s.DegradationPercent < 0 || s.DegradationPercent >= 100 {
		errs = append(errs, errors.New("SIM_DEGRADATION_PERCENT must be in [0, 100)"))
	}
	if s.NetMeteringCompensation < 0 || s.NetMeteringCompensation > 1 {
		errs = append(errs, errors.New("SIM_NET_METERING_COMPENSATION must be in [0, 1]"))
	}
	if s.CapexPerKWp <= 0 || s.ModulePowerW <= 0 || s.ModuleAreaM2 <= 0 || s.InverterKW <= 0 || s.InverterDCACRatio <= 0 {
		errs = append(errs, errors.New("SIM_CAPEX_PER_KWP, SIM_MODULE_POWER_W, SIM_MODULE_AREA_M2, SIM_INVERTER_KW and SIM_INVERTER_DC_AC_RATIO must be positive"))
	}

	if _, err := models.ParseRateBasis(string(c.Financing.RateBasis)); err != nil {
		errs = append(errs, fmt.Errorf("FINANCING_RATE_BASIS: %w", err))
	}
	if _, err := models.ParseAmortizationSystem(string(c.Financing.DefaultSystem)); err != nil {
		errs = append(errs, fmt.Errorf("FINANCING_DEFAULT_SYSTEM: %w", err))
	}
	for modality, rate := range c.Financing.DefaultRates {
		if rate < 0 {
			errs = append(errs, fmt.Errorf("default rate for %s must not be negative", modality))
		}
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive when rate limiting is enabled"))
	}

	return errors.Join(errs...)
}

// loader reads typed environment values and collects parse failures.
type loader struct {
	errs []error
}

func (l *loader) getString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func (l *loader) getInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return fallback
	}
	return v
}

func (l *loader) getFloat(key string, fallback float64) float64 {
	if v := l.getOptionalFloat(key); v != nil {
		return *v
	}
	return fallback
}

func (l *loader) getOptionalFloat(key string) *float64 {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: invalid number %q", key, raw))
		return nil
	}
	return &v
}

func (l *loader) getBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: invalid boolean %q", key, raw))
		return fallback
	}
	return v
}

func (l *loader) getDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: invalid duration %q", key, raw))
		return fallback
	}
	return v
}

func (l *loader) getList(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
