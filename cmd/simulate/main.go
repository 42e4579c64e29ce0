package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"solar-platform/internal/app"
	"solar-platform/internal/climate"
	"solar-platform/internal/config"
	"solar-platform/internal/models"
	"solar-platform/internal/services"
	"solar-platform/internal/tariff"
	"solar-platform/pkg/database"
	"solar-platform/pkg/logging"
	"solar-platform/pkg/metrics"
)

func main() {
	inputPath := pflag.StringP("input", "i", "-", "Simulation input JSON file, - for stdin")
	offline := pflag.Bool("offline", false, "Use the clear-sky climate model and the tariff given by flags")
	energy := pflag.Float64("tariff-energy", 0, "Energy charge per kWh for offline runs")
	distribution := pflag.Float64("tariff-distribution", 0, "Distribution charge per kWh for offline runs")
	factors := pflag.Float64Slice("factors", nil, "Oversizing factors to explore, e.g. 1.1,1.25")
	timeout := pflag.Duration("timeout", time.Minute, "Overall simulation timeout")
	pretty := pflag.BoolP("pretty", "p", false, "Indent the JSON output")
	pflag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	in, err := readInput(*inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read input: %v\n", err)
		os.Exit(2)
	}
	if len(*factors) > 0 {
		in.OversizingFactors = *factors
	}

	var fixtures []models.TariffRate
	if *offline {
		cfg.Climate.Source = climate.SourceFixture
		cfg.Tariff.Source = tariff.SourceFixture
		// Unset charges fall back to the configured tariff defaults.
		rate := models.TariffRate{
			Distributor: in.Tariff.Distributor,
			Class:       in.Tariff.Class,
			SourceURL:   "cli://flags",
			AsOf:        time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC),
		}
		if pflag.CommandLine.Changed("tariff-energy") {
			rate.EnergyCharge = energy
		}
		if pflag.CommandLine.Changed("tariff-distribution") {
			rate.DistributionCharge = distribution
		}
		fixtures = append(fixtures, rate)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr so stdout holds only the result.
	logger := logging.NewStructuredLogger("solar-simulate", "1.0.0", app.LogLevel(cfg))
	logger.SetOutput(os.Stderr)
	metricsCollector := metrics.NewCollector("solar_simulate", nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	deps := app.Deps{
		HTTPClient: &http.Client{Timeout: 2 * cfg.Climate.Timeout},
		Logger:     logger,
		Metrics:    metricsCollector,
	}
	if cfg.Tariff.Source == tariff.SourceStore {
		db, err := database.NewPostgresDB(app.DatabaseConfig(cfg), logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[SIMULATE_ERROR] Failed to connect to database", logging.Fields{}, err)
		}
		defer db.Close()
		deps.DB = db
	}

	stack, err := app.NewStack(cfg, deps, fixtures...)
	if err != nil {
		logger.Fatal(ctx, "[SIMULATE_ERROR] Failed to assemble simulation engine", logging.Fields{}, err)
	}

	svc := services.NewSimulationService(stack.Engine, nil, logger, metricsCollector)
	rec, err := svc.Simulate(ctx, in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Simulation failed (%s): %v\n", models.KindOf(err), err)
		os.Exit(exitCode(err))
	}

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(rec); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write result: %v\n", err)
		os.Exit(1)
	}
}

func readInput(path string) (models.SimulationInput, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return models.SimulationInput{}, err
		}
		defer f.Close()
		r = f
	}

	var in models.SimulationInput
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return models.SimulationInput{}, fmt.Errorf("invalid simulation input: %w", err)
	}
	return in, nil
}

func exitCode(err error) int {
	switch models.KindOf(err) {
	case models.KindInvalidInput:
		return 2
	case models.KindDataUnavailable:
		return 3
	default:
		return 1
	}
}
