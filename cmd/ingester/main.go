package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"solar-platform/internal/app"
	"solar-platform/internal/config"
	"solar-platform/internal/repository"
	"solar-platform/internal/services"
	"solar-platform/pkg/database"
	"solar-platform/pkg/logging"
	"solar-platform/pkg/metrics"
)

func main() {
	dataDir := pflag.StringP("data-dir", "d", "./tariff_data", "Directory containing tariff .tsv files")
	batchSize := pflag.IntP("batch-size", "b", 1000, "Number of records to insert in each batch")
	pflag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("solar-ingester", "1.0.0", app.LogLevel(cfg))

	ctx := context.Background()
	logger.Info(ctx, "[INGESTER_START] Starting tariff ingestion", logging.Fields{
		"version":    "1.0.0",
		"data_dir":   *dataDir,
		"batch_size": *batchSize,
	})

	metricsCollector := metrics.NewCollector("solar_ingester", nil)

	db, err := database.NewPostgresDB(app.DatabaseConfig(cfg), logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	tariffRepo := repository.NewTariffRepository(db, logger, metricsCollector)
	tariffService := services.NewTariffService(tariffRepo, logger, metricsCollector)

	result, err := tariffService.IngestDirectory(ctx, *dataDir, *batchSize)
	if err != nil {
		logger.Fatal(ctx, "[INGESTION_ERROR] Ingestion failed", logging.Fields{
			"error": err.Error(),
		}, err)
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("TARIFF INGESTION COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Total Files:        %d\n", result.TotalFiles)
	fmt.Printf("Total Records:      %d\n", result.TotalRecords)
	fmt.Printf("Accepted Records:   %d\n", result.SuccessfulRecords)
	fmt.Printf("New Records:        %d\n", result.InsertedRecords)
	fmt.Printf("Failed Records:     %d\n", result.FailedRecords)
	fmt.Printf("Duration:           %v\n", result.Duration)

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for i, errMsg := range result.Errors {
			if i < 10 {
				fmt.Printf("  - %s\n", errMsg)
			}
		}
		if len(result.Errors) > 10 {
			fmt.Printf("  ... and %d more errors\n", len(result.Errors)-10)
		}
	}

	logger.Info(ctx, "[INGESTER_COMPLETE] Ingestion completed", logging.Fields{
		"total_records":    result.TotalRecords,
		"accepted_records": result.SuccessfulRecords,
		"inserted_records": result.InsertedRecords,
		"failed_records":   result.FailedRecords,
		"duration_seconds": result.Duration.Seconds(),
	})
}
