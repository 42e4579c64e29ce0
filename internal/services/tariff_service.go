package services

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"solar-platform/internal/models"
	"solar-platform/internal/repository"
	"solar-platform/pkg/logging"
	"solar-platform/pkg/metrics"
)

// TariffService loads homologated tariffs into the store and serves them
type TariffService struct {
	repo    repository.TariffStore
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// IngestionResult contains ingestion statistics
type IngestionResult struct {
	TotalFiles        int
	TotalRecords      int
	SuccessfulRecords int
	InsertedRecords   int
	FailedRecords     int
	Duration          time.Duration
	Errors            []string
}

// FileIngestionResult contains per-file ingestion statistics
type FileIngestionResult struct {
	TotalRecords      int
	SuccessfulRecords int
	InsertedRecords   int
	FailedRecords     int
}

// NewTariffService creates a new tariff service
func NewTariffService(repo repository.TariffStore, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *TariffService {
	return &TariffService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ListTariffs retrieves ingested tariffs with filtering
func (s *TariffService) ListTariffs(ctx context.Context, filter repository.TariffFilter) ([]*models.TariffRate, int, error) {
	return s.repo.ListTariffs(ctx, filter)
}

// IngestDirectory ingests every .tsv tariff file in dataDir
func (s *TariffService) IngestDirectory(ctx context.Context, dataDir string, batchSize int) (*IngestionResult, error) {
	startTime := time.Now()

	s.logger.Info(ctx, "[INGEST_START] Starting tariff ingestion", logging.Fields{
		"data_dir":   dataDir,
		"batch_size": batchSize,
		"stage":      "INITIALIZATION",
	})

	files, err := filepath.Glob(filepath.Join(dataDir, "*.tsv"))
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no tariff files found in %s", dataDir)
	}

	result := &IngestionResult{
		TotalFiles: len(files),
		Errors:     make([]string, 0),
	}

	s.logger.Info(ctx, "[INGEST_FILES] Found tariff files", logging.Fields{
		"file_count": len(files),
		"stage":      "FILE_DISCOVERY",
	})

	for _, filePath := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fileResult, err := s.ingestFile(ctx, filePath, batchSize)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to ingest %s: %v", filePath, err))
			s.logger.Error(ctx, "[INGEST_FILE_ERROR] File ingestion failed", logging.Fields{
				"file_path": filePath,
				"stage":     "FILE_PROCESSING",
			}, err)
			s.metrics.RecordIngestionError("file_error")
			continue
		}

		result.TotalRecords += fileResult.TotalRecords
		result.SuccessfulRecords += fileResult.SuccessfulRecords
		result.InsertedRecords += fileResult.InsertedRecords
		result.FailedRecords += fileResult.FailedRecords

		s.logger.Info(ctx, "[INGEST_FILE_SUCCESS] File ingested successfully", logging.Fields{
			"file_path":          filePath,
			"total_records":      fileResult.TotalRecords,
			"successful_records": fileResult.SuccessfulRecords,
			"inserted_records":   fileResult.InsertedRecords,
			"failed_records":     fileResult.FailedRecords,
			"stage":              "FILE_COMPLETE",
		})
	}

	result.Duration = time.Since(startTime)
	s.metrics.IngestionDuration.Observe(result.Duration.Seconds())

	s.logger.Info(ctx, "[INGEST_COMPLETE] Tariff ingestion completed", logging.Fields{
		"total_files":        result.TotalFiles,
		"total_records":      result.TotalRecords,
		"successful_records": result.SuccessfulRecords,
		"inserted_records":   result.InsertedRecords,
		"failed_records":     result.FailedRecords,
		"duration_seconds":   result.Duration.Seconds(),
		"error_count":        len(result.Errors),
		"stage":              "COMPLETE",
	})

	return result, nil
}

func (s *TariffService) ingestFile(ctx context.Context, filePath string, batchSize int) (*FileIngestionResult, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return s.Ingest(ctx, file, batchSize)
}

// Ingest reads tariff lines from r and stores them in batches. Blank lines
// and lines starting with '#' are skipped; malformed lines are counted and
// skipped.
func (s *TariffService) Ingest(ctx context.Context, r io.Reader, batchSize int) (*FileIngestionResult, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	result := &FileIngestionResult{}
	batch := make([]*models.TariffRate, 0, batchSize)

	flush := func() error {
		inserted, err := s.repo.CreateTariffsBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("failed to insert batch: %w", err)
		}
		result.SuccessfulRecords += len(batch)
		result.InsertedRecords += inserted
		batch = batch[:0]
		return nil
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		result.TotalRecords++

		record, err := parseTariffLine(line)
		if err != nil {
			result.FailedRecords++
			s.metrics.RecordIngestionError("parse_error")
			continue
		}

		rate, err := record.ToTariffRate()
		if err != nil {
			result.FailedRecords++
			s.metrics.RecordIngestionError("conversion_error")
			s.logger.Debug(ctx, "[INGEST_RECORD_REJECTED] Tariff line rejected", logging.Fields{
				"line":  result.TotalRecords,
				"error": err.Error(),
			})
			continue
		}

		batch = append(batch, rate)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	if len(batch) > 0 {
		if err := flush(); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// parseTariffLine parses a single line of a tariff file
// Format: DISTRIBUTOR\tCLASS\tENERGY_MWH\tDISTRIBUTION_MWH\tAS_OF[\tSOURCE_URL]
func parseTariffLine(line string) (*models.RawTariffRecord, error) {
	parts := strings.Split(line, "\t")
	if len(parts) != 5 && len(parts) != 6 {
		return nil, fmt.Errorf("invalid line format: expected 5 or 6 fields, got %d", len(parts))
	}

	record := &models.RawTariffRecord{
		Distributor:  strings.TrimSpace(parts[0]),
		Class:        strings.TrimSpace(parts[1]),
		EnergyMWh:    strings.TrimSpace(parts[2]),
		Distribution: strings.TrimSpace(parts[3]),
		AsOf:         strings.TrimSpace(parts[4]),
	}
	if len(parts) == 6 {
		record.SourceURL = strings.TrimSpace(parts[5])
	}
	return record, nil
}
