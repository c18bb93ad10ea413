package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/lychee-technology/dataverse"
)

// bulkCreator is the slice of the client the importer needs.
type bulkCreator interface {
	CreateMany(ctx context.Context, table string, records []dataverse.Record) ([]string, error)
}

// ImportError describes one CSV row that could not be imported.
type ImportError struct {
	Row       int    // CSV row number (1-based, header is row 1)
	CSVColumn string // CSV column that caused the error, when known
	Column    string // target column, when known
	RawValue  string // original CSV value
	Reason    string
}

func (e *ImportError) Error() string {
	if e.CSVColumn == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
	}
	return fmt.Sprintf("row %d, column %q -> %q: value %q - %s",
		e.Row, e.CSVColumn, e.Column, e.RawValue, e.Reason)
}

// ImportResult summarizes one import run.
type ImportResult struct {
	TotalRows    int
	SuccessCount int
	FailedCount  int
	IDs          []string // created record ids, in row order
	Errors       []*ImportError
	Duration     time.Duration
}

// Summary returns a human-readable summary of the import result.
func (r *ImportResult) Summary() string {
	return fmt.Sprintf("Import completed: %d/%d rows successful, %d failed, duration: %v",
		r.SuccessCount, r.TotalRows, r.FailedCount, r.Duration)
}

// CSVImporter maps CSV rows to records and creates them in batches
// through the multi-create action.
type CSVImporter struct {
	creator   bulkCreator
	mapper    RecordMapper
	batchSize int
	logger    *zap.SugaredLogger
}

// NewCSVImporter creates an importer. batchSize bounds how many records
// travel in one multi-create request; values <= 0 default to 100.
func NewCSVImporter(creator bulkCreator, mapper RecordMapper, batchSize int) *CSVImporter {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &CSVImporter{
		creator:   creator,
		mapper:    mapper,
		batchSize: batchSize,
		logger:    zap.S(),
	}
}

// SetLogger sets a custom logger for the importer.
func (i *CSVImporter) SetLogger(logger *zap.SugaredLogger) {
	i.logger = logger
}

// ImportFromFile imports CSV data from a file.
func (i *CSVImporter) ImportFromFile(ctx context.Context, filePath string) (*ImportResult, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	return i.ImportFromReader(ctx, file)
}

// ImportFromReader imports CSV data from an io.Reader. The first row is
// the header; rows that fail to parse or map are recorded and skipped,
// valid rows are created in batches.
func (i *CSVImporter) ImportFromReader(ctx context.Context, reader io.Reader) (*ImportResult, error) {
	startTime := time.Now()

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true

	header, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	result := &ImportResult{}
	batch := make([]dataverse.Record, 0, i.batchSize)
	batchRows := make([]int, 0, i.batchSize)
	rowNum := 1 // header is row 1

	for {
		rowNum++
		cells, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			result.FailedCount++
			result.Errors = append(result.Errors, &ImportError{
				Row:    rowNum,
				Reason: fmt.Sprintf("CSV parsing error: %v", err),
			})
			i.logger.Warnf("Row %d: CSV parsing error: %v", rowNum, err)
			continue
		}

		result.TotalRows++

		csvRecord := make(map[string]string, len(header))
		for idx, col := range header {
			if idx < len(cells) {
				csvRecord[col] = cells[idx]
			}
		}

		record, err := i.mapper.MapRecord(csvRecord)
		if err != nil {
			importErr := toImportError(rowNum, err)
			result.FailedCount++
			result.Errors = append(result.Errors, importErr)
			i.logger.Warnf("%s", importErr.Error())
			continue
		}

		batch = append(batch, record)
		batchRows = append(batchRows, rowNum)

		if len(batch) >= i.batchSize {
			i.flush(ctx, batch, batchRows, result)
			batch = batch[:0]
			batchRows = batchRows[:0]
		}
	}

	if len(batch) > 0 {
		i.flush(ctx, batch, batchRows, result)
	}

	result.Duration = time.Since(startTime)
	i.logger.Infof("%s", result.Summary())

	return result, nil
}

// flush creates one batch. The multi-create action is all-or-nothing, so
// a failed batch marks every row in it as failed with the same cause.
func (i *CSVImporter) flush(ctx context.Context, batch []dataverse.Record, rows []int, result *ImportResult) {
	ids, err := i.creator.CreateMany(ctx, i.mapper.Table(), batch)
	if err != nil {
		i.logger.Errorw("batch create failed", "rows", len(batch), "error", err)
		result.FailedCount += len(batch)
		for _, row := range rows {
			result.Errors = append(result.Errors, &ImportError{
				Row:    row,
				Reason: fmt.Sprintf("batch create failed: %v", err),
			})
		}
		return
	}
	result.SuccessCount += len(ids)
	result.IDs = append(result.IDs, ids...)
	i.logger.Debugw("batch created", "rows", len(batch))
}

func toImportError(row int, err error) *ImportError {
	var me *MappingError
	if errors.As(err, &me) {
		return &ImportError{
			Row:       row,
			CSVColumn: me.CSVColumn,
			Column:    me.Column,
			RawValue:  me.RawValue,
			Reason:    me.Reason,
		}
	}
	return &ImportError{Row: row, Reason: err.Error()}
}
