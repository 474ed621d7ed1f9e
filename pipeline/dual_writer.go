package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// DualWriter sends every batch to a CSV file and a JSONL file.
type DualWriter struct {
	csv  *CSVWriter
	json *JSONWriter
	mu   sync.Mutex
}

// NewDualWriter opens both outputs. The CSV file is closed again if the
// JSONL file cannot be created.
func NewDualWriter(csvPath, jsonPath string) (*DualWriter, error) {
	csvOut, err := NewCSVWriter(csvPath)
	if err != nil {
		return nil, fmt.Errorf("open csv output %s: %w", csvPath, err)
	}

	jsonOut, err := NewJSONWriter(jsonPath)
	if err != nil {
		csvOut.Close()
		return nil, fmt.Errorf("open json output %s: %w", jsonPath, err)
	}

	return &DualWriter{csv: csvOut, json: jsonOut}, nil
}

// Write appends products to both outputs, CSV first.
func (dw *DualWriter) Write(products []*models.Product) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.csv.Write(products); err != nil {
		return fmt.Errorf("csv: %w", err)
	}
	if err := dw.json.Write(products); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	return nil
}

// Close closes both outputs and reports every failure.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	var errs []error
	if err := dw.csv.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close csv: %w", err))
	}
	if err := dw.json.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close json: %w", err))
	}
	return errors.Join(errs...)
}

// Validate checks both outputs and reports every failure.
func (dw *DualWriter) Validate() error {
	var errs []error
	if err := dw.csv.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("csv: %w", err))
	}
	if err := dw.json.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("json: %w", err))
	}
	return errors.Join(errs...)
}
