package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// ReadTable loads a CSV file and checks that its header has column.
func ReadTable(path, column string) (*models.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read table %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	// Titles like `6.1" LCD` carry bare quotes in unquoted fields.
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read table %s: no header row", path)
	}
	if err != nil {
		return nil, fmt.Errorf("read table %s: %w", path, err)
	}

	table := &models.Table{Header: header}
	if table.Column(column) < 0 {
		return nil, fmt.Errorf("read table %s: header has no %q column", path, column)
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read table %s: %w", path, err)
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// WriteTable writes the header and rows of t to path, creating parent
// directories as needed.
func WriteTable(path string, t *models.Table) error {
	if err := ensureDir(path); err != nil {
		return fmt.Errorf("write table %s: %w", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write table %s: %w", path, err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(t.Header); err != nil {
		f.Close()
		return fmt.Errorf("write table %s: %w", path, err)
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		f.Close()
		return fmt.Errorf("write table %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write table %s: %w", path, err)
	}
	return nil
}
