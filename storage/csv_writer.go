package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"market-engine/models"
)

var snapshotHeader = []string{
	"id", "community", "building", "unit", "property_type", "size_sqft", "price", "bedrooms",
	"transaction_date", "buyer_name", "buyer_phone", "seller_name", "seller_phone",
}

// CSVWriter writes a raw snapshot of fetched transactions to a CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(snapshotHeader); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteRaw appends records to the snapshot.
func (c *CSVWriter) WriteRaw(records []*models.RawRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range records {
		bedrooms := ""
		if r.Bedrooms != nil {
			bedrooms = strconv.Itoa(*r.Bedrooms)
		}
		date := ""
		if r.TransactionDate != nil {
			date = r.TransactionDate.Format("2006-01-02")
		}
		row := []string{
			strconv.FormatInt(r.ID, 10),
			r.Community,
			r.Building,
			r.Unit,
			r.PropertyType,
			strconv.FormatFloat(r.SizeSqft, 'f', -1, 64),
			strconv.FormatFloat(r.Price, 'f', -1, 64),
			bedrooms,
			date,
			r.BuyerName,
			r.BuyerPhone,
			r.SellerName,
			r.SellerPhone,
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
