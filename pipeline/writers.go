package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/aluiziolira/go-price-harvester/models"
)

var csvHeader = []string{
	"category", "name", "brand", "price", "original_price", "discount_percentage",
	"currency", "rating", "review_count", "source", "url", "timestamp",
}

// exportRecord is the flat shape of one committed item in exported files.
type exportRecord struct {
	Category           string    `json:"category"`
	Name               string    `json:"name"`
	Brand              string    `json:"brand,omitempty"`
	Price              float64   `json:"price"`
	OriginalPrice      *float64  `json:"original_price,omitempty"`
	DiscountPercentage *float64  `json:"discount_percentage,omitempty"`
	Currency           string    `json:"currency"`
	Rating             *float64  `json:"rating,omitempty"`
	ReviewCount        *int      `json:"review_count,omitempty"`
	Source             string    `json:"source"`
	URL                string    `json:"url,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

func newExportRecord(item models.HarvestedItem) exportRecord {
	return exportRecord{
		Category:           item.Product.Category,
		Name:               item.Product.Name,
		Brand:              item.Product.Brand,
		Price:              item.Price.Price,
		OriginalPrice:      item.Price.OriginalPrice,
		DiscountPercentage: item.Price.DiscountPercentage,
		Currency:           item.Price.Currency,
		Rating:             item.Product.Rating,
		ReviewCount:        item.Product.ReviewCount,
		Source:             item.Price.Source,
		URL:                item.Price.URL,
		Timestamp:          item.Price.Timestamp,
	}
}

func (r exportRecord) csvRow() []string {
	return []string{
		r.Category,
		r.Name,
		r.Brand,
		formatFloat(r.Price),
		formatOptionalFloat(r.OriginalPrice),
		formatOptionalFloat(r.DiscountPercentage),
		r.Currency,
		formatOptionalFloat(r.Rating),
		formatOptionalInt(r.ReviewCount),
		r.Source,
		r.URL,
		r.Timestamp.UTC().Format(time.RFC3339),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptionalFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatOptionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// exportFile is an export destination on disk.
type exportFile struct {
	file *os.File
	kind string
}

func createExportFile(filename, kind string) (exportFile, error) {
	if dir := filepath.Dir(filename); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return exportFile{}, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	f, err := os.Create(filename)
	if err != nil {
		return exportFile{}, fmt.Errorf("create %s export: %w", kind, err)
	}
	return exportFile{file: f, kind: kind}, nil
}

// validate reports an export that never received any bytes. It works
// before and after Close.
func (e exportFile) validate() error {
	info, err := os.Stat(e.file.Name())
	if err != nil {
		return fmt.Errorf("stat %s export: %w", e.kind, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s export %s is empty", e.kind, e.file.Name())
	}
	return nil
}

// CSVWriter exports committed items as CSV rows under a fixed header.
type CSVWriter struct {
	exportFile
	mu  sync.Mutex
	csv *csv.Writer
}

// NewCSVWriter creates filename, along with missing parent directories, and
// writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	out, err := createExportFile(filename, "csv")
	if err != nil {
		return nil, err
	}
	cw := &CSVWriter{exportFile: out, csv: csv.NewWriter(out.file)}
	if err := cw.writeRows([][]string{csvHeader}); err != nil {
		out.file.Close()
		return nil, fmt.Errorf("csv header: %w", err)
	}
	return cw, nil
}

// Write appends one row per item and flushes.
func (cw *CSVWriter) Write(items []models.HarvestedItem) error {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, newExportRecord(item).csvRow())
	}
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.writeRows(rows)
}

func (cw *CSVWriter) writeRows(rows [][]string) error {
	if err := cw.csv.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return nil
}

// Close flushes pending rows and closes the file.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.csv.Flush()
	if err := cw.csv.Error(); err != nil {
		cw.file.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	return cw.file.Close()
}

// Validate fails when the file is empty.
func (cw *CSVWriter) Validate() error {
	return cw.validate()
}

// JSONWriter exports committed items as JSON lines.
type JSONWriter struct {
	exportFile
	mu  sync.Mutex
	buf *bufio.Writer
	enc *json.Encoder
}

// NewJSONWriter creates filename along with missing parent directories.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	out, err := createExportFile(filename, "json")
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(out.file)
	return &JSONWriter{exportFile: out, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// Write encodes one line per item and flushes.
func (jw *JSONWriter) Write(items []models.HarvestedItem) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	for _, item := range items {
		if err := jw.enc.Encode(newExportRecord(item)); err != nil {
			return fmt.Errorf("encode json line: %w", err)
		}
	}
	return jw.flush()
}

func (jw *JSONWriter) flush() error {
	if err := jw.buf.Flush(); err != nil {
		return fmt.Errorf("flush json: %w", err)
	}
	return nil
}

// Close flushes buffered lines and closes the file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	if err := jw.flush(); err != nil {
		jw.file.Close()
		return err
	}
	return jw.file.Close()
}

// Validate fails when the file is empty.
func (jw *JSONWriter) Validate() error {
	return jw.validate()
}
