package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aluiziolira/go-price-harvester/models"
)

// DualWriter exports every batch to a CSV file and a JSONL file.
type DualWriter struct {
	mu      sync.Mutex
	outputs []OutputWriter
}

// NewDualWriter opens both files. The CSV file is closed again when the
// JSONL file cannot be created.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	cw, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, err
	}
	jw, err := NewJSONWriter(jsonFilename)
	if err != nil {
		cw.Close()
		return nil, err
	}
	return &DualWriter{outputs: []OutputWriter{cw, jw}}, nil
}

// Write stops at the first output that fails.
func (dw *DualWriter) Write(items []models.HarvestedItem) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	for _, out := range dw.outputs {
		if err := out.Write(items); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every output and joins their errors.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	var errs []error
	for _, out := range dw.outputs {
		errs = append(errs, out.Close())
	}
	return errors.Join(errs...)
}

// Validate checks every output and joins their errors.
func (dw *DualWriter) Validate() error {
	var errs []error
	for _, out := range dw.outputs {
		errs = append(errs, out.Validate())
	}
	return errors.Join(errs...)
}

// NewOutputWriter opens the export writer for format. For the dual format
// the extension of filename is replaced by ".csv" and ".jsonl".
func NewOutputWriter(filename, format string) (OutputWriter, error) {
	switch format {
	case "csv":
		w, err := NewCSVWriter(filename)
		if err != nil {
			return nil, err
		}
		return w, nil
	case "json":
		w, err := NewJSONWriter(filename)
		if err != nil {
			return nil, err
		}
		return w, nil
	case "dual":
		base := strings.TrimSuffix(filename, filepath.Ext(filename))
		w, err := NewDualWriter(base+".csv", base+".jsonl")
		if err != nil {
			return nil, err
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}
