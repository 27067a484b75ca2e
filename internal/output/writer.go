package output

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/shadimotaali/first-full-paper/internal/record"
)

// Format represents the output format
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

// Writer handles formatted output
type Writer struct {
	format    Format
	w         io.Writer
	csvWriter *csv.Writer
	enc       *json.Encoder
	mu        sync.Mutex
	hasHeader bool
	count     int
}

// NewWriter creates a new output writer. CSV rows end in CRLF.
func NewWriter(format string, w io.Writer) (*Writer, error) {
	var f Format
	switch strings.ToLower(format) {
	case "", "csv":
		f = FormatCSV
	case "jsonl", "ndjson":
		f = FormatJSONL
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}

	writer := &Writer{
		format: f,
		w:      w,
	}

	switch f {
	case FormatCSV:
		writer.csvWriter = csv.NewWriter(w)
		writer.csvWriter.UseCRLF = true
	case FormatJSONL:
		writer.enc = json.NewEncoder(w)
		writer.enc.SetEscapeHTML(false)
	}

	return writer, nil
}

// WriteRecord writes one record, preceded by the header row on first use.
func (w *Writer) WriteRecord(r record.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeLocked(r)
}

// WriteRecords writes every record in order.
func (w *Writer) WriteRecords(rs []record.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.headerLocked(); err != nil {
		return err
	}
	for _, r := range rs {
		if err := w.writeLocked(r); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) headerLocked() error {
	if w.format != FormatCSV || w.hasHeader {
		return nil
	}
	w.hasHeader = true
	return w.csvWriter.Write(record.Columns)
}

func (w *Writer) writeLocked(r record.Record) error {
	switch w.format {
	case FormatCSV:
		if err := w.headerLocked(); err != nil {
			return err
		}
		if err := w.csvWriter.Write(r.Values()); err != nil {
			return err
		}
	case FormatJSONL:
		if err := w.enc.Encode(r); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported format: %s", w.format)
	}
	w.count++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Flush flushes any buffered data
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.csvWriter != nil {
		w.csvWriter.Flush()
		return w.csvWriter.Error()
	}
	return nil
}

// WriteFile creates path and writes records to it. A failure part way through
// may leave a partial file behind.
func WriteFile(path, format string, records []record.Record) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	bw := bufio.NewWriterSize(f, 1<<20)

	w, err := NewWriter(format, bw)
	if err != nil {
		f.Close()
		return 0, err
	}
	if err := w.WriteRecords(records); err != nil {
		f.Close()
		return w.Count(), fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return w.Count(), fmt.Errorf("flush %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return w.Count(), fmt.Errorf("flush %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return w.Count(), fmt.Errorf("close %s: %w", path, err)
	}
	return w.Count(), nil
}
