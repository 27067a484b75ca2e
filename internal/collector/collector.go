// Package collector runs the update collection pipeline: fetch archive files
// for a time window, dump and parse them, then write the combined records.
package collector

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/multierr"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/shadimotaali/first-full-paper/internal/config"
	"github.com/shadimotaali/first-full-paper/internal/dump"
	"github.com/shadimotaali/first-full-paper/internal/fetch"
	"github.com/shadimotaali/first-full-paper/internal/logging"
	"github.com/shadimotaali/first-full-paper/internal/metrics"
	"github.com/shadimotaali/first-full-paper/internal/output"
	"github.com/shadimotaali/first-full-paper/internal/record"
	"github.com/shadimotaali/first-full-paper/internal/stats"
)

var rule = strings.Repeat("=", 70)

// RecordStore receives the collected records after the output file is written.
type RecordStore interface {
	Insert(ctx context.Context, runID string, records []record.Record) (int, error)
}

// Collector holds the wired pipeline stages.
type Collector struct {
	Config     *config.Config
	Fetcher    *fetch.Fetcher
	Aggregator *dump.Aggregator
	// Store is optional.
	Store RecordStore
	// Out receives the operator report.
	Out   io.Writer
	Log   *logging.Logger
	RunID string
}

// Report describes a finished run.
type Report struct {
	RunID      string
	Requested  int
	Files      []string
	Records    int
	Summary    stats.Summary
	OutputPath string
	Written    int
	Stored     int
	// Problems collects failures that did not end the run.
	Problems error
}

// Run executes the pipeline once. It returns an error only when the output
// file cannot be written or the working directories cannot be created.
func (c *Collector) Run(ctx context.Context) (Report, error) {
	cfg := c.Config
	log := c.Log
	if log == nil {
		log = logging.Nop()
	}
	out := c.Out
	if out == nil {
		out = io.Discard
	}
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
	rep := Report{RunID: c.RunID, OutputPath: cfg.OutputPath()}

	ctx, span := otel.Tracer("ris-collect").Start(ctx, "collector.run")
	span.SetAttributes(attribute.String("run.id", c.RunID), attribute.String("ris.collector", cfg.Collector))
	defer span.End()

	downloadDir, tempDir := cfg.DownloadPath(), cfg.TempPath()
	for _, dir := range []string{downloadDir, tempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			span.RecordError(err)
			return rep, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	w, err := cfg.Window()
	if err != nil {
		return rep, err
	}
	names := w.Filenames(cfg.NameTemplate)
	rep.Requested = len(names)

	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "RIPE %s Update Packet Collector (with %s)\n", strings.ToUpper(cfg.Collector), c.backendName())
	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "\nTotal files to download: %d\n", len(names))
	fmt.Fprintf(out, "Time range: %s to %s\n\n", w.Start.Format("2006-01-02 15:04"), w.End.Format("2006-01-02 15:04"))

	var listed map[string]bool
	if cfg.CheckIndex {
		listed, err = c.Fetcher.ListIndex(ctx, cfg.BaseURL)
		if err != nil {
			log.Warnw("archive index unavailable, requesting every file", "url", cfg.BaseURL, "err", err)
			rep.Problems = multierr.Append(rep.Problems, fmt.Errorf("list index: %w", err))
			listed = nil
		}
	}

	rep.Files = c.Fetcher.FetchAll(ctx, cfg.BaseURL, names, downloadDir, listed)
	fmt.Fprintf(out, "\nTotal files available: %d\n", len(rep.Files))
	if missing := len(names) - len(rep.Files); missing > 0 {
		rep.Problems = multierr.Append(rep.Problems, fmt.Errorf("%d of %d files unavailable", missing, len(names)))
	}

	fmt.Fprintf(out, "\n%s\nDecompressing and parsing MRT files...\n%s\n", rule, rule)
	c.Aggregator.ScratchDir = tempDir
	records := c.Aggregator.ProcessAll(ctx, rep.Files)
	rep.Records = len(records)
	for _, r := range records {
		metrics.RecordsTotal.WithLabelValues(string(r.EntryType)).Inc()
	}

	var writeErr error
	if len(records) == 0 {
		c.printNoRecords(out)
	} else {
		writeErr = c.write(ctx, out, records, &rep)
	}

	if writeErr == nil && len(records) > 0 && c.Store != nil {
		n, err := c.Store.Insert(ctx, c.RunID, records)
		rep.Stored = n
		if err != nil {
			log.Warnw("database insert failed", "run_id", c.RunID, "stored", n, "err", err)
			rep.Problems = multierr.Append(rep.Problems, fmt.Errorf("store records: %w", err))
		} else {
			log.Infow("records stored", "run_id", c.RunID, "rows", n)
		}
	}

	fmt.Fprintln(out, "\nCleaning up temporary files...")
	if err := os.RemoveAll(tempDir); err != nil {
		fmt.Fprintf(out, "Warning: %v\n", err)
		rep.Problems = multierr.Append(rep.Problems, fmt.Errorf("remove temp dir: %w", err))
	} else {
		fmt.Fprintln(out, "✓ Temporary files cleaned up")
	}

	if writeErr != nil {
		span.RecordError(writeErr)
		span.SetStatus(codes.Error, "write output")
		return rep, writeErr
	}

	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		root = cfg.RootDir
	}
	fmt.Fprintf(out, "\n%s\nSummary:\n%s\n", rule, rule)
	fmt.Fprintf(out, "MRT files saved in: %s\n", downloadDir)
	fmt.Fprintf(out, "CSV file saved in: %s\n", rep.OutputPath)
	fmt.Fprintf(out, "All files located in: %s\n", root)

	span.SetAttributes(attribute.Int("run.files", len(rep.Files)), attribute.Int("run.records", rep.Records))
	return rep, nil
}

func (c *Collector) write(ctx context.Context, out io.Writer, records []record.Record, rep *Report) error {
	_, span := otel.Tracer("ris-collect").Start(ctx, "collector.write")
	defer span.End()

	path := rep.OutputPath
	fmt.Fprintf(out, "\n%s\nWriting final CSV: %s\n%s\n", rule, path, rule)

	n, err := output.WriteFile(path, c.Config.OutputFormat, records)
	rep.Written = n
	if err != nil {
		metrics.FilesTotal.WithLabelValues("write", "failed").Inc()
		fmt.Fprintf(out, "✗ Error writing CSV: %v\n", err)
		return err
	}
	metrics.FilesTotal.WithLabelValues("write", "ok").Inc()

	p := message.NewPrinter(language.English)
	fmt.Fprintf(out, "✓ CSV file created: %s\n", path)
	p.Fprintf(out, "✓ Total records: %d\n", n)

	rep.Summary = stats.Compute(records)
	var sample *record.Record
	if r, ok := stats.SampleAnnouncement(records); ok {
		sample = &r
	}
	stats.Print(out, rep.Summary, sample)

	if st, err := os.Stat(path); err == nil {
		p.Fprintf(out, "\n✓ File size: %d bytes\n", st.Size())
	}
	return nil
}

func (c *Collector) printNoRecords(out io.Writer) {
	fmt.Fprintln(out, "✗ No records generated")
	fmt.Fprintln(out, "\nPossible issues:")
	if c.Config.DumpBackend == "native" {
		fmt.Fprintln(out, "  - MRT files contain no BGP4MP update messages the native reader understands")
	} else {
		fmt.Fprintf(out, "  - %s not installed (install with: apt-get install bgpdump)\n", c.Config.DumpTool)
	}
	fmt.Fprintln(out, "  - MRT files are empty or corrupted")
	fmt.Fprintln(out, "  - No BGP UPDATE messages in the time range")
}

func (c *Collector) backendName() string {
	if c.Config.DumpBackend == "native" {
		return "native MRT reader"
	}
	return c.Config.DumpTool
}
