package dump

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/shadimotaali/first-full-paper/internal/archive"
	"github.com/shadimotaali/first-full-paper/internal/logging"
	"github.com/shadimotaali/first-full-paper/internal/record"
)

// Stage names where a file failed.
const (
	StageDecompress = "decompress"
	StageDump       = "dump"
)

// FileResult is what one MRT file contributed.
type FileResult struct {
	Path     string
	Lines    int
	Records  []record.Record
	Rejected map[record.Reason]int
	// Stage is set when Err is.
	Stage string
	Err   error
}

// Aggregator runs a Dumper over files and parses its output.
type Aggregator struct {
	Dumper Dumper
	Parser *record.Parser
	Log    *logging.Logger
	// ScratchDir receives decompressed copies; each is removed after dumping.
	ScratchDir string
	// DebugFirst logs a parse sample for the first file processed.
	DebugFirst bool
	// OnFile is called after every file with its result.
	OnFile func(index, total int, res FileResult)
}

func (a *Aggregator) log() *logging.Logger {
	if a.Log == nil {
		return logging.Nop()
	}
	return a.Log
}

func (a *Aggregator) parser() *record.Parser {
	if a.Parser == nil {
		a.Parser = record.NewParser()
	}
	return a.Parser
}

// ProcessFile dumps an already decompressed MRT file and parses every line.
// A tool failure yields zero records and a non-nil Err; it is never fatal.
func (a *Aggregator) ProcessFile(ctx context.Context, path string) FileResult {
	res := FileResult{Path: path, Rejected: make(map[record.Reason]int)}

	out, err := a.Dumper.Dump(ctx, path)
	if err != nil {
		res.Stage, res.Err = StageDump, err
		return res
	}

	p := a.parser()
	lines := strings.Split(out, "\n")
	for _, line := range lines {
		r := p.Parse(line)
		if r.Reason == record.EmptyLine {
			continue
		}
		res.Lines++
		if !r.OK() {
			res.Rejected[r.Reason]++
			continue
		}
		res.Records = append(res.Records, *r.Record)
	}
	return res
}

// ProcessAll decompresses each file into ScratchDir, dumps and parses it, and
// returns all records concatenated in file order. Failures are logged and the
// file is skipped.
func (a *Aggregator) ProcessAll(ctx context.Context, paths []string) []record.Record {
	tracer := otel.Tracer("ris-collect/dump")
	log := a.log()

	var all []record.Record
	for i, src := range paths {
		if ctx.Err() != nil {
			log.Warnw("processing interrupted", "err", ctx.Err())
			break
		}
		name := filepath.Base(src)
		_, span := tracer.Start(ctx, "dump.file")
		span.SetAttributes(attribute.String("mrt.file", name))

		res := a.processOne(ctx, src)
		span.SetAttributes(
			attribute.Int("mrt.lines", res.Lines),
			attribute.Int("mrt.records", len(res.Records)),
		)
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Stage)
		}
		span.End()

		switch {
		case res.Err != nil && res.Stage == StageDecompress:
			log.Warnw("decompression failed, skipping", "index", i+1, "total", len(paths), "file", name, "err", res.Err)
		case res.Err != nil:
			log.Warnw("dump failed, no records", "index", i+1, "total", len(paths), "file", name, "err", res.Err)
		default:
			log.Infow("processed", "index", i+1, "total", len(paths), "file", name, "records", len(res.Records))
		}
		if i == 0 && a.DebugFirst {
			a.debugSample(res)
		}
		if a.OnFile != nil {
			a.OnFile(i, len(paths), res)
		}
		all = append(all, res.Records...)
	}
	return all
}

func (a *Aggregator) processOne(ctx context.Context, src string) FileResult {
	dir := a.ScratchDir
	if dir == "" {
		dir = os.TempDir()
	}
	mrtPath, err := archive.Decompress(src, dir)
	if err != nil {
		return FileResult{Path: src, Stage: StageDecompress, Err: err}
	}
	if mrtPath != src {
		defer func() {
			if err := os.Remove(mrtPath); err != nil && !os.IsNotExist(err) {
				a.log().Debugw("could not remove scratch file", "file", mrtPath, "err", err)
			}
		}()
	}
	res := a.ProcessFile(ctx, mrtPath)
	res.Path = src
	return res
}

func (a *Aggregator) debugSample(res FileResult) {
	log := a.log()
	if res.Err != nil {
		log.Infow("debug: first file failed", "file", res.Path, "stage", res.Stage, "err", res.Err)
		return
	}
	log.Infow("debug: first file parsed", "file", res.Path, "records", len(res.Records), "lines", res.Lines)
	if len(res.Records) > 0 {
		log.Infow("debug: sample record", "record", res.Records[0])
	}
	for reason, n := range res.Rejected {
		log.Infow("debug: rejected lines", "reason", reason.String(), "count", n)
	}
}
