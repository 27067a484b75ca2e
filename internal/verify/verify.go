// Package verify checks that every element of a RIB snapshot carries the same
// capture timestamp.
package verify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/shadimotaali/first-full-paper/internal/cache"
	"github.com/shadimotaali/first-full-paper/internal/logging"
	"github.com/shadimotaali/first-full-paper/internal/mrt"
)

// DefaultPattern matches RIPE RIS RIB snapshots.
const DefaultPattern = "bview.*.gz"

const labelLayout = "2006-01-02 15:04:05 UTC"

// ErrNoElements is reported for files that yield no elements at all.
var ErrNoElements = errors.New("no elements")

// TimestampCount is how many elements carried one timestamp.
type TimestampCount struct {
	Epoch int64  `json:"epoch"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Result is the verdict for one file. Err set means neither pass nor fail.
type Result struct {
	File             string           `json:"file"`
	Size             int64            `json:"size"`
	TotalElements    int              `json:"total_elements"`
	UniqueTimestamps int              `json:"unique_timestamps"`
	Timestamps       []TimestampCount `json:"timestamps"`
	SpreadSeconds    int64            `json:"spread_seconds"`
	ParseTime        time.Duration    `json:"parse_time"`
	Pass             bool             `json:"pass"`
	Err              error            `json:"-"`
}

// Failed reports a file that was parsed and holds more than one timestamp.
func (r Result) Failed() bool { return r.Err == nil && !r.Pass }

// ResultCache remembers verdicts across runs.
type ResultCache interface {
	Get(ctx context.Context, key string) (Result, bool)
	Put(ctx context.Context, key string, r Result)
}

// Label renders an epoch as a UTC timestamp label.
func Label(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(labelLayout)
}

// Analyze turns per-timestamp element counts into a verdict. The breakdown
// is sorted by epoch.
func Analyze(counts map[int64]int) Result {
	var res Result
	if len(counts) == 0 {
		res.Err = ErrNoElements
		return res
	}
	lo, hi := int64(0), int64(0)
	first := true
	for epoch, n := range counts {
		if n <= 0 {
			continue
		}
		res.TotalElements += n
		res.Timestamps = append(res.Timestamps, TimestampCount{Epoch: epoch, Label: Label(epoch), Count: n})
		if first || epoch < lo {
			lo = epoch
		}
		if first || epoch > hi {
			hi = epoch
		}
		first = false
	}
	if res.TotalElements == 0 {
		res.Timestamps = nil
		res.Err = ErrNoElements
		return res
	}
	sort.Slice(res.Timestamps, func(i, j int) bool { return res.Timestamps[i].Epoch < res.Timestamps[j].Epoch })
	res.UniqueTimestamps = len(res.Timestamps)
	res.SpreadSeconds = hi - lo
	res.Pass = res.UniqueTimestamps == 1
	return res
}

// Analyzer verifies files read through Source.
type Analyzer struct {
	Source mrt.Source
	// Cache is optional.
	Cache ResultCache
	Log   *logging.Logger
	// OnResult is called after every file.
	OnResult func(Result, bool)
}

// AnalyzeFile streams every element of path and tallies timestamps.
// Successful verdicts are cached by path, size and modification time.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string) Result {
	log := a.Log
	if log == nil {
		log = logging.Nop()
	}
	name := filepath.Base(path)

	st, err := os.Stat(path)
	if err != nil {
		return Result{File: name, Err: err}
	}

	key := cache.Key(path, st.Size(), st.ModTime())
	if a.Cache != nil {
		if res, ok := a.Cache.Get(ctx, key); ok {
			log.Debugw("verdict from cache", "file", name)
			a.notify(res, true)
			return res
		}
	}

	_, span := otel.Tracer("mrt-verify").Start(ctx, "verify.file")
	span.SetAttributes(attribute.String("mrt.file", name), attribute.Int64("mrt.size", st.Size()))
	defer span.End()

	start := time.Now()
	counts := make(map[int64]int)
	err = a.Source.Each(ctx, path, func(e mrt.Element) error {
		counts[e.Timestamp] += e.Count
		return nil
	})
	elapsed := time.Since(start)

	var res Result
	if err != nil {
		res.Err = fmt.Errorf("parse %s: %w", name, err)
	} else {
		res = Analyze(counts)
	}
	res.File = name
	res.Size = st.Size()
	res.ParseTime = elapsed

	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "verify failed")
		log.Warnw("could not verify file", "file", name, "err", res.Err)
	} else {
		span.SetAttributes(
			attribute.Int("mrt.elements", res.TotalElements),
			attribute.Int("mrt.unique_timestamps", res.UniqueTimestamps),
			attribute.Bool("mrt.pass", res.Pass),
		)
		if a.Cache != nil {
			a.Cache.Put(ctx, key, res)
		}
	}
	a.notify(res, false)
	return res
}

func (a *Analyzer) notify(res Result, cached bool) {
	if a.OnResult != nil {
		a.OnResult(res, cached)
	}
}

// FindFiles returns the files in dir matching pattern, sorted by name.
func FindFiles(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, err
	}
	files := matches[:0]
	for _, m := range matches {
		if st, err := os.Stat(m); err == nil && st.Mode().IsRegular() {
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}
