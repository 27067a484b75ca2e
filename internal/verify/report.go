package verify

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var rule = strings.Repeat("=", 70)

// Report prints verdicts in the operator-facing text layout.
type Report struct {
	w io.Writer
	p *message.Printer
}

// NewReport writes to w with thousands separators on counts.
func NewReport(w io.Writer) *Report {
	return &Report{w: w, p: message.NewPrinter(language.English)}
}

// Header prints the banner before any file is parsed.
func (r *Report) Header(dir string, files int) {
	fmt.Fprintln(r.w, rule)
	fmt.Fprintln(r.w, "MRT TIMESTAMP VERIFICATION")
	fmt.Fprintln(r.w, rule)
	fmt.Fprintf(r.w, "Directory: %s\n", dir)
	fmt.Fprintf(r.w, "Files found: %d\n", files)
}

// Parsing announces a file about to be read.
func (r *Report) Parsing(name string, size int64) {
	fmt.Fprintf(r.w, "\n  Parsing: %s (%.1f MB)\n", name, float64(size)/(1024*1024))
}

// File prints one verdict with its per-timestamp breakdown.
func (r *Report) File(res Result) {
	if res.Err != nil {
		fmt.Fprintf(r.w, "  -> [ERROR] %v\n", res.Err)
		return
	}
	status := "FAIL"
	if res.Pass {
		status = "PASS"
	}
	r.p.Fprintf(r.w, "  -> [%s] %10d elements, %d unique timestamp(s), spread=%ds, parsed in %.1fs\n",
		status, res.TotalElements, res.UniqueTimestamps, res.SpreadSeconds, res.ParseTime.Seconds())
	for _, tc := range res.Timestamps {
		pct := float64(tc.Count) / float64(res.TotalElements) * 100
		r.p.Fprintf(r.w, "       %s  :  %10d elements (%.2f%%)\n", tc.Label, tc.Count, pct)
	}
}

// Totals tallies a set of verdicts.
type Totals struct {
	Files, Pass, Fail, Errors int
}

// Tally counts verdicts by outcome.
func Tally(results []Result) Totals {
	t := Totals{Files: len(results)}
	for _, res := range results {
		switch {
		case res.Err != nil:
			t.Errors++
		case res.Pass:
			t.Pass++
		default:
			t.Fail++
		}
	}
	return t
}

// Summary prints totals, the conclusion and the files holding several timestamps.
func (r *Report) Summary(results []Result) Totals {
	t := Tally(results)

	fmt.Fprintf(r.w, "\n%s\n", rule)
	fmt.Fprintln(r.w, "SUMMARY")
	fmt.Fprintln(r.w, rule)
	fmt.Fprintf(r.w, "  Total files:  %d\n", t.Files)
	fmt.Fprintf(r.w, "  PASS:         %d  (all elements share one timestamp)\n", t.Pass)
	fmt.Fprintf(r.w, "  FAIL:         %d  (multiple timestamps found)\n", t.Fail)
	if t.Errors > 0 {
		fmt.Fprintf(r.w, "  ERROR:        %d  (could not be parsed or empty)\n", t.Errors)
	}

	switch {
	case t.Fail == 0 && t.Errors == 0 && t.Pass > 0:
		fmt.Fprintf(r.w, "\n  CONCLUSION: All %d bview files have a single uniform timestamp.\n", t.Pass)
		fmt.Fprintln(r.w, "  The 'one file = one snapshot' assumption is VERIFIED.")
	case t.Fail == 0:
		fmt.Fprintf(r.w, "\n  CONCLUSION: INCONCLUSIVE. %d of %d file(s) could not be verified.\n", t.Errors, t.Files)
		fmt.Fprintln(r.w, "  The 'one file = one snapshot' assumption is not verified.")
	default:
		fmt.Fprintf(r.w, "\n  WARNING: %d file(s) contain multiple timestamps!\n", t.Fail)
		fmt.Fprintln(r.w, "  Files with multiple timestamps:")
		for _, res := range results {
			if res.Failed() {
				fmt.Fprintf(r.w, "    - %s: %d timestamps, spread=%ds\n", res.File, res.UniqueTimestamps, res.SpreadSeconds)
			}
		}
	}
	if t.Errors > 0 {
		fmt.Fprintln(r.w, "  Files that could not be verified:")
		for _, res := range results {
			if res.Err != nil {
				fmt.Fprintf(r.w, "    - %s: %v\n", res.File, res.Err)
			}
		}
	}
	fmt.Fprintln(r.w)
	return t
}
