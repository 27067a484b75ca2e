// Package window enumerates the archive file names covering a capture window.
package window

import (
	"errors"
	"fmt"
	"time"
)

// StampLayout is the timestamp format embedded in RIS archive file names.
const StampLayout = "20060102.1504"

// DefaultStep is the RIS update file cadence.
const DefaultStep = 5 * time.Minute

// Window is an inclusive [Start, End] range walked in Step increments.
type Window struct {
	Start time.Time
	End   time.Time
	Step  time.Duration
}

// ParseStamp parses a "YYYYMMDD.HHMM" stamp as UTC.
func ParseStamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(StampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stamp %q: %w", s, err)
	}
	return t, nil
}

// New builds a window from two stamps and a step. A zero step means DefaultStep.
func New(start, end string, step time.Duration) (Window, error) {
	s, err := ParseStamp(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseStamp(end)
	if err != nil {
		return Window{}, err
	}
	if step == 0 {
		step = DefaultStep
	}
	w := Window{Start: s, End: e, Step: step}
	return w, w.Validate()
}

// Validate checks the step is positive and End does not precede Start.
func (w Window) Validate() error {
	if w.Step <= 0 {
		return errors.New("window step must be positive")
	}
	if w.End.Before(w.Start) {
		return fmt.Errorf("window end %s is before start %s", w.End.Format(StampLayout), w.Start.Format(StampLayout))
	}
	return nil
}

// Times returns every instant from Start, stepping by Step, while not after End.
func (w Window) Times() []time.Time {
	if w.Validate() != nil {
		return nil
	}
	var out []time.Time
	for t := w.Start; !t.After(w.End); t = t.Add(w.Step) {
		out = append(out, t)
	}
	return out
}

// Filenames renders template (one %s verb, e.g. "updates.%s.gz") for every instant.
func (w Window) Filenames(template string) []string {
	times := w.Times()
	out := make([]string, 0, len(times))
	for _, t := range times {
		out = append(out, Filename(template, t))
	}
	return out
}

// Filename renders template for a single instant.
func Filename(template string, t time.Time) string {
	return fmt.Sprintf(template, t.UTC().Format(StampLayout))
}

// DatePath is the monthly archive directory ("2025.11") holding t's files.
func DatePath(t time.Time) string {
	return t.UTC().Format("2006.01")
}
