package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ProgressBar renders per-file progress on a terminal line
type ProgressBar struct {
	mu          sync.RWMutex
	total       int64
	current     int64
	width       int
	startTime   time.Time
	lastUpdate  time.Time
	description string
	finished    bool
}

// NewProgressBar creates a new progress bar
func NewProgressBar(total int64, description string) *ProgressBar {
	return &ProgressBar{
		total:       total,
		width:       40,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		description: description,
	}
}

// Add increments the progress
func (pb *ProgressBar) Add(n int64) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pb.current += n
	if pb.current > pb.total {
		pb.current = pb.total
	}
	pb.lastUpdate = time.Now()
}

// Finish marks the progress as complete
func (pb *ProgressBar) Finish() {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pb.current = pb.total
	pb.finished = true
	pb.lastUpdate = time.Now()
}

// String returns the progress bar as a string
func (pb *ProgressBar) String() string {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	percent := 100.0
	if pb.total > 0 {
		percent = float64(pb.current) / float64(pb.total) * 100
	}
	filled := int(float64(pb.width) * percent / 100)

	bar := strings.Repeat("█", filled) + strings.Repeat("░", pb.width-filled)
	result := fmt.Sprintf("%s [%s] %d/%d (%.1f%%)", pb.description, bar, pb.current, pb.total, percent)

	elapsed := pb.lastUpdate.Sub(pb.startTime)
	if !pb.finished && pb.current > 0 && elapsed > 0 {
		perFile := elapsed / time.Duration(pb.current)
		eta := perFile * time.Duration(pb.total-pb.current)
		result += fmt.Sprintf(" ETA: %v", eta.Round(time.Second))
	}
	if pb.finished {
		result += fmt.Sprintf(" [DONE in %v]", elapsed.Round(time.Millisecond))
	}
	return result
}

// Render redraws the bar in place on w.
func (pb *ProgressBar) Render(w io.Writer) {
	fmt.Fprintf(w, "\r%s", pb.String())
	pb.mu.RLock()
	done := pb.finished
	pb.mu.RUnlock()
	if done {
		fmt.Fprintln(w)
	}
}

// Stats tracks per-file outcomes of a run
type Stats struct {
	mu          sync.RWMutex
	processed   int64
	successful  int64
	failed      int64
	records     int64
	startTime   time.Time
	progressBar *ProgressBar
}

// NewStats creates new processing statistics
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

// SetTotal enables the progress bar for total files
func (s *Stats) SetTotal(total int64, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if total > 0 {
		s.progressBar = NewProgressBar(total, description)
	}
}

// FileDone records one finished file and the records or elements it yielded
func (s *Stats) FileDone(ok bool, records int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processed++
	if ok {
		s.successful++
	} else {
		s.failed++
	}
	s.records += records
	if s.progressBar != nil {
		s.progressBar.Add(1)
	}
}

// Counts returns processed and failed file counts
func (s *Stats) Counts() (processed, failed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int(s.processed), int(s.failed)
}

// Bar returns the progress bar, nil when no total was set
func (s *Stats) Bar() *ProgressBar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progressBar
}

// Finish marks processing as complete
func (s *Stats) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.progressBar != nil {
		s.progressBar.Finish()
	}
}

// Summary returns a final summary
func (s *Stats) Summary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	elapsed := time.Since(s.startTime)
	return fmt.Sprintf("%d files processed in %v, %d successful, %d failed, %d records",
		s.processed, elapsed.Round(time.Millisecond), s.successful, s.failed, s.records)
}
