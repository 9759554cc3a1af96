package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Display periodically renders a report to a terminal
type Display struct {
	report   *Report
	interval time.Duration
	out      io.Writer

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewDisplay creates a new progress display writing to out
func NewDisplay(report *Report, interval time.Duration, out io.Writer) *Display {
	return &Display{
		report:   report,
		interval: interval,
		out:      out,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start starts the progress display
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop stops the display after printing the final summary
func (d *Display) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.done
}

func (d *Display) displayLoop() {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprintln(d.out, strings.Join(d.generateDisplay(d.report.Snapshot()), "\n"))
		case <-d.stopCh:
			fmt.Fprintln(d.out, strings.Join(d.generateFinalDisplay(d.report.Snapshot()), "\n"))
			return
		}
	}
}

func (d *Display) generateDisplay(s Snapshot) []string {
	lines := make([]string, 0, 12)

	lines = append(lines, "")
	lines = append(lines, "Filesystem migration progress")
	lines = append(lines, strings.Repeat("=", 51))
	lines = append(lines, fmt.Sprintf("Files:    %d/%d (%.1f%%)", s.Processed(), s.FilesFound, s.PercentComplete()))
	lines = append(lines, fmt.Sprintf("    %s", generateProgressBar(s.PercentComplete(), 40)))
	lines = append(lines, fmt.Sprintf("Data:     %s", humanize.IBytes(uint64(s.BytesTransferred))))
	lines = append(lines, fmt.Sprintf("  uploading: %d", s.InFlight()))
	lines = append(lines, fmt.Sprintf("  migrated:  %d", s.FilesMigrated))
	lines = append(lines, fmt.Sprintf("  failed:    %d", s.ErrorCount))
	lines = append(lines, fmt.Sprintf("  skipped:   %d", s.FilesSkipped))
	lines = append(lines, fmt.Sprintf("Speed:    %s", FormatSpeed(s.AverageSpeed)))
	lines = append(lines, fmt.Sprintf("Elapsed:  %s", FormatDuration(s.Elapsed)))

	return lines
}

func (d *Display) generateFinalDisplay(s Snapshot) []string {
	lines := make([]string, 0, 10)

	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("Filesystem migration %s", strings.ToLower(string(s.Status))))
	lines = append(lines, strings.Repeat("=", 51))
	lines = append(lines, fmt.Sprintf("Processed: %d files", s.Processed()))
	lines = append(lines, fmt.Sprintf("Data:      %s", humanize.IBytes(uint64(s.BytesTransferred))))
	lines = append(lines, fmt.Sprintf("Migrated:  %d", s.FilesMigrated))
	lines = append(lines, fmt.Sprintf("Failed:    %d", s.ErrorCount))
	lines = append(lines, fmt.Sprintf("Skipped:   %d", s.FilesSkipped))
	lines = append(lines, fmt.Sprintf("Elapsed:   %s", FormatDuration(s.Elapsed)))
	lines = append(lines, fmt.Sprintf("Speed:     %s", FormatSpeed(s.AverageSpeed)))
	for _, f := range s.Errors {
		lines = append(lines, fmt.Sprintf("  %s: %s", f.Path, f.Reason))
	}
	if extra := s.ErrorCount - int64(len(s.Errors)); extra > 0 {
		lines = append(lines, fmt.Sprintf("  ... and %s more", humanize.Comma(extra)))
	}

	return lines
}

func generateProgressBar(percent float64, width int) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(percent * float64(width) / 100)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	return fmt.Sprintf("[%s] %.1f%%", bar, percent)
}

// IsTerminalSupported checks if stdout is a terminal
func IsTerminalSupported() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fileInfo.Mode()&os.ModeCharDevice != 0
}
