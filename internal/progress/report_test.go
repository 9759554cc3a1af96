package progress

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClockedReport() (*Report, *fakeClock) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	r := NewReport()
	r.now = clock.now
	return r, clock
}

func TestReportInitiallyNotStarted(t *testing.T) {
	r := NewReport()
	assert.Equal(t, StatusNotStarted, r.Status())
	assert.Zero(t, r.Elapsed())
	assert.Empty(t, r.Snapshot().Errors)
}

func TestReportCountersAreConcurrencySafe(t *testing.T) {
	r := NewReport()
	r.Start()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.ReportFileFound()
				r.ReportUploadCommenced()
				r.ReportFileMigrated(10)
			}
		}()
	}
	wg.Wait()

	s := r.Snapshot()
	assert.Equal(t, int64(1000), s.FilesFound)
	assert.Equal(t, int64(1000), s.UploadsCommenced)
	assert.Equal(t, int64(1000), s.FilesMigrated)
	assert.Equal(t, int64(10000), s.BytesTransferred)
	assert.Equal(t, int64(0), s.InFlight())
	assert.InDelta(t, 100.0, s.PercentComplete(), 0.001)
}

func TestReportSkippedCountsAsMigrated(t *testing.T) {
	r := NewReport()
	r.Start()
	r.ReportFileFound()
	r.ReportFileSkipped()

	s := r.Snapshot()
	assert.Equal(t, int64(1), s.FilesMigrated)
	assert.Equal(t, int64(1), s.FilesSkipped)
	assert.Equal(t, int64(0), s.UploadsCommenced)
}

func TestReportCapsRecordedErrors(t *testing.T) {
	r := NewReport()
	r.Start()
	for i := 0; i < MaxRecordedErrors+25; i++ {
		r.ReportFileNotMigrated(FailedFile{Path: fmt.Sprintf("file-%d", i), Reason: "denied"})
	}

	s := r.Snapshot()
	assert.Len(t, s.Errors, MaxRecordedErrors)
	assert.Equal(t, int64(MaxRecordedErrors+25), s.ErrorCount)
	assert.Equal(t, "file-0", s.Errors[0].Path)
}

func TestReportElapsedTime(t *testing.T) {
	r, clock := newClockedReport()

	r.Start()
	assert.Zero(t, r.Elapsed())

	clock.advance(10 * time.Second)
	assert.Equal(t, 10*time.Second, r.Elapsed())

	// running -> running does not restart the timer
	r.Start()
	clock.advance(10 * time.Second)
	assert.Equal(t, 20*time.Second, r.Elapsed())
}

func TestReportFrozenOnceTerminal(t *testing.T) {
	for _, status := range []Status{StatusDone, StatusFailed, StatusCancelled, StatusCompletedWithErrors} {
		t.Run(string(status), func(t *testing.T) {
			r, clock := newClockedReport()
			r.Start()
			r.ReportFileFound()
			clock.advance(10 * time.Second)

			r.Finish(status)
			clock.advance(10 * time.Second)

			r.ReportFileFound()
			r.ReportFileMigrated(5)
			r.ReportFileNotMigrated(FailedFile{Path: "late"})
			r.Start()
			r.Finish(StatusFailed)

			s := r.Snapshot()
			assert.Equal(t, status, s.Status)
			assert.Equal(t, int64(1), s.FilesFound)
			assert.Zero(t, s.FilesMigrated)
			assert.Zero(t, s.ErrorCount)
			assert.Equal(t, 10*time.Second, s.Elapsed)
		})
	}
}

func TestReportComplete(t *testing.T) {
	r := NewReport()
	r.Start()
	r.Complete()
	assert.Equal(t, StatusDone, r.Status())

	r = NewReport()
	r.Start()
	r.ReportFileNotMigrated(FailedFile{Path: "a", Reason: "b"})
	r.Complete()
	assert.Equal(t, StatusCompletedWithErrors, r.Status())
}

func TestFinishIgnoresNonTerminal(t *testing.T) {
	r := NewReport()
	r.Finish(StatusRunning)
	assert.Equal(t, StatusNotStarted, r.Status())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", FormatDuration(0))
	assert.Equal(t, "1m5s", FormatDuration(65*time.Second))
	assert.Equal(t, "2h0m1s", FormatDuration(2*time.Hour+time.Second))
}

func TestDisplayPrintsFinalSummary(t *testing.T) {
	r := NewReport()
	r.Start()
	r.ReportFileFound()
	r.ReportFileFound()
	r.ReportFileMigrated(2048)
	r.ReportFileNotMigrated(FailedFile{Path: "/home/data/locked", Reason: "permission denied"})
	r.Complete()

	var out bytes.Buffer
	d := NewDisplay(r, time.Hour, &out)
	d.Start()
	d.Stop()
	d.Stop()

	text := out.String()
	require.NotEmpty(t, text)
	assert.Contains(t, text, "Filesystem migration completed_with_errors")
	assert.Contains(t, text, "2.0 KiB")
	assert.Contains(t, text, "/home/data/locked: permission denied")
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "[██░░] 50.0%", generateProgressBar(50, 4))
	assert.Equal(t, "[████] 100.0%", generateProgressBar(150, 4))
}
