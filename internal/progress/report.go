package progress

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Status is the lifecycle state of a filesystem migration report
type Status string

const (
	StatusNotStarted          Status = "NOT_STARTED"
	StatusRunning             Status = "RUNNING"
	StatusDone                Status = "DONE"
	StatusCompletedWithErrors Status = "COMPLETED_WITH_ERRORS"
	StatusFailed              Status = "FAILED"
	StatusCancelled           Status = "CANCELLED"
)

// IsTerminal reports whether no further updates are expected
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusCompletedWithErrors, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// MaxRecordedErrors bounds the failed-file list kept in memory. Failures past
// the cap are still counted.
const MaxRecordedErrors = 100

// FailedFile is a single file that could not be migrated
type FailedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report accumulates progress and errors for one filesystem migration.
// Counters are updated concurrently by the crawler and the upload workers.
// Once a terminal status is set the report is frozen and further updates
// are dropped.
type Report struct {
	filesFound       atomic.Int64
	uploadsCommenced atomic.Int64
	filesMigrated    atomic.Int64
	filesSkipped     atomic.Int64
	bytesTransferred atomic.Int64
	errorCount       atomic.Int64
	frozen           atomic.Bool

	mu        sync.RWMutex
	status    Status
	failed    []FailedFile
	startTime time.Time
	endTime   time.Time
	now       func() time.Time
}

// NewReport creates a report in NOT_STARTED state
func NewReport() *Report {
	return &Report{
		status: StatusNotStarted,
		failed: make([]FailedFile, 0),
		now:    time.Now,
	}
}

// Start marks the migration as running. The timer is not restarted if the
// report is already running.
func (r *Report) Start() {
	r.setStatus(StatusRunning)
}

// Finish sets a terminal status. Only the first terminal status sticks.
func (r *Report) Finish(status Status) {
	if !status.IsTerminal() {
		return
	}
	r.setStatus(status)
}

// Complete finishes the report as DONE, or COMPLETED_WITH_ERRORS when any
// file failed.
func (r *Report) Complete() {
	if r.errorCount.Load() > 0 {
		r.Finish(StatusCompletedWithErrors)
		return
	}
	r.Finish(StatusDone)
}

func (r *Report) setStatus(status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.IsTerminal() {
		return
	}
	now := r.now()
	if status == StatusRunning && r.status != StatusRunning {
		r.startTime = now
	}
	if status.IsTerminal() {
		if r.startTime.IsZero() {
			r.startTime = now
		}
		r.endTime = now
		r.frozen.Store(true)
	}
	r.status = status
}

// Status returns the current status
func (r *Report) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// ReportFileFound counts a file discovered by the crawler
func (r *Report) ReportFileFound() {
	if r.frozen.Load() {
		return
	}
	r.filesFound.Add(1)
}

// ReportUploadCommenced counts a file a worker started uploading
func (r *Report) ReportUploadCommenced() {
	if r.frozen.Load() {
		return
	}
	r.uploadsCommenced.Add(1)
}

// ReportFileMigrated counts a successfully uploaded file
func (r *Report) ReportFileMigrated(bytes int64) {
	if r.frozen.Load() {
		return
	}
	r.filesMigrated.Add(1)
	r.bytesTransferred.Add(bytes)
}

// ReportFileSkipped counts a file already present at the destination from a
// previous run. It also counts as migrated.
func (r *Report) ReportFileSkipped() {
	if r.frozen.Load() {
		return
	}
	r.filesSkipped.Add(1)
	r.filesMigrated.Add(1)
}

// ReportFileNotMigrated records a failed file
func (r *Report) ReportFileNotMigrated(failed FailedFile) {
	if r.frozen.Load() {
		return
	}
	r.errorCount.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.failed) < MaxRecordedErrors {
		r.failed = append(r.failed, failed)
	}
}

// Elapsed returns the time since Start, stopped at the terminal status
func (r *Report) Elapsed() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.elapsedLocked()
}

func (r *Report) elapsedLocked() time.Duration {
	if r.startTime.IsZero() {
		return 0
	}
	if !r.endTime.IsZero() {
		return r.endTime.Sub(r.startTime)
	}
	return r.now().Sub(r.startTime)
}

// Snapshot is a point-in-time copy of a report
type Snapshot struct {
	Status           Status        `json:"status"`
	FilesFound       int64         `json:"filesFound"`
	UploadsCommenced int64         `json:"uploadsCommenced"`
	FilesMigrated    int64         `json:"filesMigrated"`
	FilesSkipped     int64         `json:"filesSkipped"`
	BytesTransferred int64         `json:"bytesTransferred"`
	ErrorCount       int64         `json:"errorCount"`
	Errors           []FailedFile  `json:"errors"`
	StartTime        time.Time     `json:"startTime,omitempty"`
	Elapsed          time.Duration `json:"elapsedTime"`
	AverageSpeed     float64       `json:"averageSpeed"`
}

// Snapshot returns a consistent-enough copy of the report for display
func (r *Report) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{
		Status:           r.status,
		FilesFound:       r.filesFound.Load(),
		UploadsCommenced: r.uploadsCommenced.Load(),
		FilesMigrated:    r.filesMigrated.Load(),
		FilesSkipped:     r.filesSkipped.Load(),
		BytesTransferred: r.bytesTransferred.Load(),
		ErrorCount:       r.errorCount.Load(),
		Errors:           append([]FailedFile(nil), r.failed...),
		StartTime:        r.startTime,
		Elapsed:          r.elapsedLocked(),
	}
	if s.Elapsed > 0 {
		s.AverageSpeed = float64(s.BytesTransferred) / s.Elapsed.Seconds()
	}
	return s
}

// Processed is the number of files that reached a final per-file outcome
func (s Snapshot) Processed() int64 {
	return s.FilesMigrated + s.ErrorCount
}

// InFlight estimates uploads started but not yet finished
func (s Snapshot) InFlight() int64 {
	n := s.UploadsCommenced - (s.FilesMigrated - s.FilesSkipped) - s.ErrorCount
	if n < 0 {
		return 0
	}
	return n
}

// PercentComplete is the share of found files processed so far
func (s Snapshot) PercentComplete() float64 {
	if s.FilesFound == 0 {
		return 0
	}
	return float64(s.Processed()) / float64(s.FilesFound) * 100
}

func (s Snapshot) String() string {
	return fmt.Sprintf("status=%s found=%d commenced=%d migrated=%d skipped=%d failed=%d transferred=%s elapsed=%s",
		s.Status, s.FilesFound, s.UploadsCommenced, s.FilesMigrated, s.FilesSkipped, s.ErrorCount,
		humanize.IBytes(uint64(s.BytesTransferred)), FormatDuration(s.Elapsed))
}

// FormatSpeed formats speed in human readable format
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bytesPerSecond)) + "/s"
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
