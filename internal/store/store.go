package store

import (
	"errors"
	"time"
)

// ErrClosed is returned by every operation once the store has been closed
var ErrClosed = errors.New("database store is closed")

// FileStatus represents the upload status of a single file
type FileStatus string

const (
	StatusPending    FileStatus = "pending"
	StatusInProgress FileStatus = "in_progress"
	StatusCompleted  FileStatus = "completed"
	StatusFailed     FileStatus = "failed"
)

// FileRecord is the checkpoint entry kept for every file a migration touched
type FileRecord struct {
	Path      string     `json:"path"`
	Key       string     `json:"key"`
	Size      int64      `json:"size"`
	ModTime   time.Time  `json:"mod_time"`
	Status    FileStatus `json:"status"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Settings is a durable key/value store for process-wide values such as the
// current migration stage and the operating mode.
type Settings interface {
	// Get returns the stored value and whether the key exists
	Get(key string) (string, bool, error)
	Put(key, value string) error
	Delete(keys ...string) error
}

// FileRecords persists per-file checkpoint records
type FileRecords interface {
	GetFile(path string) (*FileRecord, error)
	SaveFile(record *FileRecord) error
	ListFilesByStatus(status FileStatus) ([]*FileRecord, error)
	ResetFiles() error
}

// Store combines both capabilities behind a single database
type Store interface {
	Settings
	FileRecords

	// Cleanup
	Close() error
}
