package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	closed  atomic.Bool
	writeMu sync.Mutex
}

// NewSQLiteStore opens (or creates) the migration database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Configure SQLite for concurrent access
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(60000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS files (
		path TEXT PRIMARY KEY,
		key TEXT NOT NULL,
		size INTEGER NOT NULL,
		mod_time DATETIME NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		last_error TEXT,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_files_status ON files(status);
	`

	_, err := s.db.Exec(query)
	return err
}

// Get reads a setting
func (s *SQLiteStore) Get(key string) (string, bool, error) {
	if s.closed.Load() {
		return "", false, ErrClosed
	}

	var value string
	var found bool
	err := s.retryOnBusy(func() error {
		err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return value, found, err
}

// Put upserts a setting
func (s *SQLiteStore) Put(key, value string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, key, value, time.Now().UTC())
		return err
	})
}

// Delete removes the given settings; missing keys are ignored
func (s *SQLiteStore) Delete(keys ...string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		for _, key := range keys {
			if _, err := tx.Exec(`DELETE FROM settings WHERE key = ?`, key); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// GetFile retrieves the checkpoint record for a file, or nil if there is none
func (s *SQLiteStore) GetFile(path string) (*FileRecord, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var result *FileRecord
	err := s.retryOnBusy(func() error {
		var err error
		result, err = s.getFileInternal(path)
		return err
	})
	return result, err
}

func (s *SQLiteStore) getFileInternal(path string) (*FileRecord, error) {
	query := `
	SELECT path, key, size, mod_time, status, attempts, last_error, updated_at
	FROM files WHERE path = ?
	`

	record, err := scanFile(s.db.QueryRow(query, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return record, err
}

// SaveFile saves or updates a file record
func (s *SQLiteStore) SaveFile(record *FileRecord) error {
	if s.closed.Load() {
		return ErrClosed
	}

	// Serialize writes to avoid SQLITE_BUSY from multiple concurrent writers
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		return s.saveFileWithTransaction(record)
	})
}

func (s *SQLiteStore) saveFileWithTransaction(record *FileRecord) error {
	record.UpdatedAt = time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // This will be ignored if Commit() succeeds

	query := `
    INSERT INTO files
    (path, key, size, mod_time, status, attempts, last_error, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(path) DO UPDATE SET
        key = excluded.key,
        size = excluded.size,
        mod_time = excluded.mod_time,
        status = excluded.status,
        attempts = excluded.attempts,
        last_error = excluded.last_error,
        updated_at = excluded.updated_at
    `

	_, err = tx.Exec(query,
		record.Path,
		record.Key,
		record.Size,
		record.ModTime.UTC(),
		record.Status,
		record.Attempts,
		record.LastError,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to execute insert: %w", err)
	}

	return tx.Commit()
}

// ListFilesByStatus returns all records in the given status, oldest first
func (s *SQLiteStore) ListFilesByStatus(status FileStatus) ([]*FileRecord, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	query := `
	SELECT path, key, size, mod_time, status, attempts, last_error, updated_at
	FROM files WHERE status = ?
	ORDER BY updated_at ASC
	`

	rows, err := s.db.Query(query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*FileRecord
	for rows.Next() {
		record, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// ResetFiles drops every file record, used when a migration is reset
func (s *SQLiteStore) ResetFiles() error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		_, err := s.db.Exec(`DELETE FROM files`)
		return err
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*FileRecord, error) {
	var record FileRecord
	var lastError sql.NullString

	err := row.Scan(
		&record.Path,
		&record.Key,
		&record.Size,
		&record.ModTime,
		&record.Status,
		&record.Attempts,
		&lastError,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastError.Valid {
		record.LastError = lastError.String
	}
	return &record, nil
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	maxRetries := 10
	baseDelay := 50 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if isSQLiteBusyError(err) && attempt < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<uint(attempt))
			jitter := time.Duration(attempt*10) * time.Millisecond
			time.Sleep(delay + jitter)
			continue
		}

		return err
	}

	return nil
}

// isSQLiteBusyError checks if the error is a SQLite busy error
func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
