package migration

import (
	"fmt"
	"sync"
	"time"

	"dcmigrate/internal/stage"
	"dcmigrate/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Settings keys holding the migration record
const (
	keyStage     = "migration.stage"
	keyID        = "migration.id"
	keyCreatedAt = "migration.created_at"
	keyLastError = "migration.last_error"
)

// Migration is a read-only view of the current migration record
type Migration interface {
	ID() string
	Stage() stage.Stage
	CreatedAt() time.Time
	LastError() string
}

// StageStore is the stage capability handed to the phase services
type StageStore interface {
	CurrentStage() (stage.Stage, error)
	Transition(from, to stage.Stage) error
	Error(cause error) error
}

// TransitionFunc observes successful stage changes
type TransitionFunc func(from, to stage.Stage)

// Service is the single authoritative holder of the migration stage. The
// stage is only ever changed through Transition, which compares the stage the
// caller expects against the stored one before applying the change.
type Service struct {
	settings store.Settings
	logger   *zap.Logger

	mu        sync.Mutex
	observers []TransitionFunc
}

// NewService creates a stage service persisting into settings
func NewService(settings store.Settings, logger *zap.Logger) *Service {
	return &Service{
		settings: settings,
		logger:   logger,
	}
}

// OnTransition registers a callback invoked after every successful transition
func (s *Service) OnTransition(fn TransitionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// CurrentStage returns the stored stage; a missing record reads as NOT_STARTED
func (s *Service) CurrentStage() (stage.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readStage()
}

func (s *Service) readStage() (stage.Stage, error) {
	raw, ok, err := s.settings.Get(keyStage)
	if err != nil {
		return "", fmt.Errorf("failed to read migration stage: %w", err)
	}
	if !ok {
		return stage.NotStarted, nil
	}
	return stage.Parse(raw)
}

// Transition moves the migration from one stage to another. It fails with a
// *stage.InvalidStageError if the stored stage is not from, or if the table
// does not allow from -> to; the stored stage is left untouched in both cases.
func (s *Service) Transition(from, to stage.Stage) error {
	s.mu.Lock()
	err := s.transitionLocked(from, to)
	observers := s.observers
	s.mu.Unlock()

	if err != nil {
		return err
	}

	s.logger.Info("Migration stage changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	for _, fn := range observers {
		fn(from, to)
	}
	return nil
}

func (s *Service) transitionLocked(from, to stage.Stage) error {
	actual, err := s.readStage()
	if err != nil {
		return err
	}
	if actual != from {
		return &stage.InvalidStageError{Expected: from, Actual: actual, Target: to}
	}
	if !stage.IsValidTransition(from, to) {
		return &stage.InvalidStageError{
			Expected: from,
			Actual:   actual,
			Target:   to,
			Prefix:   fmt.Sprintf("illegal transition %s -> %s", from, to),
		}
	}
	if err := s.settings.Put(keyStage, string(to)); err != nil {
		return fmt.Errorf("failed to persist migration stage: %w", err)
	}
	return nil
}

// Error moves the migration into ERROR from whatever stage it is actually in
// and records the cause. A FINISHED migration cannot fail.
func (s *Service) Error(cause error) error {
	s.mu.Lock()
	current, err := s.readStage()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	err = s.transitionLocked(current, stage.Error)
	if err == nil && cause != nil {
		if putErr := s.settings.Put(keyLastError, cause.Error()); putErr != nil {
			s.logger.Warn("Failed to record migration error", zap.Error(putErr))
		}
	}
	observers := s.observers
	s.mu.Unlock()

	if err != nil {
		return err
	}

	s.logger.Error("Migration moved to error stage",
		zap.String("from", current.String()),
		zap.NamedError("cause", cause),
	)
	for _, fn := range observers {
		fn(current, stage.Error)
	}
	return nil
}

// CreateMigration starts a new migration. It returns true if a migration was
// created, false if one already exists.
func (s *Service) CreateMigration() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readStage()
	if err != nil {
		return false, err
	}
	if current != stage.NotStarted {
		s.logger.Info("Found existing migration", zap.String("stage", current.String()))
		return false, nil
	}

	if err := s.settings.Put(keyID, uuid.NewString()); err != nil {
		return false, fmt.Errorf("failed to persist migration id: %w", err)
	}
	if err := s.settings.Put(keyCreatedAt, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return false, fmt.Errorf("failed to persist migration creation time: %w", err)
	}
	if err := s.transitionLocked(stage.NotStarted, stage.Authentication); err != nil {
		return false, err
	}
	for _, fn := range s.observers {
		fn(stage.NotStarted, stage.Authentication)
	}
	return true, nil
}

// CurrentMigration returns a snapshot of the migration record
func (s *Service) CurrentMigration() (Migration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.readStage()
	if err != nil {
		return nil, err
	}
	rec := record{stage: st}
	if rec.id, _, err = s.settings.Get(keyID); err != nil {
		return nil, err
	}
	if rec.lastError, _, err = s.settings.Get(keyLastError); err != nil {
		return nil, err
	}
	created, ok, err := s.settings.Get(keyCreatedAt)
	if err != nil {
		return nil, err
	}
	if ok {
		rec.createdAt, _ = time.Parse(time.RFC3339Nano, created)
	}
	return rec, nil
}

// Reset deletes the migration record so the next CreateMigration starts over
func (s *Service) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.settings.Delete(keyStage, keyID, keyCreatedAt, keyLastError); err != nil {
		return fmt.Errorf("failed to delete migration: %w", err)
	}
	s.logger.Warn("Deleted migration record")
	return nil
}

type record struct {
	id        string
	stage     stage.Stage
	createdAt time.Time
	lastError string
}

func (r record) ID() string           { return r.id }
func (r record) Stage() stage.Stage   { return r.stage }
func (r record) CreatedAt() time.Time { return r.createdAt }
func (r record) LastError() string    { return r.lastError }

var _ StageStore = (*Service)(nil)
