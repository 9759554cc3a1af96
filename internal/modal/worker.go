package modal

import (
	"context"
	"fmt"
	"strings"

	"dcmigrate/internal/migration"
	"dcmigrate/internal/stage"
	"dcmigrate/internal/store"

	"go.uber.org/zap"
)

// Mode selects how stage work is dispatched
type Mode string

const (
	// ModeDefault runs stage work only when the migration is in the expected stage
	ModeDefault Mode = "default"
	// ModePassthrough skips stage work and jumps to the post-condition stage
	ModePassthrough Mode = "passthrough"
	// ModeNoVerify runs stage work regardless of the current stage
	ModeNoVerify Mode = "no-verify"
)

// settingsKey is where the mode is persisted
const settingsKey = "develop.mode"

// ParseMode parses a mode name; the empty string is the default mode
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeDefault:
		return ModeDefault, nil
	case ModePassthrough, ModeNoVerify:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q (expected default, passthrough or no-verify)", s)
}

// Work is the real stage logic
type Work func(ctx context.Context) error

// Worker dispatches stage work according to the configured mode
type Worker struct {
	settings store.Settings
	stages   migration.StageStore
	logger   *zap.Logger
}

// NewWorker creates a modal worker
func NewWorker(settings store.Settings, stages migration.StageStore, logger *zap.Logger) *Worker {
	return &Worker{settings: settings, stages: stages, logger: logger}
}

// Mode returns the configured mode
func (w *Worker) Mode() (Mode, error) {
	raw, _, err := w.settings.Get(settingsKey)
	if err != nil {
		return "", fmt.Errorf("failed to read mode: %w", err)
	}
	mode, err := ParseMode(raw)
	if err != nil {
		w.logger.Warn("Ignoring invalid stored mode", zap.String("mode", raw))
		return ModeDefault, nil
	}
	return mode, nil
}

// SetMode persists mode
func (w *Worker) SetMode(mode Mode) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}
	if err := w.settings.Put(settingsKey, string(mode)); err != nil {
		return fmt.Errorf("failed to store mode: %w", err)
	}
	w.logger.Info("Mode changed", zap.String("mode", string(mode)))
	return nil
}

// RunAccordingToMode runs work, or skips it, depending on the mode:
//
//   - default: work runs only if the current stage is expected
//   - passthrough: work never runs; the migration moves from its actual
//     current stage straight to passThrough
//   - no-verify: work always runs
func (w *Worker) RunAccordingToMode(ctx context.Context, work Work, expected, passThrough stage.Stage) error {
	mode, err := w.Mode()
	if err != nil {
		return err
	}

	switch mode {
	case ModePassthrough:
		current, err := w.stages.CurrentStage()
		if err != nil {
			return err
		}
		w.logger.Info("Passthrough mode, skipping stage work",
			zap.String("from", current.String()),
			zap.String("to", passThrough.String()),
		)
		if err := w.stages.Transition(current, passThrough); err != nil {
			w.logger.Error("Failed to short-circuit stage", zap.Error(err))
			return err
		}
		return nil

	case ModeNoVerify:
		return work(ctx)
	}

	current, err := w.stages.CurrentStage()
	if err != nil {
		return err
	}
	if current != expected {
		w.logger.Debug("Not in expected stage, skipping stage work",
			zap.String("expected", expected.String()),
			zap.String("current", current.String()),
		)
		return nil
	}
	return work(ctx)
}
