package stage

import "fmt"

// InvalidStageError is returned when the migration was asked to leave a stage
// it is not in, or to make a transition the table does not allow.
type InvalidStageError struct {
	Expected Stage
	Actual   Stage
	// Target is the stage the caller tried to move to, if any.
	Target Stage
	Prefix string
}

// NewInvalidStageError builds an error carrying the expected and actual stages
func NewInvalidStageError(expected, actual Stage) *InvalidStageError {
	return &InvalidStageError{Expected: expected, Actual: actual}
}

func (e *InvalidStageError) Error() string {
	msg := fmt.Sprintf("expected migration stage to be in `%s` but was in `%s`", e.Expected, e.Actual)
	if e.Target != "" {
		msg = fmt.Sprintf("%s (requested transition to `%s`)", msg, e.Target)
	}
	if e.Prefix != "" {
		msg = e.Prefix + ". " + msg
	}
	return msg
}
