package extract

import (
	"errors"
	"fmt"
)

// Run-level errors surfaced by Machine.Start.
var (
	// ErrAlreadyRunning is returned when a start request arrives while a
	// run is in progress.
	ErrAlreadyRunning = errors.New("extraction is already running")

	// ErrWrongPage is returned when the browser is not on the positions
	// page.
	ErrWrongPage = errors.New("wrong page: not on the positions page")

	// ErrNoTargets is returned when discovery finds no actionable
	// positions.
	ErrNoTargets = errors.New("no positions found on page")
)

// StepError describes a failure at one step of the interaction protocol.
// Any StepError triggers a retry of the whole sequence.
type StepError struct {
	Step    string
	Message string
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s", e.Step, e.Message)
}

func stepFailed(step, format string, args ...any) *StepError {
	return &StepError{Step: step, Message: fmt.Sprintf(format, args...)}
}
