package runner

import (
	"errors"
	"fmt"
)

var (
	// ErrTreeMutated is reported when a verification-only job changed
	// tracked files.
	ErrTreeMutated = errors.New("verification job modified the working tree")
	// ErrUnknownAction is reported for a step referencing an action with no
	// local handler.
	ErrUnknownAction = errors.New("no local handler for action")
	// ErrUnsupportedImage is reported when the host cannot satisfy a runner
	// image.
	ErrUnsupportedImage = errors.New("runner image not available on this host")
)

// InfraError is a provisioning failure: the runner image or toolchain could
// not be made available. It is never retried.
type InfraError struct {
	Phase string
	Err   error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("infrastructure failure during %s: %v", e.Phase, e.Err)
}

func (e *InfraError) Unwrap() error {
	return e.Err
}

// StepError is a step that exited non-zero or could not complete.
type StepError struct {
	StepIndex int
	StepName  string
	// ExitCode is the command's exit status, or -1 when it did not exit
	// normally.
	ExitCode int
	Err      error
}

func (e *StepError) Error() string {
	if e.ExitCode > 0 {
		return fmt.Sprintf("step %d (%s) failed with exit code %d", e.StepIndex+1, e.StepName, e.ExitCode)
	}
	return fmt.Sprintf("step %d (%s) failed: %v", e.StepIndex+1, e.StepName, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
