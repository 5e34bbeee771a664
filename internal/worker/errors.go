package worker

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRunning = errors.New("a run is already in progress")
	ErrNotRunning     = errors.New("no run is in progress")
)

// AlreadyRunningError is returned by Start and Reconfigure while a run is
// active. It matches ErrAlreadyRunning with errors.Is.
type AlreadyRunningError struct {
	RunID string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("run %s is already in progress", e.RunID)
}

func (e *AlreadyRunningError) Is(target error) bool {
	return target == ErrAlreadyRunning
}
