package task

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyActive = errors.New("task already activated")
	ErrNotActive     = errors.New("task never activated")
	ErrNotCallable   = errors.New("task function not callable")
)

// ActivationError reports scheduler misuse: activating a task twice or
// deactivating a task the scheduler does not track. It is always a caller bug
// and is returned at the call site, never retried.
type ActivationError struct {
	Op   string // "activate" | "deactivate"
	Name string
	Err  error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("failed to %s task %s: %v", e.Op, e.Name, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }
