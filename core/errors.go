package core

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Contract violations. These indicate a scheduler bug or API misuse and are
// reported through the FatalHandler instead of being returned to callers.
var (
	ErrInvalidTransition      = errors.New("invalid task state transition")
	ErrAlreadyDispatched      = errors.New("task already dispatched")
	ErrNotDispatched          = errors.New("task was never dispatched")
	ErrDependencyNotCompleted = errors.New("task dependency awaiter not completed")
	ErrTaskReferenced         = errors.New("task destroyed while still referenced")
	ErrDoubleDestroy          = errors.New("task destroyed twice")
	ErrReferenceUnderflow     = errors.New("reference count dropped below zero")
	ErrAwaiterUnderflow       = errors.New("awaiter notified more times than dependencies were added")
	ErrWaitListNotEmpty       = errors.New("awaiter wait list not empty")
	ErrTaskLinked             = errors.New("task already linked into a list")
)

// ErrSchedulerClosed is reported to the RejectedTaskHandler when a task is
// scheduled after Shutdown.
var ErrSchedulerClosed = errors.New("task scheduler is shut down")

// ContractError describes a state machine or ownership violation on a task
// or awaiter.
type ContractError struct {
	Op     string
	TaskID uint32
	Status TaskStatus
	Err    error
}

func (e *ContractError) Error() string {
	if e.TaskID == 0 {
		return fmt.Sprintf("%s (status %s): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s on task %d (status %s): %v", e.Op, e.TaskID, e.Status, e.Err)
}

func (e *ContractError) Unwrap() error { return e.Err }

// PanicError is recorded on a task whose work function panicked.
type PanicError struct {
	TaskID uint32
	Name   string
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %d (%s) panicked: %v", e.TaskID, e.Name, e.Value)
}

// Unwrap exposes the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// =============================================================================
// FatalHandler: process-wide sink for contract violations
// =============================================================================

// FatalHandler receives contract violations. The default handler panics with
// the error. A replacement that returns normally lets the caller continue, in
// which case the offending operation is skipped.
type FatalHandler func(err error)

var fatalHandler atomic.Pointer[FatalHandler]

// SetFatalHandler installs h and returns the previously installed handler.
// Passing nil restores the panicking default.
func SetFatalHandler(h FatalHandler) FatalHandler {
	var prev *FatalHandler
	if h == nil {
		prev = fatalHandler.Swap(nil)
	} else {
		prev = fatalHandler.Swap(&h)
	}
	if prev == nil {
		return nil
	}
	return *prev
}

func fatal(err error) {
	if h := fatalHandler.Load(); h != nil {
		(*h)(err)
		return
	}
	panic(err)
}

func contractViolation(op string, t *Task, err error) {
	ce := &ContractError{Op: op, Err: err}
	if t != nil {
		ce.TaskID = t.ID()
		ce.Status = t.Status()
	}
	fatal(ce)
}
