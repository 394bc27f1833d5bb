package core

import (
	"time"

	"github.com/sasha-s/go-deadlock"
)

// Queue, awaiter and scheduler locks are go-deadlock mutexes. Detection is
// off unless EnableLockDiagnostics is called, so they behave like sync.Mutex.
func init() {
	deadlock.Opts.Disable = true
}

// EnableLockDiagnostics turns on lock-order and lock-timeout detection for
// every scheduler lock in the process. timeout <= 0 keeps the library default.
func EnableLockDiagnostics(timeout time.Duration) {
	deadlock.Opts.Disable = false
	if timeout > 0 {
		deadlock.Opts.DeadlockTimeout = timeout
	}
}

// DisableLockDiagnostics restores plain mutex behavior.
func DisableLockDiagnostics() {
	deadlock.Opts.Disable = true
}
