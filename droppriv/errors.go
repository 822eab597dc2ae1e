package droppriv

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned on platforms without the Linux privilege
// and capability syscalls.
var ErrUnsupported = errors.New("privilege dropping not supported on this platform")

// ErrRevertible indicates the kernel accepted a request to restore a
// previous identity after a drop. The drop was not irrevocable.
var ErrRevertible = errors.New("previous identity could be restored")

// ErrIdentityMismatch indicates the effective id observed after a drop
// does not equal the requested target id.
var ErrIdentityMismatch = errors.New("effective id does not match drop target")

// ErrStrategyNotAvailable indicates a lookup strategy cannot run on
// this system (missing socket, bus, or service).
var ErrStrategyNotAvailable = errors.New("lookup strategy not available")

// ErrInvalidUsername is returned for user names that fail validation
// before any lookup is attempted.
var ErrInvalidUsername = errors.New("invalid username")

// ErrUserNotFound indicates that no lookup strategy knows the user.
type ErrUserNotFound struct {
	Username string
}

func (e *ErrUserNotFound) Error() string {
	return fmt.Sprintf("user %q not found", e.Username)
}

// FatalError marks a failure after which continued execution would run
// with unknown or partially elevated privileges. Callers are expected
// to propagate it to the process boundary, where the only sane
// handling is to report it and exit non-zero. Stage names the step
// that failed.
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return e.Stage + " failed"
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err carries a *FatalError anywhere in its
// chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

func fatal(stage string, err error) error {
	return &FatalError{Stage: stage, Err: err}
}
