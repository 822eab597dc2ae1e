// Package affinity pins the calling thread to individual CPUs so the
// sampling loop can read per-core measurement interfaces from the core
// they describe, and restores the previous placement afterwards.
//
// Affinity is a property of the OS thread, not the goroutine. Callers
// that bind and later restore must hold their thread with
// runtime.LockOSThread for the whole bind/restore window.
package affinity

import (
	"errors"
	"sync/atomic"

	"github.com/viniciusvgp/cpu-energy-meter/logging"
)

// ErrInvalidCPU is returned for cpu indexes a Mask cannot hold.
var ErrInvalidCPU = errors.New("cpu index out of range")

// ErrUnsupported is returned on platforms without thread affinity
// syscalls.
var ErrUnsupported = errors.New("cpu affinity not supported on this platform")

// Controller performs affinity changes and reports the recoverable
// failures on the affinity log destination. A nil logger keeps it
// quiet.
type Controller struct {
	log *logging.Logger
}

// NewController returns a Controller logging through log.
func NewController(log *logging.Logger) *Controller {
	return &Controller{log: log}
}

func (c *Controller) warnf(format string, args ...any) {
	if c.log == nil {
		return
	}
	c.log.Warnf(logging.DestinationAffinity, format, args...)
}

var defaultController atomic.Pointer[Controller]

// DefaultController returns the shared Controller, creating a quiet
// one on first use.
func DefaultController() *Controller {
	if c := defaultController.Load(); c != nil {
		return c
	}
	c := NewController(nil)
	if defaultController.CompareAndSwap(nil, c) {
		return c
	}
	return defaultController.Load()
}

// SetDefaultController replaces the shared Controller, typically
// during startup once the logger exists.
func SetDefaultController(c *Controller) {
	defaultController.Store(c)
}

// Current returns the affinity mask of the calling thread using the
// shared Controller.
func Current() (Mask, error) {
	return DefaultController().Current()
}

// Bind pins the calling thread to cpu using the shared Controller.
func Bind(cpu int, prev *Mask) error {
	return DefaultController().Bind(cpu, prev)
}

// BindMask installs next as the affinity of the calling thread using
// the shared Controller.
func BindMask(next Mask, prev *Mask) error {
	return DefaultController().BindMask(next, prev)
}

// IsOffline reports whether cpu is schedulable using the shared
// Controller.
func IsOffline(cpu int) (bool, error) {
	return DefaultController().IsOffline(cpu)
}
