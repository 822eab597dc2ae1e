// Package debug holds the process-wide debug flag.
//
// The flag starts disabled, is enabled once during startup (command-line
// flag or configuration), and stays enabled for the life of the process.
// Components that need the flag hold a *State so tests can use their own
// instance; the package-level functions operate on the shared process
// instance.
package debug

import "sync/atomic"

// State is a debug flag. The zero value is disabled.
type State struct {
	enabled atomic.Bool
}

// Enable turns the flag on. There is no way to turn it off again.
func (s *State) Enable() {
	s.enabled.Store(true)
}

// Enabled reports whether the flag has been enabled. Safe for
// concurrent use with Enable.
func (s *State) Enabled() bool {
	return s.enabled.Load()
}

var process State

// Process returns the shared process-wide flag.
func Process() *State {
	return &process
}

// Enable turns on the process-wide flag.
func Enable() {
	process.Enable()
}

// Enabled reports the process-wide flag.
func Enabled() bool {
	return process.Enabled()
}
