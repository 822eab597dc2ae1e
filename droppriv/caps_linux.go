//go:build linux

package droppriv

import (
	"kernel.org/pub/linux/libs/security/libcap/cap"
)

// Stage seams, swappable in tests to simulate kernel failures.
var (
	capGetProc = func() (*cap.Set, error) { return cap.GetPID(0) }
	capClear   = func(c *cap.Set) error { return c.Clear() }
	capSetProc = func(c *cap.Set) error { return c.SetProc() }
	capReset   = cap.ResetAmbient
)

// dropCapabilities empties the permitted, effective, and inheritable
// sets of every runtime thread (libcap's SetProc synchronizes the
// whole process through psx), then drops the ambient bits, which sit
// outside the three main flag sets.
func (m *Manager) dropCapabilities() error {
	c, err := capGetProc()
	if err != nil {
		return fatal("getting capabilities of process", err)
	}
	if err := capClear(c); err != nil {
		return fatal("clearing capability state", err)
	}
	if err := capSetProc(c); err != nil {
		return fatal("dropping capabilities", err)
	}
	if err := capReset(); err != nil {
		return fatal("resetting ambient capabilities", err)
	}
	return nil
}
