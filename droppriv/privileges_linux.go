//go:build linux

package droppriv

import (
	"syscall"
)

// dropPrivileges is the Linux implementation of Manager.DropPrivileges.
// The syscall package applies setgroups/setregid/setreuid to all
// runtime threads on Go 1.16+, so the transition covers the whole
// process.
func (m *Manager) dropPrivileges(uid, gid int) error {
	newgid := gid
	if newgid <= 0 {
		newgid = syscall.Getgid()
	}
	oldgid := syscall.Getegid()

	newuid := uid
	if newuid <= 0 {
		newuid = syscall.Getuid()
	}
	olduid := syscall.Geteuid()

	if olduid != 0 && oldgid != 0 {
		m.debugf("Not changing uid/gid because process is not running as root (uid=%d gid=%d)", olduid, oldgid)
		return nil
	}

	// The supplementary list must shrink first: setgroups needs
	// CAP_SETGID, which is gone once the uid changes.
	if olduid == 0 {
		if err := syscall.Setgroups([]int{newgid}); err != nil {
			return fatal("setting supplementary groups", err)
		}
	}

	if newgid != oldgid {
		if err := syscall.Setregid(newgid, newgid); err != nil {
			return fatal("changing group id of process", err)
		}
	}

	if newuid != olduid {
		if err := syscall.Setreuid(newuid, newuid); err != nil {
			return fatal("changing user id of process", err)
		}
	}

	// The kernel must now reject restoring the old effective ids.
	// A restore that succeeds, or an effective id that is not the
	// target, means the process could still become privileged again.
	if newgid != oldgid {
		if err := syscall.Setegid(oldgid); err == nil {
			return fatal("verifying group id drop", ErrRevertible)
		}
		if syscall.Getegid() != newgid {
			return fatal("verifying group id drop", ErrIdentityMismatch)
		}
	}
	if newuid != olduid {
		if err := syscall.Seteuid(olduid); err == nil {
			return fatal("verifying user id drop", ErrRevertible)
		}
		if syscall.Geteuid() != newuid {
			return fatal("verifying user id drop", ErrIdentityMismatch)
		}
	}

	m.debugf("Dropped privileges to uid=%d gid=%d", newuid, newgid)
	return nil
}
