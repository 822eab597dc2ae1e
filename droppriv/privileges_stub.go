//go:build !linux

package droppriv

func (m *Manager) dropPrivileges(uid, gid int) error {
	return ErrUnsupported
}
