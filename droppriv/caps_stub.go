//go:build !linux

package droppriv

func (m *Manager) dropCapabilities() error {
	return ErrUnsupported
}
