//go:build !linux

package affinity

// Mask is a placeholder affinity bit set on platforms without thread
// affinity syscalls.
type Mask struct{}

func maskFor(cpu int) (Mask, error) {
	return Mask{}, ErrUnsupported
}

// Current returns ErrUnsupported.
func (c *Controller) Current() (Mask, error) {
	return Mask{}, ErrUnsupported
}

// Bind returns ErrUnsupported.
func (c *Controller) Bind(cpu int, prev *Mask) error {
	return ErrUnsupported
}

// BindMask returns ErrUnsupported.
func (c *Controller) BindMask(next Mask, prev *Mask) error {
	return ErrUnsupported
}

// IsOffline returns ErrUnsupported.
func (c *Controller) IsOffline(cpu int) (bool, error) {
	return false, ErrUnsupported
}

// CPUs lists nothing on platforms without thread affinity syscalls.
func CPUs(mask Mask) []int {
	return nil
}

// FormatMask renders the empty placeholder mask.
func FormatMask(mask Mask) string {
	return "none"
}
