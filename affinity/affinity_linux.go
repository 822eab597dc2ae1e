//go:build linux

package affinity

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Mask is a CPU affinity bit set, wide enough for every cpu index the
// kernel can report.
type Mask = unix.CPUSet

// maskFor builds a mask holding exactly cpu. Mask's own Set silently
// ignores out-of-range indexes, so the result is verified.
func maskFor(cpu int) (Mask, error) {
	var mask Mask
	if cpu < 0 {
		return mask, fmt.Errorf("%w: %d", ErrInvalidCPU, cpu)
	}
	mask.Set(cpu)
	if mask.Count() != 1 || !mask.IsSet(cpu) {
		return Mask{}, fmt.Errorf("%w: %d", ErrInvalidCPU, cpu)
	}
	return mask, nil
}

// Current returns the affinity mask of the calling thread.
func (c *Controller) Current() (Mask, error) {
	var mask Mask
	if err := unix.SchedGetaffinity(0, &mask); err != nil {
		c.warnf("Could not retrieve CPU affinity of process: %v", err)
		return Mask{}, fmt.Errorf("getting cpu affinity: %w", err)
	}
	return mask, nil
}

// Bind pins the calling thread to the single cpu. When prev is
// non-nil the mask in effect before the change is snapshotted into it.
func (c *Controller) Bind(cpu int, prev *Mask) error {
	mask, err := maskFor(cpu)
	if err != nil {
		return err
	}
	return c.BindMask(mask, prev)
}

// BindMask installs next as the affinity of the calling thread. When
// prev is non-nil the current mask is snapshotted into it first; if
// the snapshot fails the affinity is left untouched. Restoring a
// saved mask is BindMask(saved, nil).
func (c *Controller) BindMask(next Mask, prev *Mask) error {
	if prev != nil {
		snapshot, err := c.Current()
		if err != nil {
			return err
		}
		*prev = snapshot
	}
	if err := unix.SchedSetaffinity(0, &next); err != nil {
		c.warnf("Could not set CPU affinity of process: %v", err)
		return fmt.Errorf("setting cpu affinity: %w", err)
	}
	return nil
}

// IsOffline reports whether cpu is missing from the affinity mask of
// the calling thread. For a process that is allowed on every online
// CPU this means the cpu is offline or not present.
func (c *Controller) IsOffline(cpu int) (bool, error) {
	if _, err := maskFor(cpu); err != nil {
		return false, err
	}

	var mask Mask
	if err := unix.SchedGetaffinity(0, &mask); err != nil {
		return false, fmt.Errorf("getting cpu affinity: %w", err)
	}
	if !mask.IsSet(cpu) {
		c.warnf("CPU %d is offline", cpu)
		return true, nil
	}
	return false, nil
}

// CPUs lists the cpu indexes set in mask, in ascending order.
func CPUs(mask Mask) []int {
	count := mask.Count()
	cpus := make([]int, 0, count)
	for cpu := 0; len(cpus) < count; cpu++ {
		if mask.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}
	return cpus
}

// FormatMask renders mask as a compact cpu list such as "0-3,8".
func FormatMask(mask Mask) string {
	count := mask.Count()
	if count == 0 {
		return "none"
	}

	var b strings.Builder
	runStart, prev := -1, -1
	flush := func() {
		if runStart < 0 {
			return
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if runStart == prev {
			fmt.Fprintf(&b, "%d", runStart)
		} else {
			fmt.Fprintf(&b, "%d-%d", runStart, prev)
		}
	}

	for cpu, found := 0, 0; found < count; cpu++ {
		if !mask.IsSet(cpu) {
			continue
		}
		found++
		if runStart >= 0 && cpu == prev+1 {
			prev = cpu
			continue
		}
		flush()
		runStart, prev = cpu, cpu
	}
	flush()
	return b.String()
}
