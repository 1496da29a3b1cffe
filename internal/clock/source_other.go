//go:build !linux

package clock

// HardwareSource returns the platform's monotonic hardware clock. Platforms
// without CLOCK_BOOTTIME use the process-relative counter.
func HardwareSource() Source {
	return NewProcessSource()
}
