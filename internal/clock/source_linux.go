//go:build linux

package clock

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// bootTimeSource reads CLOCK_BOOTTIME, which keeps counting through suspend
// and is the clock sensor stacks stamp their samples with.
type bootTimeSource struct{}

func (bootTimeSource) Now() (int64, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		return 0, fmt.Errorf("clock_gettime(CLOCK_BOOTTIME): %w", err)
	}
	return ts.Nano(), nil
}

// HardwareSource returns the platform's monotonic hardware clock.
func HardwareSource() Source {
	return bootTimeSource{}
}
