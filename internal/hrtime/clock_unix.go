//go:build linux || darwin || freebsd || netbsd || openbsd

package hrtime

import "golang.org/x/sys/unix"

func now() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return uint64(ts.Nano())
}
