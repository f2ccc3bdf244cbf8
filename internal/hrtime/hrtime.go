// Package hrtime provides the monotonic nanosecond clock that runtime
// adapters stamp hook invocations with.
package hrtime

// Now returns the current monotonic time in nanoseconds. The origin is
// arbitrary, so values are only meaningful relative to each other. A zero
// return means the clock could not be read.
func Now() uint64 {
	return now()
}

// Since returns the nanoseconds elapsed since start, or zero when either
// reading is unavailable or the clock appears to have gone backwards.
func Since(start uint64) uint64 {
	return Elapsed(start, Now())
}

// Elapsed returns end-start clamped to zero. A zero start or end is treated
// as a missing reading.
func Elapsed(start, end uint64) uint64 {
	if start == 0 || end == 0 || end < start {
		return 0
	}
	return end - start
}
