//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package hrtime

import "time"

var origin = time.Now()

// now measures from process start using the monotonic reading carried by
// time.Time. The +1 keeps the first reading distinguishable from "missing".
func now() uint64 {
	return uint64(time.Since(origin)) + 1
}
