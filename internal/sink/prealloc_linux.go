//go:build linux

package sink

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves n bytes for f so large exports avoid extent churn.
// Failures are ignored: some filesystems (and containers) refuse fallocate.
func preallocate(f *os.File, n int64) {
	if n <= 0 {
		return
	}
	_ = unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_KEEP_SIZE, 0, n)
}
