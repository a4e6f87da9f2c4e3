//go:build !linux

package sink

import "os"

// preallocate is a no-op on platforms without fallocate.
func preallocate(*os.File, int64) {}
