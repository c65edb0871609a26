//go:build linux
// +build linux

package readahead

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseWillNeed asks the kernel to start reading ahead. Failure only
// costs speed.
func adviseWillNeed(f *os.File, n int64) {
	_ = unix.Fadvise(int(f.Fd()), 0, n, unix.FADV_WILLNEED)
}
