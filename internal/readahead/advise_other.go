//go:build !linux
// +build !linux

package readahead

import "os"

func adviseWillNeed(f *os.File, n int64) {}
