//go:build !linux
// +build !linux

package fileutil

import (
	"fmt"
	"os"
	"runtime"
)

func InstallDirectory(mode os.FileMode, uid, gid int, path string) error {
	return fmt.Errorf("install directory is not supported on %s", runtime.GOOS)
}

func Chown(uid, gid int, path string) error {
	return fmt.Errorf("chown is not supported on %s", runtime.GOOS)
}
