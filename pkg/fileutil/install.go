//go:build linux
// +build linux

package fileutil

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// InstallDirectory creates path (and any missing parents) and then forces
// the ownership and mode of the final component. The final component is
// opened with O_NOFOLLOW so a planted symlink cannot redirect the chown.
func InstallDirectory(mode os.FileMode, uid, gid int, path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}

	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open directory %s: %w", path, err)
	}
	defer unix.Close(fd)

	if err := unix.Fchown(fd, uid, gid); err != nil {
		return fmt.Errorf("chown %s: %w", path, err)
	}
	if err := unix.Fchmod(fd, uint32(mode.Perm())|specialBits(mode)); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}

// Chown changes the owner of path without following a trailing symlink.
func Chown(uid, gid int, path string) error {
	if err := unix.Lchown(path, uid, gid); err != nil {
		return fmt.Errorf("chown %s: %w", path, err)
	}
	return nil
}

// specialBits maps os.FileMode setuid/setgid/sticky flags to their unix bits.
func specialBits(mode os.FileMode) uint32 {
	var bits uint32
	if mode&os.ModeSetuid != 0 {
		bits |= unix.S_ISUID
	}
	if mode&os.ModeSetgid != 0 {
		bits |= unix.S_ISGID
	}
	if mode&os.ModeSticky != 0 {
		bits |= unix.S_ISVTX
	}
	return bits
}
