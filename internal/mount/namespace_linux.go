//go:build linux
// +build linux

package mount

import (
	"fmt"
	"runtime"

	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

// ScopedMountNamespace switches the calling thread into another mount
// namespace and switches it back on Close.
//
// The switch is per OS thread. The calling goroutine stays locked to its
// thread for the rest of its life because the thread no longer shares its
// fs_struct with the rest of the process; the runtime discards it when the
// goroutine exits. Only one namespace switch may be active at a time.
type ScopedMountNamespace struct {
	original netns.NsHandle
	closed   bool
}

// prepareThread pins the goroutine and gives its thread a private
// fs_struct, which setns(CLONE_NEWNS) requires.
func prepareThread() (netns.NsHandle, error) {
	runtime.LockOSThread()
	if err := unix.Unshare(unix.CLONE_FS); err != nil {
		return netns.None(), fmt.Errorf("unshare fs: %w", err)
	}
	orig, err := netns.GetFromPath(fmt.Sprintf("/proc/self/task/%d/ns/mnt", unix.Gettid()))
	if err != nil {
		return netns.None(), fmt.Errorf("get current mount namespace: %w", err)
	}
	return orig, nil
}

// EnterMountNamespace enters the mount namespace referenced by nsPath,
// e.g. /proc/<pid>/ns/mnt.
func EnterMountNamespace(nsPath string) (*ScopedMountNamespace, error) {
	orig, err := prepareThread()
	if err != nil {
		return nil, err
	}

	target, err := netns.GetFromPath(nsPath)
	if err != nil {
		orig.Close()
		return nil, fmt.Errorf("open mount namespace %s: %w", nsPath, err)
	}
	defer target.Close()

	if err := unix.Setns(int(target), unix.CLONE_NEWNS); err != nil {
		orig.Close()
		return nil, fmt.Errorf("enter mount namespace %s: %w", nsPath, err)
	}
	return &ScopedMountNamespace{original: orig}, nil
}

// EnterMountNamespaceForPid enters the mount namespace of process pid.
func EnterMountNamespaceForPid(pid int) (*ScopedMountNamespace, error) {
	return EnterMountNamespace(fmt.Sprintf("/proc/%d/ns/mnt", pid))
}

// NewIsolatedMountNamespace moves the calling thread into a fresh mount
// namespace whose mounts do not propagate back to the original one.
func NewIsolatedMountNamespace() (*ScopedMountNamespace, error) {
	orig, err := prepareThread()
	if err != nil {
		return nil, err
	}
	if err := unix.Unshare(unix.CLONE_NEWNS); err != nil {
		orig.Close()
		return nil, fmt.Errorf("unshare mount namespace: %w", err)
	}
	s := &ScopedMountNamespace{original: orig}
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		s.Close()
		return nil, fmt.Errorf("make mounts private: %w", err)
	}
	return s, nil
}

// Close returns the thread to the namespace it was in before the switch.
func (s *ScopedMountNamespace) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	defer s.original.Close()

	if err := unix.Setns(int(s.original), unix.CLONE_NEWNS); err != nil {
		return fmt.Errorf("restore mount namespace: %w", err)
	}
	return nil
}
