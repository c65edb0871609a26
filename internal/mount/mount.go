// Package mount wraps the mount, bind-mount and loop-mount syscalls that
// arc-setup issues, and provides scoped guards that undo a mount or a
// mount namespace switch on Close.
//
// Every operation reports failure through its error return. Callers decide
// whether a failure is fatal or best-effort.
package mount

import (
	"errors"
	"fmt"
)

// DefaultLoopRetries bounds LoopMount attempts that fail because another
// process grabbed the freshly allocated loop device first.
const DefaultLoopRetries = 10

// LoopMajor is the block device major number of loop devices.
const LoopMajor = 7

// Mounter is the set of mount operations arc-setup needs.
type Mounter interface {
	// Mount mounts source on target. Absolute sources and targets are
	// resolved through symlinks first.
	Mount(source, target, fstype string, flags uintptr, data string) error
	// Remount changes the flags of an existing mount.
	Remount(target string, flags uintptr, data string) error
	// BindMount makes source visible at target.
	BindMount(source, target string) error
	// SharedMount marks target as a shared propagation source.
	SharedMount(target string) error
	// Umount unmounts target; nothing mounted is an error.
	Umount(target string) error
	// UmountIfExists is Umount that tolerates nothing mounted or a missing path.
	UmountIfExists(target string) error
	// LazyUmount detaches target immediately and cleans up once it is unused.
	LazyUmount(target string) error
	// LoopMount attaches source to a free loop device and mounts it on target.
	LoopMount(source, target string, flags uintptr) error
	// LoopUmount unmounts a loop-backed target and releases its device.
	LoopUmount(target string) error
	// LoopUmountIfExists is LoopUmount that tolerates a missing or
	// non-loop target.
	LoopUmountIfExists(target string) error
}

// RetryableError marks a failure that may succeed when the whole operation
// is attempted again, e.g. a loop device that became busy between
// allocation and attach.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: %v (retryable)", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err wraps a *RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
