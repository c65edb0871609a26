//go:build !linux
// +build !linux

package mount

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
)

var errNotLinux = fmt.Errorf("mount operations require Linux (current OS: %s)", runtime.GOOS)

type unsupportedMounter struct{}

// NewMounter returns a Mounter whose every operation fails.
func NewMounter(log logrus.FieldLogger) Mounter {
	return unsupportedMounter{}
}

func (unsupportedMounter) Mount(string, string, string, uintptr, string) error { return errNotLinux }
func (unsupportedMounter) Remount(string, uintptr, string) error               { return errNotLinux }
func (unsupportedMounter) BindMount(string, string) error                      { return errNotLinux }
func (unsupportedMounter) SharedMount(string) error                            { return errNotLinux }
func (unsupportedMounter) Umount(string) error                                 { return errNotLinux }
func (unsupportedMounter) UmountIfExists(string) error                         { return errNotLinux }
func (unsupportedMounter) LazyUmount(string) error                             { return errNotLinux }
func (unsupportedMounter) LoopMount(string, string, uintptr) error             { return errNotLinux }
func (unsupportedMounter) LoopUmount(string) error                             { return errNotLinux }
func (unsupportedMounter) LoopUmountIfExists(string) error                     { return errNotLinux }

// ScopedMountNamespace is unavailable outside Linux.
type ScopedMountNamespace struct{}

func EnterMountNamespace(string) (*ScopedMountNamespace, error)    { return nil, errNotLinux }
func EnterMountNamespaceForPid(int) (*ScopedMountNamespace, error) { return nil, errNotLinux }
func NewIsolatedMountNamespace() (*ScopedMountNamespace, error)    { return nil, errNotLinux }
func (*ScopedMountNamespace) Close() error                         { return nil }
