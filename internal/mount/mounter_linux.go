//go:build linux
// +build linux

package mount

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	arcerrors "arcsetup/pkg/errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const loopControl = "/dev/loop-control"

// syscalls is the kernel surface used by linuxMounter. It exists so loop
// device handling can be exercised without real devices.
type syscalls interface {
	Mount(source, target, fstype string, flags uintptr, data string) error
	Unmount(target string, flags int) error
	Open(path string, mode int, perm uint32) (int, error)
	Close(fd int) error
	IoctlRetInt(fd int, req uint) (int, error)
	IoctlSetInt(fd int, req uint, value int) error
	IoctlLoopGetStatus64(fd int) (*unix.LoopInfo64, error)
	IoctlLoopSetStatus64(fd int, info *unix.LoopInfo64) error
	Stat(path string, st *unix.Stat_t) error
}

type realSyscalls struct{}

func (realSyscalls) Mount(source, target, fstype string, flags uintptr, data string) error {
	return unix.Mount(source, target, fstype, flags, data)
}

func (realSyscalls) Unmount(target string, flags int) error {
	return unix.Unmount(target, flags)
}

func (realSyscalls) Open(path string, mode int, perm uint32) (int, error) {
	return unix.Open(path, mode, perm)
}

func (realSyscalls) Close(fd int) error {
	return unix.Close(fd)
}

func (realSyscalls) IoctlRetInt(fd int, req uint) (int, error) {
	return unix.IoctlRetInt(fd, req)
}

func (realSyscalls) IoctlSetInt(fd int, req uint, value int) error {
	return unix.IoctlSetInt(fd, req, value)
}

func (realSyscalls) IoctlLoopGetStatus64(fd int) (*unix.LoopInfo64, error) {
	return unix.IoctlLoopGetStatus64(fd)
}

func (realSyscalls) IoctlLoopSetStatus64(fd int, info *unix.LoopInfo64) error {
	return unix.IoctlLoopSetStatus64(fd, info)
}

func (realSyscalls) Stat(path string, st *unix.Stat_t) error {
	return unix.Stat(path, st)
}

// linuxMounter implements Mounter on top of mount(2) and the loop driver.
type linuxMounter struct {
	sys         syscalls
	loopRetries int
	log         logrus.FieldLogger
}

// NewMounter returns the default Mounter.
func NewMounter(log logrus.FieldLogger) Mounter {
	return &linuxMounter{sys: realSyscalls{}, loopRetries: DefaultLoopRetries, log: log}
}

// realpath resolves symlinks so a mount never lands on a planted link
// target the caller did not name. Unresolvable paths are used as given.
func realpath(p string) string {
	if !filepath.IsAbs(p) {
		return p
	}
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r
	}
	return p
}

func (m *linuxMounter) Mount(source, target, fstype string, flags uintptr, data string) error {
	resolved := source
	if strings.HasPrefix(source, "/") {
		resolved = realpath(source)
	}
	if err := m.sys.Mount(resolved, realpath(target), fstype, flags, data); err != nil {
		return fmt.Errorf("mount %s on %s: %w", source, target, err)
	}
	return nil
}

func (m *linuxMounter) Remount(target string, flags uintptr, data string) error {
	return m.Mount("", target, "", flags|unix.MS_REMOUNT, data)
}

func (m *linuxMounter) BindMount(source, target string) error {
	return m.Mount(source, target, "", unix.MS_BIND, "")
}

func (m *linuxMounter) SharedMount(target string) error {
	return m.Mount("none", target, "", unix.MS_SHARED, "")
}

func (m *linuxMounter) Umount(target string) error {
	if err := m.sys.Unmount(realpath(target), 0); err != nil {
		return fmt.Errorf("umount %s: %w", target, err)
	}
	return nil
}

func (m *linuxMounter) UmountIfExists(target string) error {
	err := m.sys.Unmount(realpath(target), 0)
	// EINVAL: nothing mounted there. ENOENT: the path is gone.
	if err != nil && !errors.Is(err, unix.EINVAL) && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("mount exists but umount %s failed: %w", target, err)
	}
	return nil
}

func (m *linuxMounter) LazyUmount(target string) error {
	err := m.sys.Unmount(realpath(target), unix.MNT_DETACH)
	if err != nil && !errors.Is(err, unix.EINVAL) && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("lazy umount %s: %w", target, err)
	}
	return nil
}

func (m *linuxMounter) LoopMount(source, target string, flags uintptr) error {
	var lastErr error
	for attempt := 1; attempt <= m.loopRetries; attempt++ {
		err := m.loopMountOnce(source, target, flags)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
		m.log.WithFields(logrus.Fields{"source": source, "attempt": attempt}).
			Info("Loop device became busy, retrying")
	}
	return fmt.Errorf("loop mount %s on %s: %w: %v", source, target, arcerrors.ErrLoopRetriesExhausted, lastErr)
}

func loopDevicePath(n int) string {
	return fmt.Sprintf("/dev/loop%d", n)
}

// loopMountOnce performs one allocate/attach/mount cycle. Any failure
// after allocation releases the device before returning.
func (m *linuxMounter) loopMountOnce(source, target string, flags uintptr) error {
	ctl, err := m.sys.Open(loopControl, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", loopControl, err)
	}
	defer m.sys.Close(ctl)

	devNum, err := m.sys.IoctlRetInt(ctl, unix.LOOP_CTL_GET_FREE)
	if err != nil {
		return fmt.Errorf("allocate loop device: %w", err)
	}
	devPath := loopDevicePath(devNum)

	// Until the backing file is attached, failures free the device number.
	release := func() {
		if err := m.sys.IoctlSetInt(ctl, unix.LOOP_CTL_REMOVE, devNum); err != nil {
			m.log.WithError(err).Warnf("Failed to free %s", devPath)
		}
	}

	loopFd, err := m.sys.Open(devPath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		release()
		return fmt.Errorf("open %s: %w", devPath, err)
	}
	defer m.sys.Close(loopFd)

	readOnly := flags&unix.MS_RDONLY != 0
	openMode := unix.O_RDWR
	if readOnly {
		openMode = unix.O_RDONLY
	}
	srcFd, err := m.sys.Open(source, openMode|unix.O_CLOEXEC, 0)
	if err != nil && !readOnly && (errors.Is(err, unix.EROFS) || errors.Is(err, unix.EACCES)) {
		m.log.WithField("source", source).Warn("Image is write-protected, using read-only")
		srcFd, err = m.sys.Open(source, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	}
	if err != nil {
		release()
		return fmt.Errorf("open %s: %w", source, err)
	}
	defer m.sys.Close(srcFd)

	if err := m.sys.IoctlSetInt(loopFd, unix.LOOP_SET_FD, srcFd); err != nil {
		release()
		if errors.Is(err, unix.EBUSY) {
			return &RetryableError{Op: fmt.Sprintf("associate %s with %s", source, devPath), Err: err}
		}
		return fmt.Errorf("associate %s with %s: %w", source, devPath, err)
	}

	// From here on, detaching the backing file lets autoclear free the device.
	detach := func() {
		if err := m.sys.IoctlSetInt(loopFd, unix.LOOP_CLR_FD, 0); err != nil {
			m.log.WithError(err).Warnf("Failed to remove %s from %s", source, devPath)
		}
	}

	info, err := m.sys.IoctlLoopGetStatus64(loopFd)
	if err != nil {
		detach()
		return fmt.Errorf("get loop status for %s: %w", devPath, err)
	}
	info.Flags |= unix.LO_FLAGS_AUTOCLEAR
	if err := m.sys.IoctlLoopSetStatus64(loopFd, info); err != nil {
		detach()
		return fmt.Errorf("set autoclear on %s: %w", devPath, err)
	}

	squashErr := m.Mount(devPath, target, "squashfs", flags, "")
	if squashErr == nil {
		return nil
	}
	// Developer images may be ext4.
	if err := m.Mount(devPath, target, "ext4", flags, ""); err == nil {
		m.log.WithField("source", source).Info("Mounted image as ext4")
		return nil
	}
	detach()
	return fmt.Errorf("loop mount %s: %w", source, squashErr)
}

func (m *linuxMounter) LoopUmount(target string) error {
	return m.loopUmount(target, false)
}

func (m *linuxMounter) LoopUmountIfExists(target string) error {
	return m.loopUmount(target, true)
}

func (m *linuxMounter) loopUmount(target string, ignoreMissing bool) error {
	var st unix.Stat_t
	if err := m.sys.Stat(target, &st); err != nil {
		if ignoreMissing && errors.Is(err, unix.ENOENT) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", target, err)
	}

	if unix.Major(uint64(st.Dev)) != LoopMajor {
		if ignoreMissing {
			return nil
		}
		return fmt.Errorf("%s (st_dev=%#x): %w", target, st.Dev, arcerrors.ErrNotLoopMount)
	}

	devPath := loopDevicePath(int(unix.Minor(uint64(st.Dev))))
	fd, err := m.sys.Open(devPath, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", devPath, err)
	}
	info, err := m.sys.IoctlLoopGetStatus64(fd)
	m.sys.Close(fd)
	if err != nil {
		return fmt.Errorf("get loop status for %s: %w", devPath, err)
	}
	autoclear := info.Flags&unix.LO_FLAGS_AUTOCLEAR != 0

	if err := m.Umount(target); err != nil {
		return err
	}
	if autoclear {
		return nil
	}

	fd, err = m.sys.Open(devPath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", devPath, err)
	}
	defer m.sys.Close(fd)
	if err := m.sys.IoctlSetInt(fd, unix.LOOP_CLR_FD, 0); err != nil {
		return fmt.Errorf("free %s: %w", devPath, err)
	}
	return nil
}
