//go:build linux
// +build linux

package setup

import (
	"time"

	"golang.org/x/sys/unix"
)

// hostArch 返回 uname -m
func hostArch() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return ""
	}
	return unix.ByteSliceToString(u.Machine[:])
}

// bootTime 读取 CLOCK_BOOTTIME。容器据此把自己的启动时间对齐到主机。
func bootTime() (time.Duration, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		return 0, err
	}
	return time.Duration(ts.Nano()), nil
}
