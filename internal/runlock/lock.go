//go:build linux
// +build linux

// Package runlock 串行化并发的 arc-setup 调用。
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrLocked 表示锁已被另一个 arc-setup 进程持有
var ErrLocked = errors.New("another arc-setup invocation holds the lock")

// Lock 是一次调用持有的文件锁。
// 使用 flock(2) 实现进程间互斥；进程退出时内核自动释放。
type Lock struct {
	path string
	file *os.File
}

func open(path string) (*os.File, error) {
	// /run/arc 可能还不存在（OnetimeSetup 之前）
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|unix.O_CLOEXEC, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return file, nil
}

// Acquire 获取独占锁，被占用时阻塞等待
func Acquire(path string) (*Lock, error) {
	file, err := open(path)
	if err != nil {
		return nil, err
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		file.Close()
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	return &Lock{path: path, file: file}, nil
}

// TryAcquire 尝试获取独占锁，被占用时立即返回 ErrLocked
func TryAcquire(path string) (*Lock, error) {
	file, err := open(path)
	if err != nil {
		return nil, err
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	return &Lock{path: path, file: file}, nil
}

// Path 返回锁文件路径
func (l *Lock) Path() string {
	return l.path
}

// Release 释放锁，可重复调用
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		l.file = nil
		return fmt.Errorf("release lock: %w", err)
	}
	if err := l.file.Close(); err != nil {
		l.file = nil
		return fmt.Errorf("close lock file: %w", err)
	}

	l.file = nil
	return nil
}
