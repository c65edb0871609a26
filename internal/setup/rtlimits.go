//go:build linux
// +build linux

package setup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// rtRuntime 读取 cpu.rt_runtime_us；文件不存在或尚未设置时返回 0
func rtRuntime(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, nil
	}
	return v, nil
}

// waitForRtLimitsJob 等待 rt-limits 任务为容器 cgroup 设置实时配额。
// 目录上的 fsnotify 事件用于尽早唤醒，定时器保证 cgroupfs 不产生事件时仍会轮询。
func (o *Orchestrator) waitForRtLimitsJob(ctx context.Context) error {
	path := o.cfg.Paths.RtLimitsCgroupFile
	start := time.Now()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		o.log.WithError(err).Debug("Cannot watch cgroup directory, polling only")
	}

	ticker := time.NewTicker(rtLimitsPollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(o.cfg.RtLimitsTimeout)
	defer deadline.Stop()

	for {
		v, err := rtRuntime(path)
		if err != nil {
			return err
		}
		if v > 0 {
			o.log.WithField("rt_runtime_us", v).
				Infof("rt-limits job is ready in %v", time.Since(start).Round(time.Millisecond))
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("rt-limits job didn't start in %v", o.cfg.RtLimitsTimeout)
		case <-ticker.C:
		case <-watcher.Events:
		case err := <-watcher.Errors:
			o.log.WithError(err).Debug("Watcher error")
		}
	}
}
