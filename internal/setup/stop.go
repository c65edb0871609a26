//go:build linux
// +build linux

package setup

import (
	"context"
	"fmt"
	"path/filepath"

	"arcsetup/internal/config"

	"github.com/hashicorp/go-multierror"
)

// stopMountPoints 按依赖的逆序列出 Setup 和 BootContinue 可能留下的挂载点
func (o *Orchestrator) stopMountPoints() []string {
	p := o.cfg.Paths
	return []string{
		filepath.Join(p.SharedMount, "cache"),
		filepath.Join(p.SharedMount, "data"),
		p.AdbdMount,
		p.MediaDest,
		p.MediaDestDefault,
		p.MediaDestRead,
		p.MediaDestWrite,
		p.MediaMount,
		filepath.Join(p.Debugfs, "tracing"),
		filepath.Join(p.Debugfs, "sync"),
		p.ObbMount,
		p.SdcardMount,
		p.OemMount,
		p.SharedMount,
		p.AndroidMutableSource,
		p.DalvikCacheMount,
		// binfmt_misc 和 Houdini 的绑定挂载正常情况下已经卸载，这里兜底
		p.BinfmtMisc,
		filepath.Join(p.AndroidRootfs, config.SystemLibArmRelative),
	}
}

// onStop 清理所有挂载点。每一步都只记录失败，保证后面的清理照常执行；
// 已经清理过的状态再次 Stop 也成功。
func (o *Orchestrator) onStop(ctx context.Context) error {
	var result *multierror.Error
	record := func(name string, err error) {
		if err != nil {
			o.ignore(name, err)
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
		}
	}

	o.log.WithField("step", "CleanUpBinFmtMiscSetUp").Info("Running CleanUpBinFmtMiscSetUp...")
	record("CleanUpBinFmtMiscSetUp", o.unregisterBinfmt())

	o.log.WithField("step", "UnmountOnStop").Info("Running UnmountOnStop...")
	for _, target := range o.stopMountPoints() {
		record("UnmountOnStop", o.deps.Mounter.UmountIfExists(target))
	}

	o.log.WithField("step", "RemoveBugreportPipe").Info("Running RemoveBugreportPipe...")
	record("RemoveBugreportPipe", removeIfExists(filepath.Join(o.cfg.Paths.BugreportDir, "pipe")))

	if err := result.ErrorOrNil(); err != nil {
		o.log.WithField("failures", len(result.Errors)).Warn("Stop finished with ignored failures")
	}
	return nil
}
