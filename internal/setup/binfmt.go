//go:build linux
// +build linux

package setup

import (
	"fmt"
	"os"
	"path/filepath"

	"arcsetup/internal/config"
	"arcsetup/internal/mount"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

// 可能存在的 binfmt_misc 条目，arm64 只在部分机型上提供
var binfmtEntryNames = []string{"arm_dyn", "arm_exe", "arm64_dyn", "arm64_exe"}

const binfmtFlags = unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC

// identifyBinaryTranslation 根据 rootfs 中存在的翻译库和实验开关选择方案
func (o *Orchestrator) identifyBinaryTranslation() config.BinaryTranslation {
	rootfs := o.cfg.Paths.AndroidRootfs
	houdini := exists(filepath.Join(rootfs, "vendor", "lib", "libhoudini.so"))
	ndk := exists(filepath.Join(rootfs, "system", "lib", "libndk_translation.so"))

	switch {
	case ndk && (!houdini || o.cfg.Env.NativeBridgeExperiment):
		return config.TranslationNDK
	case houdini:
		return config.TranslationHoudini
	default:
		return config.TranslationNone
	}
}

// binfmtEntryDir 返回所选方案的条目目录；没有翻译时返回空
func (o *Orchestrator) binfmtEntryDir(bt config.BinaryTranslation) string {
	switch bt {
	case config.TranslationHoudini:
		return o.cfg.Paths.BinfmtMiscEntries("vendor")
	case config.TranslationNDK:
		return o.cfg.Paths.BinfmtMiscEntries("system")
	default:
		return ""
	}
}

// registerBinfmt 通过临时挂载的 binfmt_misc 注册解释器。
// 只在 x86_64 主机上需要；已注册的条目跳过。
func (o *Orchestrator) registerBinfmt(bt config.BinaryTranslation) error {
	if o.deps.Arch != "x86_64" {
		return nil
	}
	entryDir := o.binfmtEntryDir(bt)
	if entryDir == "" {
		return nil
	}

	dir := o.cfg.Paths.BinfmtMisc
	sm, err := mount.NewScopedMount(o.deps.Mounter, "binfmt_misc", dir, "binfmt_misc", binfmtFlags, "")
	if err != nil {
		return err
	}
	defer o.releaseBinfmtMount(sm)

	register := filepath.Join(dir, "register")
	for _, name := range binfmtEntryNames {
		entry := filepath.Join(entryDir, name)
		if !exists(entry) {
			continue
		}
		if exists(filepath.Join(dir, name)) {
			// 之前注册后没能注销，再注册会失败
			o.log.WithField("path", entry).Warn("Skipping re-registration")
			continue
		}
		rule, err := os.ReadFile(entry)
		if err != nil {
			return err
		}
		if err := writeExisting(register, rule); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	return nil
}

// releaseBinfmtMount 卸载失败只记录：条目已经写完，挂载点会在 Stop 时再次清理
func (o *Orchestrator) releaseBinfmtMount(sm *mount.ScopedMount) {
	if err := sm.Close(); err != nil {
		o.log.WithError(err).WithField("path", sm.Target()).Warn("Failed to unmount binfmt_misc")
	}
}

// unregisterBinfmt 注销所有已注册的条目，单个失败不影响其他条目
func (o *Orchestrator) unregisterBinfmt() error {
	if o.deps.Arch != "x86_64" {
		return nil
	}
	dir := o.cfg.Paths.BinfmtMisc
	sm, err := mount.NewScopedMount(o.deps.Mounter, "binfmt_misc", dir, "binfmt_misc", binfmtFlags, "")
	if err != nil {
		return err
	}
	defer o.releaseBinfmtMount(sm)

	var result *multierror.Error
	for _, name := range binfmtEntryNames {
		path := filepath.Join(dir, name)
		if !exists(path) {
			continue
		}
		if err := writeExisting(path, []byte("-1")); err != nil {
			result = multierror.Append(result, fmt.Errorf("unregister %s: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}

// writeExisting 写入已存在的 procfs 风格文件，不创建也不截断
func writeExisting(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
