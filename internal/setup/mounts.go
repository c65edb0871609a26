//go:build linux
// +build linux

package setup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"arcsetup/internal/boot"
	"arcsetup/internal/config"
	"arcsetup/pkg/fileutil"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	tmpfsFlags       = unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC
	readOnlyFlags    = unix.MS_RDONLY | tmpfsFlags
	mediaProfileFile = "media_profiles.xml"
	platformXML      = "etc/permissions/platform.xml"
)

func tmpfsOptions(uid, gid int) string {
	return fmt.Sprintf("mode=0755,uid=%d,gid=%d", uid, gid)
}

// remountVendor 按开发者模式和主容器标志重新挂载 vendor 分区。
// 只有开发者模式下的主容器在设置了 WRITABLE_MOUNT 时可写。
func (o *Orchestrator) remountVendor(ctx context.Context) error {
	env := o.cfg.Env
	flags := uintptr(unix.MS_NODEV)
	if !env.DevMode {
		flags |= unix.MS_NOSUID
	}
	if !(env.DevMode && env.MasterContainer && env.WritableMount) {
		flags |= unix.MS_RDONLY
	}
	return o.deps.Mounter.Remount(o.cfg.Paths.VendorRootfs(), flags, "")
}

// mountSharedTmpfs 在 target 上挂载新的 tmpfs 并设为 shared 传播
func (o *Orchestrator) mountSharedTmpfs(target string, uid, gid int, options string) error {
	m := o.deps.Mounter
	if err := m.UmountIfExists(target); err != nil {
		return err
	}
	if err := o.deps.Owner.InstallDirectory(0755, uid, gid, target); err != nil {
		return err
	}
	if err := m.Mount("tmpfs", target, "tmpfs", tmpfsFlags, options); err != nil {
		return err
	}
	return m.SharedMount(target)
}

// setUpSharedMountPoints 的 0755 保证只有真正的 root 能写
func (o *Orchestrator) setUpSharedMountPoints(ctx context.Context) error {
	return o.mountSharedTmpfs(o.cfg.Paths.SharedMount, rootUID, rootGID, "mode=0755")
}

func (o *Orchestrator) applyPerBoardConfigurations(ctx context.Context) error {
	paths := o.cfg.Paths
	if err := fileutil.EnsureDir(filepath.Join(paths.OemMount, "etc"), 0755); err != nil {
		return err
	}
	if err := o.deps.Mounter.UmountIfExists(paths.OemMount); err != nil {
		return err
	}
	if err := o.deps.Mounter.Mount("tmpfs", paths.OemMount, "tmpfs", tmpfsFlags, "mode=0755"); err != nil {
		return err
	}
	if err := fileutil.EnsureDir(filepath.Join(paths.OemMount, "etc", "permissions"), 0755); err != nil {
		return err
	}

	if exists(paths.GenerateCameraProfile) {
		if err := o.deps.Launcher.LaunchAndWait(ctx, paths.GenerateCameraProfile); err != nil {
			return err
		}
		generated := filepath.Join(paths.CameraProfileDir, mediaProfileFile)
		if exists(generated) {
			dst := filepath.Join(paths.OemMount, "etc", mediaProfileFile)
			if err := fileutil.CopyFile(generated, dst, 0644); err != nil {
				return err
			}
			if err := o.deps.Owner.Chown(hostArcCameraUID, hostArcCameraGID, dst); err != nil {
				return err
			}
		}
	}

	if !exists(paths.HardwareFeaturesXML) {
		return nil
	}
	platform := filepath.Join(paths.OemMount, platformXML)
	if err := fileutil.CopyFile(paths.HardwareFeaturesXML, platform, 0644); err != nil {
		return err
	}
	if !exists(paths.BoardHardwareFeatures) {
		return nil
	}
	// 工具通常是 shell 脚本，传绝对路径
	return o.deps.Launcher.LaunchAndWait(ctx, paths.BoardHardwareFeatures, platform)
}

// setUpExternalStorage 为 sdcard 守护进程和 OBB 挂载器准备共享 tmpfs
func (o *Orchestrator) setUpExternalStorage(ctx context.Context) error {
	paths := o.cfg.Paths
	if err := o.mountSharedTmpfs(paths.SdcardMount, rootUID, rootGID, "mode=0755"); err != nil {
		return err
	}
	for _, dir := range []string{"default", "read", "write", "emulated"} {
		if err := o.deps.Owner.InstallDirectory(0755, rootUID, rootGID, filepath.Join(paths.SdcardMount, dir)); err != nil {
			return err
		}
	}
	return o.mountSharedTmpfs(paths.ObbMount, rootUID, rootGID, "mode=0755")
}

func (o *Orchestrator) createAndroidCmdlineFile(bt *config.BinaryTranslation) func(context.Context) error {
	return func(ctx context.Context) error {
		env := o.cfg.Env
		o.log.WithFields(logrus.Fields{
			"dev_mode":      env.DevMode,
			"inside_vm":     env.InsideVM,
			"debuggable":    env.Debuggable,
			"native_bridge": bt.NativeBridge(),
		}).Info("Creating cmdline file")
		params, err := o.cmdlineParams(*bt)
		if err != nil {
			return err
		}
		return fileutil.WriteToFile(o.cfg.Paths.AndroidCmdline, 0644, BuildCmdline(params))
	}
}

// createFakeProcfsFiles 生成容器 init 会尝试写入的 procfs 文件。
// 主机上的真实文件需要真正的 root 才能修改。
func (o *Orchestrator) createFakeProcfsFiles(ctx context.Context) error {
	paths := o.cfg.Paths
	files := []struct {
		path, content string
	}{
		{paths.FakeKptrRestrict, "2\n"},
		{paths.FakeMmapRndBits, "32\n"},
		{paths.FakeMmapRndCompatBits, "16\n"},
	}
	for _, f := range files {
		if err := fileutil.WriteToFile(f.path, 0644, f.content); err != nil {
			return err
		}
		if err := o.deps.Owner.Chown(rootUID, rootGID, f.path); err != nil {
			return err
		}
		if err := o.deps.Labeler.Chcon(procSecurityContext, f.path); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) setUpDebugfs(ctx context.Context) error {
	paths := o.cfg.Paths
	m := o.deps.Mounter
	if err := o.deps.Owner.InstallDirectory(0755, hostRootUID, hostRootGID, paths.Debugfs); err != nil {
		return err
	}

	// debug/sync 不是所有内核都有
	syncMount := filepath.Join(paths.Debugfs, "sync")
	if err := m.UmountIfExists(syncMount); err != nil {
		return err
	}
	if err := o.deps.Owner.InstallDirectory(0755, systemUID, systemGID, syncMount); err != nil {
		return err
	}
	if isDir(paths.SysKernelDebugSync) {
		owned := []string{paths.SysKernelDebugSync, filepath.Join(paths.SysKernelDebugSync, "info")}
		if sw := filepath.Join(paths.SysKernelDebugSync, "sw_sync"); exists(sw) {
			owned = append(owned, sw)
		}
		for _, p := range owned {
			if err := o.deps.Owner.Chown(systemUID, systemGID, p); err != nil {
				return err
			}
		}
		if err := m.BindMount(paths.SysKernelDebugSync, syncMount); err != nil {
			return err
		}
	}

	tracingMount := filepath.Join(paths.Debugfs, "tracing")
	if err := m.UmountIfExists(tracingMount); err != nil {
		return err
	}
	if err := o.deps.Owner.InstallDirectory(0755, hostRootUID, hostRootGID, tracingMount); err != nil {
		return err
	}
	if !o.cfg.Env.DevMode {
		return nil
	}
	return m.BindMount(paths.SysKernelDebugTracing, tracingMount)
}

func (o *Orchestrator) setUpRemovableMedia(ctx context.Context) error {
	paths := o.cfg.Paths
	if err := o.mountSharedTmpfs(paths.MediaMount, rootUID, systemGID, tmpfsOptions(rootUID, systemGID)); err != nil {
		return err
	}
	for _, dir := range []string{paths.MediaDest, paths.MediaDestDefault, paths.MediaDestRead, paths.MediaDestWrite} {
		if err := o.deps.Owner.InstallDirectory(0755, mediaUID, mediaGID, dir); err != nil {
			return err
		}
	}
	return nil
}

// cleanUpStaleMountPoints 卸载上次运行中外部守护进程留下的挂载
func (o *Orchestrator) cleanUpStaleMountPoints(ctx context.Context) error {
	paths := o.cfg.Paths
	for _, dir := range []string{paths.MediaDest, paths.MediaDestDefault, paths.MediaDestRead, paths.MediaDestWrite} {
		if err := o.deps.Mounter.UmountIfExists(dir); err != nil {
			return err
		}
	}
	return nil
}

// restoreContext 必须在挂载点变为只读之前执行，修改标签需要写权限
func (o *Orchestrator) restoreContext(ctx context.Context) error {
	paths := o.cfg.Paths
	dirs := []string{
		// cmdline 在容器内覆盖 /proc/cmdline，只能在这里恢复标签
		paths.AndroidCmdline,
		paths.Debugfs,
		paths.ObbMount,
		paths.SdcardMount,
		paths.SysfsCPU,
		paths.SysKernelDebugTracing,
	}
	if isDir(paths.SysKernelDebugSync) {
		dirs = append(dirs, paths.SysKernelDebugSync)
	}
	// 没有 USB 模拟的测试虚拟机上不存在
	if isDir(paths.UsbDevices) {
		dirs = append(dirs, paths.UsbDevices)
	}
	return o.deps.Labeler.Restorecon(ctx, true, dirs...)
}

// makeMountPointsReadOnly 防止容器修改这些文件系统。容器运行在 user
// namespace 中，无法去掉只读标志；外部守护进程通过各自的读写绑定挂载访问。
func (o *Orchestrator) makeMountPointsReadOnly(ctx context.Context) error {
	paths := o.cfg.Paths
	m := o.deps.Mounter
	if err := m.Remount(paths.SdcardMount, readOnlyFlags, "seclabel,mode=0755"); err != nil {
		return err
	}
	if err := m.Remount(paths.ObbMount, readOnlyFlags, "seclabel,mode=0755"); err != nil {
		return err
	}
	return m.Remount(paths.MediaMount, readOnlyFlags, tmpfsOptions(rootUID, systemGID))
}

// setUpCameraProperty 把相机 HAL 需要的两个属性复制到 /var/cache
func (o *Orchestrator) setUpCameraProperty(ctx context.Context) error {
	dst := o.cfg.Paths.CameraPropFile
	if exists(dst) {
		return nil
	}
	if err := fileutil.EnsureParentDir(dst, 0755); err != nil {
		return err
	}
	props, err := boot.ReadProperties(o.cfg.Paths.SystemBuildProp())
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, key := range []string{boot.PropManufacturer, boot.PropModel} {
		if v, ok := props[key]; ok {
			fmt.Fprintf(&b, "%s=%s\n", key, v)
		}
	}
	return fileutil.WriteToFile(dst, 0644, b.String())
}

func (o *Orchestrator) setUpSharedApkDirectory(ctx context.Context) error {
	return o.deps.Owner.InstallDirectory(0700, systemUID, systemGID, o.cfg.Paths.ApkCache)
}

// createContainerFilesAndDirectories 准备 /run/arc 和 bugreport 目录
func (o *Orchestrator) createContainerFilesAndDirectories(ctx context.Context) error {
	if err := o.deps.Owner.InstallDirectory(0755, hostRootUID, hostRootGID, o.cfg.Paths.RunArc); err != nil {
		return err
	}
	return o.deps.Owner.InstallDirectory(0755, shellUID, logGID, o.cfg.Paths.BugreportDir)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
