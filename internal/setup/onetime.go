//go:build linux
// +build linux

package setup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

// loopImage 是每次主机启动只挂载一次的镜像
type loopImage struct {
	image, target string
	flags         uintptr
}

// onetimeImages 按挂载顺序列出镜像。vendor 挂在 rootfs 之内，所以排在 system 之后。
func (o *Orchestrator) onetimeImages() []loopImage {
	p := o.cfg.Paths
	var writable uintptr = unix.MS_RDONLY
	if o.cfg.Env.WritableMount {
		writable = 0
	}
	// 尽量少的权限；启动 ARC 时会在容器侧以合适的标志重新绑定
	system := writable | unix.MS_NOEXEC | unix.MS_NOSUID | unix.MS_NODEV
	// 辅助镜像总是 squashfs 且不含可执行文件
	aux := writable | unix.MS_NOEXEC | unix.MS_NOSUID
	return []loopImage{
		{p.SystemImage, p.AndroidRootfs, system},
		{p.VendorImage, p.VendorRootfs(), system},
		{p.SdcardRootfsImage, p.SdcardRootfs, aux},
		{p.ObbRootfsImage, p.ObbRootfs, aux},
		{p.AppfuseRootfsImage, p.AppfuseRootfs, aux},
	}
}

func (o *Orchestrator) onOnetimeSetup(ctx context.Context) error {
	return o.runSteps(ctx, []step{
		{"EnsureContainerDirectories", o.ensureContainerDirectories},
		{"MountOnOnetimeSetup", o.mountOnOnetimeSetup},
		{"SetUpOwnershipForSdcardConfigfs", o.setUpOwnershipForSdcardConfigfs},
	})
}

// ensureContainerDirectories 创建 cras 套接字目录，uid/gid 之后由 cras 修改。
// 目录已存在时跳过，以免覆盖 cras 设置的所有者。
func (o *Orchestrator) ensureContainerDirectories(ctx context.Context) error {
	dir := o.cfg.Paths.CrasSocketDir
	if isDir(dir) {
		return nil
	}
	return o.deps.Owner.InstallDirectory(0770|os.ModeSticky, hostRootUID, hostRootGID, dir)
}

func (o *Orchestrator) mountOnOnetimeSetup(ctx context.Context) error {
	if o.cfg.Env.WritableMount {
		if err := o.deps.Mounter.Remount(o.cfg.Paths.Root, 0, ""); err != nil {
			return err
		}
	}
	for _, img := range o.onetimeImages() {
		if err := o.deps.Mounter.LoopMount(img.image, img.target, img.flags); err != nil {
			return err
		}
	}
	return nil
}

// setUpOwnershipForSdcardConfigfs 让容器 root 拥有 sdcardfs 的 configfs 目录
func (o *Orchestrator) setUpOwnershipForSdcardConfigfs(ctx context.Context) error {
	dir := o.cfg.Paths.SdcardConfigfs
	extensions := filepath.Join(dir, "extensions")
	if !exists(extensions) {
		return nil
	}
	if err := o.deps.Owner.Chown(rootUID, rootGID, dir); err != nil {
		return err
	}
	return o.deps.Owner.Chown(rootUID, rootGID, extensions)
}

// onOnetimeStop 按挂载的逆序卸载镜像，失败只记录
func (o *Orchestrator) onOnetimeStop(ctx context.Context) error {
	var result *multierror.Error
	images := o.onetimeImages()
	for i := len(images) - 1; i >= 0; i-- {
		if err := o.deps.Mounter.LoopUmount(images[i].target); err != nil {
			o.ignore("UnmountOnOnetimeStop", err)
			result = multierror.Append(result, fmt.Errorf("%s: %w", images[i].target, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		o.log.WithField("failures", len(result.Errors)).Warn("OnetimeStop finished with ignored failures")
	}
	return nil
}
