//go:build linux
// +build linux

package setup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"arcsetup/internal/config"
	arcerrors "arcsetup/pkg/errors"
	"arcsetup/pkg/fileutil"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// ContainerRootAnnotation 是 run_oci 记录容器根目录的注解
const ContainerRootAnnotation = "org.chromium.run_oci.container_root"

// 需要递归恢复标签的容器内目录。var/run 本身不在列表中，
// 其中部分条目位于只读文件系统上。
var preChrootRestoreconDirs = []string{
	"dev",
	"oem/etc",
	"var/run/arc/apkcache",
	"var/run/arc/bugreport",
	"var/run/arc/dalvik-cache",
	"var/run/camera",
	"var/run/chrome",
	"var/run/cras",
}

// 非递归恢复标签的路径
var preChrootRestoreconPaths = []string{
	"default.prop",
	"sys/kernel/debug",
	"system/build.prop",
	"var/run/arc",
	"var/run/inputbridge",
}

// ReadContainerState 从 OCI 状态文档中取出容器 pid 和 rootfs。
// rootfs 是 <container_root>/mountpoints/container-root 这个符号链接的目标。
func ReadContainerState(r io.Reader) (int, string, error) {
	var state specs.State
	if err := json.NewDecoder(r).Decode(&state); err != nil {
		return 0, "", fmt.Errorf("decode container state: %w", err)
	}
	if state.Pid <= 0 {
		return 0, "", fmt.Errorf("pid %d: %w", state.Pid, arcerrors.ErrInvalidPID)
	}
	root, ok := state.Annotations[ContainerRootAnnotation]
	if !ok || root == "" {
		return 0, "", fmt.Errorf("missing %s annotation: %w", ContainerRootAnnotation, arcerrors.ErrInvalidState)
	}
	rootfs, err := os.Readlink(filepath.Join(root, "mountpoints", "container-root"))
	if err != nil {
		return 0, "", fmt.Errorf("resolve container rootfs: %w", err)
	}
	return state.Pid, rootfs, nil
}

func prependRoot(rootfs string, rel []string) []string {
	out := make([]string, 0, len(rel))
	for _, p := range rel {
		out = append(out, filepath.Join(rootfs, p))
	}
	return out
}

// onPreChroot 在容器 chroot 之前于其 mount namespace 中完成最后的准备
func (o *Orchestrator) onPreChroot(ctx context.Context) error {
	bt := o.identifyBinaryTranslation()

	pid, rootfs, err := ReadContainerState(o.deps.Stdin)
	if err != nil {
		return err
	}
	o.log.WithField("pid", pid).WithField("path", rootfs).Info("Read container state")

	ns, err := o.deps.EnterNamespace(pid)
	if err != nil {
		return fmt.Errorf("enter mount namespace of %d: %w", pid, err)
	}
	defer func() {
		if err := ns.Close(); err != nil {
			o.log.WithError(err).Error("Failed to restore mount namespace")
		}
	}()

	return o.runSteps(ctx, []step{
		{"BindMountInContainerNamespace", func(ctx context.Context) error {
			if bt != config.TranslationHoudini {
				return nil
			}
			// system/lib/arm 为空或是 ndk-translation 的库，换成 Houdini 的
			return o.deps.Mounter.BindMount(
				filepath.Join(rootfs, "vendor", "lib", "arm"),
				filepath.Join(rootfs, config.SystemLibArmRelative))
		}},
		{"RestoreContext", func(ctx context.Context) error {
			if err := o.deps.Labeler.Restorecon(ctx, true, prependRoot(rootfs, preChrootRestoreconDirs)...); err != nil {
				return err
			}
			return o.deps.Labeler.Restorecon(ctx, false, prependRoot(rootfs, preChrootRestoreconPaths)...)
		}},
		{"CreateDevColdbootDone", func(ctx context.Context) error {
			done := filepath.Join(rootfs, "dev", ".coldboot_done")
			if err := fileutil.CreateOrTruncate(done, 0755); err != nil {
				return err
			}
			return o.deps.Owner.Chown(rootUID, rootGID, done)
		}},
	})
}
