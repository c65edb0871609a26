//go:build linux
// +build linux

package setup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"arcsetup/internal/boot"
	arcerrors "arcsetup/pkg/errors"
	"arcsetup/pkg/idutil"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

const (
	nsenterPath       = "/usr/bin/nsenter"
	bootContinuePath  = "/system/bin/arcbootcontinue"
	sharedDataName    = "data"
	sharedCacheName   = "cache"
	sharedDataMode    = 0700
	remountDataOption = "seclabel"
)

// BootContinueArgv 构造在容器各命名空间中运行 arcbootcontinue 的命令行。
// 以主机 root 身份运行，不切换 UID/GID，也不经过 runcon。
func BootContinueArgv(pid int, serial string, t boot.Type, disableBootCompleted, vendorPrivileged bool) []string {
	return []string{
		nsenterPath, "-t", strconv.Itoa(pid),
		"-m", // mount
		"-U", // user
		"-i", // System V IPC
		"-n", // network
		"-p", // pid
		"-r", // 根目录
		"-w", // 工作目录
		"--", bootContinuePath,
		"--serialno", serial,
		"--disable-boot-completed", strconv.Itoa(boolInt(disableBootCompleted)),
		"--vendor-privileged", strconv.Itoa(boolInt(vendorPrivileged)),
		"--container-boot-type", strconv.Itoa(int(t)),
	}
}

func (o *Orchestrator) onBootContinue(ctx context.Context) error {
	var (
		res    boot.Result
		serial string
	)
	return o.runSteps(ctx, []step{
		{"GenerateSerialNumber", func(ctx context.Context) error {
			serial = idutil.GenerateFakeSerialNumber(o.cfg.Env.ChromeOSUser, o.readSalt())
			return nil
		}},
		{"Classify", func(ctx context.Context) (err error) {
			res, err = o.classify()
			return err
		}},
		{"MaybeDeleteAndroidData", func(ctx context.Context) error {
			return o.maybeDeleteAndroidData(res)
		}},
		{"PurgeCaches", func(ctx context.Context) error {
			return o.purgeCaches(res.Type, 0)
		}},
		{"LabelArcBridgeSocket", func(ctx context.Context) error {
			return o.deps.Labeler.Chcon(arcBridgeSocketContext, o.cfg.Paths.ArcBridgeSocket)
		}},
		{"SetUpAndroidData", o.setUpAndroidData},
		{"InstallLinks", func(ctx context.Context) error {
			if err := o.installLinks(); err != nil {
				o.log.WithError(err).Error("Failed to install links to host-side code, purging dalvik-cache")
				o.ignore("PurgeDalvikCache", o.purgeCaches(res.Type, boot.PurgeForceDalvikCache))
			}
			return nil
		}},
		{"MountSharedAndroidDirectories", o.mountSharedAndroidDirectories},
		{"ContinueContainerBoot", func(ctx context.Context) error {
			err := o.continueContainerBoot(ctx, res.Type, serial)
			// 共享挂载只需存在到容器完成绑定为止
			o.unmountSharedAndroidDirectories()
			return err
		}},
	})
}

// mountSharedAndroidDirectories 把用户的 /data（N 上还有 /cache）放进共享挂载点，
// 由容器侧的 arcbootcontinue 绑定到最终位置。
func (o *Orchestrator) mountSharedAndroidDirectories(ctx context.Context) error {
	paths := o.cfg.Paths
	m := o.deps.Mounter
	dataDir := filepath.Join(paths.AndroidDataDir, "data")
	cacheDir := filepath.Join(paths.AndroidDataDir, "cache")
	sharedData := filepath.Join(paths.SharedMount, sharedDataName)
	sharedCache := filepath.Join(paths.SharedMount, sharedCacheName)

	sdk, err := boot.SystemSdkVersion(paths.SystemBuildProp())
	if err != nil {
		return err
	}
	withCache := sdk == boot.SdkNMR1

	if err := o.deps.Owner.InstallDirectory(sharedDataMode, hostRootUID, hostRootGID, sharedData); err != nil {
		return err
	}
	if withCache {
		if err := o.deps.Owner.InstallDirectory(sharedDataMode, hostRootUID, hostRootGID, sharedCache); err != nil {
			return err
		}
	}

	// 先把 data 变成可执行的挂载点。必须在共享之前完成，
	// 共享之后新标志不会传播到从属挂载。
	if err := m.BindMount(dataDir, dataDir); err != nil {
		return err
	}
	if err := m.Remount(dataDir, unix.MS_NOSUID|unix.MS_NODEV, remountDataOption); err != nil {
		return err
	}
	if withCache {
		if err := m.BindMount(cacheDir, sharedCache); err != nil {
			return err
		}
	}
	return m.Mount(dataDir, sharedData, "", unix.MS_BIND, "")
}

func (o *Orchestrator) unmountSharedAndroidDirectories() {
	paths := o.cfg.Paths
	m := o.deps.Mounter
	o.ignore("Umount", m.Umount(filepath.Join(paths.AndroidDataDir, "data")))
	o.ignore("UmountIfExists", m.UmountIfExists(filepath.Join(paths.SharedMount, sharedCacheName)))
	o.ignore("Umount", m.Umount(filepath.Join(paths.SharedMount, sharedDataName)))
	o.ignore("Umount", m.Umount(paths.SharedMount))
}

func (o *Orchestrator) continueContainerBoot(ctx context.Context, t boot.Type, serial string) error {
	env := o.cfg.Env
	argv := BootContinueArgv(env.ContainerPID, serial, t, env.DisableBootCompleted, env.VendorPrivileged)

	start := time.Now()
	err := o.deps.Launcher.LaunchAndWait(ctx, argv...)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err == nil {
		o.log.Infof("Running %s took %v", bootContinuePath, elapsed)
		return nil
	}

	// nsenter 和 arcbootcontinue 都可能失败；先排除容器进程本身的问题
	if derr := o.diagnoseContainer(env.ContainerPID); derr != nil {
		return fmt.Errorf("%s failed after %v: %w", bootContinuePath, elapsed, derr)
	}
	return fmt.Errorf("%s failed for unknown reason after %v: %w", bootContinuePath, elapsed, err)
}

// diagnoseContainer 检查容器进程是否存活、命名空间和 proc 条目是否可访问
func (o *Orchestrator) diagnoseContainer(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("pid %d: %w", pid, arcerrors.ErrInvalidPID)
	}
	if err := unix.Kill(pid, 0); err != nil && err != unix.EPERM {
		return fmt.Errorf("pid %d: %w", pid, arcerrors.ErrProcessNotFound)
	}

	procDir := filepath.Join(o.cfg.Paths.Proc, strconv.Itoa(pid))
	var result *multierror.Error
	for _, ns := range []string{"mnt", "user", "ipc", "net", "pid"} {
		h, err := netns.GetFromPath(filepath.Join(procDir, "ns", ns))
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("namespace %s: %w", ns, err))
			continue
		}
		h.Close()
	}
	for _, entry := range []string{"cwd", "root"} {
		if _, err := os.Readlink(filepath.Join(procDir, entry)); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", entry, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		o.log.WithFields(logrus.Fields{"pid": pid}).WithError(err).Error("Container process is not usable")
		return err
	}
	return nil
}
