package config

import (
	"fmt"
	"path/filepath"

	"arcsetup/pkg/envutil"
)

// 主机侧固定路径（按字母序）。
// 所有路径在 NewPaths 中拼接到 root 之下，生产环境 root 为 "/"。
const (
	adbdMountDir          = "/run/arc/adbd"
	androidCmdline        = "/run/arc/cmdline.android"
	androidMutableSource  = "/opt/google/containers/android/rootfs/android-data"
	androidRootfsDir      = "/opt/google/containers/android/rootfs/root"
	apkCacheDir           = "/mnt/stateful_partition/unencrypted/apkcache"
	appfuseRootfsDir      = "/opt/google/containers/arc-appfuse/mountpoints/container-root"
	appfuseRootfsImage    = "/opt/google/containers/arc-appfuse/rootfs.squashfs"
	arcBridgeSocket       = "/run/chrome/arc_bridge.sock"
	artDalvikCacheDir     = "/mnt/stateful_partition/unencrypted/art-data/dalvik-cache"
	artSigningKey         = "/mnt/stateful_partition/unencrypted/art-data/signing.key"
	binfmtMiscDir         = "/proc/sys/fs/binfmt_misc"
	boardHardwareFeatures = "/usr/sbin/board_hardware_features"
	bugreportDir          = "/run/arc/bugreport"
	cameraPropFile        = "/var/cache/camera/camera.prop"
	cameraProfileDir      = "/mnt/stateful_partition/encrypted/var/cache/camera"
	crasSocketDir         = "/run/cras"
	dalvikCacheMountDir   = "/run/arc/dalvik-cache"
	debugfsDir            = "/run/arc/debugfs"
	fakeKptrRestrict      = "/run/arc/fake_kptr_restrict"
	fakeMmapRndBits       = "/run/arc/fake_mmap_rnd_bits"
	fakeMmapRndCompatBits = "/run/arc/fake_mmap_rnd_compat_bits"
	generateCameraProfile = "/usr/bin/generate_camera_profile"
	hardwareFeaturesXML   = "/etc/hardware_features.xml"
	lockFile              = "/run/arc/.arc-setup.lock"
	lsbRelease            = "/etc/lsb-release"
	mediaMountDir         = "/run/arc/media"
	mediaDestDir          = "/run/arc/media/removable"
	mediaDestDefaultDir   = "/run/arc/media/removable-default"
	mediaDestReadDir      = "/run/arc/media/removable-read"
	mediaDestWriteDir     = "/run/arc/media/removable-write"
	obbMountDir           = "/run/arc/obb"
	obbRootfsDir          = "/opt/google/containers/arc-obb-mounter/mountpoints/container-root"
	obbRootfsImage        = "/opt/google/containers/arc-obb-mounter/rootfs.squashfs"
	oemMountDir           = "/run/arc/oem"
	procDir               = "/proc"
	rtLimitsCgroupFile    = "/sys/fs/cgroup/cpu/session_manager_containers/cpu.rt_runtime_us"
	runArcDir             = "/run/arc"
	saltFile              = "/var/lib/misc/arc_salt"
	sdcardConfigfsDir     = "/sys/kernel/config/sdcardfs"
	sdcardMountDir        = "/run/arc/sdcard"
	sdcardRootfsDir       = "/opt/google/containers/arc-sdcard/mountpoints/container-root"
	sdcardRootfsImage     = "/opt/google/containers/arc-sdcard/rootfs.squashfs"
	sharedMountDir        = "/run/arc/shared_mounts"
	sysfsCPU              = "/sys/devices/system/cpu"
	sysKernelDebugSync    = "/sys/kernel/debug/sync"
	sysKernelDebugTracing = "/sys/kernel/debug/tracing"
	systemImage           = "/opt/google/containers/android/system.raw.img"
	usbDevicesDir         = "/dev/bus/usb"
	vendorImage           = "/opt/google/containers/android/vendor.raw.img"
)

// 容器内路径，不拼接 root
const (
	// HostDalvikCacheInContainer 是主机侧 dalvik-cache 在容器内的挂载位置，
	// 安装的符号链接指向这里。
	HostDalvikCacheInContainer = "/var/run/arc/dalvik-cache"

	// SystemLibArmRelative 是 Houdini 库绑定挂载的目标（相对 rootfs）
	SystemLibArmRelative = "system/lib/arm"
)

// Paths 是一次调用的路径表。
// 在进程启动时由 NewPaths 构造一次，此后只读；按值传递给各模式处理函数。
type Paths struct {
	Root string

	AdbdMount             string
	AndroidCmdline        string
	AndroidMutableSource  string
	AndroidRootfs         string
	ApkCache              string
	AppfuseRootfs         string
	AppfuseRootfsImage    string
	ArcBridgeSocket       string
	ArtDalvikCache        string
	ArtSigningKey         string
	BinfmtMisc            string
	BoardHardwareFeatures string
	BugreportDir          string
	CameraPropFile        string
	CameraProfileDir      string
	CrasSocketDir         string
	DalvikCacheMount      string
	Debugfs               string
	FakeKptrRestrict      string
	FakeMmapRndBits       string
	FakeMmapRndCompatBits string
	GenerateCameraProfile string
	HardwareFeaturesXML   string
	LockFile              string
	LsbRelease            string
	MediaMount            string
	MediaDest             string
	MediaDestDefault      string
	MediaDestRead         string
	MediaDestWrite        string
	ObbMount              string
	ObbRootfs             string
	ObbRootfsImage        string
	OemMount              string
	Proc                  string
	RtLimitsCgroupFile    string
	RunArc                string
	SaltFile              string
	SdcardConfigfs        string
	SdcardMount           string
	SdcardRootfs          string
	SdcardRootfsImage     string
	SharedMount           string
	SysfsCPU              string
	SysKernelDebugSync    string
	SysKernelDebugTracing string
	SystemImage           string
	UsbDevices            string
	VendorImage           string

	// 以下两项来自环境变量，仅在 NeedsAndroidData 的模式下存在
	AndroidDataDir    string
	AndroidDataOldDir string
}

// NewPaths 构造路径表。
// root 为空时视为 "/"。在需要用户数据的模式下缺少
// ANDROID_DATA_DIR / ANDROID_DATA_OLD_DIR 会立即返回错误。
func NewPaths(mode Mode, env envutil.Lookup, root string) (Paths, error) {
	if root == "" {
		root = "/"
	}
	j := func(p string) string { return filepath.Join(root, p) }

	p := Paths{
		Root:                  root,
		AdbdMount:             j(adbdMountDir),
		AndroidCmdline:        j(androidCmdline),
		AndroidMutableSource:  j(androidMutableSource),
		AndroidRootfs:         j(androidRootfsDir),
		ApkCache:              j(apkCacheDir),
		AppfuseRootfs:         j(appfuseRootfsDir),
		AppfuseRootfsImage:    j(appfuseRootfsImage),
		ArcBridgeSocket:       j(arcBridgeSocket),
		ArtDalvikCache:        j(artDalvikCacheDir),
		ArtSigningKey:         j(artSigningKey),
		BinfmtMisc:            j(binfmtMiscDir),
		BoardHardwareFeatures: j(boardHardwareFeatures),
		BugreportDir:          j(bugreportDir),
		CameraPropFile:        j(cameraPropFile),
		CameraProfileDir:      j(cameraProfileDir),
		CrasSocketDir:         j(crasSocketDir),
		DalvikCacheMount:      j(dalvikCacheMountDir),
		Debugfs:               j(debugfsDir),
		FakeKptrRestrict:      j(fakeKptrRestrict),
		FakeMmapRndBits:       j(fakeMmapRndBits),
		FakeMmapRndCompatBits: j(fakeMmapRndCompatBits),
		GenerateCameraProfile: j(generateCameraProfile),
		HardwareFeaturesXML:   j(hardwareFeaturesXML),
		LockFile:              j(lockFile),
		LsbRelease:            j(lsbRelease),
		MediaMount:            j(mediaMountDir),
		MediaDest:             j(mediaDestDir),
		MediaDestDefault:      j(mediaDestDefaultDir),
		MediaDestRead:         j(mediaDestReadDir),
		MediaDestWrite:        j(mediaDestWriteDir),
		ObbMount:              j(obbMountDir),
		ObbRootfs:             j(obbRootfsDir),
		ObbRootfsImage:        j(obbRootfsImage),
		OemMount:              j(oemMountDir),
		Proc:                  j(procDir),
		RtLimitsCgroupFile:    j(rtLimitsCgroupFile),
		RunArc:                j(runArcDir),
		SaltFile:              j(saltFile),
		SdcardConfigfs:        j(sdcardConfigfsDir),
		SdcardMount:           j(sdcardMountDir),
		SdcardRootfs:          j(sdcardRootfsDir),
		SdcardRootfsImage:     j(sdcardRootfsImage),
		SharedMount:           j(sharedMountDir),
		SysfsCPU:              j(sysfsCPU),
		SysKernelDebugSync:    j(sysKernelDebugSync),
		SysKernelDebugTracing: j(sysKernelDebugTracing),
		SystemImage:           j(systemImage),
		UsbDevices:            j(usbDevicesDir),
		VendorImage:           j(vendorImage),
	}

	if mode.NeedsAndroidData() {
		dataDir, err := env.String(envutil.AndroidDataDir)
		if err != nil {
			return Paths{}, fmt.Errorf("%s mode: %w", mode, err)
		}
		oldDir, err := env.String(envutil.AndroidDataOldDir)
		if err != nil {
			return Paths{}, fmt.Errorf("%s mode: %w", mode, err)
		}
		p.AndroidDataDir = j(dataDir)
		p.AndroidDataOldDir = j(oldDir)
	}

	return p, nil
}

// VendorRootfs 是 vendor 镜像在 rootfs 中的挂载点
func (p Paths) VendorRootfs() string {
	return filepath.Join(p.AndroidRootfs, "vendor")
}

// SystemBuildProp 是只读系统镜像中的 build.prop
func (p Paths) SystemBuildProp() string {
	return filepath.Join(p.AndroidRootfs, "system", "build.prop")
}

// PackagesXML 是用户数据中记录指纹的包数据库
func (p Paths) PackagesXML() string {
	return filepath.Join(p.AndroidDataDir, "data", "system", "packages.xml")
}

// DataDalvikCache 是容器 /data/dalvik-cache 在主机上的位置
func (p Paths) DataDalvikCache() string {
	return filepath.Join(p.AndroidDataDir, "data", "dalvik-cache")
}

// DataApp 是容器 /data/app 在主机上的位置
func (p Paths) DataApp() string {
	return filepath.Join(p.AndroidDataDir, "data", "app")
}

// SystemFramework 是只读系统镜像中核心编译代码的目录
func (p Paths) SystemFramework() string {
	return filepath.Join(p.AndroidRootfs, "system", "framework")
}

// BinfmtMiscEntries 返回某个 rootfs 子目录下的 binfmt_misc 条目目录
func (p Paths) BinfmtMiscEntries(sub string) string {
	return filepath.Join(p.AndroidRootfs, sub, "etc", "binfmt_misc")
}
