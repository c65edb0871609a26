//go:build linux
// +build linux

package setup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"arcsetup/internal/boot"
	"arcsetup/pkg/fileutil"

	"github.com/sirupsen/logrus"
)

// classify 比较系统镜像与用户数据中的指纹
func (o *Orchestrator) classify() (boot.Result, error) {
	res, err := boot.Classify(o.cfg.Paths.SystemBuildProp(), o.cfg.Paths.PackagesXML())
	if err != nil {
		return boot.Result{}, err
	}
	if res.DataErr != nil {
		o.log.WithError(res.DataErr).Warn("Package database unusable, treating boot as an update")
	}
	o.log.WithFields(logrus.Fields{
		"boot_type":          res.Type.String(),
		"system_fingerprint": res.SystemFingerprint,
		"data_fingerprint":   res.DataFingerprint,
	}).Info("Classified boot")
	return res, nil
}

// purgeCaches 把需要失效的编译缓存移到 old 目录，由后台任务删除
func (o *Orchestrator) purgeCaches(t boot.Type, p boot.PurgePolicy) error {
	dalvik, appOat := boot.ShouldPurgeCaches(t, p)
	if !dalvik && !appOat {
		return nil
	}

	paths := o.cfg.Paths
	oldDir := paths.AndroidDataOldDir
	if !exists(oldDir) {
		if err := o.deps.Owner.InstallDirectory(0700, hostRootUID, hostRootGID, oldDir); err != nil {
			return err
		}
	}
	target, err := os.MkdirTemp(oldDir, "old_executables_")
	if err != nil {
		return fmt.Errorf("create directory in %s: %w", oldDir, err)
	}

	if dalvik && exists(paths.DataDalvikCache()) {
		o.log.WithField("path", paths.DataDalvikCache()).Infof("Moving to %s", target)
		if err := os.Rename(paths.DataDalvikCache(), filepath.Join(target, "dalvik-cache")); err != nil {
			o.log.WithError(err).Error("Failed to move dalvik-cache")
		}
	}
	if appOat && exists(paths.DataApp()) {
		if err := moveAppOatDirs(paths.DataApp(), target); err != nil {
			o.log.WithError(err).Error("Failed to move data/app oat directories")
		}
	}
	return nil
}

// moveAppOatDirs 把 data/app/<package>/oat 移到 dst/<package>_oat
func moveAppOatDirs(appDir, dst string) error {
	entries, err := os.ReadDir(appDir)
	if err != nil {
		return err
	}
	var firstErr error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		oat := filepath.Join(appDir, e.Name(), "oat")
		if !isDir(oat) {
			continue
		}
		if err := os.Rename(oat, filepath.Join(dst, e.Name()+"_oat")); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// maybeDeleteAndroidData 在降级或跨越过大版本升级时整体移走用户数据
func (o *Orchestrator) maybeDeleteAndroidData(res boot.Result) error {
	systemSdk, err := boot.SystemSdkVersion(o.cfg.Paths.SystemBuildProp())
	if err != nil {
		return err
	}
	if !boot.ShouldDeleteAndroidData(systemSdk, res.DataSdk) {
		return nil
	}
	o.log.WithFields(logrus.Fields{
		"system_sdk": systemSdk.String(),
		"data_sdk":   res.DataSdk.String(),
	}).Warn("Android data is incompatible with the system image, moving it away")
	moved, err := fileutil.MoveDirIntoDataOldDir(o.cfg.Paths.AndroidDataDir, o.cfg.Paths.AndroidDataOldDir)
	if err != nil {
		return err
	}
	if moved != "" {
		o.log.WithField("path", moved).Info("Moved android data")
	}
	return nil
}

// setUpAndroidData 把真实的 android-data 目录绑定到固定路径，并准备 /data 和 /cache
func (o *Orchestrator) setUpAndroidData(ctx context.Context) error {
	paths := o.cfg.Paths
	if err := o.deps.Owner.InstallDirectory(0700, hostRootUID, hostRootGID, paths.AndroidDataDir); err != nil {
		return err
	}
	if err := o.deps.Mounter.UmountIfExists(paths.AndroidMutableSource); err != nil {
		return err
	}
	if err := o.deps.Mounter.BindMount(paths.AndroidDataDir, paths.AndroidMutableSource); err != nil {
		return err
	}

	// 与 init.rc 保持一致
	if err := o.deps.Owner.InstallDirectory(0771, systemUID, systemGID, filepath.Join(paths.AndroidMutableSource, "data")); err != nil {
		return err
	}
	if err := o.deps.Owner.InstallDirectory(0770, systemUID, cacheGID, filepath.Join(paths.AndroidMutableSource, "cache")); err != nil {
		return err
	}

	sdk, err := boot.SystemSdkVersion(paths.SystemBuildProp())
	if err != nil {
		return err
	}
	if sdk >= boot.SdkP {
		return o.setUpNetwork()
	}
	return nil
}

// setUpNetwork 写入容器的静态 IP 配置
func (o *Orchestrator) setUpNetwork() error {
	data := filepath.Join(o.cfg.Paths.AndroidMutableSource, "data")
	miscDir := filepath.Join(data, "misc")
	ethDir := filepath.Join(miscDir, "ethernet")
	ipconfig := filepath.Join(ethDir, "ipconfig.txt")

	content, err := EncodeIPConfig(o.cfg.Env.ContainerIPv4, o.cfg.Env.GatewayIPv4)
	if err != nil {
		return err
	}

	if err := o.deps.Owner.InstallDirectory(0771|os.ModeSticky, systemUID, miscGID, miscDir); err != nil {
		return err
	}
	if err := o.deps.Labeler.Chcon(systemDataFileContext, miscDir); err != nil {
		return err
	}
	if err := o.deps.Owner.InstallDirectory(0770, systemUID, systemGID, ethDir); err != nil {
		return err
	}
	if err := o.deps.Labeler.Chcon(systemDataFileContext, ethDir); err != nil {
		return err
	}
	if err := fileutil.WriteToFile(ipconfig, 0660, string(content)); err != nil {
		return err
	}
	if err := o.deps.Labeler.Chcon(systemDataFileContext, ipconfig); err != nil {
		return err
	}
	return o.deps.Owner.Chown(systemUID, systemGID, ipconfig)
}
