//go:build linux
// +build linux

package setup

import (
	"context"

	"arcsetup/internal/config"
)

// setUpBinFmtMisc 选择二进制翻译方案并注册解释器，结果供 cmdline 使用
func (o *Orchestrator) setUpBinFmtMisc(bt *config.BinaryTranslation) func(context.Context) error {
	return func(ctx context.Context) error {
		*bt = o.identifyBinaryTranslation()
		o.log.WithField("native_bridge", bt.NativeBridge()).Info("Identified binary translation")
		return o.registerBinfmt(*bt)
	}
}

// containerSteps 是两种 Setup 共有的后半部分，顺序不能改变：
// 标签必须在挂载点变为只读之前恢复。
func (o *Orchestrator) containerSteps(bt *config.BinaryTranslation) []step {
	return []step{
		{"SetUpSharedMountPoints", o.setUpSharedMountPoints},
		{"CreateContainerFilesAndDirectories", o.createContainerFilesAndDirectories},
		{"ApplyPerBoardConfigurations", o.applyPerBoardConfigurations},
		{"SetUpExternalStorage", o.setUpExternalStorage},
		{"CreateAndroidCmdlineFile", o.createAndroidCmdlineFile(bt)},
		{"CreateFakeProcfsFiles", o.createFakeProcfsFiles},
		{"SetUpMountPointForDebugFilesystem", o.setUpDebugfs},
		{"SetUpMountPointForRemovableMedia", o.setUpRemovableMedia},
		{"CleanUpStaleMountPoints", o.cleanUpStaleMountPoints},
		{"RestoreContext", o.restoreContext},
		{"MakeMountPointsReadOnly", o.makeMountPointsReadOnly},
		{"SetUpCameraProperty", func(ctx context.Context) error {
			o.ignore("SetUpCameraProperty", o.setUpCameraProperty(ctx))
			return nil
		}},
		{"SetUpSharedApkDirectory", o.setUpSharedApkDirectory},
		{"WaitForRtLimitsJob", o.waitForRtLimitsJob},
	}
}

func (o *Orchestrator) onSetup(ctx context.Context) error {
	var bt config.BinaryTranslation
	steps := []step{
		{"RemountVendor", o.remountVendor},
		{"SetUpBinFmtMisc", o.setUpBinFmtMisc(&bt)},
		{"CreateArtDataDirectory", o.createArtDataDir},
		{"SetUpUserCode", o.setUpUserCode},
		{"SetUpAndroidData", o.setUpAndroidData},
	}
	return o.runSteps(ctx, append(steps, o.containerSteps(&bt)...))
}

func (o *Orchestrator) onSetupForLoginScreen(ctx context.Context) error {
	var bt config.BinaryTranslation
	steps := []step{
		{"RemountVendor", o.remountVendor},
		{"SetUpBinFmtMisc", o.setUpBinFmtMisc(&bt)},
		{"CreateArtDataDirectory", o.createArtDataDir},
		{"SetUpLoginScreenCode", o.setUpLoginScreenCode},
	}
	return o.runSteps(ctx, append(steps, o.containerSteps(&bt)...))
}
