package config

import (
	"fmt"

	arcerrors "arcsetup/pkg/errors"
)

// Mode 是一次 arc-setup 调用的运行模式。
// 每次进程运行恰好选择一个模式。
type Mode int

const (
	ModeUnknown Mode = iota
	ModeSetup
	ModeSetupForLoginScreen
	ModeBootContinue
	ModeStop
	ModeOnetimeSetup
	ModeOnetimeStop
	ModePreChroot
	ModeReadAhead
)

// AllModes 按命令行开关的顺序列出所有模式
var AllModes = []Mode{
	ModeSetup,
	ModeSetupForLoginScreen,
	ModeBootContinue,
	ModeStop,
	ModeOnetimeSetup,
	ModeOnetimeStop,
	ModePreChroot,
	ModeReadAhead,
}

var modeNames = map[Mode]string{
	ModeSetup:               "setup",
	ModeSetupForLoginScreen: "setup-for-login-screen",
	ModeBootContinue:        "boot-continue",
	ModeStop:                "stop",
	ModeOnetimeSetup:        "onetime-setup",
	ModeOnetimeStop:         "onetime-stop",
	ModePreChroot:           "pre-chroot",
	ModeReadAhead:           "read-ahead",
}

// String 返回模式对应的命令行开关名（不含 "--"）
func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "unknown"
}

// IsSetup 对两种 Setup 变体都返回 true
func (m Mode) IsSetup() bool {
	return m == ModeSetup || m == ModeSetupForLoginScreen
}

// NeedsAndroidData 报告该模式是否需要 ANDROID_DATA_DIR / ANDROID_DATA_OLD_DIR。
// 登录界面容器没有用户数据，所以只有完整 Setup 和 BootContinue 需要。
func (m Mode) NeedsAndroidData() bool {
	return m == ModeSetup || m == ModeBootContinue
}

// SelectMode 从被置位的开关中选出唯一的模式。
// 零个或多个开关都是致命的配置错误。
func SelectMode(selected []Mode) (Mode, error) {
	switch len(selected) {
	case 0:
		return ModeUnknown, arcerrors.ErrNoMode
	case 1:
		return selected[0], nil
	default:
		return ModeUnknown, fmt.Errorf("%w: %v", arcerrors.ErrAmbiguousMode, selected)
	}
}
