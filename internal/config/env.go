package config

import (
	"fmt"
	"strings"

	"arcsetup/pkg/envutil"

	"github.com/vishvananda/netlink"
)

const (
	// DefaultContainerIPv4Address 是容器的静态地址（含前缀长度）
	DefaultContainerIPv4Address = "100.115.92.2/30"

	// DefaultGatewayIPv4Address 是容器内的网关地址，对应主机的 br0
	DefaultGatewayIPv4Address = "100.115.92.1"

	defaultLcdDensity = 160
	defaultUIScale    = 100
)

// BinaryTranslation 是 ARM 二进制翻译方案
type BinaryTranslation int

const (
	TranslationNone BinaryTranslation = iota
	// TranslationHoudini 使用 vendor 分区提供的库
	TranslationHoudini
	// TranslationNDK 使用 system 分区提供的库
	TranslationNDK
)

// NativeBridge 返回传给容器的 native bridge 库名，"0" 表示没有
func (b BinaryTranslation) NativeBridge() string {
	switch b {
	case TranslationHoudini:
		return "libhoudini.so"
	case TranslationNDK:
		return "libndk_translation.so"
	default:
		return "0"
	}
}

// Env 是从环境变量解析出的只读参数
type Env struct {
	DevMode                bool
	InsideVM               bool
	Debuggable             bool
	LcdDensity             int
	UIScale                int
	ContainerIPv4          *netlink.Addr
	GatewayIPv4            *netlink.Addr
	DisableBootCompleted   bool
	VendorPrivileged       bool
	ShareFonts             bool
	WritableMount          bool
	NativeBridgeExperiment bool
	MasterContainer        bool
	ChromeOSUser           string
	ContainerPID           int
}

// LoadEnv 解析环境变量。
// 地址格式错误总是致命的；BootContinue 额外要求 CHROMEOS_USER 和 CONTAINER_PID。
func LoadEnv(mode Mode, env envutil.Lookup) (Env, error) {
	e := Env{
		DevMode:                env.BoolOr(envutil.DevMode, false),
		InsideVM:               env.BoolOr(envutil.InsideVM, false),
		Debuggable:             env.BoolOr(envutil.Debuggable, false),
		LcdDensity:             env.IntOr(envutil.LcdDensity, defaultLcdDensity),
		UIScale:                env.IntOr(envutil.UIScale, defaultUIScale),
		DisableBootCompleted:   env.BoolOr(envutil.DisableBootCompleted, false),
		VendorPrivileged:       env.BoolOr(envutil.EnableVendorPrivileged, false),
		ShareFonts:             env.BoolOr(envutil.ShareFonts, false),
		WritableMount:          env.BoolOr(envutil.WritableMount, false),
		NativeBridgeExperiment: env.BoolOr(envutil.NativeBridgeExperiment, false),
		MasterContainer:        env.BoolOr(envutil.MasterContainer, mode == ModeSetupForLoginScreen),
		ChromeOSUser:           env.StringOr(envutil.ChromeOSUser, ""),
	}

	var err error
	e.ContainerIPv4, err = parseIPv4(env.StringOr(envutil.ContainerIPv4Address, DefaultContainerIPv4Address), 30)
	if err != nil {
		return Env{}, fmt.Errorf("%s: %w", envutil.ContainerIPv4Address, err)
	}
	e.GatewayIPv4, err = parseIPv4(env.StringOr(envutil.GatewayIPv4Address, DefaultGatewayIPv4Address), 32)
	if err != nil {
		return Env{}, fmt.Errorf("%s: %w", envutil.GatewayIPv4Address, err)
	}

	if mode == ModeBootContinue {
		if e.ChromeOSUser, err = env.String(envutil.ChromeOSUser); err != nil {
			return Env{}, err
		}
		if e.ContainerPID, err = env.Int(envutil.ContainerPID); err != nil {
			return Env{}, err
		}
	}
	return e, nil
}

// parseIPv4 用 netlink.ParseAddr 解析地址；没有前缀长度时补上 defaultBits
func parseIPv4(s string, defaultBits int) (*netlink.Addr, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "/") {
		s = fmt.Sprintf("%s/%d", s, defaultBits)
	}
	addr, err := netlink.ParseAddr(s)
	if err != nil {
		return nil, fmt.Errorf("parse address %q: %w", s, err)
	}
	if addr.IP.To4() == nil {
		return nil, fmt.Errorf("%q is not an IPv4 address", s)
	}
	return addr, nil
}

// IPString 返回不含前缀长度的地址
func IPString(a *netlink.Addr) string {
	if a == nil {
		return ""
	}
	return a.IP.String()
}
