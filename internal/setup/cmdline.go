package setup

import (
	"fmt"
	"strings"
	"time"

	"arcsetup/internal/boot"
	"arcsetup/internal/config"
)

const (
	releaseTrackProp = "CHROMEOS_RELEASE_TRACK"
	channelSuffix    = "-channel"
	unknownChannel   = "unknown"
)

var knownChannels = map[string]bool{
	"beta-channel":      true,
	"canary-channel":    true,
	"dev-channel":       true,
	"dogfood-channel":   true,
	"stable-channel":    true,
	"testimage-channel": true,
}

// CmdlineParams 是通过合成内核命令行传给容器 init 的启动参数
type CmdlineParams struct {
	DevMode        bool
	InsideVM       bool
	Debuggable     bool
	ShareFonts     bool
	LcdDensity     int
	UIScale        int
	ContainerIPv4  string
	GatewayIPv4    string
	NativeBridge   string
	Channel        string
	BoottimeOffset time.Duration
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// BuildCmdline 生成单行、以换行结尾的 androidboot.* 参数列表
func BuildCmdline(p CmdlineParams) string {
	fields := []string{
		"androidboot.hardware=cheets",
		"androidboot.container=1",
		fmt.Sprintf("androidboot.dev_mode=%d", boolInt(p.DevMode)),
		fmt.Sprintf("androidboot.disable_runas=%d", boolInt(!p.DevMode)),
		fmt.Sprintf("androidboot.vm=%d", boolInt(p.InsideVM)),
		fmt.Sprintf("androidboot.debuggable=%d", boolInt(p.Debuggable)),
		fmt.Sprintf("androidboot.lcd_density=%d", p.LcdDensity),
		fmt.Sprintf("androidboot.ui_scale=%d", p.UIScale),
		fmt.Sprintf("androidboot.share_fonts=%d", boolInt(p.ShareFonts)),
		"androidboot.container_ipv4_address=" + p.ContainerIPv4,
		"androidboot.gateway_ipv4_address=" + p.GatewayIPv4,
		"androidboot.native_bridge=" + p.NativeBridge,
		"androidboot.chromeos_channel=" + p.Channel,
		// 纳秒
		fmt.Sprintf("androidboot.boottime_offset=%d", p.BoottimeOffset.Nanoseconds()),
	}
	return strings.Join(fields, " ") + "\n"
}

// ChromeOSChannel 从 lsb-release 读取发布通道并去掉 "-channel" 后缀。
// 文件缺失或通道未知时返回 "unknown"。
func ChromeOSChannel(lsbRelease string) (string, error) {
	track, err := boot.GetProperty(lsbRelease, releaseTrackProp)
	if err != nil {
		return unknownChannel, err
	}
	if !knownChannels[track] {
		return unknownChannel, fmt.Errorf("unknown channel %q", track)
	}
	return strings.TrimSuffix(track, channelSuffix), nil
}

func (o *Orchestrator) cmdlineParams(bt config.BinaryTranslation) (CmdlineParams, error) {
	env := o.cfg.Env
	channel, err := ChromeOSChannel(o.cfg.Paths.LsbRelease)
	if err != nil {
		o.log.WithError(err).Warn("Failed to get the ChromeOS channel")
	}
	offset, err := o.deps.BootTime()
	if err != nil {
		return CmdlineParams{}, fmt.Errorf("read boottime: %w", err)
	}
	return CmdlineParams{
		DevMode:        env.DevMode,
		InsideVM:       env.InsideVM,
		Debuggable:     env.Debuggable,
		ShareFonts:     env.ShareFonts,
		LcdDensity:     env.LcdDensity,
		UIScale:        env.UIScale,
		ContainerIPv4:  env.ContainerIPv4.IPNet.String(),
		GatewayIPv4:    config.IPString(env.GatewayIPv4),
		NativeBridge:   bt.NativeBridge(),
		Channel:        channel,
		BoottimeOffset: offset,
	}, nil
}
