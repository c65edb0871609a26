// Package cli 实现 arc-setup 的命令行入口。
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"arcsetup/internal/config"
	"arcsetup/internal/readahead"
	"arcsetup/internal/runlock"
	"arcsetup/internal/setup"
	"arcsetup/pkg/envutil"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// 版本信息
var Version = "0.1.0"

var modeUsage = map[config.Mode]string{
	config.ModeSetup:               "为用户会话准备容器",
	config.ModeSetupForLoginScreen: "为登录界面准备容器（没有用户数据）",
	config.ModeBootContinue:        "用户登录后继续启动容器",
	config.ModeStop:                "容器退出后清理",
	config.ModeOnetimeSetup:        "每次主机启动时挂载只读镜像",
	config.ModeOnetimeStop:         "卸载只读镜像",
	config.ModePreChroot:           "容器 chroot 之前的钩子，从标准输入读取 OCI 状态",
	config.ModeReadAhead:           "预读 rootfs 中启动时用到的文件",
}

// options 是一次调用的命令行参数
type options struct {
	modes        map[config.Mode]*bool
	root         string
	logLevel     string
	readAheadMax string

	// log 在 run 解析完 --log-level 后设置
	log *logrus.Logger
}

// mode 返回被置位的唯一模式
func (o *options) mode() (config.Mode, error) {
	var selected []config.Mode
	for _, m := range config.AllModes {
		if *o.modes[m] {
			selected = append(selected, m)
		}
	}
	return config.SelectMode(selected)
}

// logger 返回 run 配置好的日志记录器；在此之前失败时使用默认配置
func (o *options) logger() *logrus.Logger {
	if o.log != nil {
		return o.log
	}
	log, _ := newLogger(logrus.InfoLevel.String())
	return log
}

func newRootCmd() (*cobra.Command, *options) {
	opts := &options{modes: make(map[config.Mode]*bool, len(config.AllModes))}

	cmd := &cobra.Command{
		Use:   "arc-setup",
		Short: "管理 Android 容器的生命周期",
		Long: `arc-setup 在 Android 容器启动前后准备和清理主机侧状态。

每次调用恰好执行一个模式，例如：
  arc-setup --onetime-setup
  arc-setup --setup
  arc-setup --boot-continue
  arc-setup --stop

模式的输入来自环境变量（ANDROID_DATA_DIR、CHROMEOS_USER 等）。`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	names := make([]string, 0, len(config.AllModes))
	for _, m := range config.AllModes {
		opts.modes[m] = flags.Bool(m.String(), false, modeUsage[m])
		names = append(names, m.String())
	}
	cmd.MarkFlagsMutuallyExclusive(names...)
	cmd.MarkFlagsOneRequired(names...)

	flags.StringVar(&opts.root, "root", "/", "所有主机路径的前缀（用于测试）")
	flags.StringVar(&opts.logLevel, "log-level", logrus.InfoLevel.String(), "日志级别（debug、info、warn、error）")
	flags.StringVar(&opts.readAheadMax, "read-ahead-max-size", units.BytesSize(float64(readahead.DefaultMaxBytesPerFile)),
		"ReadAhead 模式下每个文件最多读取的大小")
	return cmd, opts
}

// newLogger 创建输出到 stderr 的日志记录器
func newLogger(level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log, nil
}

func run(ctx context.Context, opts *options) error {
	mode, err := opts.mode()
	if err != nil {
		return err
	}
	log, err := newLogger(opts.logLevel)
	if err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	opts.log = log
	maxBytes, err := readahead.ParseSize(opts.readAheadMax)
	if err != nil {
		return fmt.Errorf("--read-ahead-max-size: %w", err)
	}

	// 配置错误在获取锁和修改任何状态之前报告
	env, err := config.LoadEnv(mode, envutil.OSLookup)
	if err != nil {
		return err
	}
	paths, err := config.NewPaths(mode, envutil.OSLookup, opts.root)
	if err != nil {
		return err
	}

	lock, err := acquireLock(paths.LockFile, log)
	if err != nil {
		return err
	}
	defer lock.Release()
	log.WithField("lock", lock.Path()).Debug("Holding run lock")

	o := setup.New(setup.Config{
		Mode:              mode,
		Paths:             paths,
		Env:               env,
		ReadAheadMaxBytes: maxBytes,
	}, setup.Deps{Log: log.WithField("pid", os.Getpid())})
	return o.Run(ctx)
}

// acquireLock 先尝试非阻塞获取；锁被占用时记录一条日志再阻塞等待
func acquireLock(path string, log logrus.FieldLogger) (*runlock.Lock, error) {
	lock, err := runlock.TryAcquire(path)
	if !errors.Is(err, runlock.ErrLocked) {
		return lock, err
	}
	log.WithField("lock", path).Info("Waiting for another arc-setup invocation to finish")
	return runlock.Acquire(path)
}

// Execute 运行根命令，失败时以状态 1 退出
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, opts := newRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		opts.logger().WithError(err).Error("arc-setup failed")
		stop()
		os.Exit(1)
	}
}
