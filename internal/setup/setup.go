// Package setup 实现 arc-setup 的各个运行模式。
//
// 每次进程运行只执行一个模式。各模式之间不共享内存，
// 只通过文件系统状态（挂载点、生成的文件、缓存目录）协作。
// 致命步骤返回包装后的错误，由 CLI 记录并以非零状态退出；
// 尽力而为的步骤只记录日志后继续。
package setup

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"arcsetup/internal/artcode"
	"arcsetup/internal/config"
	"arcsetup/internal/mount"
	"arcsetup/pkg/fileutil"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultReadAheadBudget 是 ReadAhead 模式的时间预算
	DefaultReadAheadBudget = 7 * time.Second

	// DefaultRtLimitsTimeout 是等待 rt-limits 任务的上限
	DefaultRtLimitsTimeout = 10 * time.Second

	rtLimitsPollInterval = 100 * time.Millisecond
)

// Config 是一次调用的只读输入
type Config struct {
	Mode  config.Mode
	Paths config.Paths
	Env   config.Env

	ReadAheadBudget   time.Duration
	ReadAheadMaxBytes int64
	RtLimitsTimeout   time.Duration
}

// Deps 是可替换的外部协作者。零值字段在 New 中填充为主机实现。
type Deps struct {
	Mounter  mount.Mounter
	Owner    fileutil.Owner
	Labeler  Labeler
	Launcher Launcher

	// EnterNamespace 进入 pid 所在的 mount namespace，Close 时返回
	EnterNamespace func(pid int) (io.Closer, error)
	// Isolate 为单个架构的代码重定位创建私有 mount namespace
	Isolate func() (io.Closer, error)

	// Signer 为空时从签名密钥文件加载，密钥不存在则只记录摘要
	Signer  artcode.Signer
	Patcher artcode.Patcher

	Stdin io.Reader
	Log   logrus.FieldLogger
	// Arch 是主机架构（uname -m）
	Arch string
	// BootTime 返回 CLOCK_BOOTTIME
	BootTime func() (time.Duration, error)
}

// Orchestrator 按模式执行生命周期步骤
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  logrus.FieldLogger
}

// New 创建 Orchestrator，并为未注入的依赖选择主机实现
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.ReadAheadBudget == 0 {
		cfg.ReadAheadBudget = DefaultReadAheadBudget
	}
	if cfg.RtLimitsTimeout == 0 {
		cfg.RtLimitsTimeout = DefaultRtLimitsTimeout
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if deps.Mounter == nil {
		deps.Mounter = mount.NewMounter(deps.Log)
	}
	deps.Owner = fileutil.OwnerOr(deps.Owner)
	if deps.Labeler == nil {
		deps.Labeler = NewSELinuxLabeler(deps.Log)
	}
	if deps.Launcher == nil {
		deps.Launcher = ExecLauncher{Log: deps.Log}
	}
	if deps.EnterNamespace == nil {
		deps.EnterNamespace = func(pid int) (io.Closer, error) {
			return mount.EnterMountNamespaceForPid(pid)
		}
	}
	if deps.Isolate == nil {
		deps.Isolate = func() (io.Closer, error) {
			return mount.NewIsolatedMountNamespace()
		}
	}
	if deps.Patcher == nil {
		deps.Patcher = artcode.ImagePatcher{ContainerFramework: "/system/framework"}
	}
	if deps.Stdin == nil {
		deps.Stdin = os.Stdin
	}
	if deps.Arch == "" {
		deps.Arch = hostArch()
	}
	if deps.BootTime == nil {
		deps.BootTime = bootTime
	}
	return &Orchestrator{
		cfg:  cfg,
		deps: deps,
		log:  deps.Log.WithField("mode", cfg.Mode.String()),
	}
}

// Run 执行所选模式
func (o *Orchestrator) Run(ctx context.Context) error {
	start := time.Now()
	o.log.Info("Starting arc-setup")

	var err error
	switch o.cfg.Mode {
	case config.ModeSetup:
		err = o.onSetup(ctx)
	case config.ModeSetupForLoginScreen:
		err = o.onSetupForLoginScreen(ctx)
	case config.ModeBootContinue:
		err = o.onBootContinue(ctx)
	case config.ModeStop:
		err = o.onStop(ctx)
	case config.ModeOnetimeSetup:
		err = o.onOnetimeSetup(ctx)
	case config.ModeOnetimeStop:
		err = o.onOnetimeStop(ctx)
	case config.ModePreChroot:
		err = o.onPreChroot(ctx)
	case config.ModeReadAhead:
		err = o.onReadAhead(ctx)
	default:
		err = fmt.Errorf("unsupported mode %v", o.cfg.Mode)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", o.cfg.Mode, err)
	}

	o.log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("Finished arc-setup")
	return nil
}

// step 是一个命名的生命周期步骤
type step struct {
	name string
	fn   func(ctx context.Context) error
}

// runSteps 依次执行致命步骤，遇到第一个错误即返回
func (o *Orchestrator) runSteps(ctx context.Context, steps []step) error {
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.log.WithField("step", s.name).Infof("Running %s...", s.name)
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// ignore 记录尽力而为步骤的失败后继续
func (o *Orchestrator) ignore(name string, err error) {
	if err != nil {
		o.log.WithField("step", name).WithError(err).Info("Ignoring failure")
	}
}
