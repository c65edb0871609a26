package setup

import (
	"context"
	"fmt"

	selinux "github.com/opencontainers/selinux/go-selinux"
	"github.com/sirupsen/logrus"
)

const restoreconPath = "/sbin/restorecon"

// 安全上下文
const (
	procSecurityContext    = "u:object_r:proc_security:s0"
	arcBridgeSocketContext = "u:object_r:arc_bridge_socket:s0"
	systemDataFileContext  = "u:object_r:system_data_file:s0"
)

// Labeler 为主机上的路径设置 SELinux 标签
type Labeler interface {
	// Chcon 把 paths 的标签设为 secctx，不跟随符号链接
	Chcon(secctx string, paths ...string) error
	// Restorecon 按策略恢复 paths 的默认标签
	Restorecon(ctx context.Context, recursive bool, paths ...string) error
}

// SELinuxLabeler 用 lsetxattr 设置标签，用 restorecon 恢复默认标签
type SELinuxLabeler struct {
	Launcher Launcher
	Log      logrus.FieldLogger
}

// NewSELinuxLabeler 返回使用主机 restorecon 的 Labeler
func NewSELinuxLabeler(log logrus.FieldLogger) *SELinuxLabeler {
	return &SELinuxLabeler{Launcher: ExecLauncher{Log: log}, Log: log}
}

func (l *SELinuxLabeler) Chcon(secctx string, paths ...string) error {
	for _, p := range paths {
		if err := selinux.SetFileLabel(p, secctx); err != nil {
			return fmt.Errorf("chcon %s %s: %w", secctx, p, err)
		}
	}
	return nil
}

func (l *SELinuxLabeler) Restorecon(ctx context.Context, recursive bool, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	argv := []string{restoreconPath}
	if recursive {
		argv = append(argv, "-R")
	}
	argv = append(argv, paths...)
	return l.Launcher.LaunchAndWait(ctx, argv...)
}
