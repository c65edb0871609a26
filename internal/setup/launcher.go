package setup

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Launcher 运行外部程序并等待其退出
type Launcher interface {
	LaunchAndWait(ctx context.Context, argv ...string) error
}

// ExecLauncher 用 os/exec 运行程序，失败时把 stderr 带进错误
type ExecLauncher struct {
	Log logrus.FieldLogger
}

func (l ExecLauncher) LaunchAndWait(ctx context.Context, argv ...string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty command")
	}
	l.Log.WithField("argv", strings.Join(argv, " ")).Debug("Launching")

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}
