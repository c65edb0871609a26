package setup

import (
	"context"

	"arcsetup/internal/boot"
	"arcsetup/internal/readahead"

	units "github.com/docker/go-units"
)

// onReadAhead 预读 rootfs 中启动时会用到的文件。超出预算不算错误。
func (o *Orchestrator) onReadAhead(ctx context.Context) error {
	sdk, err := boot.SystemSdkVersion(o.cfg.Paths.SystemBuildProp())
	if err != nil {
		o.log.WithError(err).Warn("Unknown system SDK version, using the common file list")
	}

	stats, err := readahead.Prefetch(ctx, o.cfg.Paths.AndroidRootfs, o.cfg.ReadAheadBudget, sdk, readahead.Options{
		MaxBytesPerFile: o.cfg.ReadAheadMaxBytes,
		Log:             o.log,
	})
	if err != nil {
		return err
	}
	o.log.WithField("files", stats.Files).Infof("Read ahead %s", units.HumanSize(float64(stats.Bytes)))
	return nil
}
