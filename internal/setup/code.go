//go:build linux
// +build linux

package setup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"arcsetup/internal/artcode"
	"arcsetup/internal/boot"
	"arcsetup/internal/config"
	arcerrors "arcsetup/pkg/errors"
	"arcsetup/pkg/fileutil"
	"arcsetup/pkg/idutil"

	"golang.org/x/sys/unix"
)

// 主机侧缓存为每个可能的架构准备目录
var cacheISAs = []string{"arm", "x86", "x86_64"}

// readSalt 读取每台机器的随机盐。文件由别的服务生成，这里只读；
// 缺失或长度不对时用空盐，偏移仍然可重现，只是不再因机器而异。
func (o *Orchestrator) readSalt() []byte {
	salt, err := os.ReadFile(o.cfg.Paths.SaltFile)
	if err != nil {
		o.log.WithError(err).Warn("Failed to read salt, using an empty one")
		return nil
	}
	if len(salt) != idutil.SaltLength {
		o.log.WithField("size", len(salt)).Warn("Salt has unexpected size, using an empty one")
		return nil
	}
	return salt
}

func (o *Orchestrator) signer() (artcode.Signer, error) {
	if o.deps.Signer != nil {
		return o.deps.Signer, nil
	}
	s, err := artcode.LoadSigner(o.cfg.Paths.ArtSigningKey)
	if errors.Is(err, arcerrors.ErrSigningDisabled) {
		o.log.Info("No signing key, recording digests only")
		return artcode.NopSigner{}, nil
	}
	return s, err
}

func (o *Orchestrator) relocator() *artcode.Relocator {
	return &artcode.Relocator{
		SystemFramework: o.cfg.Paths.SystemFramework(),
		CacheDir:        o.cfg.Paths.ArtDalvikCache,
		UID:             rootUID,
		GID:             rootGID,
		Owner:           o.deps.Owner,
		Patcher:         o.deps.Patcher,
		Isolate:         o.deps.Isolate,
		Log:             o.log,
	}
}

func (o *Orchestrator) createArtDataDir(ctx context.Context) error {
	cache := o.cfg.Paths.ArtDalvikCache
	if err := o.deps.Owner.InstallDirectory(0755, hostRootUID, hostRootGID, cache); err != nil {
		return err
	}
	for _, isa := range cacheISAs {
		if err := o.deps.Owner.InstallDirectory(0711, rootUID, rootGID, filepath.Join(cache, isa)); err != nil {
			return err
		}
	}
	return nil
}

// relocateCode 重新生成并签名主机侧缓存。失败时缓存被清空。
func (o *Orchestrator) relocateCode(ctx context.Context) error {
	fingerprint, err := boot.GetProperty(o.cfg.Paths.SystemBuildProp(), boot.PropFingerprint)
	if err != nil {
		return fmt.Errorf("read system fingerprint: %w", err)
	}
	r := o.relocator()
	if err := r.Relocate(ctx, artcode.OffsetSeed(fingerprint, o.readSalt())); err != nil {
		return err
	}

	if err := o.signCode(r); err != nil {
		o.discardCache()
		return err
	}
	return nil
}

func (o *Orchestrator) signCode(r *artcode.Relocator) error {
	signer, err := o.signer()
	if err != nil {
		return err
	}
	isas, err := r.ISAs()
	if err != nil {
		return err
	}
	for _, isa := range isas {
		if err := artcode.Sign(r.CacheDir, isa, signer); err != nil {
			return fmt.Errorf("sign %s: %w", isa, err)
		}
	}
	return nil
}

// verifyCode 校验每个架构的摘要链和签名，失败时清空缓存
func (o *Orchestrator) verifyCode() error {
	r := o.relocator()
	signer, err := o.signer()
	if err != nil {
		return err
	}
	isas, err := r.ISAs()
	if err != nil {
		return err
	}
	for _, isa := range isas {
		if err := artcode.Verify(r.CacheDir, r.SystemFramework, isa, signer); err != nil {
			o.discardCache()
			return err
		}
		o.log.WithField("isa", isa).Info("Host-side code verified")
	}
	return nil
}

func (o *Orchestrator) discardCache() {
	if err := fileutil.DeleteFilesInDir(o.cfg.Paths.ArtDalvikCache); err != nil {
		o.log.WithError(err).Error("Failed to clean host-side code cache")
	}
}

// hostCacheEmpty 报告主机侧缓存中是否没有任何文件
func (o *Orchestrator) hostCacheEmpty() (bool, error) {
	empty := true
	err := filepath.WalkDir(o.cfg.Paths.ArtDalvikCache, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			empty = false
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	return empty, nil
}

func (o *Orchestrator) installLinks() error {
	return artcode.InstallLinks(o.cfg.Paths.ArtDalvikCache, o.cfg.Paths.DataDalvikCache(), artcode.LinkOptions{
		ContainerCacheDir: config.HostDalvikCacheInContainer,
		UID:               rootUID,
		GID:               rootGID,
		Owner:             o.deps.Owner,
		Label: func(path, secctx string) error {
			return o.deps.Labeler.Chcon(secctx, path)
		},
		Log: o.log,
	})
}

// mountHostDalvikCache 把主机侧缓存只读地暴露给容器
func (o *Orchestrator) mountHostDalvikCache(ctx context.Context) error {
	m := o.deps.Mounter
	target := o.cfg.Paths.DalvikCacheMount
	if err := m.UmountIfExists(target); err != nil {
		return err
	}
	if err := o.deps.Owner.InstallDirectory(0755, hostRootUID, hostRootGID, target); err != nil {
		return err
	}
	if err := m.BindMount(o.cfg.Paths.ArtDalvikCache, target); err != nil {
		return err
	}
	return m.Remount(target, unix.MS_BIND|unix.MS_RDONLY|unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC, "")
}

// setUpLoginScreenCode 登录界面没有用户数据：总是重定位，校验通过后才挂载
func (o *Orchestrator) setUpLoginScreenCode(ctx context.Context) error {
	if err := o.relocateCode(ctx); err != nil {
		return err
	}
	if err := o.verifyCode(); err != nil {
		return err
	}
	return o.mountHostDalvikCache(ctx)
}

// setUpUserCode 按启动类型清理用户缓存，并把用户 dalvik-cache 链接到主机侧缓存。
// 链接失败不致命：清掉用户 dalvik-cache，由容器自己编译。
func (o *Orchestrator) setUpUserCode(ctx context.Context) error {
	res, err := o.classify()
	if err != nil {
		return err
	}
	if err := o.purgeCaches(res.Type, 0); err != nil {
		return err
	}

	empty, err := o.hostCacheEmpty()
	if err != nil {
		return err
	}
	if empty {
		o.ignore("RelocateCode", o.relocateCode(ctx))
	}

	if err := o.installLinks(); err != nil {
		o.log.WithError(err).Error("Failed to install links to host-side code, purging dalvik-cache")
		o.ignore("PurgeDalvikCache", o.purgeCaches(res.Type, boot.PurgeForceDalvikCache))
	}
	return o.mountHostDalvikCache(ctx)
}
