package artcode

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"arcsetup/pkg/fileutil"

	"github.com/sirupsen/logrus"
)

// Patcher produces the relocated boot images of one instruction set.
// srcDir is system/framework/<isa> of the read-only image; dstDir is the
// host-side cache directory for the same isa.
type Patcher interface {
	Patch(ctx context.Context, isa, srcDir, dstDir string, delta int64) error
}

// ImagePatcher relocates boot images by rewriting their header addresses.
// Compiled oat files are not copied; a symlink to the read-only system copy
// as seen from inside the container takes their place.
type ImagePatcher struct {
	// ContainerFramework is system/framework as seen inside the container.
	ContainerFramework string
}

func (p ImagePatcher) Patch(ctx context.Context, isa, srcDir, dstDir string, delta int64) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("read %s: %w", srcDir, err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := e.Name()
		dst := filepath.Join(dstDir, cacheFilePrefix+name)

		switch {
		case strings.HasSuffix(name, imageFileSuffix):
			data, err := os.ReadFile(filepath.Join(srcDir, name))
			if err != nil {
				return err
			}
			out, err := relocateImage(data, delta)
			if err != nil {
				return fmt.Errorf("relocate %s: %w", name, err)
			}
			if err := fileutil.AtomicWriteFile(dst, out, 0644); err != nil {
				return err
			}
		case strings.HasSuffix(name, oatFileSuffix):
			_ = os.Remove(dst)
			if err := os.Symlink(filepath.Join(p.ContainerFramework, isa, name), dst); err != nil {
				return fmt.Errorf("link %s: %w", name, err)
			}
		}
	}
	return nil
}

// Relocator generates the host-side code cache from the system image.
type Relocator struct {
	// SystemFramework is <rootfs>/system/framework on the host.
	SystemFramework string
	// CacheDir is the host-side dalvik-cache; one subdirectory per isa.
	CacheDir string
	UID, GID int
	// Owner assigns ownership of the isa directories. Nil uses the host.
	Owner   fileutil.Owner
	Patcher Patcher
	// Isolate switches into a private mount namespace for the duration of
	// one isa's relocation. Nil runs in the current namespace.
	Isolate func() (io.Closer, error)
	Log     logrus.FieldLogger
}

// ISAs returns the instruction sets the system image ships boot images for.
func (r *Relocator) ISAs() ([]string, error) {
	entries, err := os.ReadDir(r.SystemFramework)
	if err != nil {
		return nil, err
	}
	var isas []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		matches, _ := filepath.Glob(filepath.Join(r.SystemFramework, e.Name(), "*"+imageFileSuffix))
		if len(matches) > 0 {
			isas = append(isas, e.Name())
		}
	}
	sort.Strings(isas)
	return isas, nil
}

// Relocate regenerates the cache for every isa using the delta derived
// from seed. If any isa fails, the files in the cache are deleted so that
// a half-relocated cache is never linked into the container.
func (r *Relocator) Relocate(ctx context.Context, seed uint64) error {
	delta := OffsetDelta(seed)
	if err := r.relocate(ctx, delta); err != nil {
		r.Log.WithError(err).Warnf("Relocation failed, deleting files in %s", r.CacheDir)
		if derr := fileutil.DeleteFilesInDir(r.CacheDir); derr != nil {
			r.Log.WithError(derr).Error("Failed to clean host-side code cache")
		}
		return err
	}
	return nil
}

func (r *Relocator) relocate(ctx context.Context, delta int64) error {
	isas, err := r.ISAs()
	if err != nil {
		return fmt.Errorf("list instruction sets: %w", err)
	}
	if len(isas) == 0 {
		return fmt.Errorf("no boot images under %s", r.SystemFramework)
	}

	for _, isa := range isas {
		log := r.Log.WithFields(logrus.Fields{"isa": isa, "delta": delta})
		log.Info("Relocating boot images")
		if err := r.relocateISA(ctx, isa, delta); err != nil {
			return fmt.Errorf("relocate %s: %w", isa, err)
		}
	}
	return nil
}

func (r *Relocator) relocateISA(ctx context.Context, isa string, delta int64) error {
	dst := filepath.Join(r.CacheDir, isa)
	if err := fileutil.OwnerOr(r.Owner).InstallDirectory(0711, r.UID, r.GID, dst); err != nil {
		return err
	}

	if r.Isolate != nil {
		ns, err := r.Isolate()
		if err != nil {
			return err
		}
		defer ns.Close()
	}
	return r.Patcher.Patch(ctx, isa, filepath.Join(r.SystemFramework, isa), dst, delta)
}
