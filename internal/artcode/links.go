package artcode

import (
	"fmt"
	"os"
	"path/filepath"

	arcerrors "arcsetup/pkg/errors"
	"arcsetup/pkg/fileutil"

	"github.com/sirupsen/logrus"
)

// DalvikCacheContext is the security context of /data/dalvik-cache entries.
const DalvikCacheContext = "u:object_r:dalvikcache_data_file:s0"

// LinkOptions configures InstallLinks.
type LinkOptions struct {
	// ContainerCacheDir is where the host-side cache is mounted inside the
	// container. Links to relocated images point below it.
	ContainerCacheDir string
	UID, GID          int
	// Owner assigns ownership. Nil uses the host.
	Owner fileutil.Owner
	// Label applies a security context to path. Nil skips labeling.
	Label func(path, context string) error
	Log   logrus.FieldLogger
}

func (o LinkOptions) label(path string) error {
	if o.Label == nil {
		return nil
	}
	return o.Label(path, DalvikCacheContext)
}

// InstallLinks populates dest (the user's dalvik-cache) with symlinks to
// the host-side cache in src, one subdirectory per isa. Entries of src that
// are themselves symlinks are copied; regular files are linked to their
// location under ContainerCacheDir. Empty isa directories are skipped, but
// a src holding no code at all is ErrEmptyCache.
func InstallLinks(src, dest string, opts LinkOptions) error {
	if err := fileutil.OwnerOr(opts.Owner).InstallDirectory(0771, opts.UID, opts.GID, dest); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read host-side cache: %w", err)
	}

	installed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		isa := e.Name()
		srcISA := filepath.Join(src, isa)
		if empty, err := fileutil.IsDirEmpty(srcISA); err != nil {
			return err
		} else if empty {
			continue
		}
		n, err := installISA(srcISA, filepath.Join(dest, isa), isa, opts)
		if err != nil {
			return fmt.Errorf("install links for %s: %w", isa, err)
		}
		installed += n
	}

	if installed == 0 {
		return fmt.Errorf("%s: %w", src, arcerrors.ErrEmptyCache)
	}
	return nil
}

func installISA(srcISA, destISA, isa string, opts LinkOptions) (int, error) {
	opts.Log.WithField("isa", isa).Infof("Adding symlinks to %s", destISA)

	owner := fileutil.OwnerOr(opts.Owner)
	if err := owner.InstallDirectory(0711, opts.UID, opts.GID, destISA); err != nil {
		return 0, err
	}
	if err := opts.label(destISA); err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(srcISA)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || isIntegrityFile(name) {
			continue
		}

		var target string
		if e.Type()&os.ModeSymlink != 0 {
			// Links into the read-only system image.
			if target, err = os.Readlink(filepath.Join(srcISA, name)); err != nil {
				return n, err
			}
		} else {
			target = filepath.Join(opts.ContainerCacheDir, isa, name)
		}

		destFile := filepath.Join(destISA, name)
		if err := os.Remove(destFile); err != nil && !os.IsNotExist(err) {
			opts.Log.WithError(err).Warnf("Failed to remove %s", destFile)
		}
		if err := os.Symlink(target, destFile); err != nil {
			return n, err
		}
		if err := owner.Chown(opts.UID, opts.GID, destFile); err != nil {
			return n, err
		}
		if err := opts.label(destFile); err != nil {
			return n, err
		}
		opts.Log.Debugf("Created a link to %s", target)
		n++
	}
	return n, nil
}
