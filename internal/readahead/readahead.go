// Package readahead warms the page cache with the container rootfs files
// that Android touches first while booting.
package readahead

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"arcsetup/internal/boot"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
)

// DefaultMaxBytesPerFile caps how much of a single file is read.
const DefaultMaxBytesPerFile = 128 * units.KiB

// Options tunes Prefetch. Zero values select the defaults.
type Options struct {
	MaxBytesPerFile int64
	// AllowList overrides the built-in list for the schema.
	AllowList  map[string]struct{}
	Extensions []string
	Log        logrus.FieldLogger
	// Now is the clock used for the time budget.
	Now func() time.Time
}

// Stats reports what Prefetch did.
type Stats struct {
	Files int
	Bytes int64
	// Missing lists allow-listed names never seen under root.
	Missing []string
}

type candidate struct {
	path string
	size int64
}

// ParseSize parses a human readable size such as "128KiB".
func ParseSize(s string) (int64, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("size must be positive: %q", s)
	}
	return n, nil
}

// Prefetch walks root and reads the heads of interesting files, largest
// first. The budget is checked after each file, so at least one file is
// read even with a zero budget. Running out of budget is not an error.
func Prefetch(ctx context.Context, root string, budget time.Duration, schema boot.SdkVersion, opts Options) (Stats, error) {
	if opts.MaxBytesPerFile <= 0 {
		opts.MaxBytesPerFile = DefaultMaxBytesPerFile
	}
	if opts.AllowList == nil {
		opts.AllowList = AllowList(schema)
	}
	if opts.Extensions == nil {
		opts.Extensions = Extensions
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	log := opts.Log
	start := opts.Now()

	seen := make(map[string]bool, len(opts.AllowList))
	var files []candidate
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.WithError(err).Debugf("Skipping %s", path)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		name := d.Name()
		_, listed := opts.AllowList[name]
		if listed {
			seen[name] = true
		}
		if !listed && !hasExtension(name, opts.Extensions) {
			return nil
		}
		fi, err := d.Info()
		if err != nil || fi.Size() == 0 {
			return nil
		}
		files = append(files, candidate{path: path, size: fi.Size()})
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("walk %s: %w", root, err)
	}

	var stats Stats
	for name := range opts.AllowList {
		if !seen[name] {
			stats.Missing = append(stats.Missing, name)
		}
	}
	sort.Strings(stats.Missing)
	for _, name := range stats.Missing {
		log.Warnf("%s is in the prefetch list but not in %s", name, root)
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].size != files[j].size {
			return files[i].size > files[j].size
		}
		return files[i].path < files[j].path
	})

	for _, c := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n, err := prefetchFile(c.path, opts.MaxBytesPerFile)
		if err != nil {
			log.WithError(err).Debugf("Failed to prefetch %s", c.path)
		} else {
			stats.Files++
			stats.Bytes += n
		}
		if opts.Now().Sub(start) >= budget {
			log.Infof("Prefetch budget of %s exhausted", budget)
			break
		}
	}

	log.WithFields(logrus.Fields{
		"files": stats.Files,
		"bytes": units.HumanSize(float64(stats.Bytes)),
		"took":  opts.Now().Sub(start).Round(time.Millisecond),
	}).Info("Prefetched rootfs")
	return stats, nil
}

func hasExtension(name string, exts []string) bool {
	for _, ext := range exts {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func prefetchFile(path string, max int64) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	adviseWillNeed(f, max)
	return io.Copy(io.Discard, io.LimitReader(f, max))
}
