// Package mounttest provides an in-memory Mounter for tests.
package mounttest

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"arcsetup/internal/mount"
	arcerrors "arcsetup/pkg/errors"
)

// Entry describes one active mount.
type Entry struct {
	Source string
	FSType string
	Flags  uintptr
	Data   string
	Loop   bool
}

// FakeMounter tracks the mount table in memory. Unmounting a target that
// is not mounted behaves like the kernel: EINVAL.
type FakeMounter struct {
	mu     sync.Mutex
	active map[string]Entry
	calls  []string
	fail   map[string]error
}

var _ mount.Mounter = (*FakeMounter)(nil)

// New returns an empty FakeMounter.
func New() *FakeMounter {
	return &FakeMounter{active: map[string]Entry{}, fail: map[string]error{}}
}

// FailOn makes the next op ("mount", "bind", "loop", "umount", ...) on
// target return err.
func (f *FakeMounter) FailOn(op, target string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op+" "+filepath.Clean(target)] = err
}

func (f *FakeMounter) record(op, target string) (string, error) {
	target = filepath.Clean(target)
	key := op + " " + target
	f.calls = append(f.calls, key)
	if err, ok := f.fail[key]; ok {
		delete(f.fail, key)
		return target, err
	}
	return target, nil
}

func (f *FakeMounter) Mount(source, target, fstype string, flags uintptr, data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, err := f.record("mount", target)
	if err != nil {
		return err
	}
	f.active[target] = Entry{Source: source, FSType: fstype, Flags: flags, Data: data}
	return nil
}

func (f *FakeMounter) Remount(target string, flags uintptr, data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, err := f.record("remount", target)
	if err != nil {
		return err
	}
	if e, ok := f.active[target]; ok {
		e.Flags, e.Data = flags, data
		f.active[target] = e
	}
	return nil
}

func (f *FakeMounter) BindMount(source, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, err := f.record("bind", target)
	if err != nil {
		return err
	}
	f.active[target] = Entry{Source: source}
	return nil
}

func (f *FakeMounter) SharedMount(target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.record("shared", target)
	return err
}

func (f *FakeMounter) Umount(target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, err := f.record("umount", target)
	if err != nil {
		return err
	}
	if _, ok := f.active[target]; !ok {
		return fmt.Errorf("umount %s: %w", target, syscall.EINVAL)
	}
	delete(f.active, target)
	return nil
}

func (f *FakeMounter) UmountIfExists(target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, err := f.record("umount", target)
	if err != nil {
		return err
	}
	delete(f.active, target)
	return nil
}

func (f *FakeMounter) LazyUmount(target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, err := f.record("lazy-umount", target)
	if err != nil {
		return err
	}
	delete(f.active, target)
	return nil
}

func (f *FakeMounter) LoopMount(source, target string, flags uintptr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, err := f.record("loop", target)
	if err != nil {
		return err
	}
	f.active[target] = Entry{Source: source, FSType: "squashfs", Flags: flags, Loop: true}
	return nil
}

func (f *FakeMounter) LoopUmount(target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, err := f.record("loop-umount", target)
	if err != nil {
		return err
	}
	if e, ok := f.active[target]; !ok || !e.Loop {
		return fmt.Errorf("%s: %w", target, arcerrors.ErrNotLoopMount)
	}
	delete(f.active, target)
	return nil
}

func (f *FakeMounter) LoopUmountIfExists(target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, err := f.record("loop-umount", target)
	if err != nil {
		return err
	}
	if e, ok := f.active[target]; ok && e.Loop {
		delete(f.active, target)
	}
	return nil
}

// IsMounted reports whether target is in the mount table.
func (f *FakeMounter) IsMounted(target string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.active[filepath.Clean(target)]
	return ok
}

// Lookup returns the entry mounted on target.
func (f *FakeMounter) Lookup(target string) (Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.active[filepath.Clean(target)]
	return e, ok
}

// Mounts returns the sorted list of active mount points.
func (f *FakeMounter) Mounts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.active))
	for t := range f.active {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Calls returns every operation issued so far as "op target".
func (f *FakeMounter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
