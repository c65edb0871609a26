package mount

import (
	"fmt"
)

// ScopedMount owns one mount point. Close undoes it: a lazy unmount for
// regular and bind mounts, a loop unmount for loop mounts. Close is safe
// to call more than once. A ScopedMount must not outlive its Mounter.
type ScopedMount struct {
	mounter Mounter
	target  string
	loop    bool
	closed  bool
}

// NewScopedMount mounts source on target and returns a guard for it.
func NewScopedMount(m Mounter, source, target, fstype string, flags uintptr, data string) (*ScopedMount, error) {
	if err := m.Mount(source, target, fstype, flags, data); err != nil {
		return nil, err
	}
	return &ScopedMount{mounter: m, target: target}, nil
}

// NewScopedBindMount bind-mounts source on target and returns a guard for it.
func NewScopedBindMount(m Mounter, source, target string) (*ScopedMount, error) {
	if err := m.BindMount(source, target); err != nil {
		return nil, err
	}
	return &ScopedMount{mounter: m, target: target}, nil
}

// NewScopedLoopMount loop-mounts source on target and returns a guard for it.
func NewScopedLoopMount(m Mounter, source, target string, flags uintptr) (*ScopedMount, error) {
	if err := m.LoopMount(source, target, flags); err != nil {
		return nil, err
	}
	return &ScopedMount{mounter: m, target: target, loop: true}, nil
}

// Target returns the mount point.
func (s *ScopedMount) Target() string {
	return s.target
}

// Close unmounts the target.
func (s *ScopedMount) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.loop {
		err = s.mounter.LoopUmount(s.target)
	} else {
		err = s.mounter.LazyUmount(s.target)
	}
	if err != nil {
		return fmt.Errorf("release scoped mount %s: %w", s.target, err)
	}
	return nil
}
