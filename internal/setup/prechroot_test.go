//go:build linux
// +build linux

package setup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"arcsetup/internal/config"
	arcerrors "arcsetup/pkg/errors"
)

// containerState lays out a run_oci container root whose rootfs link
// points at a fresh directory, and returns the state document and rootfs.
func containerState(t *testing.T, pid int) (string, string) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "containers", "android")
	rootfs := filepath.Join(dir, "rootfs")
	if err := os.MkdirAll(filepath.Join(root, "mountpoints"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(rootfs, "dev"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(rootfs, filepath.Join(root, "mountpoints", "container-root")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	state := fmt.Sprintf(`{"ociVersion":"1.0.0","id":"android-container","status":"created","pid":%d,`+
		`"bundle":%q,"annotations":{%q:%q}}`, pid, root, ContainerRootAnnotation, root)
	return state, rootfs
}

func TestReadContainerState(t *testing.T) {
	state, rootfs := containerState(t, 1234)
	pid, got, err := ReadContainerState(strings.NewReader(state))
	if err != nil {
		t.Fatalf("ReadContainerState: %v", err)
	}
	if pid != 1234 || got != rootfs {
		t.Fatalf("got (%d, %s), want (1234, %s)", pid, got, rootfs)
	}
}

func TestReadContainerStateRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		state string
		want  error
	}{
		{"zero pid", `{"ociVersion":"1.0.0","id":"a","status":"created","pid":0,"annotations":{}}`, arcerrors.ErrInvalidPID},
		{"negative pid", `{"ociVersion":"1.0.0","id":"a","status":"created","pid":-5}`, arcerrors.ErrInvalidPID},
		{"no container root", `{"ociVersion":"1.0.0","id":"a","status":"created","pid":12,"annotations":{"x":"y"}}`, arcerrors.ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ReadContainerState(strings.NewReader(tt.state)); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, _, err := ReadContainerState(strings.NewReader("{")); err == nil {
		t.Fatalf("truncated JSON accepted")
	}
}

func TestPreChroot(t *testing.T) {
	state, rootfs := containerState(t, 1234)
	h := newHarness(t)
	h.stdin = strings.NewReader(state)
	p := h.paths(config.ModePreChroot)
	writeFile(t, filepath.Join(p.AndroidRootfs, "vendor", "lib", "libhoudini.so"), "")

	if err := h.run(config.ModePreChroot); err != nil {
		t.Fatalf("PreChroot: %v", err)
	}

	if len(h.entered) != 1 || h.entered[0] != 1234 {
		t.Fatalf("entered namespaces = %v", h.entered)
	}
	e, ok := h.mounter.Lookup(filepath.Join(rootfs, "system", "lib", "arm"))
	if !ok || e.Source != filepath.Join(rootfs, "vendor", "lib", "arm") {
		t.Fatalf("houdini bind = %+v, %v", e, ok)
	}

	if len(h.labeler.restorecon) != 2 {
		t.Fatalf("restorecon calls = %+v", h.labeler.restorecon)
	}
	rec, flat := h.labeler.restorecon[0], h.labeler.restorecon[1]
	if !rec.recursive || len(rec.paths) != len(preChrootRestoreconDirs) || rec.paths[0] != filepath.Join(rootfs, "dev") {
		t.Errorf("recursive restorecon = %+v", rec)
	}
	if flat.recursive || len(flat.paths) != len(preChrootRestoreconPaths) {
		t.Errorf("restorecon = %+v", flat)
	}

	done := filepath.Join(rootfs, "dev", ".coldboot_done")
	fi, err := os.Stat(done)
	if err != nil || fi.Mode().Perm() != 0755 {
		t.Fatalf("coldboot marker = %v, %v", fi, err)
	}
	if o, _ := h.owner.owner(done); o != (ownership{rootUID, rootGID}) {
		t.Fatalf("coldboot marker owner = %+v", o)
	}
}

func TestPreChrootWithoutHoudiniSkipsBind(t *testing.T) {
	state, _ := containerState(t, 99)
	h := newHarness(t)
	h.stdin = strings.NewReader(state)

	if err := h.run(config.ModePreChroot); err != nil {
		t.Fatalf("PreChroot: %v", err)
	}
	mustNotMount(t, h.mounter)
}

func TestPreChrootRejectsInvalidState(t *testing.T) {
	h := newHarness(t)
	h.stdin = strings.NewReader(`{"ociVersion":"1.0.0","id":"a","status":"created","pid":0}`)

	if err := h.run(config.ModePreChroot); !errors.Is(err, arcerrors.ErrInvalidPID) {
		t.Fatalf("err = %v, want ErrInvalidPID", err)
	}
	if len(h.entered) != 0 {
		t.Fatalf("entered a namespace for an invalid state")
	}
}
