//go:build linux
// +build linux

package setup

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"arcsetup/internal/artcode"
	"arcsetup/internal/config"
	"arcsetup/internal/mount/mounttest"
	"arcsetup/pkg/envutil"

	"github.com/sirupsen/logrus"
)

const (
	testFingerprint = "google/caroline/caroline_cheets:9/R70-11021.56.0/5052142:user/release-keys"
	testBootTime    = 42 * time.Second
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type ownership struct{ uid, gid int }

// fakeOwner creates directories as the current user and records the
// ownership the code asked for.
type fakeOwner struct {
	mu     sync.Mutex
	owners map[string]ownership
}

func newFakeOwner() *fakeOwner {
	return &fakeOwner{owners: map[string]ownership{}}
}

func (f *fakeOwner) InstallDirectory(mode os.FileMode, uid, gid int, path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return err
	}
	if err := os.Chmod(path, mode.Perm()|mode&(os.ModeSticky|os.ModeSetgid|os.ModeSetuid)); err != nil {
		return err
	}
	f.set(path, uid, gid)
	return nil
}

func (f *fakeOwner) Chown(uid, gid int, path string) error {
	if _, err := os.Lstat(path); err != nil {
		return err
	}
	f.set(path, uid, gid)
	return nil
}

func (f *fakeOwner) set(path string, uid, gid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owners[filepath.Clean(path)] = ownership{uid, gid}
}

func (f *fakeOwner) owner(path string) (ownership, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.owners[filepath.Clean(path)]
	return o, ok
}

type restoreconCall struct {
	recursive bool
	paths     []string
}

type fakeLabeler struct {
	mu         sync.Mutex
	labels     map[string]string
	restorecon []restoreconCall
}

func newFakeLabeler() *fakeLabeler {
	return &fakeLabeler{labels: map[string]string{}}
}

func (f *fakeLabeler) Chcon(secctx string, paths ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		f.labels[filepath.Clean(p)] = secctx
	}
	return nil
}

func (f *fakeLabeler) Restorecon(ctx context.Context, recursive bool, paths ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restorecon = append(f.restorecon, restoreconCall{recursive, append([]string(nil), paths...)})
	return nil
}

// fakeLauncher records argv and fails commands listed in fail.
type fakeLauncher struct {
	mu    sync.Mutex
	calls [][]string
	fail  map[string]error
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{fail: map[string]error{}}
}

func (f *fakeLauncher) LaunchAndWait(ctx context.Context, argv ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), argv...))
	return f.fail[argv[0]]
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// harness is a fake host: a temporary root, an in-memory mount table and
// recording collaborators.
type harness struct {
	t        *testing.T
	root     string
	env      []string
	mounter  *mounttest.FakeMounter
	owner    *fakeOwner
	labeler  *fakeLabeler
	launcher *fakeLauncher
	entered  []int
	signer   artcode.Signer
	stdin    io.Reader
	arch     string
	timeout  time.Duration
}

func newHarness(t *testing.T, env ...string) *harness {
	t.Helper()
	h := &harness{
		t:    t,
		root: t.TempDir(),
		env: append([]string{
			envutil.AndroidDataDir + "=/home/root/0123/android-data",
			envutil.AndroidDataOldDir + "=/home/root/0123/android-data-old",
		}, env...),
		mounter:  mounttest.New(),
		owner:    newFakeOwner(),
		labeler:  newFakeLabeler(),
		launcher: newFakeLauncher(),
		stdin:    strings.NewReader(""),
		arch:     "aarch64",
		timeout:  time.Second,
	}

	paths := h.paths(config.ModeSetup)
	writeFile(t, paths.SystemBuildProp(), strings.Join([]string{
		"ro.build.fingerprint=" + testFingerprint,
		"ro.build.version.sdk=28",
		"ro.product.manufacturer=Google",
		"ro.product.model=Caroline",
	}, "\n")+"\n")
	writeBootImage(t, filepath.Join(paths.SystemFramework(), "x86_64", "boot.art"), 0xc0ffee00)
	writeFile(t, filepath.Join(paths.SystemFramework(), "x86_64", "boot.oat"), "oat")
	writeFile(t, paths.RtLimitsCgroupFile, "950000\n")
	return h
}

func (h *harness) paths(mode config.Mode) config.Paths {
	h.t.Helper()
	p, err := config.NewPaths(mode, envutil.FromList(h.env), h.root)
	if err != nil {
		h.t.Fatalf("NewPaths: %v", err)
	}
	return p
}

func (h *harness) orchestrator(mode config.Mode) *Orchestrator {
	h.t.Helper()
	env, err := config.LoadEnv(mode, envutil.FromList(h.env))
	if err != nil {
		h.t.Fatalf("LoadEnv: %v", err)
	}
	return New(Config{
		Mode:            mode,
		Paths:           h.paths(mode),
		Env:             env,
		RtLimitsTimeout: h.timeout,
	}, Deps{
		Mounter:  h.mounter,
		Owner:    h.owner,
		Labeler:  h.labeler,
		Launcher: h.launcher,
		EnterNamespace: func(pid int) (io.Closer, error) {
			h.entered = append(h.entered, pid)
			return nopCloser{}, nil
		},
		Isolate:  func() (io.Closer, error) { return nopCloser{}, nil },
		Signer:   h.signer,
		Stdin:    h.stdin,
		Log:      quietLogger(),
		Arch:     h.arch,
		BootTime: func() (time.Duration, error) { return testBootTime, nil },
	})
}

func (h *harness) run(mode config.Mode) error {
	return h.orchestrator(mode).Run(context.Background())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

// writeBootImage writes a boot image with a valid header.
func writeBootImage(t *testing.T, path string, checksum uint32) {
	t.Helper()
	data := make([]byte, 128)
	copy(data, "art\n056\x00")
	binary.LittleEndian.PutUint32(data[8:], 0x70000000)
	binary.LittleEndian.PutUint32(data[16:], checksum)
	binary.LittleEndian.PutUint32(data[20:], 0x71000000)
	binary.LittleEndian.PutUint32(data[24:], 0x71001000)
	binary.LittleEndian.PutUint32(data[28:], 0x72000000)
	binary.LittleEndian.PutUint32(data[32:], 0x72001000)
	writeFile(t, path, string(data))
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			n++
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("walk %s: %v", dir, err)
	}
	return n
}

func mustNotMount(t *testing.T, m *mounttest.FakeMounter) {
	t.Helper()
	if mounts := m.Mounts(); len(mounts) != 0 {
		t.Fatalf("mount points left behind:\n%s", strings.Join(mounts, "\n"))
	}
}
