//go:build linux
// +build linux

package fileutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteToFileReplacesSymlink(t *testing.T) {
	dir := t.TempDir()
	victim := filepath.Join(dir, "victim")
	if err := os.WriteFile(victim, []byte("keep"), 0644); err != nil {
		t.Fatalf("write victim: %v", err)
	}
	link := filepath.Join(dir, "cmdline")
	if err := os.Symlink(victim, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	if err := WriteToFile(link, 0644, "androidboot.container=1\n"); err != nil {
		t.Fatalf("WriteToFile: %v", err)
	}

	got, err := os.ReadFile(victim)
	if err != nil {
		t.Fatalf("read victim: %v", err)
	}
	if string(got) != "keep" {
		t.Fatalf("write followed symlink, victim = %q", got)
	}
	fi, err := os.Lstat(link)
	if err != nil {
		t.Fatalf("lstat: %v", err)
	}
	if fi.Mode()&os.ModeSymlink != 0 || fi.Mode().Perm() != 0644 {
		t.Fatalf("unexpected mode %v", fi.Mode())
	}
}

func TestInstallDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "dalvik-cache")
	if err := InstallDirectory(0711, os.Getuid(), os.Getgid(), dir); err != nil {
		t.Fatalf("InstallDirectory: %v", err)
	}
	fi, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if fi.Mode().Perm() != 0711 {
		t.Fatalf("mode = %o, want 711", fi.Mode().Perm())
	}

	// Idempotent on an existing directory.
	if err := InstallDirectory(0755, os.Getuid(), os.Getgid(), dir); err != nil {
		t.Fatalf("InstallDirectory again: %v", err)
	}
}

func TestInstallDirectoryRefusesSymlink(t *testing.T) {
	base := t.TempDir()
	realDir := filepath.Join(base, "real")
	if err := os.Mkdir(realDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	link := filepath.Join(base, "link")
	if err := os.Symlink(realDir, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := InstallDirectory(0700, os.Getuid(), os.Getgid(), link); err == nil {
		t.Fatalf("expected error for symlinked directory")
	}
}

func TestDeleteFilesInDirKeepsDirectories(t *testing.T) {
	dir := t.TempDir()
	isa := filepath.Join(dir, "x86_64")
	if err := os.MkdirAll(isa, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"boot.art", "boot.oat"} {
		if err := os.WriteFile(filepath.Join(isa, name), []byte("x"), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.Symlink("/system/framework/boot.vdex", filepath.Join(isa, "boot.vdex")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	if err := DeleteFilesInDir(dir); err != nil {
		t.Fatalf("DeleteFilesInDir: %v", err)
	}
	empty, err := IsDirEmpty(isa)
	if err != nil {
		t.Fatalf("IsDirEmpty: %v", err)
	}
	if !empty {
		t.Fatalf("files left in %s", isa)
	}

	if err := DeleteFilesInDir(filepath.Join(dir, "missing")); err != nil {
		t.Fatalf("DeleteFilesInDir on missing dir: %v", err)
	}
}

func TestMoveDirIntoDataOldDir(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "dalvik-cache")
	if err := os.MkdirAll(filepath.Join(src, "x86"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	old := filepath.Join(base, "android-data-old")
	// A stray file where the old dir should be gets replaced.
	if err := os.WriteFile(old, nil, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	target, err := MoveDirIntoDataOldDir(src, old)
	if err != nil {
		t.Fatalf("MoveDirIntoDataOldDir: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(target), "dalvik-cache_") {
		t.Fatalf("unexpected target name %q", target)
	}
	if _, err := os.Stat(filepath.Join(target, "x86")); err != nil {
		t.Fatalf("moved contents missing: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("source still present: %v", err)
	}

	target, err = MoveDirIntoDataOldDir(src, old)
	if err != nil || target != "" {
		t.Fatalf("second move = (%q, %v), want no-op", target, err)
	}
}
