//go:build linux
// +build linux

package artcode

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	arcerrors "arcsetup/pkg/errors"

	"github.com/sirupsen/logrus"
)

const containerFramework = "/system/framework"

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// writeBootImage writes a minimal boot image with the given oat checksum.
func writeBootImage(t *testing.T, path string, checksum uint32) {
	t.Helper()
	data := make([]byte, 256)
	copy(data, imageMagic)
	copy(data[4:], "056\x00")
	binary.LittleEndian.PutUint32(data[offImageBegin:], 0x70000000)
	binary.LittleEndian.PutUint32(data[offOatChecksum:], checksum)
	binary.LittleEndian.PutUint32(data[offOatFileBegin:], 0x71000000)
	binary.LittleEndian.PutUint32(data[offOatDataBegin:], 0x71001000)
	binary.LittleEndian.PutUint32(data[offOatDataEnd:], 0x72000000)
	binary.LittleEndian.PutUint32(data[offOatFileEnd:], 0x72001000)
	for i := imageHeaderSize; i < len(data); i++ {
		data[i] = byte(i)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write image: %v", err)
	}
}

// newSystemFramework lays out system/framework/<isa>/{boot.art,boot.oat}.
func newSystemFramework(t *testing.T, isas ...string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "system", "framework")
	for i, isa := range isas {
		writeBootImage(t, filepath.Join(dir, isa, "boot.art"), uint32(0xc0ffee00+i))
		if err := os.WriteFile(filepath.Join(dir, isa, "boot.oat"), []byte("oat"), 0644); err != nil {
			t.Fatalf("write oat: %v", err)
		}
	}
	return dir
}

func newRelocator(t *testing.T, framework string) *Relocator {
	return &Relocator{
		SystemFramework: framework,
		CacheDir:        filepath.Join(t.TempDir(), "dalvik-cache"),
		UID:             os.Getuid(),
		GID:             os.Getgid(),
		Patcher:         ImagePatcher{ContainerFramework: containerFramework},
		Log:             quietLogger(),
	}
}

func TestOffsetSeed(t *testing.T) {
	salt1 := []byte("0123456789abcdef")
	salt2 := []byte("fedcba9876543210")

	s1 := OffsetSeed("build1", salt1)
	if s1 == 0 {
		t.Fatalf("seed is zero")
	}
	if again := OffsetSeed("build1", salt1); again != s1 {
		t.Fatalf("seed not deterministic: %#x != %#x", again, s1)
	}
	if s2 := OffsetSeed("build1", salt2); s2 == s1 {
		t.Errorf("different salts gave the same seed")
	}
	if s3 := OffsetSeed("build2", salt1); s3 == s1 {
		t.Errorf("different fingerprints gave the same seed")
	}
}

func TestOffsetDelta(t *testing.T) {
	seeds := []uint64{0, 1, MaxOffsetDelta, 2*MaxOffsetDelta - 1, 0xdeadbeefcafebabe, OffsetSeed("build1", []byte("salt"))}
	for _, seed := range seeds {
		d := OffsetDelta(seed)
		if d == 0 {
			t.Errorf("OffsetDelta(%#x) = 0", seed)
		}
		if d%pageSize != 0 {
			t.Errorf("OffsetDelta(%#x) = %d, not page aligned", seed, d)
		}
		if d < -MaxOffsetDelta || d >= MaxOffsetDelta {
			t.Errorf("OffsetDelta(%#x) = %d, out of range", seed, d)
		}
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		if fi.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			out[rel] = "-> " + target
			return err
		}
		data, err := os.ReadFile(path)
		out[rel] = string(data)
		return err
	})
	if err != nil {
		t.Fatalf("walk %s: %v", root, err)
	}
	return out
}

func TestRelocateIsDeterministic(t *testing.T) {
	framework := newSystemFramework(t, "x86", "x86_64")
	seed := OffsetSeed("fingerprint", []byte("0123456789abcdef"))

	r1 := newRelocator(t, framework)
	isolated := 0
	r1.Isolate = func() (io.Closer, error) {
		isolated++
		return io.NopCloser(nil), nil
	}
	if err := r1.Relocate(context.Background(), seed); err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if isolated != 2 {
		t.Errorf("isolated %d times, want once per isa", isolated)
	}

	r2 := newRelocator(t, framework)
	if err := r2.Relocate(context.Background(), seed); err != nil {
		t.Fatalf("second Relocate: %v", err)
	}

	first, second := readTree(t, r1.CacheDir), readTree(t, r2.CacheDir)
	if len(first) != 4 {
		t.Fatalf("cache has %d entries, want 4: %v", len(first), first)
	}
	for name, content := range first {
		if second[name] != content {
			t.Errorf("%s differs between runs with the same seed", name)
		}
	}
	if got := first["x86/system@framework@boot.oat"]; got != "-> /system/framework/x86/boot.oat" {
		t.Errorf("oat entry = %q", got)
	}

	r3 := newRelocator(t, framework)
	if err := r3.Relocate(context.Background(), seed+uint64(pageSize)); err != nil {
		t.Fatalf("Relocate with other seed: %v", err)
	}
	if readTree(t, r3.CacheDir)["x86/system@framework@boot.art"] == first["x86/system@framework@boot.art"] {
		t.Errorf("different seeds produced identical images")
	}
}

func TestRelocatePreservesChecksum(t *testing.T) {
	framework := newSystemFramework(t, "x86")
	r := newRelocator(t, framework)
	if err := r.Relocate(context.Background(), 12345); err != nil {
		t.Fatalf("Relocate: %v", err)
	}

	want, err := ImageChecksum(filepath.Join(framework, "x86", "boot.art"))
	if err != nil {
		t.Fatalf("ImageChecksum(system): %v", err)
	}
	got, err := ImageChecksum(filepath.Join(r.CacheDir, "x86", "system@framework@boot.art"))
	if err != nil {
		t.Fatalf("ImageChecksum(cache): %v", err)
	}
	if got != want {
		t.Fatalf("checksum %#x, want %#x", got, want)
	}
}

func TestRelocateFailureDeletesCache(t *testing.T) {
	framework := newSystemFramework(t, "x86", "x86_64")
	// Corrupt the second isa so the first one has already been written.
	if err := os.WriteFile(filepath.Join(framework, "x86_64", "boot.art"), bytes.Repeat([]byte{0xff}, 128), 0644); err != nil {
		t.Fatalf("corrupt image: %v", err)
	}

	r := newRelocator(t, framework)
	if err := r.Relocate(context.Background(), 42); err == nil {
		t.Fatalf("Relocate succeeded on a corrupt image")
	}
	if left := readTree(t, r.CacheDir); len(left) != 0 {
		t.Fatalf("cache not cleaned: %v", left)
	}
}

func TestInstallLinksThenVerify(t *testing.T) {
	framework := newSystemFramework(t, "x86", "x86_64")
	r := newRelocator(t, framework)
	if err := r.Relocate(context.Background(), OffsetSeed("fp", []byte("salt"))); err != nil {
		t.Fatalf("Relocate: %v", err)
	}

	signer, err := NewEd25519Signer(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("NewEd25519Signer: %v", err)
	}
	isas, err := r.ISAs()
	if err != nil {
		t.Fatalf("ISAs: %v", err)
	}
	for _, isa := range isas {
		if err := Sign(r.CacheDir, isa, signer); err != nil {
			t.Fatalf("Sign %s: %v", isa, err)
		}
	}

	dest := filepath.Join(t.TempDir(), "data", "dalvik-cache")
	labeled := 0
	opts := LinkOptions{
		ContainerCacheDir: "/var/run/arc/dalvik-cache",
		UID:               os.Getuid(),
		GID:               os.Getgid(),
		Label: func(path, secctx string) error {
			if secctx != DalvikCacheContext {
				t.Errorf("label %s with %q", path, secctx)
			}
			labeled++
			return nil
		},
		Log: quietLogger(),
	}
	if err := InstallLinks(r.CacheDir, dest, opts); err != nil {
		t.Fatalf("InstallLinks: %v", err)
	}

	links := readTree(t, dest)
	if got := links["x86/system@framework@boot.art"]; got != "-> /var/run/arc/dalvik-cache/x86/system@framework@boot.art" {
		t.Errorf("art link = %q", got)
	}
	if got := links["x86_64/system@framework@boot.oat"]; got != "-> /system/framework/x86_64/boot.oat" {
		t.Errorf("oat link = %q", got)
	}
	if _, ok := links["x86/digests"]; ok {
		t.Errorf("digest metadata was linked")
	}
	// Two isa directories plus two links each.
	if labeled != 6 {
		t.Errorf("labeled %d paths, want 6", labeled)
	}

	for _, isa := range isas {
		if err := Verify(r.CacheDir, framework, isa, signer); err != nil {
			t.Fatalf("Verify %s: %v", isa, err)
		}
	}

	// Flip one byte in the body of a relocated image.
	target := filepath.Join(r.CacheDir, "x86_64", "system@framework@boot.art")
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data[len(data)-1] ^= 0x01
	if err := os.WriteFile(target, data, 0644); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if err := Verify(r.CacheDir, framework, "x86_64", signer); !errors.Is(err, arcerrors.ErrDigestMismatch) {
		t.Fatalf("Verify after tamper: err = %v, want ErrDigestMismatch", err)
	}
	if err := Verify(r.CacheDir, framework, "x86", signer); err != nil {
		t.Fatalf("untouched isa no longer verifies: %v", err)
	}
}

func TestVerifyRejectsOutOfSyncImage(t *testing.T) {
	framework := newSystemFramework(t, "x86")
	r := newRelocator(t, framework)
	if err := r.Relocate(context.Background(), 99); err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if err := Sign(r.CacheDir, "x86", NopSigner{}); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	// A system update replaced the image but the cache was kept.
	writeBootImage(t, filepath.Join(framework, "x86", "boot.art"), 0x12345678)
	if err := Verify(r.CacheDir, framework, "x86", NopSigner{}); !errors.Is(err, arcerrors.ErrChecksumMismatch) {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	framework := newSystemFramework(t, "x86")
	r := newRelocator(t, framework)
	if err := r.Relocate(context.Background(), 7); err != nil {
		t.Fatalf("Relocate: %v", err)
	}

	signer, _ := NewEd25519Signer(bytes.Repeat([]byte{1}, 32))
	other, _ := NewEd25519Signer(bytes.Repeat([]byte{2}, 32))
	if err := Sign(r.CacheDir, "x86", signer); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(r.CacheDir, framework, "x86", other); !errors.Is(err, arcerrors.ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestInstallLinksEmptyCache(t *testing.T) {
	src := t.TempDir()
	for _, isa := range []string{"x86", "x86_64"} {
		if err := os.Mkdir(filepath.Join(src, isa), 0711); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	opts := LinkOptions{UID: os.Getuid(), GID: os.Getgid(), Log: quietLogger()}

	err := InstallLinks(src, filepath.Join(t.TempDir(), "dalvik-cache"), opts)
	if !errors.Is(err, arcerrors.ErrEmptyCache) {
		t.Fatalf("err = %v, want ErrEmptyCache", err)
	}
}

func TestLoadSigner(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadSigner(filepath.Join(dir, "missing.key")); !errors.Is(err, arcerrors.ErrSigningDisabled) {
		t.Fatalf("missing key: err = %v", err)
	}

	keyPath := filepath.Join(dir, "signing.key")
	if err := os.WriteFile(keyPath, []byte("0707070707070707070707070707070707070707070707070707070707070707\n"), 0600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	s, err := LoadSigner(keyPath)
	if err != nil {
		t.Fatalf("LoadSigner: %v", err)
	}
	sig, _ := s.Sign([]byte("msg"))
	if err := s.Verify([]byte("msg"), sig); err != nil {
		t.Fatalf("round trip: %v", err)
	}
}
