package readahead

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"arcsetup/internal/boot"

	"github.com/sirupsen/logrus"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func writeSized(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(strings.Repeat("x", size)), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestPrefetchSelectsFiles(t *testing.T) {
	root := t.TempDir()
	writeSized(t, filepath.Join(root, "system", "app", "A.apk"), 200*1024)
	writeSized(t, filepath.Join(root, "system", "lib", "B.so"), 64)
	writeSized(t, filepath.Join(root, "system", "fonts", "C.ttf"), 0)
	writeSized(t, filepath.Join(root, "system", "etc", "D.bin"), 4096)

	opts := Options{
		MaxBytesPerFile: 128 * 1024,
		AllowList:       map[string]struct{}{"A.apk": {}, "gone.jar": {}},
		Extensions:      []string{".so", ".ttf"},
		Log:             quietLogger(),
	}
	stats, err := Prefetch(context.Background(), root, time.Minute, boot.SdkNMR1, opts)
	if err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	if stats.Files != 2 {
		t.Errorf("Files = %d, want 2", stats.Files)
	}
	if want := int64(128*1024 + 64); stats.Bytes != want {
		t.Errorf("Bytes = %d, want %d", stats.Bytes, want)
	}
	if len(stats.Missing) != 1 || stats.Missing[0] != "gone.jar" {
		t.Errorf("Missing = %v, want [gone.jar]", stats.Missing)
	}
}

func TestPrefetchZeroBudgetReadsLargestFirst(t *testing.T) {
	root := t.TempDir()
	writeSized(t, filepath.Join(root, "small.so"), 10)
	writeSized(t, filepath.Join(root, "large.so"), 1000)

	// The clock advances one second per reading.
	now := time.Unix(0, 0)
	opts := Options{
		AllowList: map[string]struct{}{},
		Log:       quietLogger(),
		Now: func() time.Time {
			now = now.Add(time.Second)
			return now
		},
	}
	stats, err := Prefetch(context.Background(), root, 0, boot.SdkP, opts)
	if err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	if stats.Files != 1 || stats.Bytes != 1000 {
		t.Fatalf("stats = %+v, want only large.so", stats)
	}
}

func TestPrefetchCancelled(t *testing.T) {
	root := t.TempDir()
	writeSized(t, filepath.Join(root, "a.so"), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Prefetch(ctx, root, time.Minute, boot.SdkP, Options{Log: quietLogger()}); err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestAllowListPerSchema(t *testing.T) {
	m := AllowList(boot.SdkM)
	p := AllowList(boot.SdkP)
	if _, ok := m["libdvm.so"]; !ok {
		t.Errorf("M list lacks libdvm.so")
	}
	if _, ok := p["libdvm.so"]; ok {
		t.Errorf("P list has libdvm.so")
	}
	if len(AllowList(boot.SdkQ)) != len(p) {
		t.Errorf("Q list differs from P list")
	}
	if _, ok := p["framework.jar"]; !ok {
		t.Errorf("common entry missing from P list")
	}
}

func TestParseSize(t *testing.T) {
	n, err := ParseSize("128KiB")
	if err != nil || n != 128*1024 {
		t.Fatalf("ParseSize(128KiB) = %d, %v", n, err)
	}
	if _, err := ParseSize("0"); err == nil {
		t.Fatalf("ParseSize(0) succeeded")
	}
}
