package setup

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vishvananda/netlink"
)

func TestBuildCmdline(t *testing.T) {
	got := BuildCmdline(CmdlineParams{
		DevMode:        true,
		Debuggable:     true,
		LcdDensity:     240,
		UIScale:        125,
		ContainerIPv4:  "100.115.92.2/30",
		GatewayIPv4:    "100.115.92.1",
		NativeBridge:   "libhoudini.so",
		Channel:        "beta",
		BoottimeOffset: 1500 * time.Millisecond,
	})
	want := "androidboot.hardware=cheets androidboot.container=1 androidboot.dev_mode=1 " +
		"androidboot.disable_runas=0 androidboot.vm=0 androidboot.debuggable=1 " +
		"androidboot.lcd_density=240 androidboot.ui_scale=125 androidboot.share_fonts=0 " +
		"androidboot.container_ipv4_address=100.115.92.2/30 androidboot.gateway_ipv4_address=100.115.92.1 " +
		"androidboot.native_bridge=libhoudini.so androidboot.chromeos_channel=beta " +
		"androidboot.boottime_offset=1500000000\n"
	if got != want {
		t.Fatalf("cmdline =\n%q\nwant\n%q", got, want)
	}
}

func TestBuildCmdlineDisablesRunAsOutsideDevMode(t *testing.T) {
	got := BuildCmdline(CmdlineParams{NativeBridge: "0", Channel: "stable"})
	if !strings.Contains(got, "androidboot.dev_mode=0 androidboot.disable_runas=1 ") {
		t.Fatalf("cmdline = %q", got)
	}
}

func TestChromeOSChannel(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{"stable", "CHROMEOS_RELEASE_TRACK=stable-channel\n", "stable", false},
		{"testimage", "CHROMEOS_RELEASE_BOARD=caroline\nCHROMEOS_RELEASE_TRACK=testimage-channel\n", "testimage", false},
		{"unknown track", "CHROMEOS_RELEASE_TRACK=foo-channel\n", "unknown", true},
		{"no track", "CHROMEOS_RELEASE_BOARD=caroline\n", "unknown", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("write: %v", err)
			}
			got, err := ChromeOSChannel(path)
			if got != tt.want || (err != nil) != tt.wantErr {
				t.Fatalf("got (%q, %v), want %q", got, err, tt.want)
			}
		})
	}

	if got, err := ChromeOSChannel(filepath.Join(dir, "missing")); got != "unknown" || err == nil {
		t.Fatalf("missing lsb-release: (%q, %v)", got, err)
	}
}

// javaUTF mirrors DataOutputStream.writeUTF for ASCII strings.
func javaUTF(s string) []byte {
	b := make([]byte, 2, 2+len(s))
	binary.BigEndian.PutUint16(b, uint16(len(s)))
	return append(b, s...)
}

func javaInt(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func TestEncodeIPConfig(t *testing.T) {
	container, err := netlink.ParseAddr("100.115.92.2/30")
	if err != nil {
		t.Fatalf("ParseAddr: %v", err)
	}
	gateway, err := netlink.ParseAddr("100.115.92.1/32")
	if err != nil {
		t.Fatalf("ParseAddr: %v", err)
	}

	got, err := EncodeIPConfig(container, gateway)
	if err != nil {
		t.Fatalf("EncodeIPConfig: %v", err)
	}

	var want bytes.Buffer
	want.Write(javaInt(2))
	want.Write(javaUTF("id"))
	want.Write(javaInt(0))
	want.Write(javaUTF("ipAssignment"))
	want.Write(javaUTF("STATIC"))
	want.Write(javaUTF("linkAddress"))
	want.Write(javaUTF("100.115.92.2"))
	want.Write(javaInt(30))
	want.Write(javaUTF("gateway"))
	want.Write(javaInt(0))
	want.Write(javaInt(1))
	want.Write(javaUTF("100.115.92.1"))
	want.Write(javaUTF("dns"))
	want.Write(javaUTF("8.8.8.8"))
	want.Write(javaUTF("dns"))
	want.Write(javaUTF("8.8.4.4"))
	want.Write(javaUTF("eos"))

	if !bytes.Equal(got, want.Bytes()) {
		t.Fatalf("ipconfig =\n%x\nwant\n%x", got, want.Bytes())
	}
}

func TestEncodeIPConfigRequiresAddresses(t *testing.T) {
	if _, err := EncodeIPConfig(nil, nil); err == nil {
		t.Fatalf("expected error")
	}
}
