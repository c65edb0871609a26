package readahead

import "arcsetup/internal/boot"

// Extensions are read up to the per-file cap even when the file name is
// not in the allow-list.
var Extensions = []string{".apk", ".art", ".jar", ".oat", ".odex", ".so", ".ttf", ".vdex"}

var commonFiles = []string{
	"app_process32",
	"boot.art",
	"boot.oat",
	"core-libart.jar",
	"framework-res.apk",
	"framework.jar",
	"libandroid_runtime.so",
	"libart.so",
	"libc++.so",
	"libc.so",
	"libhwui.so",
	"libskia.so",
	"linker",
	"services.jar",
}

var schemaFiles = map[boot.SdkVersion][]string{
	boot.SdkM: {
		"core-junit.jar",
		"libdvm.so",
	},
	boot.SdkNMR1: {
		"core-oj.jar",
		"libopenjdk.so",
	},
	boot.SdkP: {
		"boot-framework.art",
		"core-oj.jar",
		"libopenjdk.so",
		"services.vdex",
	},
}

// AllowList returns the names prefetched in full for an image release.
// Q images share the P layout.
func AllowList(schema boot.SdkVersion) map[string]struct{} {
	if schema == boot.SdkQ {
		schema = boot.SdkP
	}
	out := make(map[string]struct{}, len(commonFiles)+len(schemaFiles[schema]))
	for _, n := range commonFiles {
		out[n] = struct{}{}
	}
	for _, n := range schemaFiles[schema] {
		out[n] = struct{}{}
	}
	return out
}
