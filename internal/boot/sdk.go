package boot

import (
	"fmt"
	"strconv"

	arcerrors "arcsetup/pkg/errors"
)

// SdkVersion is an Android release the container image can carry.
// The zero value means unknown; values are ordered by release.
type SdkVersion int

const (
	SdkUnknown SdkVersion = iota
	SdkM
	SdkNMR1
	SdkP
	SdkQ
)

func (v SdkVersion) String() string {
	switch v {
	case SdkM:
		return "M"
	case SdkNMR1:
		return "N_MR1"
	case SdkP:
		return "P"
	case SdkQ:
		return "Q"
	default:
		return "unknown"
	}
}

// ParseSdkVersion maps an ro.build.version.sdk value to a release.
// API level 28 is shared by P and pre-release Q images, which are told
// apart by ro.build.version.release.
func ParseSdkVersion(sdk, release string) (SdkVersion, error) {
	n, err := strconv.Atoi(sdk)
	if err != nil {
		return SdkUnknown, fmt.Errorf("%q: %w", sdk, arcerrors.ErrUnknownSdkVersion)
	}
	switch n {
	case 23:
		return SdkM, nil
	case 25:
		return SdkNMR1, nil
	case 28:
		if release == "Q" {
			return SdkQ, nil
		}
		return SdkP, nil
	}
	return SdkUnknown, fmt.Errorf("%d: %w", n, arcerrors.ErrUnknownSdkVersion)
}

// SystemSdkVersion reads the release of the system image from build.prop.
func SystemSdkVersion(buildProp string) (SdkVersion, error) {
	props, err := ReadProperties(buildProp)
	if err != nil {
		return SdkUnknown, err
	}
	sdk, ok := props[PropSdkVersion]
	if !ok {
		return SdkUnknown, fmt.Errorf("%s in %s: %w", PropSdkVersion, buildProp, arcerrors.ErrPropertyNotFound)
	}
	return ParseSdkVersion(sdk, props[PropVersionRelease])
}

// ShouldDeleteAndroidData reports whether the user's data directory has to
// be wiped before the container starts: after any downgrade, and after an
// upgrade from M or older straight to P or newer. Unknown data versions
// (first boot) never trigger a wipe.
func ShouldDeleteAndroidData(system, data SdkVersion) bool {
	if data > system {
		return true
	}
	return data > SdkUnknown && data <= SdkM && system >= SdkP
}
