// Package envutil provides utilities for environment variable handling.
//
// This package centralizes the names of the environment variables that the
// session manager passes to arc-setup, and the typed lookups used to read
// them. Boolean variables are "1" or "0" like every other Upstart job input.
package envutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	arcerrors "arcsetup/pkg/errors"
)

// Environment variable names consumed by arc-setup.
const (
	// AndroidDataDir is the user's real android-data directory.
	AndroidDataDir = "ANDROID_DATA_DIR"

	// AndroidDataOldDir receives data moved out of the way on upgrade or purge.
	AndroidDataOldDir = "ANDROID_DATA_OLD_DIR"

	DevMode                = "CHROMEOS_DEV_MODE"
	InsideVM               = "CHROMEOS_INSIDE_VM"
	Debuggable             = "ANDROID_DEBUGGABLE"
	LcdDensity             = "ARC_LCD_DENSITY"
	UIScale                = "ARC_UI_SCALE"
	ContainerIPv4Address   = "ARC_CONTAINER_IPV4_ADDRESS"
	GatewayIPv4Address     = "ARC_GATEWAY_IPV4_ADDRESS"
	DisableBootCompleted   = "DISABLE_BOOT_COMPLETED_BROADCAST"
	EnableVendorPrivileged = "ENABLE_VENDOR_PRIVILEGED"
	ShareFonts             = "SHARE_FONTS"
	WritableMount          = "WRITABLE_MOUNT"
	NativeBridgeExperiment = "NATIVE_BRIDGE_EXPERIMENT"
	ChromeOSUser           = "CHROMEOS_USER"
	ContainerPID           = "CONTAINER_PID"

	// MasterContainer marks the login-screen container that later becomes
	// the user's container.
	MasterContainer = "IS_MASTER_CONTAINER"
)

// Lookup abstracts os.LookupEnv so callers can inject a fixed environment.
type Lookup func(key string) (string, bool)

// OSLookup reads the process environment.
var OSLookup Lookup = os.LookupEnv

// FromList builds a Lookup over a KEY=VALUE list.
func FromList(env []string) Lookup {
	return func(key string) (string, bool) {
		prefix := key + "="
		for _, e := range env {
			if strings.HasPrefix(e, prefix) {
				return strings.TrimPrefix(e, prefix), true
			}
		}
		return "", false
	}
}

// String returns the value of key, or ErrMissingEnv.
func (l Lookup) String(key string) (string, error) {
	v, ok := l(key)
	if !ok {
		return "", fmt.Errorf("%s: %w", key, arcerrors.ErrMissingEnv)
	}
	return v, nil
}

// StringOr returns the value of key, or def when unset.
func (l Lookup) StringOr(key, def string) string {
	if v, ok := l(key); ok {
		return v
	}
	return def
}

// Bool parses "1"/"0" (and anything strconv.ParseBool accepts).
func (l Lookup) Bool(key string) (bool, error) {
	v, err := l.String(key)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("%s=%q: %w", key, v, arcerrors.ErrInvalidEnv)
	}
	return b, nil
}

// BoolOr is Bool with a default for unset or malformed values.
func (l Lookup) BoolOr(key string, def bool) bool {
	b, err := l.Bool(key)
	if err != nil {
		return def
	}
	return b
}

// Int parses a base-10 integer value.
func (l Lookup) Int(key string) (int, error) {
	v, err := l.String(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s=%q: %w", key, v, arcerrors.ErrInvalidEnv)
	}
	return n, nil
}

// IntOr is Int with a default for unset or malformed values.
func (l Lookup) IntOr(key string, def int) int {
	n, err := l.Int(key)
	if err != nil {
		return def
	}
	return n
}
