// Package boot decides what kind of boot the container is about to perform
// by comparing the build fingerprint of the read-only system image with the
// one recorded in the user's package database.
package boot

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	arcerrors "arcsetup/pkg/errors"
)

// Well-known build property keys.
const (
	PropFingerprint    = "ro.build.fingerprint"
	PropSdkVersion     = "ro.build.version.sdk"
	PropVersionRelease = "ro.build.version.release"
	PropManufacturer   = "ro.product.manufacturer"
	PropModel          = "ro.product.model"
)

// ReadProperties parses a key=value property file. Blank lines and lines
// starting with '#' are skipped. A line without '=' makes the whole file
// invalid.
func ReadProperties(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open property file: %w", err)
	}
	defer f.Close()

	props := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s:%d: missing '=' separator", path, lineNo)
		}
		props[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return props, nil
}

// GetProperty returns one property from path.
func GetProperty(path, key string) (string, error) {
	props, err := ReadProperties(path)
	if err != nil {
		return "", err
	}
	v, ok := props[key]
	if !ok {
		return "", fmt.Errorf("%s in %s: %w", key, path, arcerrors.ErrPropertyNotFound)
	}
	return v, nil
}
