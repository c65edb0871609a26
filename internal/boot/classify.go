package boot

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"

	arcerrors "arcsetup/pkg/errors"
)

// Type is the kind of boot derived from the two fingerprints.
type Type int

const (
	Unknown Type = iota
	FirstBoot
	FirstBootAfterUpdate
	RegularBoot
)

func (t Type) String() string {
	switch t {
	case FirstBoot:
		return "first-boot"
	case FirstBootAfterUpdate:
		return "first-boot-after-update"
	case RegularBoot:
		return "regular-boot"
	default:
		return "unknown"
	}
}

// Result is the outcome of Classify.
type Result struct {
	Type              Type
	SystemFingerprint string
	DataFingerprint   string
	// DataSdk is SdkUnknown on first boot or when the database could not
	// be parsed.
	DataSdk SdkVersion
	// DataErr is why the package database could not be used, if it exists
	// but was unreadable or held no usable version entry.
	DataErr error
}

// Classify compares the fingerprint in the system image's build.prop with
// the one recorded in packages.xml.
//
// A missing build.prop fingerprint is an error: the file is part of the
// image. A missing packages.xml is a first boot. A packages.xml that cannot
// be opened or parsed, or holds no internal-storage version entry, is
// treated as an update so the caller invalidates compiled code; the reason
// is kept in Result.DataErr.
func Classify(buildProp, packagesXML string) (Result, error) {
	sysFP, err := GetProperty(buildProp, PropFingerprint)
	if err != nil {
		return Result{}, fmt.Errorf("read system fingerprint: %w", err)
	}
	res := Result{SystemFingerprint: sysFP}

	f, err := os.Open(packagesXML)
	if err != nil {
		if os.IsNotExist(err) {
			res.Type = FirstBoot
			return res, nil
		}
		res.Type = FirstBootAfterUpdate
		res.DataErr = fmt.Errorf("open package database: %w", err)
		return res, nil
	}
	defer f.Close()

	v, err := FindVersion(f)
	if err != nil {
		res.Type = FirstBootAfterUpdate
		res.DataErr = err
		return res, nil
	}

	res.DataFingerprint = v.Fingerprint
	if sdk, err := ParseSdkVersion(v.SdkVersion, ""); err == nil {
		res.DataSdk = sdk
	}
	if v.Fingerprint == sysFP {
		res.Type = RegularBoot
	} else {
		res.Type = FirstBootAfterUpdate
	}
	return res, nil
}

// VersionEntry is the internal-storage <version> element of packages.xml.
type VersionEntry struct {
	SdkVersion      string
	DatabaseVersion string
	Fingerprint     string
}

// FindVersion returns the first <version> element that carries sdkVersion,
// databaseVersion and fingerprint attributes and no volumeUuid attribute.
// Elements for external volumes may appear before it. Parsing stops at the
// first match, so trailing garbage after it is not an error.
func FindVersion(r io.Reader) (VersionEntry, error) {
	d := xml.NewDecoder(r)
	for {
		tok, err := d.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return VersionEntry{}, arcerrors.ErrFingerprintNotFound
			}
			return VersionEntry{}, fmt.Errorf("parse package database: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "version" {
			continue
		}
		if v, ok := internalVersion(se.Attr); ok {
			return v, nil
		}
	}
}

func internalVersion(attrs []xml.Attr) (VersionEntry, bool) {
	var v VersionEntry
	for _, a := range attrs {
		switch a.Name.Local {
		case "volumeUuid":
			return VersionEntry{}, false
		case "sdkVersion":
			v.SdkVersion = a.Value
		case "databaseVersion":
			v.DatabaseVersion = a.Value
		case "fingerprint":
			v.Fingerprint = a.Value
		}
	}
	if v.SdkVersion == "" || v.DatabaseVersion == "" || v.Fingerprint == "" {
		return VersionEntry{}, false
	}
	return v, true
}

// PurgePolicy forces cache purges independent of the boot type.
type PurgePolicy uint8

const (
	// PurgeForceDalvikCache purges /data/dalvik-cache, e.g. after links to
	// host-side code could not be installed.
	PurgeForceDalvikCache PurgePolicy = 1 << iota
	// PurgeForceAppOat purges /data/app/*/oat.
	PurgeForceAppOat
)

// ShouldPurgeCaches reports which compiled-code caches in the user's data
// must be deleted before the container starts. Both are purged on the
// first boot after an update.
func ShouldPurgeCaches(t Type, p PurgePolicy) (dalvikCache, appOat bool) {
	if t == FirstBootAfterUpdate {
		return true, true
	}
	return p&PurgeForceDalvikCache != 0, p&PurgeForceAppOat != 0
}
