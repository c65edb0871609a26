package artcode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Boot image header layout. All fields are little-endian 32-bit words.
const (
	imageMagic = "art\n"

	offImageBegin   = 8
	offOatChecksum  = 16
	offOatFileBegin = 20
	offOatDataBegin = 24
	offOatDataEnd   = 28
	offOatFileEnd   = 32
	offPatchDelta   = 52
	imageHeaderSize = 56
)

const (
	cacheFilePrefix  = "system@framework@"
	imageFileSuffix  = ".art"
	oatFileSuffix    = ".oat"
	digestsFile      = "digests"
	digestsSignature = "digests.sig"
)

// relocatedFields are the absolute addresses moved by a relocation.
var relocatedFields = []int{offImageBegin, offOatFileBegin, offOatDataBegin, offOatDataEnd, offOatFileEnd}

func checkImageHeader(data []byte) error {
	if len(data) < imageHeaderSize {
		return fmt.Errorf("image too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:4], []byte(imageMagic)) {
		return fmt.Errorf("bad image magic %q", data[:4])
	}
	return nil
}

// relocateImage returns a copy of a boot image moved by delta bytes.
func relocateImage(data []byte, delta int64) ([]byte, error) {
	if err := checkImageHeader(data); err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	copy(out, data)
	for _, off := range relocatedFields {
		v := binary.LittleEndian.Uint32(out[off:])
		binary.LittleEndian.PutUint32(out[off:], uint32(int64(v)+delta))
	}
	pd := int32(binary.LittleEndian.Uint32(out[offPatchDelta:]))
	binary.LittleEndian.PutUint32(out[offPatchDelta:], uint32(pd+int32(delta)))
	return out, nil
}

// ImageChecksum returns the oat checksum recorded in a boot image header.
// Relocation preserves it, so it ties a relocated image to its system copy.
func ImageChecksum(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	hdr := make([]byte, imageHeaderSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		return 0, fmt.Errorf("read image header of %s: %w", path, err)
	}
	if err := checkImageHeader(hdr); err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return binary.LittleEndian.Uint32(hdr[offOatChecksum:]), nil
}

// systemName maps a dalvik-cache file name back to its name under
// system/framework/<isa>.
func systemName(cacheName string) string {
	if len(cacheName) > len(cacheFilePrefix) && cacheName[:len(cacheFilePrefix)] == cacheFilePrefix {
		return cacheName[len(cacheFilePrefix):]
	}
	return cacheName
}

// isIntegrityFile reports whether name is digest chain metadata rather
// than compiled code.
func isIntegrityFile(name string) bool {
	return name == digestsFile || name == digestsSignature
}
