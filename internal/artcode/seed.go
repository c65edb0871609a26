// Package artcode generates host-side relocated copies of the container's
// boot images, links them into the user's dalvik-cache and protects them
// with a per-architecture digest chain.
package artcode

import (
	"crypto/sha256"
	"encoding/binary"
)

const (
	pageSize = 4096

	// MaxOffsetDelta bounds the relocation delta in both directions.
	MaxOffsetDelta = 16 << 20
)

// OffsetSeed derives the relocation seed from the image build fingerprint
// and the per-machine salt. The same inputs always give the same seed; the
// result is never zero.
func OffsetSeed(fingerprint string, salt []byte) uint64 {
	var input []byte
	for {
		input = append(input, fingerprint...)
		input = append(input, salt...)
		sum := sha256.Sum256(input)
		if seed := binary.LittleEndian.Uint64(sum[:8]); seed != 0 {
			return seed
		}
	}
}

// OffsetDelta maps a seed to a page-aligned, non-zero delta in
// [-MaxOffsetDelta, MaxOffsetDelta).
func OffsetDelta(seed uint64) int64 {
	d := int64(seed%(2*MaxOffsetDelta)) - MaxOffsetDelta
	d -= d % pageSize
	if d == 0 {
		d = pageSize
	}
	return d
}
