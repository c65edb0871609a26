// Package idutil provides utilities for the identifiers arc-setup derives
// for the container.
//
// Identifiers here are derived, never random: the same user on the same
// machine always gets the same value, so nothing has to be persisted.
package idutil

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// SerialNumberLength is the maximum hardware ID length Android accepts.
	SerialNumberLength = 20

	// SaltLength is the size of the per-machine random salt in bytes.
	SaltLength = 16
)

// GenerateFakeSerialNumber returns the first 20 upper-case hex characters of
// SHA256(user + salt). It is stable across boots and differs across users
// and machines.
func GenerateFakeSerialNumber(user string, salt []byte) string {
	sum := sha256.Sum256(append([]byte(user), salt...))
	id := strings.ToUpper(hex.EncodeToString(sum[:]))
	return ShortID(id, SerialNumberLength)
}

// ShortID returns the first n characters of id.
func ShortID(id string, n int) string {
	if len(id) >= n {
		return id[:n]
	}
	return id
}
