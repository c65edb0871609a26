// Package errors provides standard error types for arc-setup.
//
// These sentinel errors allow callers to check for specific error conditions
// using errors.Is(), enabling programmatic error handling.
package errors

import "errors"

// Invocation errors
var (
	// ErrNoMode indicates no mode switch was given on the command line.
	ErrNoMode = errors.New("no mode specified")

	// ErrAmbiguousMode indicates more than one mode switch was given.
	ErrAmbiguousMode = errors.New("more than one mode specified")

	// ErrMissingEnv indicates a required environment variable is not set.
	ErrMissingEnv = errors.New("required environment variable is not set")

	// ErrInvalidEnv indicates an environment variable has a malformed value.
	ErrInvalidEnv = errors.New("invalid environment variable value")
)

// Mount errors
var (
	// ErrNotLoopMount indicates the target is not backed by a loop device.
	ErrNotLoopMount = errors.New("not loop-mounted")

	// ErrLoopRetriesExhausted indicates every loop device attach attempt hit EBUSY.
	ErrLoopRetriesExhausted = errors.New("loop device stayed busy after all retries")
)

// Boot classification errors
var (
	// ErrPropertyNotFound indicates a build property is missing from a property file.
	ErrPropertyNotFound = errors.New("property not found")

	// ErrFingerprintNotFound indicates packages.xml has no internal-storage version entry.
	ErrFingerprintNotFound = errors.New("fingerprint not found in package database")

	// ErrUnknownSdkVersion indicates the SDK version string is not recognized.
	ErrUnknownSdkVersion = errors.New("unknown SDK version")
)

// Code integrity errors
var (
	// ErrEmptyCache indicates a host-side code cache directory holds no files.
	ErrEmptyCache = errors.New("host-side code cache is empty")

	// ErrDigestMismatch indicates a recomputed file digest differs from the recorded one.
	ErrDigestMismatch = errors.New("digest mismatch")

	// ErrChecksumMismatch indicates a relocated image is out of sync with its system copy.
	ErrChecksumMismatch = errors.New("image checksum does not match system image")

	// ErrBadSignature indicates the detached signature does not cover the digest chain.
	ErrBadSignature = errors.New("signature verification failed")

	// ErrSigningDisabled indicates no signing key is configured.
	ErrSigningDisabled = errors.New("code signing is not enabled")
)

// Container state errors
var (
	// ErrProcessNotFound indicates the container process no longer exists.
	ErrProcessNotFound = errors.New("container process not found")

	// ErrInvalidPID indicates an invalid process ID.
	ErrInvalidPID = errors.New("invalid process ID")

	// ErrInvalidState indicates the OCI state document lacks a required field.
	ErrInvalidState = errors.New("invalid container state")
)
