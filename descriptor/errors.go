// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported is returned by Serialize when the descriptor holds a
	// shape that cannot be re-emitted without losing information. Callers
	// that hit it should keep the original descriptor text.
	ErrUnsupported = errors.New("descriptor cannot be serialized")

	// ErrHardenedPublicDerivation is returned when a hardened step is
	// requested below an extended public key.
	ErrHardenedPublicDerivation = errors.New("hardened derivation " +
		"requested from public key")

	// ErrNotRanged is returned when a range is requested from a
	// descriptor without a wildcard.
	ErrNotRanged = errors.New("descriptor is not ranged")
)

// ErrorCode identifies a kind of parse error.
type ErrorCode int

// These constants are used to identify a specific ParseError.
const (
	// ErrInvalidCharacter indicates a character outside of the descriptor
	// input charset.
	ErrInvalidCharacter ErrorCode = iota

	// ErrInvalidChecksumLength indicates a checksum suffix that is not
	// exactly eight characters long.
	ErrInvalidChecksumLength

	// ErrChecksumMismatch indicates that the checksum suffix does not
	// match the descriptor body.
	ErrChecksumMismatch

	// ErrMultipleChecksums indicates more than one '#' separator.
	ErrMultipleChecksums

	// ErrMissingChecksum indicates that a checksum was required but not
	// present.
	ErrMissingChecksum

	// ErrMalformedBrackets indicates unbalanced or misplaced parentheses
	// or brackets.
	ErrMalformedBrackets

	// ErrKeyCountMismatch indicates a multisig key list inconsistent with
	// its declared threshold.
	ErrKeyCountMismatch

	// ErrEmptyDescriptor indicates an empty descriptor body.
	ErrEmptyDescriptor

	// ErrInvalidThreshold indicates a multisig threshold that is not a
	// positive integer.
	ErrInvalidThreshold

	// ErrInvalidKey indicates a malformed key expression.
	ErrInvalidKey

	// ErrUnknownScript indicates a script expression that is not one of
	// the supported templates.
	ErrUnknownScript
)

// errorCodeStrings maps each ErrorCode to a human-readable name.
var errorCodeStrings = map[ErrorCode]string{
	ErrInvalidCharacter:      "ErrInvalidCharacter",
	ErrInvalidChecksumLength: "ErrInvalidChecksumLength",
	ErrChecksumMismatch:      "ErrChecksumMismatch",
	ErrMultipleChecksums:     "ErrMultipleChecksums",
	ErrMissingChecksum:       "ErrMissingChecksum",
	ErrMalformedBrackets:     "ErrMalformedBrackets",
	ErrKeyCountMismatch:      "ErrKeyCountMismatch",
	ErrEmptyDescriptor:       "ErrEmptyDescriptor",
	ErrInvalidThreshold:      "ErrInvalidThreshold",
	ErrInvalidKey:            "ErrInvalidKey",
	ErrUnknownScript:         "ErrUnknownScript",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s, ok := errorCodeStrings[e]; ok {
		return s
	}

	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// ParseError is returned for every descriptor that cannot be parsed. It has
// an error code and a descriptive message. No partially parsed descriptor is
// ever returned alongside it.
type ParseError struct {
	Code ErrorCode
	Desc string
	Err  error
}

// Error satisfies the error interface and prints human-readable errors.
func (e ParseError) Error() string {
	if e.Err != nil {
		return e.Desc + ": " + e.Err.Error()
	}

	return e.Desc
}

// Unwrap returns the underlying error, if any.
func (e ParseError) Unwrap() error {
	return e.Err
}

// newError creates a ParseError given a set of arguments.
func newError(c ErrorCode, desc string, err error) ParseError {
	return ParseError{Code: c, Desc: desc, Err: err}
}

// IsError returns whether err is a ParseError with a matching error code.
func IsError(err error, code ErrorCode) bool {
	var pErr ParseError
	if !errors.As(err, &pErr) {
		return false
	}

	return pErr.Code == code
}
