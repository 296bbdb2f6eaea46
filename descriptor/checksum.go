// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"fmt"
	"strings"
)

const (
	// inputCharset is the set of characters a descriptor may contain. A
	// character's position in this table is split into a 5-bit symbol
	// (position & 31) and a group number (position >> 5).
	inputCharset = "0123456789()[],'/*abcdefgh@:$%{}" +
		"IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~" +
		"ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "

	// checksumCharset encodes the 5-bit checksum symbols.
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

	// ChecksumLength is the number of characters of a descriptor
	// checksum.
	ChecksumLength = 8

	// checksumSeparator separates the descriptor body from its checksum.
	checksumSeparator = "#"
)

// generator holds the reduction table of the checksum's generator
// polynomial, indexed by the bit of the overflowing symbol.
var generator = [5]uint64{
	0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a, 0x644d626ffd,
}

// polyMod feeds one 5-bit value into the 40-bit checksum state c.
func polyMod(c uint64, val uint64) uint64 {
	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ val

	for i, g := range generator {
		if (c0>>uint(i))&1 == 1 {
			c ^= g
		}
	}

	return c
}

// checksumState is the accumulator of a single checksum computation.
type checksumState struct {
	c        uint64
	cls      uint64
	clsCount int
}

// feed processes the character at the given charset position.
func (s *checksumState) feed(pos int) {
	s.c = polyMod(s.c, uint64(pos&31))
	s.cls = s.cls*3 + uint64(pos>>5)

	s.clsCount++
	if s.clsCount == 3 {
		s.c = polyMod(s.c, s.cls)
		s.cls = 0
		s.clsCount = 0
	}
}

// finish flushes any partial group and returns the eight checksum symbols.
func (s *checksumState) finish() string {
	if s.clsCount > 0 {
		s.c = polyMod(s.c, s.cls)
	}
	for i := 0; i < ChecksumLength; i++ {
		s.c = polyMod(s.c, 0)
	}
	s.c ^= 1

	var sb strings.Builder
	sb.Grow(ChecksumLength)
	for j := 0; j < ChecksumLength; j++ {
		sym := (s.c >> (5 * (7 - j))) & 31
		sb.WriteByte(checksumCharset[sym])
	}

	return sb.String()
}

// Checksum computes the eight character checksum of a descriptor body. The
// body must not include a '#' suffix. A ParseError with code
// ErrInvalidCharacter is returned if the body contains a character outside of
// the descriptor charset.
func Checksum(desc string) (string, error) {
	state := checksumState{c: 1}
	for i, r := range desc {
		pos := strings.IndexRune(inputCharset, r)
		if pos < 0 {
			return "", newError(ErrInvalidCharacter, fmt.Sprintf(
				"invalid character %q at position %d", r, i,
			), nil)
		}

		state.feed(pos)
	}

	return state.finish(), nil
}

// AddChecksum returns the descriptor body with its checksum appended.
func AddChecksum(desc string) (string, error) {
	checksum, err := Checksum(desc)
	if err != nil {
		return "", err
	}

	return desc + checksumSeparator + checksum, nil
}

// splitChecksum splits a descriptor into its body and its checksum suffix.
// The suffix is empty when no '#' is present.
func splitChecksum(text string) (string, string, bool, error) {
	switch strings.Count(text, checksumSeparator) {
	case 0:
		return text, "", false, nil

	case 1:
		idx := strings.Index(text, checksumSeparator)
		return text[:idx], text[idx+1:], true, nil

	default:
		return "", "", false, newError(
			ErrMultipleChecksums, "multiple '#' symbols", nil,
		)
	}
}

// verifyChecksum checks the optional checksum of text and returns the
// descriptor body. When required is set a missing checksum is an error.
func verifyChecksum(text string, required bool) (string, error) {
	body, checksum, found, err := splitChecksum(text)
	if err != nil {
		return "", err
	}

	if !found {
		if required {
			return "", newError(
				ErrMissingChecksum, "missing checksum", nil,
			)
		}

		// The body must still only use the descriptor charset.
		if _, err := Checksum(body); err != nil {
			return "", err
		}

		return body, nil
	}

	if len(checksum) != ChecksumLength {
		return "", newError(ErrInvalidChecksumLength, fmt.Sprintf(
			"expected %d character checksum, got %d",
			ChecksumLength, len(checksum),
		), nil)
	}

	expected, err := Checksum(body)
	if err != nil {
		return "", err
	}

	if expected != checksum {
		return "", newError(ErrChecksumMismatch, fmt.Sprintf(
			"provided checksum %q does not match computed "+
				"checksum %q", checksum, expected,
		), nil)
	}

	return body, nil
}

// VerifyChecksum checks that text carries exactly one valid checksum and
// returns the descriptor body without it.
func VerifyChecksum(text string) (string, error) {
	return verifyChecksum(text, true)
}
