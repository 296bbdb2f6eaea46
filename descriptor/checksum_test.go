package descriptor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	// coreMultisigPrv and coreMultisigPub are the checksum test vectors of
	// Bitcoin Core's descriptor_tests.cpp.
	coreMultisigPrv = "sh(multi(2,[00000000/111'/222]xprvA1RpRA33e1JQ7if" +
		"knakTFpgNXPmW2YvmhqLQYMmrj4xJXXWYpDPS3xz7iAxn8L39njGVyuose" +
		"XzU6rcxFLJ8HFsTjSyQbLYnMpCqE2VbFWc,xprv9uPDJpEQgRQfDcW7BkF" +
		"7eTya6RPxXeJCqCJGHuCJ4GiRVLzkTXBAJMu2qaMWPrS7AANYqdq6vcBcB" +
		"UdJCVVFceUvJFjaPdGZ2y9WACViL4L/0))"

	coreMultisigPub = "sh(multi(2,[00000000/111'/222]xpub6ERApfZwUNrhLCk" +
		"DtcHTcxd75RbzS1ed54G1LkBUHQVHQKqhMkhgbmJbZRkrgZw4koxb5JaHW" +
		"kY4ALHY2grBGRjaDMzQLcgJvLJuZZvRcEL,xpub68NZiKmJWnxxS6aaHmn" +
		"81bvJeTESw724CRDs6HbuccFQN9Ku14VQrADWgqbhhTHBaohPX4CjNLf9f" +
		"q9MYo6oDaPPLPxSb7gwQN3ih19Zm4Y/0))"
)

// TestChecksumVectors checks the checksum against known-good pairs computed
// by Bitcoin Core.
func TestChecksumVectors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		desc     string
		checksum string
	}{
		{
			name:     "raw",
			desc:     "raw(deadbeef)",
			checksum: "89f8spxm",
		},
		{
			name:     "multisig xprv",
			desc:     coreMultisigPrv,
			checksum: "ggrsrxfy",
		},
		{
			name:     "multisig xpub",
			desc:     coreMultisigPub,
			checksum: "tjg09x5t",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Act: Compute the checksum twice.
			first, err := Checksum(tc.desc)
			require.NoError(t, err)
			second, err := Checksum(tc.desc)
			require.NoError(t, err)

			// Assert: The checksum matches the vector and is stable.
			require.Equal(t, tc.checksum, first)
			require.Equal(t, first, second)

			withChecksum, err := AddChecksum(tc.desc)
			require.NoError(t, err)
			require.Equal(t, tc.desc+"#"+tc.checksum, withChecksum)

			body, err := VerifyChecksum(withChecksum)
			require.NoError(t, err)
			require.Equal(t, tc.desc, body)
		})
	}
}

// TestVerifyChecksumFailures checks every way a checksum can be rejected.
func TestVerifyChecksumFailures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		text string
		code ErrorCode
	}{
		{
			name: "empty checksum",
			text: "raw(deadbeef)#",
			code: ErrInvalidChecksumLength,
		},
		{
			name: "checksum too long",
			text: "raw(deadbeef)#89f8spxmx",
			code: ErrInvalidChecksumLength,
		},
		{
			name: "checksum too short",
			text: "raw(deadbeef)#89f8spx",
			code: ErrInvalidChecksumLength,
		},
		{
			name: "wrong checksum",
			text: "raw(deadbeef)#89f8spxn",
			code: ErrChecksumMismatch,
		},
		{
			name: "changed payload",
			text: "raw(deedbeef)#89f8spxm",
			code: ErrChecksumMismatch,
		},
		{
			name: "multiple separators",
			text: "raw(deadbeef)##9f8spxm",
			code: ErrMultipleChecksums,
		},
		{
			name: "invalid character",
			text: "raw(Ü)#00000000",
			code: ErrInvalidCharacter,
		},
		{
			name: "changed threshold",
			text: strings.Replace(coreMultisigPub, "multi(2", "multi(3",
				1) + "#tjg09x5t",
			code: ErrChecksumMismatch,
		},
		{
			name: "missing checksum",
			text: "raw(deadbeef)",
			code: ErrMissingChecksum,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := VerifyChecksum(tc.text)
			require.Error(t, err)
			require.True(t, IsError(err, tc.code),
				"expected %v, got %v", tc.code, err)
		})
	}
}

// TestChecksumRejectsTampering flips every checksum character of several
// descriptors and checks that verification always fails.
func TestChecksumRejectsTampering(t *testing.T) {
	t.Parallel()

	descs := []string{
		"raw(deadbeef)",
		coreMultisigPrv,
		coreMultisigPub,
		"wpkh([1ef4e492/84'/0'/0']" + testXpub + "/0/*)",
	}

	for _, desc := range descs {
		withChecksum, err := AddChecksum(desc)
		require.NoError(t, err)

		sep := strings.LastIndex(withChecksum, "#")
		for i := sep + 1; i < len(withChecksum); i++ {
			for _, c := range checksumCharset {
				if byte(c) == withChecksum[i] {
					continue
				}

				tampered := withChecksum[:i] + string(c) +
					withChecksum[i+1:]

				_, err := VerifyChecksum(tampered)
				require.True(t, IsError(err, ErrChecksumMismatch),
					"tampered %q accepted", tampered)
			}
		}
	}
}

// TestChecksumInvalidCharacter checks that characters outside of the input
// charset are reported with their position.
func TestChecksumInvalidCharacter(t *testing.T) {
	t.Parallel()

	_, err := Checksum("pkh(\tabc)")
	require.True(t, IsError(err, ErrInvalidCharacter))
	require.Contains(t, err.Error(), "position 4")
}

// TestPolyModIsLinear checks the GF(2) linearity of a single step, which any
// change to the generator table breaks.
func TestPolyModIsLinear(t *testing.T) {
	t.Parallel()

	for _, c := range []uint64{1, 0x7ffffffff, 0xffffffffff, 0x123456789a} {
		for val := uint64(0); val < 32; val++ {
			require.Equal(t, polyMod(c, 0)^val, polyMod(c, val))
		}
	}
}
