// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package btcunit

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/shopspring/decimal"
)

const (
	// btcDecimals is the number of fractional digits of a BTC amount.
	btcDecimals = 8
)

var (
	// ErrAmountPrecision is returned when an amount has more fractional
	// digits than a satoshi can represent.
	ErrAmountPrecision = errors.New("amount exceeds satoshi precision")

	// ErrAmountRange is returned when an amount is outside of the valid
	// monetary range.
	ErrAmountRange = errors.New("amount out of range")
)

// ParseBTC parses a decimal BTC string such as "0.0015" into satoshis. The
// conversion is exact: amounts with more than eight fractional digits are
// rejected instead of rounded.
func ParseBTC(s string) (btcutil.Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}

	return AmountFromDecimal(d)
}

// AmountFromDecimal converts a BTC denominated decimal into satoshis.
func AmountFromDecimal(btc decimal.Decimal) (btcutil.Amount, error) {
	sats := btc.Shift(btcDecimals)
	if !sats.IsInteger() {
		return 0, fmt.Errorf("%w: %s", ErrAmountPrecision, btc)
	}

	if sats.Abs().GreaterThan(decimal.NewFromInt(btcutil.MaxSatoshi)) {
		return 0, fmt.Errorf("%w: %s", ErrAmountRange, btc)
	}

	return btcutil.Amount(sats.IntPart()), nil
}

// AmountFromFloat converts a BTC value received as a JSON number into
// satoshis. The float is first mapped to the shortest decimal that
// round-trips to it, so values such as 0.1 convert exactly.
func AmountFromFloat(btc float64) (btcutil.Amount, error) {
	return AmountFromDecimal(
		decimal.NewFromFloat(btc).Round(btcDecimals),
	)
}

// ToDecimal returns the amount in BTC as an exact decimal.
func ToDecimal(amt btcutil.Amount) decimal.Decimal {
	return decimal.New(int64(amt), -btcDecimals)
}

// FormatBTC formats the amount in BTC with all eight fractional digits.
func FormatBTC(amt btcutil.Amount) string {
	return ToDecimal(amt).StringFixed(btcDecimals)
}
