// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcunit provides a set of types for dealing with bitcoin units.
package btcunit

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/shopspring/decimal"
)

const (
	// kilo is a generic multiplier for kilo units.
	kilo = 1000

	// rateStringPrecision is the number of decimal places to use when
	// converting a fee rate to a string. We use 3 decimal places to ensure
	// that low fee rates (e.g., 1 sat/kvb = 0.001 sat/vbyte) are displayed
	// with sufficient precision and not rounded to zero.
	rateStringPrecision = 3
)

var (
	// ErrNegativeFeeRate is returned when parsing a negative fee rate.
	ErrNegativeFeeRate = errors.New("fee rate must not be negative")

	// ZeroSatPerVByte is a fee rate of 0 sat/vb.
	ZeroSatPerVByte = NewSatPerVByte(0)

	// ZeroSatPerKVByte is a fee rate of 0 sat/kvb.
	ZeroSatPerKVByte = NewSatPerKVByte(0)
)

// baseFeeRate stores the canonical representation of a fee rate, which is
// satoshis per kilo-vbyte (sat/kvb) held as an exact decimal. All other fee
// rate units are derived from this.
type baseFeeRate struct {
	satsPerKVB decimal.Decimal
}

// ToSatPerVByte converts the fee rate to sat/vb.
func (f baseFeeRate) ToSatPerVByte() SatPerVByte {
	return SatPerVByte{f}
}

// ToSatPerKVByte converts the fee rate to sat/kvb.
func (f baseFeeRate) ToSatPerKVByte() SatPerKVByte {
	return SatPerKVByte{f}
}

// FeeForWeight calculates the fee for the given weight, rounding up to the
// nearest satoshi so the resulting transaction never pays less than the
// rate.
func (f baseFeeRate) FeeForWeight(weight WeightUnit) btcutil.Amount {
	// fee = rate_kvb * wu / (4 * 1000)
	fee := f.satsPerKVB.Mul(decimal.NewFromInt(safeUint64ToInt64(weight.wu)))
	fee = fee.Div(decimal.NewFromInt(blockchain.WitnessScaleFactor * kilo))

	return btcutil.Amount(fee.Ceil().IntPart())
}

// FeeForVByte calculates the fee for the given virtual size, rounding up to
// the nearest satoshi.
func (f baseFeeRate) FeeForVByte(vb VByte) btcutil.Amount {
	return f.FeeForWeight(vb.ToWU())
}

// IsZero returns true if the fee rate is zero.
func (f baseFeeRate) IsZero() bool {
	return f.satsPerKVB.IsZero()
}

// equal returns true if the fee rate is equal to the other fee rate.
func (f baseFeeRate) equal(other baseFeeRate) bool {
	return f.satsPerKVB.Equal(other.satsPerKVB)
}

// greaterThan returns true if the fee rate is greater than the other fee rate.
func (f baseFeeRate) greaterThan(other baseFeeRate) bool {
	return f.satsPerKVB.GreaterThan(other.satsPerKVB)
}

// lessThan returns true if the fee rate is less than the other fee rate.
func (f baseFeeRate) lessThan(other baseFeeRate) bool {
	return f.satsPerKVB.LessThan(other.satsPerKVB)
}

// SatPerVByte represents a fee rate in sat/vbyte. Internally, all fee rates
// are stored and operated on as satoshis per kilo-vbyte. The `String()`
// method is the only one that presents the fee rate in its specific sat/vbyte
// unit.
type SatPerVByte struct {
	baseFeeRate
}

// NewSatPerVByte creates a new fee rate in sat/vb.
func NewSatPerVByte(rate btcutil.Amount) SatPerVByte {
	return SatPerVByte{baseFeeRate{
		satsPerKVB: decimal.NewFromInt(int64(rate) * kilo),
	}}
}

// ParseSatPerVByte parses a decimal sat/vb rate such as "2.5".
func ParseSatPerVByte(s string) (SatPerVByte, error) {
	rate, err := decimal.NewFromString(s)
	if err != nil {
		return SatPerVByte{}, fmt.Errorf("invalid fee rate %q: %w", s,
			err)
	}

	if rate.IsNegative() {
		return SatPerVByte{}, fmt.Errorf("%w: %s", ErrNegativeFeeRate, s)
	}

	return SatPerVByte{baseFeeRate{
		satsPerKVB: rate.Mul(decimal.NewFromInt(kilo)),
	}}, nil
}

// CalcSatPerVByte calculates the fee rate in sat/vb for a given fee and size.
func CalcSatPerVByte(fee btcutil.Amount, vb VByte) SatPerVByte {
	if vb.wu == 0 {
		return ZeroSatPerVByte
	}

	// rate_kvb = fee * 1000 * 4 / wu
	rate := decimal.NewFromInt(int64(fee) * kilo *
		blockchain.WitnessScaleFactor)
	rate = rate.Div(decimal.NewFromInt(safeUint64ToInt64(vb.wu)))

	return SatPerVByte{baseFeeRate{satsPerKVB: rate}}
}

// String returns a human-readable string of the fee rate.
func (s SatPerVByte) String() string {
	rate := s.satsPerKVB.Div(decimal.NewFromInt(kilo))
	return rate.StringFixed(rateStringPrecision) + " sat/vb"
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerVByte) Equal(other SatPerVByte) bool {
	return s.equal(other.baseFeeRate)
}

// GreaterThan returns true if the fee rate is greater than the other fee rate.
func (s SatPerVByte) GreaterThan(other SatPerVByte) bool {
	return s.greaterThan(other.baseFeeRate)
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerVByte) LessThan(other SatPerVByte) bool {
	return s.lessThan(other.baseFeeRate)
}

// SatPerKVByte represents a fee rate in sat/kvb, the unit used by the
// transaction authoring and relay policy helpers.
type SatPerKVByte struct {
	baseFeeRate
}

// NewSatPerKVByte creates a new fee rate in sat/kvb.
func NewSatPerKVByte(rate btcutil.Amount) SatPerKVByte {
	return SatPerKVByte{baseFeeRate{
		satsPerKVB: decimal.NewFromInt(int64(rate)),
	}}
}

// Amount returns the rate as whole satoshis per kvb, rounded up.
func (s SatPerKVByte) Amount() btcutil.Amount {
	return btcutil.Amount(s.satsPerKVB.Ceil().IntPart())
}

// String returns a human-readable string of the fee rate.
func (s SatPerKVByte) String() string {
	return s.satsPerKVB.StringFixed(rateStringPrecision) + " sat/kvb"
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerKVByte) Equal(other SatPerKVByte) bool {
	return s.equal(other.baseFeeRate)
}

// GreaterThan returns true if the fee rate is greater than the other fee rate.
func (s SatPerKVByte) GreaterThan(other SatPerKVByte) bool {
	return s.greaterThan(other.baseFeeRate)
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerKVByte) LessThan(other SatPerKVByte) bool {
	return s.lessThan(other.baseFeeRate)
}

// safeUint64ToInt64 converts a uint64 to an int64, capping at math.MaxInt64.
// In practice the values being converted are transaction weights, which are
// limited by consensus rules and are not expected to overflow an int64.
func safeUint64ToInt64(u uint64) int64 {
	const maxInt64 = 1<<63 - 1
	if u > maxInt64 {
		return maxInt64
	}

	return int64(u)
}
