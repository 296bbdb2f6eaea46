// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/cosigner/pkg/btcunit"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// TestValidateSpendRequest checks the stateless validation of spend
// requests.
func TestValidateSpendRequest(t *testing.T) {
	t.Parallel()

	addr := externalAddress(t, &chainParams, 0x11)
	mainnetAddr := externalAddress(t, &chaincfg.MainNetParams, 0x11)
	op := wire.OutPoint{Hash: chainhash.Hash{1}, Index: 1}

	valid := func() *SpendRequest {
		return &SpendRequest{
			Recipients: []Recipient{{
				Address: addr,
				Amount:  btcutil.Amount(50_000),
			}},
			FeeRate: btcunit.NewSatPerVByte(5),
		}
	}

	testCases := []struct {
		name   string
		modify func(r *SpendRequest) *SpendRequest
		err    error
	}{
		{
			name: "valid request",
			modify: func(r *SpendRequest) *SpendRequest {
				return r
			},
		},
		{
			name: "nil request",
			modify: func(*SpendRequest) *SpendRequest {
				return nil
			},
			err: ErrNilSpendRequest,
		},
		{
			name: "no recipients",
			modify: func(r *SpendRequest) *SpendRequest {
				r.Recipients = nil
				return r
			},
			err: ErrNoTxOutputs,
		},
		{
			name: "zero amount",
			modify: func(r *SpendRequest) *SpendRequest {
				r.Recipients[0].Amount = 0
				return r
			},
			err: ErrInvalidAmount,
		},
		{
			name: "dust amount",
			modify: func(r *SpendRequest) *SpendRequest {
				r.Recipients[0].Amount = 100
				return r
			},
			err: txrules.ErrOutputIsDust,
		},
		{
			name: "address of another network",
			modify: func(r *SpendRequest) *SpendRequest {
				r.Recipients[0].Address = mainnetAddr
				return r
			},
			err: ErrAddressNetwork,
		},
		{
			name: "missing fee rate",
			modify: func(r *SpendRequest) *SpendRequest {
				r.FeeRate = btcunit.ZeroSatPerVByte
				return r
			},
			err: ErrMissingFeeRate,
		},
		{
			name: "fee rate too large",
			modify: func(r *SpendRequest) *SpendRequest {
				r.FeeRate = btcunit.NewSatPerVByte(1001)
				return r
			},
			err: ErrFeeRateTooLarge,
		},
		{
			name: "subtract fee index out of range",
			modify: func(r *SpendRequest) *SpendRequest {
				r.SubtractFeeFromIndex = fn.Some(1)
				return r
			},
			err: ErrSubtractFeeIndex,
		},
		{
			name: "negative subtract fee index",
			modify: func(r *SpendRequest) *SpendRequest {
				r.SubtractFeeFromIndex = fn.Some(-1)
				return r
			},
			err: ErrSubtractFeeIndex,
		},
		{
			name: "duplicated selected coin",
			modify: func(r *SpendRequest) *SpendRequest {
				r.SelectedCoins = []wire.OutPoint{op, op}
				return r
			},
			err: ErrDuplicatedUtxo,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: Build the request for this case.
			req := tc.modify(valid())

			// Act: Validate the request.
			err := validateSpendRequest(
				req, &chainParams, DefaultMaxFeeRate,
			)

			// Assert: The expected error is returned.
			if tc.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.err)
		})
	}
}

// TestSpendRequestTotalAmount checks that the total sums all recipients.
func TestSpendRequestTotalAmount(t *testing.T) {
	t.Parallel()

	// Arrange: Create a request with two recipients.
	addr := externalAddress(t, &chainParams, 0x11)
	req := &SpendRequest{
		Recipients: []Recipient{
			{Address: addr, Amount: 1_000},
			{Address: addr, Amount: 2_500},
		},
	}

	// Act: Sum the request.
	total := req.TotalAmount()

	// Assert: Both amounts are counted.
	require.Equal(t, btcutil.Amount(3_500), total)

	// Assert: The outputs keep the request order.
	outputs, err := req.outputs()
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	require.Equal(t, int64(1_000), outputs[0].Value)
	require.Equal(t, int64(2_500), outputs[1].Value)
}
