// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/btcutil/txsort"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/cosigner/coinselect"
	"github.com/btcsuite/cosigner/descriptor"
	"github.com/btcsuite/cosigner/pkg/btcunit"
	"github.com/btcsuite/cosigner/psbtdb"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	// testChangeIndex is the change index used by the spend requests of
	// the builder tests.
	testChangeIndex = 4

	// twoInputFee is the fee at 10 sat/vb of a transaction spending two
	// 2-of-3 P2WSH inputs to a P2WPKH recipient and a P2WSH change
	// output: (84 * 4 + 2 * 420 + 2) / 4 = 294.5 vb.
	twoInputFee = btcutil.Amount(2945)

	// oneInputNoChangeFee is the fee at 10 sat/vb of a transaction
	// spending one 2-of-3 P2WSH input to a P2WPKH recipient:
	// (41 * 4 + 420 + 2) / 4 = 146.5 vb.
	oneInputNoChangeFee = btcutil.Amount(1465)
)

// newSpendRequest creates a request paying amount to an external address at
// 10 sat/vb.
func newSpendRequest(t *testing.T, amount btcutil.Amount) *SpendRequest {
	t.Helper()

	return &SpendRequest{
		Recipients: []Recipient{{
			Address: externalAddress(t, &chainParams, 0x22),
			Amount:  amount,
		}},
		FeeRate:     btcunit.NewSatPerVByte(10),
		ChangeIndex: testChangeIndex,
		Label:       "rent",
	}
}

// spentOutPoints returns the outpoints spent by tx.
func spentOutPoints(tx *wire.MsgTx) []wire.OutPoint {
	ops := make([]wire.OutPoint, 0, len(tx.TxIn))
	for _, in := range tx.TxIn {
		ops = append(ops, in.PreviousOutPoint)
	}

	return ops
}

// findOutput returns the index of the output paying pkScript or -1.
func findOutput(tx *wire.MsgTx, pkScript []byte) int {
	for i, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, pkScript) {
			return i
		}
	}

	return -1
}

// TestNewPsbtBuilder checks the validation of the builder config.
func TestNewPsbtBuilder(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)

	keys := make([]string, 0, len(w.signers))
	for _, s := range w.signers {
		keys = append(keys, s.keyExpr(t, 1))
	}
	legacyChange, err := descriptor.Parse(
		"sh(sortedmulti(2,"+strings.Join(keys, ",")+"))", &chainParams,
	)
	require.NoError(t, err)

	valid := func() BuilderConfig {
		return BuilderConfig{
			Receive: w.receive,
			Change:  w.change,
			Oracle:  &mockOracle{},
			Utxos:   &mockUtxoProvider{},
			Store:   &mockStore{},
		}
	}

	testCases := []struct {
		name   string
		modify func(cfg *BuilderConfig)
		err    error
	}{
		{
			name:   "valid config",
			modify: func(*BuilderConfig) {},
		},
		{
			name: "missing receive descriptor",
			modify: func(cfg *BuilderConfig) {
				cfg.Receive = nil
			},
			err: ErrMissingDescriptor,
		},
		{
			name: "mixed script types",
			modify: func(cfg *BuilderConfig) {
				cfg.Change = legacyChange
			},
			err: descriptor.ErrUnsupported,
		},
		{
			name: "missing oracle",
			modify: func(cfg *BuilderConfig) {
				cfg.Oracle = nil
			},
			err: ErrMissingDependency,
		},
		{
			name: "missing utxo provider",
			modify: func(cfg *BuilderConfig) {
				cfg.Utxos = nil
			},
			err: ErrMissingDependency,
		},
		{
			name: "missing store",
			modify: func(cfg *BuilderConfig) {
				cfg.Store = nil
			},
			err: ErrMissingDependency,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: Build the config for this case.
			cfg := valid()
			tc.modify(&cfg)

			// Act: Create the builder.
			builder, err := NewPsbtBuilder(cfg)

			// Assert: Either the error or a builder with defaults.
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, uint32(DefaultLookaheadWindow),
				builder.cfg.LookaheadWindow)
			require.True(t, builder.cfg.MaxFeeRate.Equal(
				DefaultMaxFeeRate,
			))
			require.NotNil(t, builder.cfg.Strategy)
			require.NotNil(t, builder.cfg.Clock)
		})
	}
}

// TestEstimate checks that a spend is funded, decorated for the signers and
// left unpersisted.
func TestEstimate(t *testing.T) {
	t.Parallel()

	// Arrange: Fund the wallet with two coins of 0.5 BTC and spend 0.6
	// BTC, which needs both of them.
	w := newTestWallet(t)
	builder, mocks := newTestBuilder(t, w)

	coins := []coinselect.Utxo{
		w.coin(t, 0, 50_000_000, 6),
		w.coin(t, 1, 50_000_000, 3),
	}
	mocks.expectCoins(coins, nil)
	mocks.expectChange(t, w, testChangeIndex)

	req := newSpendRequest(t, 60_000_000)

	// Act: Estimate the spend.
	record, err := builder.Estimate(t.Context(), req)
	require.NoError(t, err)

	// Assert: The record is a draft with the exact fee of the signed
	// weight.
	tx := record.Packet.UnsignedTx
	require.Equal(t, psbtdb.StateDraft, record.State)
	require.Equal(t, tx.TxHash(), record.Txid)
	require.Equal(t, "rent", record.Label)
	require.Equal(t, twoInputFee, record.Fee)
	require.Equal(t, btcutil.Amount(60_000_000), record.Amount)
	require.Empty(t, record.Signers())

	// Assert: Both coins are spent and the change takes the rest.
	require.ElementsMatch(t, []wire.OutPoint{
		coins[0].OutPoint, coins[1].OutPoint,
	}, spentOutPoints(tx))
	require.Len(t, tx.TxOut, 2)
	require.Equal(t, int64(100_000_000), sumOutputs(tx.TxOut)+
		int64(record.Fee))

	// Assert: The transaction is version 2, final and BIP 69 sorted.
	require.Equal(t, int32(2), tx.Version)
	require.True(t, txsort.IsSorted(tx))
	for _, in := range tx.TxIn {
		require.Equal(t, uint32(wire.MaxTxInSequenceNum-1),
			in.Sequence)
	}

	// Assert: Every input carries what a signer needs.
	for i, in := range record.Packet.Inputs {
		require.NotNil(t, in.WitnessUtxo, "input %d", i)
		require.NotNil(t, in.NonWitnessUtxo, "input %d", i)
		require.NotEmpty(t, in.WitnessScript, "input %d", i)
		require.Len(t, in.Bip32Derivation, 3, "input %d", i)
		require.Equal(t, txscript.SigHashAll, in.SighashType)
	}

	// Assert: The change output proves it pays back to the wallet.
	change, err := w.change.Derive(testChangeIndex)
	require.NoError(t, err)

	changeIdx := findOutput(tx, change.PkScript)
	require.GreaterOrEqual(t, changeIdx, 0)

	changeInfo := record.Packet.Outputs[changeIdx]
	require.Equal(t, change.WitnessScript, changeInfo.WitnessScript)
	require.Len(t, changeInfo.Bip32Derivation, 3)
	for _, d := range changeInfo.Bip32Derivation {
		require.Equal(t, []uint32{1, testChangeIndex},
			d.Bip32Path[len(accountPath):])
	}

	recipientInfo := record.Packet.Outputs[1-changeIdx]
	require.Empty(t, recipientInfo.Bip32Derivation)
}

// TestCreate checks that a created PSBT is persisted as awaiting
// signatures.
func TestCreate(t *testing.T) {
	t.Parallel()

	// Arrange: Fund the wallet and expect the record to be saved.
	w := newTestWallet(t)
	builder, mocks := newTestBuilder(t, w)

	mocks.expectCoins([]coinselect.Utxo{
		w.coin(t, 0, 50_000_000, 6),
	}, nil)
	mocks.expectChange(t, w, testChangeIndex)

	mocks.store.On("SavePsbt", mock.Anything,
		mock.MatchedBy(func(r *psbtdb.Record) bool {
			return r.State == psbtdb.StateAwaitingSignatures
		}),
	).Return(nil).Once()

	// Act: Create the PSBT.
	record, err := builder.Create(
		t.Context(), newSpendRequest(t, 10_000_000),
	)

	// Assert: The saved record is returned.
	require.NoError(t, err)
	require.Equal(t, psbtdb.StateAwaitingSignatures, record.State)
}

// TestCreateStoreError checks that a failing store is reported.
func TestCreateStoreError(t *testing.T) {
	t.Parallel()

	// Arrange: Make the store fail.
	w := newTestWallet(t)
	builder, mocks := newTestBuilder(t, w)

	mocks.expectCoins([]coinselect.Utxo{
		w.coin(t, 0, 50_000_000, 6),
	}, nil)
	mocks.expectChange(t, w, testChangeIndex)
	mocks.store.On("SavePsbt", mock.Anything, mock.Anything).
		Return(errStore).Once()

	// Act: Create the PSBT.
	_, err := builder.Create(t.Context(), newSpendRequest(t, 10_000_000))

	// Assert: The store error is returned.
	require.ErrorIs(t, err, errStore)
}

// TestEstimateSubtractFee checks that the fee can be paid by a recipient.
func TestEstimateSubtractFee(t *testing.T) {
	t.Parallel()

	// Arrange: Spend 0.6 BTC from two 0.5 BTC coins with the fee taken
	// from the payment.
	w := newTestWallet(t)
	builder, mocks := newTestBuilder(t, w)

	mocks.expectCoins([]coinselect.Utxo{
		w.coin(t, 0, 50_000_000, 6),
		w.coin(t, 1, 50_000_000, 6),
	}, nil)
	mocks.expectChange(t, w, testChangeIndex)

	req := newSpendRequest(t, 60_000_000)
	req.SubtractFeeFromIndex = fn.Some(0)

	// Act: Estimate the spend.
	record, err := builder.Estimate(t.Context(), req)
	require.NoError(t, err)

	// Assert: The recipient pays the fee and the change is untouched.
	require.Equal(t, twoInputFee, record.Fee)
	require.Equal(t, 60_000_000-twoInputFee, record.Amount)

	change, err := w.change.Derive(testChangeIndex)
	require.NoError(t, err)

	tx := record.Packet.UnsignedTx
	changeIdx := findOutput(tx, change.PkScript)
	require.GreaterOrEqual(t, changeIdx, 0)
	require.Equal(t, int64(40_000_000), tx.TxOut[changeIdx].Value)
}

// TestEstimateSubtractFeeExceedsAmount checks that a fee larger than the
// paying recipient is rejected.
func TestEstimateSubtractFeeExceedsAmount(t *testing.T) {
	t.Parallel()

	// Arrange: Pay a small amount at a fee rate that eats it.
	w := newTestWallet(t)
	builder, mocks := newTestBuilder(t, w)

	mocks.expectCoins([]coinselect.Utxo{
		w.coin(t, 0, 50_000_000, 6),
	}, nil)
	mocks.expectChange(t, w, testChangeIndex)

	req := newSpendRequest(t, 10_000)
	req.FeeRate = btcunit.NewSatPerVByte(500)
	req.SubtractFeeFromIndex = fn.Some(0)

	// Act: Estimate the spend.
	_, err := builder.Estimate(t.Context(), req)

	// Assert: The spend is rejected.
	require.ErrorIs(t, err, ErrFeeExceedsAmount)
}

// TestEstimateDropsDustChange checks that change below the dust limit goes
// to the fee.
func TestEstimateDropsDustChange(t *testing.T) {
	t.Parallel()

	// Arrange: Spend all but 100 sats more than the fee of a transaction
	// without change.
	w := newTestWallet(t)
	builder, mocks := newTestBuilder(t, w)

	mocks.expectCoins([]coinselect.Utxo{
		w.coin(t, 0, 100_000_000, 6),
	}, nil)
	mocks.expectChange(t, w, testChangeIndex)

	amount := 100_000_000 - oneInputNoChangeFee - 100
	req := newSpendRequest(t, amount)

	// Act: Estimate the spend.
	record, err := builder.Estimate(t.Context(), req)
	require.NoError(t, err)

	// Assert: There is no change output and the leftover is fee.
	require.Len(t, record.Packet.UnsignedTx.TxOut, 1)
	require.Equal(t, oneInputNoChangeFee+100, record.Fee)
	require.Equal(t, amount, record.Amount)
}

// TestEstimateInsufficientFunds checks the two ways a spend can run out of
// funds.
func TestEstimateInsufficientFunds(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		amount btcutil.Amount

		// needsChange is set if the builder gets as far as deriving
		// the change output.
		needsChange bool
	}{
		{
			name:   "recipients exceed the balance",
			amount: 200_000_000,
		},
		{
			name:        "fee exceeds the balance",
			amount:      100_000_000,
			needsChange: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: Fund the wallet with a single 1 BTC coin.
			w := newTestWallet(t)
			builder, mocks := newTestBuilder(t, w)

			mocks.expectCoins([]coinselect.Utxo{
				w.coin(t, 0, 100_000_000, 6),
			}, nil)
			if tc.needsChange {
				mocks.expectChange(t, w, testChangeIndex)
			}

			// Act: Estimate the spend.
			_, err := builder.Estimate(
				t.Context(), newSpendRequest(t, tc.amount),
			)

			// Assert: The shortage is reported.
			require.ErrorIs(t, err, coinselect.ErrInsufficientFunds)
		})
	}
}

// TestEstimateUnconfirmedFallback checks that unconfirmed coins are only
// used to cover what the confirmed coins cannot.
func TestEstimateUnconfirmedFallback(t *testing.T) {
	t.Parallel()

	// Arrange: A single confirmed coin of 0.5 BTC and three unconfirmed
	// coins of 0.2 BTC for a spend of 0.8 BTC.
	w := newTestWallet(t)
	builder, mocks := newTestBuilder(t, w)

	confirmed := []coinselect.Utxo{w.coin(t, 0, 50_000_000, 6)}
	unconfirmed := []coinselect.Utxo{
		w.coin(t, 1, 20_000_000, 0),
		w.coin(t, 2, 20_000_000, 0),
		w.coin(t, 3, 20_000_000, 0),
	}
	mocks.expectCoins(confirmed, unconfirmed)
	mocks.expectChange(t, w, testChangeIndex)

	// Act: Estimate the spend.
	record, err := builder.Estimate(
		t.Context(), newSpendRequest(t, 80_000_000),
	)
	require.NoError(t, err)

	// Assert: The confirmed coin and two unconfirmed coins are spent.
	require.ElementsMatch(t, []wire.OutPoint{
		confirmed[0].OutPoint,
		unconfirmed[0].OutPoint,
		unconfirmed[1].OutPoint,
	}, spentOutPoints(record.Packet.UnsignedTx))
}

// TestEstimateSelectedCoins checks spending an explicit set of coins.
func TestEstimateSelectedCoins(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	large := w.coin(t, 0, 50_000_000, 6)
	small := w.coin(t, 1, 30_000_000, 0)
	unknown := wire.OutPoint{Hash: chainhash.Hash{9}, Index: 9}

	testCases := []struct {
		name        string
		selected    []wire.OutPoint
		amount      btcutil.Amount
		needsChange bool
		err         error
	}{
		{
			name:        "only the selected coin is spent",
			selected:    []wire.OutPoint{small.OutPoint},
			amount:      10_000_000,
			needsChange: true,
		},
		{
			name:     "unknown coin",
			selected: []wire.OutPoint{small.OutPoint, unknown},
			amount:   10_000_000,
			err:      ErrUtxoNotFound,
		},
		{
			name:        "selected coins cannot pay the fee",
			selected:    []wire.OutPoint{small.OutPoint},
			amount:      30_000_000,
			needsChange: true,
			err:         coinselect.ErrInsufficientFunds,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: List both coins and select some of them.
			builder, mocks := newTestBuilder(t, w)

			mocks.utxos.On("ListUtxos", mock.Anything, int64(0),
				int64(DefaultMaxConfs)).Return(
				[]coinselect.Utxo{large, small}, nil,
			).Once()
			if tc.needsChange {
				mocks.expectChange(t, w, testChangeIndex)
			}

			req := newSpendRequest(t, tc.amount)
			req.SelectedCoins = tc.selected

			// Act: Estimate the spend.
			record, err := builder.Estimate(t.Context(), req)

			// Assert: Either the error or exactly the selection.
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.selected,
				spentOutPoints(record.Packet.UnsignedTx))
		})
	}
}

// TestEstimateReplaceByFee checks that replaceability is signaled on every
// input.
func TestEstimateReplaceByFee(t *testing.T) {
	t.Parallel()

	// Arrange: Request a replaceable spend.
	w := newTestWallet(t)
	builder, mocks := newTestBuilder(t, w)

	mocks.expectCoins([]coinselect.Utxo{
		w.coin(t, 0, 50_000_000, 6),
		w.coin(t, 1, 50_000_000, 6),
	}, nil)
	mocks.expectChange(t, w, testChangeIndex)

	req := newSpendRequest(t, 60_000_000)
	req.ReplaceByFee = true

	// Act: Estimate the spend.
	record, err := builder.Estimate(t.Context(), req)
	require.NoError(t, err)

	// Assert: Every input signals replaceability.
	for _, in := range record.Packet.UnsignedTx.TxIn {
		require.Equal(t, uint32(wire.MaxTxInSequenceNum-2),
			in.Sequence)
	}
}

// TestEstimateChangeDerivation checks that the change address must be
// confirmed by the oracle.
func TestEstimateChangeDerivation(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	other, err := w.change.Derive(testChangeIndex + 1)
	require.NoError(t, err)

	testCases := []struct {
		name  string
		addrs []btcutil.Address
		err   error
	}{
		{
			name:  "oracle derives another address",
			addrs: []btcutil.Address{other.Address},
			err:   ErrDerivationMismatch,
		},
		{
			name: "oracle fails",
			err:  errOracle,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: Make the oracle disagree with the local
			// derivation.
			builder, mocks := newTestBuilder(t, w)

			mocks.expectCoins([]coinselect.Utxo{
				w.coin(t, 0, 50_000_000, 6),
			}, nil)

			var oracleErr error
			if tc.addrs == nil {
				oracleErr = tc.err
			}
			mocks.oracle.On("DeriveAddresses", mock.Anything,
				w.change, uint32(testChangeIndex),
				uint32(testChangeIndex),
			).Return(tc.addrs, oracleErr).Once()

			// Act: Estimate the spend.
			_, err := builder.Estimate(
				t.Context(), newSpendRequest(t, 10_000_000),
			)

			// Assert: The spend is rejected.
			require.ErrorIs(t, err, tc.err)
		})
	}
}

// TestEstimateUnknownScript checks that coins the descriptors cannot derive
// are rejected.
func TestEstimateUnknownScript(t *testing.T) {
	t.Parallel()

	// Arrange: Offer a coin paying to an external address.
	w := newTestWallet(t)
	builder, mocks := newTestBuilder(t, w)

	pkScript, err := txscript.PayToAddrScript(
		externalAddress(t, &chainParams, 0x33),
	)
	require.NoError(t, err)

	foreign := coinselect.Utxo{
		OutPoint:      wire.OutPoint{Hash: chainhash.Hash{7}},
		Amount:        50_000_000,
		Confirmations: 6,
		PkScript:      pkScript,
	}
	mocks.expectCoins([]coinselect.Utxo{foreign}, nil)
	mocks.expectChange(t, w, testChangeIndex)

	// Act: Estimate the spend.
	_, err = builder.Estimate(t.Context(), newSpendRequest(t, 10_000_000))

	// Assert: The coin is not recognized.
	require.ErrorIs(t, err, ErrUnknownScript)
}

// TestEstimateConcurrent checks that concurrent estimates of the same
// request agree.
func TestEstimateConcurrent(t *testing.T) {
	t.Parallel()

	// Arrange: Fund the wallet with a few coins.
	w := newTestWallet(t)
	builder, mocks := newTestBuilder(t, w)

	mocks.expectCoins([]coinselect.Utxo{
		w.coin(t, 0, 30_000_000, 6),
		w.coin(t, 1, 20_000_000, 6),
		w.coin(t, 2, 40_000_000, 6),
	}, nil)
	mocks.expectChange(t, w, testChangeIndex)

	const workers = 8
	records := make([]*psbtdb.Record, workers)
	req := newSpendRequest(t, 45_000_000)

	// Act: Estimate the same spend from several goroutines.
	var eg errgroup.Group
	for i := range workers {
		eg.Go(func() error {
			record, err := builder.Estimate(t.Context(), req)
			records[i] = record

			return err
		})
	}
	require.NoError(t, eg.Wait())

	// Assert: Every goroutine built the same transaction.
	for i := 1; i < workers; i++ {
		require.Equal(t, records[0].Txid, records[i].Txid,
			spew.Sdump(records[i].Packet.UnsignedTx))
		require.Equal(t, records[0].Fee, records[i].Fee)
	}
}

// TestLocateRecipient checks matching recipients to the outputs of an
// authored transaction.
func TestLocateRecipient(t *testing.T) {
	t.Parallel()

	// Arrange: Pay the same script twice next to a change output with the
	// same script.
	script := []byte{txscript.OP_TRUE}
	outputs := []*wire.TxOut{
		wire.NewTxOut(1_000, script),
		wire.NewTxOut(2_000, script),
	}

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(1_000, script))
	tx.AddTxOut(wire.NewTxOut(500, script))
	tx.AddTxOut(wire.NewTxOut(2_000, script))

	// Act: Locate both recipients with the change at index 1.
	first := locateRecipient(tx, outputs, 0, 1)
	second := locateRecipient(tx, outputs, 1, 1)

	// Assert: The change is skipped and duplicates map to distinct
	// outputs.
	require.Equal(t, 0, first)
	require.Equal(t, 2, second)
}

// TestPsbtBuilderTxWeight checks the weight estimate against a fully signed
// transaction.
func TestPsbtBuilderTxWeight(t *testing.T) {
	t.Parallel()

	// Arrange: Build and fully sign a spend.
	w := newTestWallet(t)
	builder, mocks := newTestBuilder(t, w)

	mocks.expectCoins([]coinselect.Utxo{
		w.coin(t, 0, 50_000_000, 6),
		w.coin(t, 1, 50_000_000, 6),
	}, nil)
	mocks.expectChange(t, w, testChangeIndex)

	record, err := builder.Estimate(
		t.Context(), newSpendRequest(t, 60_000_000),
	)
	require.NoError(t, err)

	packets := make([]*psbt.Packet, 0, 2)
	for _, s := range w.signers[:2] {
		packets = append(packets, s.sign(t, record.Packet))
	}
	combined, err := CombineAll(packets...)
	require.NoError(t, err)

	// Act: Finalize the signed PSBT.
	result, err := Finalize(combined)
	require.NoError(t, err)
	require.True(t, result.Complete)

	// Assert: The estimate never undercounts the signed weight.
	signed := blockchain.GetTransactionWeight(btcutil.NewTx(result.Tx))
	estimated := builder.txWeight(record.Packet.UnsignedTx)
	require.LessOrEqual(t, uint64(signed), estimated.Uint64())
}

// TestEstimateUtxoProviderError checks that a failing utxo provider aborts
// the spend before anything is derived.
func TestEstimateUtxoProviderError(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		minConfs int64
		maxConfs int64
		selected bool
	}{
		{
			name:     "confirmed coins",
			minConfs: 1,
			maxConfs: DefaultMaxConfs,
		},
		{
			name:     "selected coins",
			minConfs: 0,
			maxConfs: DefaultMaxConfs,
			selected: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: Make the provider fail.
			w := newTestWallet(t)
			builder, mocks := newTestBuilder(t, w)

			mocks.utxos.On("ListUtxos", mock.Anything, tc.minConfs,
				tc.maxConfs).Return(nil, errUtxo).Once()

			req := newSpendRequest(t, 10_000_000)
			if tc.selected {
				req.SelectedCoins = []wire.OutPoint{
					w.coin(t, 0, 50_000_000, 6).OutPoint,
				}
			}

			// Act: Estimate the spend.
			_, err := builder.Estimate(t.Context(), req)

			// Assert: The provider error is returned.
			require.ErrorIs(t, err, errUtxo)
		})
	}
}
