// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"

	"github.com/btcsuite/cosigner/pkg/btcunit"
)

var (
	// DefaultMaxFeeRate is the default maximum fee rate that the builder
	// considers sane unless BuilderConfig overrides it. This is currently
	// set to 1000 sat/vb.
	DefaultMaxFeeRate = btcunit.NewSatPerVByte(1000)
)

// Spend request errors.
var (
	// ErrNilSpendRequest is returned when a nil spend request is passed.
	ErrNilSpendRequest = errors.New("nil SpendRequest")

	// ErrNoTxOutputs is returned when a spend request has no recipients.
	ErrNoTxOutputs = errors.New("tx has no outputs")

	// ErrInvalidAmount is returned when a recipient amount is not
	// positive.
	ErrInvalidAmount = errors.New("recipient amount must be positive")

	// ErrAddressNetwork is returned when a recipient address belongs to
	// another network than the wallet descriptors.
	ErrAddressNetwork = errors.New("address is for another network")

	// ErrMissingFeeRate is returned when the fee rate of a spend request
	// is zero.
	ErrMissingFeeRate = errors.New("missing fee rate")

	// ErrFeeRateTooLarge is returned when the fee rate of a spend request
	// is above the configured sanity bound.
	ErrFeeRateTooLarge = errors.New("fee rate too large")

	// ErrSubtractFeeIndex is returned when the subtract fee index does
	// not point at a recipient.
	ErrSubtractFeeIndex = errors.New("subtract fee index out of range")

	// ErrDuplicatedUtxo is returned when the same coin is selected twice.
	ErrDuplicatedUtxo = errors.New("duplicated utxo")

	// ErrUtxoNotFound is returned when a selected coin is not known to
	// the utxo provider.
	ErrUtxoNotFound = errors.New("utxo not found")
)

// Builder errors.
var (
	// ErrMissingDescriptor is returned when the builder is configured
	// without a receive or change descriptor.
	ErrMissingDescriptor = errors.New("missing wallet descriptor")

	// ErrMissingDependency is returned when the builder is configured
	// without one of its external interfaces.
	ErrMissingDependency = errors.New("missing builder dependency")

	// ErrDerivationMismatch is returned when the address derivation
	// oracle disagrees with the local derivation of a descriptor.
	ErrDerivationMismatch = errors.New("derived address mismatch")

	// ErrUnknownScript is returned when a coin's output script cannot be
	// derived from the wallet descriptors within the lookahead window.
	ErrUnknownScript = errors.New("utxo script not derivable from " +
		"wallet descriptors")

	// ErrMissingPrevTx is returned when a legacy coin comes without its
	// parent transaction.
	ErrMissingPrevTx = errors.New("legacy input requires the previous " +
		"transaction")

	// ErrFeeExceedsAmount is returned when subtracting the fee leaves the
	// recipient output at or below the dust limit.
	ErrFeeExceedsAmount = errors.New("fee exceeds recipient amount")

	// ErrFeeNotConverged is returned when the fee could not be settled
	// within the maximum number of authoring rounds.
	ErrFeeNotConverged = errors.New("fee estimation did not converge")
)

// Combiner errors.
var (
	// ErrNilPacket is returned when a nil PSBT is passed.
	ErrNilPacket = errors.New("nil psbt packet")

	// ErrInvalidPsbt is returned when a PSBT lacks its unsigned
	// transaction or its input and output maps do not match it.
	ErrInvalidPsbt = errors.New("invalid psbt")

	// ErrNoPsbtsToCombine is returned when combining an empty list.
	ErrNoPsbtsToCombine = errors.New("no psbts to combine")

	// ErrIncompatibleTransactions is returned when two PSBTs do not share
	// the same unsigned transaction.
	ErrIncompatibleTransactions = errors.New("psbts spend different " +
		"unsigned transactions")

	// ErrInputCountMismatch is returned when a PSBT's input list does not
	// match its unsigned transaction.
	ErrInputCountMismatch = errors.New("psbt input count mismatch")

	// ErrOutputCountMismatch is returned when a PSBT's output list does
	// not match its unsigned transaction.
	ErrOutputCountMismatch = errors.New("psbt output count mismatch")

	// ErrSighashMismatch is returned when two inputs request different
	// sighash types.
	ErrSighashMismatch = errors.New("sighash type mismatch")

	// ErrRedeemScriptMismatch is returned when two copies carry different
	// redeem scripts.
	ErrRedeemScriptMismatch = errors.New("redeem script mismatch")

	// ErrWitnessScriptMismatch is returned when two copies carry different
	// witness scripts.
	ErrWitnessScriptMismatch = errors.New("witness script mismatch")

	// ErrWitnessUtxoMismatch is returned when two copies carry different
	// witness utxos.
	ErrWitnessUtxoMismatch = errors.New("witness utxo mismatch")

	// ErrNonWitnessUtxoMismatch is returned when two copies carry
	// different previous transactions.
	ErrNonWitnessUtxoMismatch = errors.New("non-witness utxo mismatch")

	// ErrFinalScriptSigMismatch is returned when two copies were
	// finalized with different script sigs.
	ErrFinalScriptSigMismatch = errors.New("final script sig mismatch")

	// ErrFinalScriptWitnessMismatch is returned when two copies were
	// finalized with different witnesses.
	ErrFinalScriptWitnessMismatch = errors.New("final script witness " +
		"mismatch")

	// ErrTaprootInternalKeyMismatch is returned when two copies carry
	// different taproot internal keys.
	ErrTaprootInternalKeyMismatch = errors.New("taproot internal key " +
		"mismatch")

	// ErrTaprootFieldMismatch is returned when two copies carry
	// different taproot key spend signatures, merkle roots or tap trees.
	ErrTaprootFieldMismatch = errors.New("taproot field mismatch")
)

// Manager errors.
var (
	// ErrNotYetComplete is returned when broadcasting a PSBT that has not
	// collected all signatures yet.
	ErrNotYetComplete = errors.New("psbt is not yet complete")
)
