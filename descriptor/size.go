// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/btcsuite/cosigner/pkg/btcunit"
)

const (
	// maxSigSize is the size of a DER signature with the sighash flag in
	// the worst case.
	maxSigSize = 73

	// compressedPubKeySize is the size of a compressed public key.
	compressedPubKeySize = 33

	// outPointAndSequenceSize is the size of the fixed fields of an
	// input: the previous outpoint and the sequence number.
	outPointAndSequenceSize = 32 + 4 + 4

	// p2wshProgramSize is the size of a P2WSH witness program:
	// OP_0 OP_DATA_32 <32 bytes>.
	p2wshProgramSize = 1 + 1 + 32
)

// multisigScriptSize returns the size of an m-of-n bare multisig script with
// compressed keys: OP_m <n pushes> OP_n OP_CHECKMULTISIG.
func multisigScriptSize(n int) int {
	return 1 + n*(1+compressedPubKeySize) + 1 + 1
}

// pushSize returns the size of the opcode pushing l bytes.
func pushSize(l int) int {
	switch {
	case l < txscript.OP_PUSHDATA1:
		return 1
	case l <= 0xff:
		return 2
	default:
		return 3
	}
}

// InputWeight estimates the worst case weight of an input spending an
// output of this descriptor once fully signed.
func (d *Descriptor) InputWeight() btcunit.WeightUnit {
	var base, witness int

	switch d.scriptType {
	case ScriptTypePKH:
		base = txsizes.RedeemP2PKHInputSize

	case ScriptTypeWPKH:
		base = txsizes.RedeemP2WPKHInputSize
		witness = txsizes.RedeemP2WPKHInputWitnessWeight

	case ScriptTypeSHWPKH:
		base = txsizes.RedeemNestedP2WPKHInputSize
		witness = txsizes.RedeemP2WPKHInputWitnessWeight

	case ScriptTypeSH:
		script := multisigScriptSize(len(d.keys))

		// OP_0 <m signatures> <redeem script>.
		sigScript := 1 + d.threshold*(1+maxSigSize) +
			pushSize(script) + script
		base = outPointAndSequenceSize +
			wire.VarIntSerializeSize(uint64(sigScript)) + sigScript

	case ScriptTypeWSH, ScriptTypeSHWSH:
		script := multisigScriptSize(len(d.keys))

		// The item count, the empty dummy element, the signatures and
		// the witness script.
		items := d.threshold + 2
		witness = wire.VarIntSerializeSize(uint64(items)) + 1 +
			d.threshold*(1+maxSigSize) +
			wire.VarIntSerializeSize(uint64(script)) + script

		sigScript := 0
		if d.scriptType == ScriptTypeSHWSH {
			sigScript = 1 + p2wshProgramSize
		}
		base = outPointAndSequenceSize +
			wire.VarIntSerializeSize(uint64(sigScript)) + sigScript
	}

	return btcunit.NewWeightUnit(
		uint64(base*blockchain.WitnessScaleFactor + witness),
	)
}
