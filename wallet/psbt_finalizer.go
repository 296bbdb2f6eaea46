// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// FinalizeResult is the outcome of finalizing a PSBT.
type FinalizeResult struct {
	// Packet is the PSBT with every satisfiable input finalized.
	Packet *psbt.Packet

	// Complete is true once every input is finalized.
	Complete bool

	// Tx is the extracted network transaction. It is only set when
	// Complete is true.
	Tx *wire.MsgTx
}

// Finalize finalizes every input of a copy of packet that has collected
// enough signatures. A PSBT that is still missing signatures is not an
// error: the result then reports Complete as false and carries the inputs
// that could be finalized so far.
//
// Multisig inputs are finalized with the first threshold signatures in the
// key order of their script, so signatures added later never make a
// finalizable input unfinalizable. Inputs that are already finalized are
// left alone. Combine keeps a finalized input over any partial copy, so
// combining a finalized PSBT with later contributions and finalizing again
// yields the same signed transaction.
func Finalize(packet *psbt.Packet) (*FinalizeResult, error) {
	if packet == nil {
		return nil, ErrNilPacket
	}

	if err := checkPacketShape(packet); err != nil {
		return nil, err
	}

	result, err := copyPacket(packet)
	if err != nil {
		return nil, err
	}

	for i := range result.Inputs {
		in := &result.Inputs[i]
		if isFinalized(in) {
			continue
		}

		sigs := in.PartialSigs
		if !pruneMultisigSigs(in) {
			log.Tracef("Input %d of %v lacks signatures", i,
				result.UnsignedTx.TxHash())

			continue
		}

		_, err := psbt.MaybeFinalize(result, i)
		switch {
		case errors.Is(err, psbt.ErrNotFinalizable):
			in.PartialSigs = sigs

			continue

		case err != nil:
			return nil, fmt.Errorf("finalize input %d: %w", i, err)
		}
	}

	if !result.IsComplete() {
		return &FinalizeResult{Packet: result}, nil
	}

	tx, err := psbt.Extract(result)
	if err != nil {
		return nil, fmt.Errorf("extract tx: %w", err)
	}

	log.Debugf("Finalized PSBT %v", tx.TxHash())

	return &FinalizeResult{
		Packet:   result,
		Complete: true,
		Tx:       tx,
	}, nil
}

// pruneMultisigSigs reduces the partial signatures of a multisig input to
// the first threshold signatures in script key order, as the finalizer
// requires exactly that many. It returns false if the input has fewer
// relevant signatures than its threshold. Inputs that do not spend a
// multisig script are left as is.
func pruneMultisigSigs(in *psbt.PInput) bool {
	script := in.WitnessScript
	if script == nil {
		script = in.RedeemScript
	}

	if txscript.GetScriptClass(script) != txscript.MultiSigTy {
		return len(in.PartialSigs) > 0
	}

	pubKeys, threshold, err := multisigKeys(script)
	if err != nil {
		return false
	}

	pruned := make([]*psbt.PartialSig, 0, threshold)
	for _, pubKey := range pubKeys {
		for _, sig := range in.PartialSigs {
			if !bytes.Equal(sig.PubKey, pubKey) {
				continue
			}

			pruned = append(pruned, sig)

			break
		}

		if len(pruned) == threshold {
			break
		}
	}

	if len(pruned) < threshold {
		return false
	}

	in.PartialSigs = pruned

	return true
}

// multisigKeys returns the serialized public keys of a multisig script in
// script order together with its threshold.
func multisigKeys(script []byte) ([][]byte, int, error) {
	// The network only affects address encoding, which is not used.
	_, addrs, threshold, err := txscript.ExtractPkScriptAddrs(
		script, &chaincfg.MainNetParams,
	)
	if err != nil {
		return nil, 0, err
	}

	pubKeys := make([][]byte, 0, len(addrs))
	for _, addr := range addrs {
		pubKeyAddr, ok := addr.(*btcutil.AddressPubKey)
		if !ok {
			return nil, 0, fmt.Errorf("unexpected multisig "+
				"address %T", addr)
		}
		pubKeys = append(pubKeys, pubKeyAddr.ScriptAddress())
	}

	return pubKeys, threshold, nil
}
