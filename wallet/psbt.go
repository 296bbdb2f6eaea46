// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/cosigner/coinselect"
	"github.com/btcsuite/cosigner/descriptor"
)

// scriptIndex maps the output scripts of the wallet descriptors to their
// derivations.
type scriptIndex map[string]*descriptor.Derivation

// indexScripts derives the wallet descriptors until the output script of
// every coin is found or the lookahead window is exhausted.
func indexScripts(descs []*descriptor.Descriptor, window uint32,
	coins []coinselect.Utxo) (scriptIndex, error) {

	missing := make(map[string]struct{}, len(coins))
	for _, coin := range coins {
		missing[string(coin.PkScript)] = struct{}{}
	}

	index := make(scriptIndex, len(coins))
	for _, desc := range descs {
		end := window
		if !desc.IsRange() {
			end = 0
		}

		for i := uint32(0); i <= end && len(missing) > 0; i++ {
			derivation, err := desc.Derive(i)
			if err != nil {
				return nil, err
			}

			script := string(derivation.PkScript)
			if _, ok := missing[script]; !ok {
				continue
			}

			index[script] = derivation
			delete(missing, script)
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %d of %d coins within %d indices",
			ErrUnknownScript, len(missing), len(coins), window)
	}

	log.Tracef("Indexed %d coin scripts", len(index))

	return index, nil
}

// addInputInfo adds the UTXO, script and BIP32 derivation info for a
// wallet input so an offline signer can sign it.
func addInputInfo(in *psbt.PInput, coin coinselect.Utxo,
	derivation *descriptor.Derivation) error {

	switch {
	// As a fix for CVE-2020-14199 we include the full parent transaction
	// whenever it is known, also for witness inputs.
	case txscript.IsWitnessProgram(coin.PkScript) ||
		len(derivation.WitnessScript) > 0 ||
		isNestedWitness(derivation.RedeemScript):

		in.WitnessUtxo = coin.TxOut()
		in.NonWitnessUtxo = coin.PrevTx

	// Legacy inputs are signed over the full previous transaction, so it
	// is mandatory.
	default:
		if coin.PrevTx == nil {
			return fmt.Errorf("%w: %v", ErrMissingPrevTx,
				coin.OutPoint)
		}

		in.NonWitnessUtxo = coin.PrevTx
	}

	in.SighashType = txscript.SigHashAll
	in.RedeemScript = derivation.RedeemScript
	in.WitnessScript = derivation.WitnessScript
	in.Bip32Derivation = append(
		[]*psbt.Bip32Derivation(nil), derivation.Bip32Derivations...,
	)

	return nil
}

// isNestedWitness returns true if the redeem script is a witness program.
func isNestedWitness(redeemScript []byte) bool {
	return len(redeemScript) > 0 && txscript.IsWitnessProgram(redeemScript)
}

// createOutputInfo creates the script and BIP32 derivation info for a
// change output so signers can verify it pays back to the wallet.
func createOutputInfo(derivation *descriptor.Derivation) *psbt.POutput {
	return &psbt.POutput{
		RedeemScript:  derivation.RedeemScript,
		WitnessScript: derivation.WitnessScript,
		Bip32Derivation: append(
			[]*psbt.Bip32Derivation(nil),
			derivation.Bip32Derivations...,
		),
	}
}

// PsbtPrevOutputFetcher returns a txscript.PrevOutFetcher built from the UTXO
// information in a PSBT packet.
func PsbtPrevOutputFetcher(packet *psbt.Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for idx, txIn := range packet.UnsignedTx.TxIn {
		in := packet.Inputs[idx]

		switch {
		case in.WitnessUtxo != nil:
			fetcher.AddPrevOut(txIn.PreviousOutPoint, in.WitnessUtxo)

		case in.NonWitnessUtxo != nil:
			prevIndex := txIn.PreviousOutPoint.Index
			if int(prevIndex) >= len(in.NonWitnessUtxo.TxOut) {
				continue
			}

			fetcher.AddPrevOut(
				txIn.PreviousOutPoint,
				in.NonWitnessUtxo.TxOut[prevIndex],
			)
		}
	}

	return fetcher
}

// copyPacket returns a deep copy of the packet by round-tripping it through
// its serialization.
func copyPacket(packet *psbt.Packet) (*psbt.Packet, error) {
	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize psbt: %w", err)
	}

	return psbt.NewFromRawBytes(&buf, false)
}

// checkPacketShape makes sure packet carries an unsigned transaction with
// one input and output map per transaction input and output.
func checkPacketShape(packet *psbt.Packet) error {
	switch {
	case packet.UnsignedTx == nil:
		return fmt.Errorf("%w: missing unsigned tx", ErrInvalidPsbt)

	case len(packet.Inputs) != len(packet.UnsignedTx.TxIn):
		return fmt.Errorf("%w: %d inputs for %d tx inputs",
			ErrInvalidPsbt, len(packet.Inputs),
			len(packet.UnsignedTx.TxIn))

	case len(packet.Outputs) != len(packet.UnsignedTx.TxOut):
		return fmt.Errorf("%w: %d outputs for %d tx outputs",
			ErrInvalidPsbt, len(packet.Outputs),
			len(packet.UnsignedTx.TxOut))
	}

	return nil
}

// DecodePsbt parses a PSBT from its base64 or hex encoding.
func DecodePsbt(encoded string) (*psbt.Packet, error) {
	encoded = strings.TrimSpace(encoded)

	// The magic bytes "psbt" are "cHNidP" in base64 and "70736274" in
	// hex.
	if strings.HasPrefix(encoded, "70736274") {
		raw, err := hex.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode psbt hex: %w", err)
		}

		return psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	}

	return psbt.NewFromRawBytes(strings.NewReader(encoded), true)
}

// sumOutputs returns the summed value of the outputs.
func sumOutputs(outputs []*wire.TxOut) int64 {
	var total int64
	for _, out := range outputs {
		total += out.Value
	}

	return total
}
