// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/cosigner/descriptor"
	"github.com/btcsuite/cosigner/pkg/btcunit"
	"github.com/btcsuite/cosigner/wallet"
	"github.com/davecgh/go-spew/spew"
)

// checksumCommand appends or verifies a descriptor checksum.
type checksumCommand struct {
	cfg *config

	Args struct {
		Descriptor string `positional-arg-name:"descriptor"`
	} `positional-args:"yes" required:"yes"`
}

// Execute prints the descriptor with its checksum.
func (c *checksumCommand) Execute(_ []string) error {
	text := strings.TrimSpace(c.Args.Descriptor)

	if strings.Contains(text, "#") {
		body, err := descriptor.VerifyChecksum(text)
		if err != nil {
			return err
		}

		log.Debugf("Checksum of %s is valid", body)
		fmt.Fprintln(c.cfg.out, text)

		return nil
	}

	withChecksum, err := descriptor.AddChecksum(text)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.cfg.out, withChecksum)

	return nil
}

// parseCommand prints the properties of a descriptor.
type parseCommand struct {
	cfg *config

	Strict bool `long:"strict" description:"Require a checksum"`

	Args struct {
		Descriptor string `positional-arg-name:"descriptor"`
	} `positional-args:"yes" required:"yes"`
}

// Execute parses the descriptor and prints a summary of it.
func (c *parseCommand) Execute(_ []string) error {
	parse := descriptor.Parse
	if c.Strict {
		parse = descriptor.ParseStrict
	}

	desc, err := parse(strings.TrimSpace(c.Args.Descriptor), c.cfg.params)
	if err != nil {
		return err
	}

	out := c.cfg.out
	fmt.Fprintf(out, "script type:  %v\n", desc.ScriptType())
	if desc.IsMultisig() {
		fmt.Fprintf(out, "multisig:     %d of %d (sorted=%v)\n",
			desc.Threshold(), desc.N(), desc.IsSorted())
	}
	fmt.Fprintf(out, "ranged:       %v\n", desc.IsRange())
	fmt.Fprintf(out, "fingerprints: %s\n",
		strings.Join(desc.Fingerprints(), ","))
	fmt.Fprintf(out, "input weight: %v\n", desc.InputWeight())

	for i, key := range desc.Keys() {
		fmt.Fprintf(out, "key %d:        %s\n", i, key)
	}

	serialized, err := desc.Serialize()
	if err != nil {
		fmt.Fprintf(out, "descriptor:   %s (%v)\n", desc.Original(),
			err)
		return nil
	}
	fmt.Fprintf(out, "descriptor:   %s\n", serialized)

	return nil
}

// deriveCommand derives the addresses of a descriptor.
type deriveCommand struct {
	cfg *config

	Start  uint32 `long:"start" description:"First child index"`
	End    uint32 `long:"end" description:"Last child index"`
	Verify bool   `long:"verify" description:"Cross-check the addresses with the node"`

	Args struct {
		Descriptor string `positional-arg-name:"descriptor"`
	} `positional-args:"yes" required:"yes"`
}

// Execute prints one address per line, prefixed by its index.
func (c *deriveCommand) Execute(_ []string) error {
	desc, err := descriptor.Parse(
		strings.TrimSpace(c.Args.Descriptor), c.cfg.params,
	)
	if err != nil {
		return err
	}

	ctx := context.Background()
	addrs, err := wallet.LocalDerivationOracle{}.DeriveAddresses(
		ctx, desc, c.Start, c.End,
	)
	if err != nil {
		return err
	}

	if c.Verify {
		client, err := c.cfg.chainClient()
		if err != nil {
			return err
		}

		remote, err := client.DeriveAddresses(ctx, desc, c.Start, c.End)
		if err != nil {
			return err
		}

		for i := range addrs {
			if addrs[i].String() != remote[i].String() {
				return fmt.Errorf("%w: index %d derives %v "+
					"locally and %v on the node",
					wallet.ErrDerivationMismatch,
					c.Start+uint32(i), addrs[i], remote[i])
			}
		}
	}

	for i, addr := range addrs {
		index := c.Start + uint32(i)
		if !desc.IsRange() {
			index = 0
		}
		fmt.Fprintf(c.cfg.out, "%d %s\n", index, addr)
	}

	return nil
}

// combineCommand combines PSBT copies.
type combineCommand struct {
	cfg *config

	Args struct {
		Psbts []string `positional-arg-name:"psbt" required:"1"`
	} `positional-args:"yes"`
}

// Execute prints the combined PSBT in base64.
func (c *combineCommand) Execute(_ []string) error {
	packets, err := decodePsbts(c.Args.Psbts)
	if err != nil {
		return err
	}

	combined, err := wallet.CombineAll(packets...)
	if err != nil {
		return err
	}

	return printPsbt(c.cfg, combined)
}

// finalizeCommand finalizes a PSBT.
type finalizeCommand struct {
	cfg *config

	Args struct {
		Psbts []string `positional-arg-name:"psbt" required:"1"`
	} `positional-args:"yes"`
}

// Execute combines the given copies, finalizes the result and prints the
// raw transaction. An incomplete PSBT is printed as is.
func (c *finalizeCommand) Execute(_ []string) error {
	packets, err := decodePsbts(c.Args.Psbts)
	if err != nil {
		return err
	}

	combined, err := wallet.CombineAll(packets...)
	if err != nil {
		return err
	}

	result, err := wallet.Finalize(combined)
	if err != nil {
		return err
	}

	if !result.Complete {
		fmt.Fprintln(c.cfg.out, "incomplete")
		return printPsbt(c.cfg, result.Packet)
	}

	return printTx(c.cfg, result.Tx)
}

// inspectCommand prints the contents of a PSBT.
type inspectCommand struct {
	cfg *config

	Dump bool `long:"dump" description:"Dump the full decoded PSBT"`

	Args struct {
		Psbt string `positional-arg-name:"psbt"`
	} `positional-args:"yes" required:"yes"`
}

// Execute prints the transaction, its inputs and outputs and the
// signatures collected per input.
func (c *inspectCommand) Execute(_ []string) error {
	packet, err := wallet.DecodePsbt(c.Args.Psbt)
	if err != nil {
		return err
	}

	out := c.cfg.out
	tx := packet.UnsignedTx
	fmt.Fprintf(out, "txid:     %v\n", tx.TxHash())
	fmt.Fprintf(out, "version:  %d\n", tx.Version)
	fmt.Fprintf(out, "locktime: %d\n", tx.LockTime)

	for i, txIn := range tx.TxIn {
		in := packet.Inputs[i]

		value := "unknown"
		prevOut := wallet.PsbtPrevOutputFetcher(packet).
			FetchPrevOutput(txIn.PreviousOutPoint)
		if prevOut != nil {
			value = btcunit.FormatBTC(btcutil.Amount(prevOut.Value))
		}

		status := fmt.Sprintf("%d signatures", len(in.PartialSigs))
		if len(in.FinalScriptWitness) > 0 || len(in.FinalScriptSig) > 0 {
			status = "finalized"
		}

		fmt.Fprintf(out, "input %d:  %v value=%s sequence=%#x %s\n", i,
			txIn.PreviousOutPoint, value, txIn.Sequence, status)
	}

	for i, txOut := range tx.TxOut {
		addr := "non-standard"
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(
			txOut.PkScript, c.cfg.params,
		)
		if err == nil && len(addrs) == 1 {
			addr = addrs[0].String()
		}

		kind := ""
		if len(packet.Outputs[i].Bip32Derivation) > 0 {
			kind = " (change)"
		}

		fmt.Fprintf(out, "output %d: %s %s%s\n", i, addr,
			btcunit.FormatBTC(btcutil.Amount(txOut.Value)), kind)
	}

	inputTotal, err := psbt.SumUtxoInputValues(packet)
	if err == nil {
		fee := btcutil.Amount(inputTotal - sumOutputs(tx.TxOut))
		fmt.Fprintf(out, "fee:      %s\n", btcunit.FormatBTC(fee))
	}
	fmt.Fprintf(out, "complete: %v\n", packet.IsComplete())

	if c.Dump {
		spew.Fdump(out, packet)
	}

	return nil
}

// decodePsbts decodes base64 or hex encoded PSBTs.
func decodePsbts(encoded []string) ([]*psbt.Packet, error) {
	packets := make([]*psbt.Packet, 0, len(encoded))
	for i, e := range encoded {
		packet, err := wallet.DecodePsbt(e)
		if err != nil {
			return nil, fmt.Errorf("psbt %d: %w", i, err)
		}
		packets = append(packets, packet)
	}

	return packets, nil
}

// printPsbt writes the PSBT in base64 on its own line.
func printPsbt(cfg *config, packet *psbt.Packet) error {
	encoded, err := packet.B64Encode()
	if err != nil {
		return err
	}

	fmt.Fprintln(cfg.out, encoded)

	return nil
}

// printTx writes the raw transaction in hex on its own line.
func printTx(cfg *config, tx *wire.MsgTx) error {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return err
	}

	fmt.Fprintln(cfg.out, hex.EncodeToString(buf.Bytes()))

	return nil
}

// sumOutputs returns the summed value of the outputs.
func sumOutputs(outputs []*wire.TxOut) int64 {
	var total int64
	for _, out := range outputs {
		total += out.Value
	}

	return total
}
