// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/cosigner/coinselect"
	"github.com/btcsuite/cosigner/descriptor"
)

// AddressDerivationOracle derives the addresses of a descriptor. It is
// usually backed by the node the wallet watches.
type AddressDerivationOracle interface {
	// DeriveAddresses returns the addresses of desc for every index in
	// [start, end]. Descriptors without a wildcard yield exactly one
	// address.
	DeriveAddresses(ctx context.Context, desc *descriptor.Descriptor,
		start, end uint32) ([]btcutil.Address, error)
}

// UtxoProvider lists the outputs the wallet can spend.
type UtxoProvider interface {
	// ListUtxos returns the wallet's unspent outputs with a number of
	// confirmations in [minConf, maxConf].
	ListUtxos(ctx context.Context, minConf,
		maxConf int64) ([]coinselect.Utxo, error)
}

// TxPublisher broadcasts fully signed transactions.
type TxPublisher interface {
	// Broadcast publishes tx to the network and returns its txid.
	Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash,
		error)
}
