// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtdb

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Store persists PSBT records keyed by the txid of their unsigned
// transaction.
type Store interface {
	// SavePsbt inserts the record or replaces the stored one. Signers
	// already stored for the txid are kept.
	SavePsbt(ctx context.Context, record *Record) error

	// LoadPsbt returns the record stored for txid or ErrPsbtNotFound.
	LoadPsbt(ctx context.Context, txid chainhash.Hash) (*Record, error)

	// DeletePsbt removes the record stored for txid or returns
	// ErrPsbtNotFound.
	DeletePsbt(ctx context.Context, txid chainhash.Hash) error

	// ListPsbts returns all stored records ordered by creation time.
	ListPsbts(ctx context.Context) ([]*Record, error)
}
