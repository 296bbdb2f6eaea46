// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/cosigner/descriptor"
)

// LocalDerivationOracle derives addresses in process, without asking a
// node. It is used for offline operation and to cross-check a remote
// oracle.
type LocalDerivationOracle struct{}

// A compile-time assertion to ensure that LocalDerivationOracle implements
// the AddressDerivationOracle interface.
var _ AddressDerivationOracle = (*LocalDerivationOracle)(nil)

// DeriveAddresses returns the addresses of desc for every index in
// [start, end].
func (LocalDerivationOracle) DeriveAddresses(_ context.Context,
	desc *descriptor.Descriptor, start,
	end uint32) ([]btcutil.Address, error) {

	if !desc.IsRange() {
		derivation, err := desc.Derive(start)
		if err != nil {
			return nil, err
		}

		return []btcutil.Address{derivation.Address}, nil
	}

	derivations, err := desc.DeriveRange(start, end)
	if err != nil {
		return nil, err
	}

	addrs := make([]btcutil.Address, 0, len(derivations))
	for _, derivation := range derivations {
		addrs = append(addrs, derivation.Address)
	}

	return addrs, nil
}
