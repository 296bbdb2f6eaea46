// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Derivation is the script and key information of a descriptor at a single
// child index.
type Derivation struct {
	// Index is the wildcard index the derivation was made at. It is zero
	// for descriptors without a wildcard.
	Index uint32

	// PubKeys are the derived public keys in script order. For
	// sortedmulti this is the BIP 67 order.
	PubKeys []*btcec.PublicKey

	// Bip32Derivations holds the origin information of each key in
	// PubKeys that has a known origin.
	Bip32Derivations []*psbt.Bip32Derivation

	// RedeemScript is the P2SH redeem script, if any.
	RedeemScript []byte

	// WitnessScript is the P2WSH witness script, if any.
	WitnessScript []byte

	// PkScript is the output script.
	PkScript []byte

	// Address is the encoded output address.
	Address btcutil.Address
}

// derivedKey is a public key together with its BIP32 origin.
type derivedKey struct {
	pubKey     *btcec.PublicKey
	derivation *psbt.Bip32Derivation
}

// Derive computes the scripts and address of the descriptor at the given
// wildcard index. The index is ignored by descriptors without a wildcard.
func (d *Descriptor) Derive(index uint32) (*Derivation, error) {
	keys := make([]derivedKey, 0, len(d.keys))
	for _, k := range d.keys {
		dk, err := deriveKey(k, index)
		if err != nil {
			return nil, err
		}
		keys = append(keys, dk)
	}

	if d.sorted {
		sort.SliceStable(keys, func(i, j int) bool {
			return bytes.Compare(
				keys[i].pubKey.SerializeCompressed(),
				keys[j].pubKey.SerializeCompressed(),
			) < 0
		})
	}

	result := &Derivation{
		PubKeys: make([]*btcec.PublicKey, 0, len(keys)),
	}
	if d.IsRange() {
		result.Index = index
	}
	for _, k := range keys {
		result.PubKeys = append(result.PubKeys, k.pubKey)
		if k.derivation != nil {
			result.Bip32Derivations = append(
				result.Bip32Derivations, k.derivation,
			)
		}
	}

	if err := d.buildScripts(result); err != nil {
		return nil, err
	}

	return result, nil
}

// DeriveRange derives the descriptor for every index in [start, end].
func (d *Descriptor) DeriveRange(start, end uint32) ([]*Derivation,
	error) {

	if !d.IsRange() {
		return nil, ErrNotRanged
	}
	if end < start {
		return nil, fmt.Errorf("invalid range [%d, %d]", start, end)
	}

	derivations := make([]*Derivation, 0, end-start+1)
	for i := start; ; i++ {
		derivation, err := d.Derive(i)
		if err != nil {
			return nil, err
		}
		derivations = append(derivations, derivation)

		if i == end {
			break
		}
	}

	return derivations, nil
}

// buildScripts fills in the scripts and address of a derivation from its
// public keys.
func (d *Descriptor) buildScripts(result *Derivation) error {
	var (
		addr btcutil.Address
		err  error
	)

	switch d.scriptType {
	case ScriptTypePKH:
		addr, err = btcutil.NewAddressPubKeyHash(
			btcutil.Hash160(result.PubKeys[0].SerializeCompressed()),
			d.params,
		)

	case ScriptTypeWPKH:
		addr, err = btcutil.NewAddressWitnessPubKeyHash(
			btcutil.Hash160(result.PubKeys[0].SerializeCompressed()),
			d.params,
		)

	case ScriptTypeSHWPKH:
		var wpkh btcutil.Address
		wpkh, err = btcutil.NewAddressWitnessPubKeyHash(
			btcutil.Hash160(result.PubKeys[0].SerializeCompressed()),
			d.params,
		)
		if err != nil {
			return err
		}

		result.RedeemScript, err = txscript.PayToAddrScript(wpkh)
		if err != nil {
			return err
		}
		addr, err = btcutil.NewAddressScriptHash(
			result.RedeemScript, d.params,
		)

	case ScriptTypeSH, ScriptTypeWSH, ScriptTypeSHWSH:
		addr, err = d.buildMultisig(result)

	default:
		return fmt.Errorf("%w: script type %v", ErrUnsupported,
			d.scriptType)
	}
	if err != nil {
		return err
	}

	result.Address = addr
	result.PkScript, err = txscript.PayToAddrScript(addr)

	return err
}

// buildMultisig builds the multisig script and its script hash wrapping.
func (d *Descriptor) buildMultisig(result *Derivation) (btcutil.Address,
	error) {

	pubKeys := make([]*btcutil.AddressPubKey, 0, len(result.PubKeys))
	for _, pub := range result.PubKeys {
		addrPub, err := btcutil.NewAddressPubKey(
			pub.SerializeCompressed(), d.params,
		)
		if err != nil {
			return nil, err
		}
		pubKeys = append(pubKeys, addrPub)
	}

	multisig, err := txscript.MultiSigScript(pubKeys, d.threshold)
	if err != nil {
		return nil, err
	}

	if d.scriptType == ScriptTypeSH {
		result.RedeemScript = multisig
		return btcutil.NewAddressScriptHash(multisig, d.params)
	}

	result.WitnessScript = multisig
	scriptHash := sha256.Sum256(multisig)
	wsh, err := btcutil.NewAddressWitnessScriptHash(
		scriptHash[:], d.params,
	)
	if err != nil {
		return nil, err
	}

	if d.scriptType == ScriptTypeWSH {
		return wsh, nil
	}

	result.RedeemScript, err = txscript.PayToAddrScript(wsh)
	if err != nil {
		return nil, err
	}

	return btcutil.NewAddressScriptHash(result.RedeemScript, d.params)
}

// deriveKey derives the public key of a key expression at the given
// wildcard index.
func deriveKey(k Key, index uint32) (derivedKey, error) {
	suffix, err := suffixIndices(k.Suffix, index)
	if err != nil {
		return derivedKey{}, err
	}

	var pubKey *btcec.PublicKey
	if isHexPubKey(k.Material) {
		if len(suffix) != 0 {
			return derivedKey{}, newError(ErrInvalidKey, fmt.Sprintf(
				"derivation suffix on non-extended key %s",
				k.Material,
			), nil)
		}

		raw, _ := hex.DecodeString(k.Material)
		pubKey, err = btcec.ParsePubKey(raw)
		if err != nil {
			return derivedKey{}, newError(ErrInvalidKey,
				"invalid public key", err)
		}
	} else {
		pubKey, err = deriveExtendedKey(k.Material, suffix)
		if err != nil {
			return derivedKey{}, err
		}
	}

	dk := derivedKey{pubKey: pubKey}
	if !k.HasOrigin() {
		return dk, nil
	}

	fp, err := k.FingerprintBytes()
	if err != nil {
		return derivedKey{}, err
	}
	origin, err := k.OriginIndices()
	if err != nil {
		return derivedKey{}, newError(ErrInvalidKey, "invalid origin",
			err)
	}

	path := make([]uint32, 0, len(origin)+len(suffix))
	path = append(path, origin...)
	path = append(path, suffix...)

	dk.derivation = &psbt.Bip32Derivation{
		PubKey:               pubKey.SerializeCompressed(),
		MasterKeyFingerprint: binary.LittleEndian.Uint32(fp[:]),
		Bip32Path:            path,
	}

	return dk, nil
}

// deriveExtendedKey derives the public key below an extended key.
func deriveExtendedKey(material string, path []uint32) (*btcec.PublicKey,
	error) {

	extKey, err := hdkeychain.NewKeyFromString(material)
	if err != nil {
		return nil, newError(ErrInvalidKey, "invalid extended key", err)
	}

	for _, child := range path {
		if child >= hdkeychain.HardenedKeyStart && !extKey.IsPrivate() {
			return nil, ErrHardenedPublicDerivation
		}

		extKey, err = extKey.Derive(child)
		if err != nil {
			return nil, err
		}
	}

	return extKey.ECPubKey()
}

// suffixIndices resolves the derivation suffix into child indices,
// substituting the wildcard with index.
func suffixIndices(suffix string, index uint32) ([]uint32, error) {
	if suffix == "" {
		return nil, nil
	}

	var (
		parts   = strings.Split(strings.TrimPrefix(suffix, "/"), "/")
		indices = make([]uint32, 0, len(parts))
	)
	for _, part := range parts {
		if strings.HasPrefix(part, "*") {
			if index >= hdkeychain.HardenedKeyStart {
				return nil, fmt.Errorf("wildcard index %d out "+
					"of range", index)
			}

			child := index
			if strings.HasSuffix(part, "'") {
				child += hdkeychain.HardenedKeyStart
			}
			indices = append(indices, child)

			continue
		}

		resolved, err := parsePath(part)
		if err != nil {
			return nil, newError(ErrInvalidKey, "invalid suffix", err)
		}
		indices = append(indices, resolved...)
	}

	return indices, nil
}

// isHexPubKey returns true if material is a hex encoded compressed or
// uncompressed public key.
func isHexPubKey(material string) bool {
	if len(material) != 2*secp256k1.PubKeyBytesLenCompressed &&
		len(material) != 2*secp256k1.PubKeyBytesLenUncompressed {

		return false
	}

	_, err := hex.DecodeString(material)

	return err == nil
}
