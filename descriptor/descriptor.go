// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package descriptor implements parsing, serialization and key derivation
// for the subset of output script descriptors used by single-signature and
// multisignature wallets. Checksums are computed exactly as Bitcoin Core's
// descriptor.cpp does.
package descriptor

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// ScriptType is the output script template of a descriptor.
type ScriptType uint8

const (
	// ScriptTypeUnknown is the zero value and never produced by Parse.
	ScriptTypeUnknown ScriptType = iota

	// ScriptTypePKH is a legacy pay-to-pubkey-hash output.
	ScriptTypePKH

	// ScriptTypeWPKH is a native segwit v0 pay-to-witness-pubkey-hash
	// output.
	ScriptTypeWPKH

	// ScriptTypeSHWPKH is a pay-to-witness-pubkey-hash output nested in
	// pay-to-script-hash.
	ScriptTypeSHWPKH

	// ScriptTypeSH is a legacy pay-to-script-hash multisig output.
	ScriptTypeSH

	// ScriptTypeWSH is a native segwit v0 pay-to-witness-script-hash
	// multisig output.
	ScriptTypeWSH

	// ScriptTypeSHWSH is a pay-to-witness-script-hash multisig output
	// nested in pay-to-script-hash.
	ScriptTypeSHWSH
)

// String returns the descriptor notation of the script type.
func (s ScriptType) String() string {
	switch s {
	case ScriptTypePKH:
		return "pkh"
	case ScriptTypeWPKH:
		return "wpkh"
	case ScriptTypeSHWPKH:
		return "sh-wpkh"
	case ScriptTypeSH:
		return "sh"
	case ScriptTypeWSH:
		return "wsh"
	case ScriptTypeSHWSH:
		return "sh-wsh"
	default:
		return "unknown"
	}
}

// IsMultisig returns true for the script hash templates, which always wrap a
// multi or sortedmulti expression.
func (s ScriptType) IsMultisig() bool {
	switch s {
	case ScriptTypeSH, ScriptTypeWSH, ScriptTypeSHWSH:
		return true
	default:
		return false
	}
}

// IsWitness returns true if spending the output requires witness data.
func (s ScriptType) IsWitness() bool {
	switch s {
	case ScriptTypeWPKH, ScriptTypeSHWPKH, ScriptTypeWSH, ScriptTypeSHWSH:
		return true
	default:
		return false
	}
}

// Key is a single key expression of a descriptor.
type Key struct {
	// Fingerprint is the lowercase hex fingerprint of the master key the
	// key was derived from. It is empty if the key has no origin.
	Fingerprint string

	// OriginPath is the derivation path from the master key, with
	// hardened steps written as an apostrophe and without a leading
	// slash, e.g. "48'/0'/0'/2'".
	OriginPath string

	// Material is the extended public key or the hex encoded public key.
	Material string

	// Suffix is the unhardened derivation below Material, e.g. "/0/*".
	Suffix string
}

// HasOrigin returns true if the key carries both an origin fingerprint and
// an origin path.
func (k Key) HasOrigin() bool {
	return k.Fingerprint != "" && k.OriginPath != ""
}

// IsRange returns true if the key suffix contains a wildcard.
func (k Key) IsRange() bool {
	return strings.Contains(k.Suffix, "*")
}

// String returns the key expression.
func (k Key) String() string {
	var sb strings.Builder
	if k.HasOrigin() {
		sb.WriteString("[")
		sb.WriteString(k.Fingerprint)
		sb.WriteString("/")
		sb.WriteString(k.OriginPath)
		sb.WriteString("]")
	}
	sb.WriteString(k.Material)
	sb.WriteString(k.Suffix)

	return sb.String()
}

// sortKey is the portion of the key expression used to order sortedmulti
// keys: everything after the origin bracket.
func (k Key) sortKey() string {
	return k.Material + k.Suffix
}

// FingerprintBytes returns the four fingerprint bytes in the order they
// appear in the hex string.
func (k Key) FingerprintBytes() ([4]byte, error) {
	var fp [4]byte
	if k.Fingerprint == "" {
		return fp, fmt.Errorf("key %s has no fingerprint", k.Material)
	}

	raw, err := hex.DecodeString(k.Fingerprint)
	if err != nil {
		return fp, err
	}
	copy(fp[:], raw)

	return fp, nil
}

// OriginIndices returns the origin path as BIP32 child indices.
func (k Key) OriginIndices() ([]uint32, error) {
	return parsePath(k.OriginPath)
}

// parsePath converts a slash separated path without a leading slash into
// child indices. A trailing apostrophe marks a hardened index.
func parsePath(path string) ([]uint32, error) {
	if path == "" {
		return nil, nil
	}

	parts := strings.Split(path, "/")
	indices := make([]uint32, 0, len(parts))
	for _, part := range parts {
		hardened := strings.HasSuffix(part, "'")
		part = strings.TrimSuffix(part, "'")

		idx, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid path element %q: %w",
				part, err)
		}
		if idx >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("path element %d out of range",
				idx)
		}

		child := uint32(idx)
		if hardened {
			child += hdkeychain.HardenedKeyStart
		}
		indices = append(indices, child)
	}

	return indices, nil
}

// Descriptor is a parsed output descriptor. It is immutable once created by
// Parse.
type Descriptor struct {
	scriptType ScriptType
	sorted     bool
	threshold  int
	keys       []Key
	params     *chaincfg.Params
	original   string
}

// ScriptType returns the output script template.
func (d *Descriptor) ScriptType() ScriptType {
	return d.scriptType
}

// IsMultisig returns true if the descriptor wraps a multi or sortedmulti
// expression.
func (d *Descriptor) IsMultisig() bool {
	return d.scriptType.IsMultisig()
}

// IsSorted returns true for sortedmulti descriptors.
func (d *Descriptor) IsSorted() bool {
	return d.sorted
}

// Threshold returns the number of signatures required to spend. It is 1 for
// single key descriptors.
func (d *Descriptor) Threshold() int {
	return d.threshold
}

// N returns the number of keys.
func (d *Descriptor) N() int {
	return len(d.keys)
}

// Keys returns a copy of the key expressions in descriptor order.
func (d *Descriptor) Keys() []Key {
	keys := make([]Key, len(d.keys))
	copy(keys, d.keys)

	return keys
}

// Params returns the network the descriptor was parsed for.
func (d *Descriptor) Params() *chaincfg.Params {
	return d.params
}

// Testnet returns true if the descriptor was parsed for any network other
// than mainnet. It is recorded for callers and not enforced against the key
// material.
func (d *Descriptor) Testnet() bool {
	return d.params.Net != wire.MainNet
}

// Original returns the text the descriptor was parsed from.
func (d *Descriptor) Original() string {
	return d.original
}

// IsRange returns true if any key derives through a wildcard.
func (d *Descriptor) IsRange() bool {
	for _, k := range d.keys {
		if k.IsRange() {
			return true
		}
	}

	return false
}

// Fingerprints returns the origin fingerprints of all keys that have one.
func (d *Descriptor) Fingerprints() []string {
	fps := make([]string, 0, len(d.keys))
	for _, k := range d.keys {
		if k.Fingerprint != "" {
			fps = append(fps, k.Fingerprint)
		}
	}

	return fps
}

// Equal reports whether both descriptors describe the same script template,
// keys and network. The original text is not compared.
func (d *Descriptor) Equal(other *Descriptor) bool {
	if d == nil || other == nil {
		return d == other
	}

	if d.scriptType != other.scriptType || d.sorted != other.sorted ||
		d.threshold != other.threshold ||
		len(d.keys) != len(other.keys) ||
		d.params.Net != other.params.Net {

		return false
	}

	for i := range d.keys {
		if d.keys[i] != other.keys[i] {
			return false
		}
	}

	return true
}

// Serialize returns the descriptor text with a freshly computed checksum.
// ErrUnsupported is returned when a key carries a fingerprint without a
// path, or when a legacy multisig descriptor mixes keys with and without
// origin information. In both cases the re-emitted text would drop data.
func (d *Descriptor) Serialize() (string, error) {
	body, err := d.WithoutChecksum()
	if err != nil {
		return "", err
	}

	return AddChecksum(body)
}

// WithoutChecksum returns the serialized descriptor body without a checksum.
func (d *Descriptor) WithoutChecksum() (string, error) {
	withOrigin := 0
	for _, k := range d.keys {
		if k.Fingerprint != "" && k.OriginPath == "" {
			return "", fmt.Errorf("%w: key %s has a fingerprint "+
				"but no origin path", ErrUnsupported, k.Material)
		}
		if k.HasOrigin() {
			withOrigin++
		}
	}

	if d.scriptType == ScriptTypeSH && withOrigin != 0 &&
		withOrigin != len(d.keys) {

		return "", fmt.Errorf("%w: legacy multisig mixes keys with "+
			"and without origin", ErrUnsupported)
	}

	var inner string
	if d.IsMultisig() {
		keys := make([]string, 0, len(d.keys)+1)
		keys = append(keys, strconv.Itoa(d.threshold))
		for _, k := range d.keys {
			keys = append(keys, k.String())
		}

		name := "multi"
		if d.sorted {
			name = "sortedmulti"
		}
		inner = name + "(" + strings.Join(keys, ",") + ")"
	} else {
		inner = d.keys[0].String()
	}

	switch d.scriptType {
	case ScriptTypePKH:
		return "pkh(" + inner + ")", nil
	case ScriptTypeWPKH:
		return "wpkh(" + inner + ")", nil
	case ScriptTypeSHWPKH:
		return "sh(wpkh(" + inner + "))", nil
	case ScriptTypeSH:
		return "sh(" + inner + ")", nil
	case ScriptTypeWSH:
		return "wsh(" + inner + ")", nil
	case ScriptTypeSHWSH:
		return "sh(wsh(" + inner + "))", nil
	default:
		return "", fmt.Errorf("%w: script type %v", ErrUnsupported,
			d.scriptType)
	}
}

// String returns the serialized descriptor, or the original text when the
// descriptor cannot be serialized.
func (d *Descriptor) String() string {
	s, err := d.Serialize()
	if err != nil {
		return d.original
	}

	return s
}
