// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// Combine merges two copies of the same PSBT, as returned by different
// signers, into a new packet. Neither argument is modified.
//
// Both packets must carry byte-identical unsigned transactions. Key-value
// lists such as the partial signatures are unioned. When both copies hold
// different values for the same key, the value with the smaller encoding
// wins, which keeps Combine commutative and associative. Single values
// such as the scripts of an input must agree if both copies set them. An
// input finalized in either copy is taken from that copy unchanged.
func Combine(a, b *psbt.Packet) (*psbt.Packet, error) {
	if a == nil || b == nil {
		return nil, ErrNilPacket
	}

	if err := checkCompatible(a, b); err != nil {
		return nil, err
	}

	result, err := copyPacket(a)
	if err != nil {
		return nil, err
	}

	for i := range result.Inputs {
		err := mergeInput(&result.Inputs[i], &b.Inputs[i])
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}

	for i := range result.Outputs {
		err := mergeOutput(&result.Outputs[i], &b.Outputs[i])
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
	}

	result.Unknowns = mergeUnknowns(result.Unknowns, b.Unknowns)

	return result, nil
}

// CombineAll folds Combine over packets.
func CombineAll(packets ...*psbt.Packet) (*psbt.Packet, error) {
	if len(packets) == 0 {
		return nil, ErrNoPsbtsToCombine
	}

	result := packets[0]
	if result == nil {
		return nil, ErrNilPacket
	}

	result, err := copyPacket(result)
	if err != nil {
		return nil, err
	}

	for _, packet := range packets[1:] {
		result, err = Combine(result, packet)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// checkCompatible makes sure both packets are well formed and spend the
// same unsigned transaction.
func checkCompatible(a, b *psbt.Packet) error {
	for _, p := range []*psbt.Packet{a, b} {
		if p.UnsignedTx == nil {
			return fmt.Errorf("%w: missing unsigned tx",
				ErrIncompatibleTransactions)
		}

		if len(p.Inputs) != len(p.UnsignedTx.TxIn) {
			return fmt.Errorf("%w: %d inputs for %d tx inputs",
				ErrInputCountMismatch, len(p.Inputs),
				len(p.UnsignedTx.TxIn))
		}

		if len(p.Outputs) != len(p.UnsignedTx.TxOut) {
			return fmt.Errorf("%w: %d outputs for %d tx outputs",
				ErrOutputCountMismatch, len(p.Outputs),
				len(p.UnsignedTx.TxOut))
		}
	}

	rawA, err := serializeTx(a.UnsignedTx)
	if err != nil {
		return err
	}

	rawB, err := serializeTx(b.UnsignedTx)
	if err != nil {
		return err
	}

	if !bytes.Equal(rawA, rawB) {
		return fmt.Errorf("%w: %v and %v", ErrIncompatibleTransactions,
			a.UnsignedTx.TxHash(), b.UnsignedTx.TxHash())
	}

	return nil
}

// mergeInput merges the fields of other into in. A finalized input is
// taken as is: once one copy carries final scripts, the partial data of the
// other copy is ignored, so later contributions cannot change a finalized
// input.
func mergeInput(in, other *psbt.PInput) error {
	inFinal, otherFinal := isFinalized(in), isFinalized(other)
	switch {
	case inFinal && otherFinal:
		return mergeFinalizedInput(in, other)

	case otherFinal:
		*in = finalizedInput(other)

		return nil

	case inFinal:
		return nil
	}

	err := mergeWitnessUtxo(&in.WitnessUtxo, other.WitnessUtxo)
	if err != nil {
		return err
	}

	err = mergeNonWitnessUtxo(&in.NonWitnessUtxo, other.NonWitnessUtxo)
	if err != nil {
		return err
	}

	in.Unknowns = mergeUnknowns(in.Unknowns, other.Unknowns)

	switch {
	case in.SighashType == 0:
		in.SighashType = other.SighashType

	case other.SighashType != 0 && in.SighashType != other.SighashType:
		return fmt.Errorf("%w: %v and %v", ErrSighashMismatch,
			in.SighashType, other.SighashType)
	}

	err = mergeBytes(
		&in.RedeemScript, other.RedeemScript, ErrRedeemScriptMismatch,
	)
	if err != nil {
		return err
	}

	err = mergeBytes(
		&in.WitnessScript, other.WitnessScript,
		ErrWitnessScriptMismatch,
	)
	if err != nil {
		return err
	}

	err = mergeBytes(
		&in.TaprootInternalKey, other.TaprootInternalKey,
		ErrTaprootInternalKeyMismatch,
	)
	if err != nil {
		return err
	}

	err = mergeBytes(
		&in.TaprootKeySpendSig, other.TaprootKeySpendSig,
		ErrTaprootFieldMismatch,
	)
	if err != nil {
		return err
	}

	err = mergeBytes(
		&in.TaprootMerkleRoot, other.TaprootMerkleRoot,
		ErrTaprootFieldMismatch,
	)
	if err != nil {
		return err
	}

	in.PartialSigs = mergePartialSigs(in.PartialSigs, other.PartialSigs)
	in.Bip32Derivation = mergeBip32(
		in.Bip32Derivation, other.Bip32Derivation,
	)
	in.TaprootBip32Derivation = mergeTaprootBip32(
		in.TaprootBip32Derivation, other.TaprootBip32Derivation,
	)
	in.TaprootScriptSpendSig = mergeTaprootScriptSigs(
		in.TaprootScriptSpendSig, other.TaprootScriptSpendSig,
	)
	in.TaprootLeafScript = mergeTaprootLeafScripts(
		in.TaprootLeafScript, other.TaprootLeafScript,
	)

	return nil
}

// mergeOutput merges the fields of other into out.
func mergeOutput(out, other *psbt.POutput) error {
	err := mergeBytes(
		&out.RedeemScript, other.RedeemScript, ErrRedeemScriptMismatch,
	)
	if err != nil {
		return err
	}

	err = mergeBytes(
		&out.WitnessScript, other.WitnessScript,
		ErrWitnessScriptMismatch,
	)
	if err != nil {
		return err
	}

	err = mergeBytes(
		&out.TaprootInternalKey, other.TaprootInternalKey,
		ErrTaprootInternalKeyMismatch,
	)
	if err != nil {
		return err
	}

	err = mergeBytes(
		&out.TaprootTapTree, other.TaprootTapTree,
		ErrTaprootFieldMismatch,
	)
	if err != nil {
		return err
	}

	out.Bip32Derivation = mergeBip32(
		out.Bip32Derivation, other.Bip32Derivation,
	)
	out.TaprootBip32Derivation = mergeTaprootBip32(
		out.TaprootBip32Derivation, other.TaprootBip32Derivation,
	)
	out.Unknowns = mergeUnknowns(out.Unknowns, other.Unknowns)

	return nil
}

// isFinalized returns true if the input carries a final script.
func isFinalized(in *psbt.PInput) bool {
	return in.FinalScriptSig != nil || in.FinalScriptWitness != nil
}

// finalizedInput returns a copy of a finalized input. Only the UTXOs, the
// final scripts and the unknowns survive finalization.
func finalizedInput(in *psbt.PInput) psbt.PInput {
	var result psbt.PInput
	if in.NonWitnessUtxo != nil {
		result.NonWitnessUtxo = in.NonWitnessUtxo.Copy()
	}
	if in.WitnessUtxo != nil {
		result.WitnessUtxo = wire.NewTxOut(
			in.WitnessUtxo.Value,
			append([]byte(nil), in.WitnessUtxo.PkScript...),
		)
	}
	if in.FinalScriptSig != nil {
		result.FinalScriptSig = append([]byte(nil), in.FinalScriptSig...)
	}
	if in.FinalScriptWitness != nil {
		result.FinalScriptWitness = append(
			[]byte(nil), in.FinalScriptWitness...,
		)
	}
	result.Unknowns = mergeUnknowns(nil, in.Unknowns)

	return result
}

// mergeFinalizedInput merges two finalized copies of an input. Their final
// scripts must agree.
func mergeFinalizedInput(in, other *psbt.PInput) error {
	if (in.FinalScriptSig == nil) != (other.FinalScriptSig == nil) {
		return ErrFinalScriptSigMismatch
	}

	if (in.FinalScriptWitness == nil) != (other.FinalScriptWitness == nil) {
		return ErrFinalScriptWitnessMismatch
	}

	merged := finalizedInput(in)

	err := mergeBytes(
		&merged.FinalScriptSig, other.FinalScriptSig,
		ErrFinalScriptSigMismatch,
	)
	if err != nil {
		return err
	}

	err = mergeBytes(
		&merged.FinalScriptWitness, other.FinalScriptWitness,
		ErrFinalScriptWitnessMismatch,
	)
	if err != nil {
		return err
	}

	err = mergeWitnessUtxo(&merged.WitnessUtxo, other.WitnessUtxo)
	if err != nil {
		return err
	}

	err = mergeNonWitnessUtxo(
		&merged.NonWitnessUtxo, other.NonWitnessUtxo,
	)
	if err != nil {
		return err
	}

	merged.Unknowns = mergeUnknowns(merged.Unknowns, other.Unknowns)
	*in = merged

	return nil
}

// mergeNonWitnessUtxo fills in the previous transaction or checks both
// agree.
func mergeNonWitnessUtxo(dst **wire.MsgTx, other *wire.MsgTx) error {
	switch {
	case other == nil:
		return nil

	case *dst == nil:
		*dst = other.Copy()

		return nil

	case (*dst).TxHash() != other.TxHash():
		return ErrNonWitnessUtxoMismatch
	}

	return nil
}

// mergeWitnessUtxo fills in the witness UTXO or checks both agree.
func mergeWitnessUtxo(dst **wire.TxOut, other *wire.TxOut) error {
	switch {
	case other == nil:
		return nil

	case *dst == nil:
		*dst = wire.NewTxOut(
			other.Value, append([]byte(nil), other.PkScript...),
		)

		return nil

	case !psbt.TxOutsEqual(*dst, other):
		return ErrWitnessUtxoMismatch
	}

	return nil
}

// mergeBytes fills in a single valued field or checks both agree.
func mergeBytes(dst *[]byte, other []byte, mismatch error) error {
	switch {
	case other == nil:
		return nil

	case *dst == nil:
		*dst = append([]byte(nil), other...)

		return nil

	case !bytes.Equal(*dst, other):
		return mismatch
	}

	return nil
}

// mergePartialSigs unions two signature lists keyed by public key.
func mergePartialSigs(a, b []*psbt.PartialSig) []*psbt.PartialSig {
	byKey := make(map[string]*psbt.PartialSig, len(a)+len(b))
	for _, sig := range append(append([]*psbt.PartialSig(nil), a...), b...) {
		key := string(sig.PubKey)
		existing, ok := byKey[key]
		if ok && bytes.Compare(existing.Signature, sig.Signature) <= 0 {
			continue
		}

		byKey[key] = &psbt.PartialSig{
			PubKey:    append([]byte(nil), sig.PubKey...),
			Signature: append([]byte(nil), sig.Signature...),
		}
	}

	if len(byKey) == 0 {
		return a
	}

	merged := make([]*psbt.PartialSig, 0, len(byKey))
	for _, sig := range byKey {
		merged = append(merged, sig)
	}
	sort.Sort(psbt.PartialSigSorter(merged))

	return merged
}

// mergeBip32 unions two derivation lists keyed by public key.
func mergeBip32(a, b []*psbt.Bip32Derivation) []*psbt.Bip32Derivation {
	byKey := make(map[string]*psbt.Bip32Derivation, len(a)+len(b))
	for _, d := range append(append([]*psbt.Bip32Derivation(nil), a...),
		b...) {

		key := string(d.PubKey)
		existing, ok := byKey[key]
		if ok && compareBip32(existing, d) <= 0 {
			continue
		}

		byKey[key] = &psbt.Bip32Derivation{
			PubKey:               append([]byte(nil), d.PubKey...),
			MasterKeyFingerprint: d.MasterKeyFingerprint,
			Bip32Path:            append([]uint32(nil), d.Bip32Path...),
		}
	}

	if len(byKey) == 0 {
		return a
	}

	merged := make([]*psbt.Bip32Derivation, 0, len(byKey))
	for _, d := range byKey {
		merged = append(merged, d)
	}
	sort.Sort(psbt.Bip32Sorter(merged))

	return merged
}

// compareBip32 orders two derivations of the same key by fingerprint and
// path.
func compareBip32(a, b *psbt.Bip32Derivation) int {
	switch {
	case a.MasterKeyFingerprint < b.MasterKeyFingerprint:
		return -1
	case a.MasterKeyFingerprint > b.MasterKeyFingerprint:
		return 1
	}

	return comparePaths(a.Bip32Path, b.Bip32Path)
}

// comparePaths orders two derivation paths lexicographically.
func comparePaths(a, b []uint32) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}

	return len(a) - len(b)
}

// mergeTaprootBip32 unions two taproot derivation lists keyed by x-only
// public key.
func mergeTaprootBip32(a,
	b []*psbt.TaprootBip32Derivation) []*psbt.TaprootBip32Derivation {

	byKey := make(map[string]*psbt.TaprootBip32Derivation, len(a)+len(b))
	for _, d := range append(
		append([]*psbt.TaprootBip32Derivation(nil), a...), b...,
	) {

		key := string(d.XOnlyPubKey)
		existing, ok := byKey[key]
		if ok && (existing.MasterKeyFingerprint < d.MasterKeyFingerprint ||
			(existing.MasterKeyFingerprint == d.MasterKeyFingerprint &&
				comparePaths(existing.Bip32Path, d.Bip32Path) <= 0)) {

			continue
		}

		leafHashes := make([][]byte, 0, len(d.LeafHashes))
		for _, h := range d.LeafHashes {
			leafHashes = append(leafHashes, append([]byte(nil), h...))
		}

		byKey[key] = &psbt.TaprootBip32Derivation{
			XOnlyPubKey:          append([]byte(nil), d.XOnlyPubKey...),
			LeafHashes:           leafHashes,
			MasterKeyFingerprint: d.MasterKeyFingerprint,
			Bip32Path:            append([]uint32(nil), d.Bip32Path...),
		}
	}

	if len(byKey) == 0 {
		return a
	}

	merged := make([]*psbt.TaprootBip32Derivation, 0, len(byKey))
	for _, d := range byKey {
		merged = append(merged, d)
	}
	sort.Slice(merged, func(i, j int) bool {
		return bytes.Compare(
			merged[i].XOnlyPubKey, merged[j].XOnlyPubKey,
		) < 0
	})

	return merged
}

// mergeTaprootScriptSigs unions two script spend signature lists keyed by
// x-only public key and leaf hash.
func mergeTaprootScriptSigs(a,
	b []*psbt.TaprootScriptSpendSig) []*psbt.TaprootScriptSpendSig {

	sigKey := func(s *psbt.TaprootScriptSpendSig) string {
		return string(s.XOnlyPubKey) + string(s.LeafHash)
	}

	byKey := make(map[string]*psbt.TaprootScriptSpendSig, len(a)+len(b))
	for _, sig := range append(
		append([]*psbt.TaprootScriptSpendSig(nil), a...), b...,
	) {

		existing, ok := byKey[sigKey(sig)]
		if ok && bytes.Compare(existing.Signature, sig.Signature) <= 0 {
			continue
		}

		byKey[sigKey(sig)] = &psbt.TaprootScriptSpendSig{
			XOnlyPubKey: append([]byte(nil), sig.XOnlyPubKey...),
			LeafHash:    append([]byte(nil), sig.LeafHash...),
			Signature:   append([]byte(nil), sig.Signature...),
			SigHash:     sig.SigHash,
		}
	}

	if len(byKey) == 0 {
		return a
	}

	merged := make([]*psbt.TaprootScriptSpendSig, 0, len(byKey))
	for _, sig := range byKey {
		merged = append(merged, sig)
	}
	sort.Slice(merged, func(i, j int) bool {
		return sigKey(merged[i]) < sigKey(merged[j])
	})

	return merged
}

// mergeTaprootLeafScripts unions two leaf script lists keyed by control
// block.
func mergeTaprootLeafScripts(a,
	b []*psbt.TaprootTapLeafScript) []*psbt.TaprootTapLeafScript {

	byKey := make(map[string]*psbt.TaprootTapLeafScript, len(a)+len(b))
	for _, leaf := range append(
		append([]*psbt.TaprootTapLeafScript(nil), a...), b...,
	) {

		key := string(leaf.ControlBlock)
		existing, ok := byKey[key]
		if ok && bytes.Compare(existing.Script, leaf.Script) <= 0 {
			continue
		}

		byKey[key] = &psbt.TaprootTapLeafScript{
			ControlBlock: append([]byte(nil), leaf.ControlBlock...),
			Script:       append([]byte(nil), leaf.Script...),
			LeafVersion:  leaf.LeafVersion,
		}
	}

	if len(byKey) == 0 {
		return a
	}

	merged := make([]*psbt.TaprootTapLeafScript, 0, len(byKey))
	for _, leaf := range byKey {
		merged = append(merged, leaf)
	}
	sort.Slice(merged, func(i, j int) bool {
		return bytes.Compare(
			merged[i].ControlBlock, merged[j].ControlBlock,
		) < 0
	})

	return merged
}

// mergeUnknowns unions two unknown key-value lists keyed by key.
func mergeUnknowns(a, b []*psbt.Unknown) []*psbt.Unknown {
	byKey := make(map[string]*psbt.Unknown, len(a)+len(b))
	for _, u := range append(append([]*psbt.Unknown(nil), a...), b...) {
		existing, ok := byKey[string(u.Key)]
		if ok && bytes.Compare(existing.Value, u.Value) <= 0 {
			continue
		}

		byKey[string(u.Key)] = &psbt.Unknown{
			Key:   append([]byte(nil), u.Key...),
			Value: append([]byte(nil), u.Value...),
		}
	}

	if len(byKey) == 0 {
		return a
	}

	merged := make([]*psbt.Unknown, 0, len(byKey))
	for _, u := range byKey {
		merged = append(merged, u)
	}
	sort.Slice(merged, func(i, j int) bool {
		return bytes.Compare(merged[i].Key, merged[j].Key) < 0
	})

	return merged
}

// serializeTx returns the wire encoding of tx.
func serializeTx(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize tx: %w", err)
	}

	return buf.Bytes(), nil
}
