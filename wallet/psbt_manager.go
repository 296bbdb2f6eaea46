// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/cosigner/psbtdb"
	"github.com/lightningnetwork/lnd/clock"
)

// ContributeResult is the outcome of adding a signer's copy of a PSBT.
type ContributeResult struct {
	// Record is the stored record after the contribution.
	Record *psbtdb.Record

	// NewSigner is false if the signer had already contributed.
	NewSigner bool

	// Finalized holds the finalization outcome of the combined PSBT.
	Finalized *FinalizeResult
}

// PsbtManager tracks the persisted PSBTs of a wallet while cosigners add
// their signatures. Callers must serialize mutating calls per wallet.
type PsbtManager struct {
	store     psbtdb.Store
	publisher TxPublisher
	clock     clock.Clock
}

// NewPsbtManager creates a manager on top of store. The publisher is only
// needed by Broadcast and may be nil for offline use.
func NewPsbtManager(store psbtdb.Store, publisher TxPublisher,
	clk clock.Clock) (*PsbtManager, error) {

	if store == nil {
		return nil, fmt.Errorf("%w: psbt store", ErrMissingDependency)
	}

	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &PsbtManager{
		store:     store,
		publisher: publisher,
		clock:     clk,
	}, nil
}

// Contribute merges a signer's copy of a stored PSBT. The signer is
// recorded once, and the record becomes complete as soon as the combined
// PSBT can be finalized.
func (m *PsbtManager) Contribute(ctx context.Context, signerID string,
	partial *psbt.Packet) (*ContributeResult, error) {

	if partial == nil {
		return nil, ErrNilPacket
	}

	if err := checkPacketShape(partial); err != nil {
		return nil, err
	}

	txid := partial.UnsignedTx.TxHash()
	record, err := m.store.LoadPsbt(ctx, txid)
	if err != nil {
		return nil, err
	}

	if record.State.IsTerminal() {
		return nil, fmt.Errorf("%w: %v is %v", psbtdb.ErrTerminalState,
			txid, record.State)
	}

	combined, err := Combine(record.Packet, partial)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	newSigner, err := record.RecordSigner(signerID, now)
	if err != nil {
		return nil, err
	}

	finalized, err := Finalize(combined)
	if err != nil {
		return nil, err
	}

	next := psbtdb.StateAwaitingSignatures
	record.Packet = combined
	if finalized.Complete {
		next = psbtdb.StateComplete
		record.Packet = finalized.Packet
	}

	if err := record.Transition(next, now); err != nil {
		return nil, err
	}

	if err := m.store.SavePsbt(ctx, record); err != nil {
		return nil, fmt.Errorf("save psbt %v: %w", txid, err)
	}

	log.Debugf("Signer %q contributed to PSBT %v (new=%v, state=%v)",
		signerID, txid, newSigner, record.State)

	return &ContributeResult{
		Record:    record,
		NewSigner: newSigner,
		Finalized: finalized,
	}, nil
}

// Broadcast publishes the transaction of a complete PSBT and removes the
// record.
func (m *PsbtManager) Broadcast(ctx context.Context,
	txid chainhash.Hash) (*chainhash.Hash, error) {

	if m.publisher == nil {
		return nil, fmt.Errorf("%w: tx publisher", ErrMissingDependency)
	}

	record, err := m.store.LoadPsbt(ctx, txid)
	if err != nil {
		return nil, err
	}

	if record.State != psbtdb.StateComplete {
		return nil, fmt.Errorf("%w: %v is %v", ErrNotYetComplete, txid,
			record.State)
	}

	finalized, err := Finalize(record.Packet)
	if err != nil {
		return nil, err
	}
	if !finalized.Complete {
		return nil, fmt.Errorf("%w: %v", ErrNotYetComplete, txid)
	}

	published, err := m.publisher.Broadcast(ctx, finalized.Tx)
	if err != nil {
		return nil, fmt.Errorf("broadcast %v: %w", txid, err)
	}

	if err := m.MarkBroadcast(ctx, txid); err != nil {
		return nil, err
	}

	return published, nil
}

// MarkBroadcast records that the transaction of a complete PSBT was
// published elsewhere and removes the record.
func (m *PsbtManager) MarkBroadcast(ctx context.Context,
	txid chainhash.Hash) error {

	return m.finish(ctx, txid, psbtdb.StateBroadcast)
}

// Discard abandons a PSBT and removes the record.
func (m *PsbtManager) Discard(ctx context.Context, txid chainhash.Hash) error {
	return m.finish(ctx, txid, psbtdb.StateDiscarded)
}

// List returns the pending PSBTs.
func (m *PsbtManager) List(ctx context.Context) ([]*psbtdb.Record, error) {
	return m.store.ListPsbts(ctx)
}

// Load returns the record stored for txid.
func (m *PsbtManager) Load(ctx context.Context,
	txid chainhash.Hash) (*psbtdb.Record, error) {

	return m.store.LoadPsbt(ctx, txid)
}

// finish moves a record into a terminal state and deletes it.
func (m *PsbtManager) finish(ctx context.Context, txid chainhash.Hash,
	state psbtdb.State) error {

	record, err := m.store.LoadPsbt(ctx, txid)
	if err != nil {
		return err
	}

	if err := record.Transition(state, m.clock.Now()); err != nil {
		return err
	}

	if err := m.store.DeletePsbt(ctx, txid); err != nil {
		return fmt.Errorf("delete psbt %v: %w", txid, err)
	}

	log.Debugf("PSBT %v is %v", txid, state)

	return nil
}
