// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package psbtdb persists partially signed transactions while cosigners
// contribute their signatures.
package psbtdb

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// State is the lifecycle state of a PSBT.
type State uint8

const (
	// StateDraft is a PSBT that was only built to preview a spend. It is
	// never persisted.
	StateDraft State = iota

	// StateAwaitingSignatures is a persisted PSBT that still lacks
	// signatures.
	StateAwaitingSignatures

	// StateComplete is a PSBT whose inputs are all finalized.
	StateComplete

	// StateBroadcast is a PSBT whose transaction was published.
	StateBroadcast

	// StateDiscarded is a PSBT that was cancelled by the user.
	StateDiscarded
)

// String returns a human readable state name.
func (s State) String() string {
	switch s {
	case StateDraft:
		return "draft"
	case StateAwaitingSignatures:
		return "awaiting_signatures"
	case StateComplete:
		return "complete"
	case StateBroadcast:
		return "broadcast"
	case StateDiscarded:
		return "discarded"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// IsKnown returns true if s is one of the defined states.
func (s State) IsKnown() bool {
	return s <= StateDiscarded
}

// IsTerminal returns true for the states no transition leaves.
func (s State) IsTerminal() bool {
	return s == StateBroadcast || s == StateDiscarded
}

// validTransitions lists the states that may follow each state.
var validTransitions = map[State][]State{
	StateDraft: {StateAwaitingSignatures, StateDiscarded},
	StateAwaitingSignatures: {
		StateAwaitingSignatures, StateComplete, StateDiscarded,
	},
	StateComplete: {StateComplete, StateBroadcast, StateDiscarded},
}

// CanTransition returns true if a record in state s may move to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// Record is a PSBT together with its coordination metadata.
type Record struct {
	// Txid is the id of the unsigned transaction. It is the store key.
	Txid chainhash.Hash

	// Packet is the PSBT with all signatures collected so far.
	Packet *psbt.Packet

	// State is the lifecycle state.
	State State

	// DevicesSigned holds the ids of the signers that contributed. It
	// only ever grows.
	DevicesSigned fn.Set[string]

	// Fee is the fee paid by the transaction.
	Fee btcutil.Amount

	// Amount is the total sent to recipients.
	Amount btcutil.Amount

	// Label is a free-form user description.
	Label string

	// CreatedAt is the time the record was created.
	CreatedAt time.Time

	// UpdatedAt is the time of the last change.
	UpdatedAt time.Time
}

// NewRecord creates a draft record for a freshly built packet.
func NewRecord(packet *psbt.Packet, fee, amount btcutil.Amount,
	label string, now time.Time) (*Record, error) {

	if packet == nil || packet.UnsignedTx == nil {
		return nil, ErrNilRecord
	}

	return &Record{
		Txid:          packet.UnsignedTx.TxHash(),
		Packet:        packet,
		State:         StateDraft,
		DevicesSigned: fn.NewSet[string](),
		Fee:           fee,
		Amount:        amount,
		Label:         label,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Transition moves the record to the next state.
func (r *Record) Transition(next State, now time.Time) error {
	if !r.State.CanTransition(next) {
		return fmt.Errorf("%w: %v -> %v", ErrInvalidTransition,
			r.State, next)
	}

	log.Debugf("PSBT %v: %v -> %v", r.Txid, r.State, next)

	r.State = next
	r.UpdatedAt = now

	return nil
}

// RecordSigner adds a signer to the set of devices that signed. It returns
// false if the signer was already recorded, in which case the record is left
// untouched.
func (r *Record) RecordSigner(signerID string, now time.Time) (bool, error) {
	if signerID == "" {
		return false, ErrEmptySignerID
	}

	if r.DevicesSigned == nil {
		r.DevicesSigned = fn.NewSet[string]()
	}
	if r.DevicesSigned.Contains(signerID) {
		return false, nil
	}

	r.DevicesSigned.Add(signerID)
	r.UpdatedAt = now

	return true, nil
}

// Signers returns the recorded signer ids in sorted order.
func (r *Record) Signers() []string {
	signers := make([]string, 0, len(r.DevicesSigned))
	for id := range r.DevicesSigned {
		signers = append(signers, id)
	}
	sort.Strings(signers)

	return signers
}

// PacketBytes returns the binary serialization of the packet.
func (r *Record) PacketBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := r.Packet.Serialize(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// ValidateForSave checks the invariants every store enforces before a write.
func ValidateForSave(r *Record) error {
	if r == nil || r.Packet == nil || r.Packet.UnsignedTx == nil {
		return ErrNilRecord
	}

	if r.Packet.UnsignedTx.TxHash() != r.Txid {
		return fmt.Errorf("%w: %v", ErrTxidMismatch, r.Txid)
	}

	switch {
	case r.State == StateDraft:
		return ErrDraftNotPersistable

	case r.State.IsTerminal():
		return fmt.Errorf("%w: %v", ErrTerminalState, r.State)
	}

	return nil
}
