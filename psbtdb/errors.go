// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtdb

import "errors"

var (
	// ErrNilDB is returned when a store is created without a database.
	ErrNilDB = errors.New("nil database")

	// ErrNilRecord is returned when a nil record or a record without a
	// packet is passed to a store.
	ErrNilRecord = errors.New("nil psbt record")

	// ErrPsbtNotFound is returned when no PSBT is stored for a txid.
	ErrPsbtNotFound = errors.New("psbt not found")

	// ErrDraftNotPersistable is returned when a draft record is saved.
	// Drafts only exist to preview a spend.
	ErrDraftNotPersistable = errors.New("draft psbt cannot be persisted")

	// ErrTerminalState is returned when a record in a terminal state is
	// saved. Broadcast and discarded PSBTs are deleted instead.
	ErrTerminalState = errors.New("psbt is in a terminal state")

	// ErrInvalidTransition is returned when a record is moved to a state
	// that cannot follow its current one.
	ErrInvalidTransition = errors.New("invalid psbt state transition")

	// ErrTxidMismatch is returned when the txid of a record does not
	// match its unsigned transaction.
	ErrTxidMismatch = errors.New("record txid does not match packet")

	// ErrEmptySignerID is returned when an empty signer id is recorded.
	ErrEmptySignerID = errors.New("empty signer id")

	// ErrCorruptRecord is returned when a stored record cannot be
	// decoded.
	ErrCorruptRecord = errors.New("corrupt psbt record")

	// ErrUnknownState is returned when a stored record carries a state
	// this version does not know.
	ErrUnknownState = errors.New("unknown psbt state")

	// ErrDirtySchema is returned when a migration failed halfway and the
	// schema needs manual repair.
	ErrDirtySchema = errors.New("dirty psbt schema")
)
