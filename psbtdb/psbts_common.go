// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// sqlQueries holds the statements of one SQL dialect. The arguments are
// positional in the order the columns are listed.
type sqlQueries struct {
	// upsertPsbt inserts or replaces a PSBT row, keeping created_at.
	// Args: txid, state, packet, fee, amount, label, created_at,
	// updated_at.
	upsertPsbt string

	// insertSigner adds a signer unless it is already stored.
	// Args: txid, signer_id.
	insertSigner string

	// selectPsbt selects one PSBT row. Args: txid.
	selectPsbt string

	// selectSigners selects the signers of one PSBT. Args: txid.
	selectSigners string

	// deleteSigners removes the signers of one PSBT. Args: txid.
	deleteSigners string

	// deletePsbt removes one PSBT row. Args: txid.
	deletePsbt string

	// listPsbts selects all PSBT rows ordered by creation.
	listPsbts string

	// listSigners selects all signer rows.
	listSigners string
}

// sqlStore implements Store on top of database/sql for any dialect.
type sqlStore struct {
	db      *sql.DB
	queries sqlQueries
}

// psbtRow is a scanned row of the psbts table.
type psbtRow struct {
	txid      []byte
	state     int64
	packet    []byte
	fee       int64
	amount    int64
	label     string
	createdAt int64
	updatedAt int64
}

// scan reads a row in the column order of the select statements.
func (r *psbtRow) scan(scanner interface{ Scan(...any) error }) error {
	return scanner.Scan(
		&r.txid, &r.state, &r.packet, &r.fee, &r.amount, &r.label,
		&r.createdAt, &r.updatedAt,
	)
}

// toRecord converts the row and its signers into a record.
func (r *psbtRow) toRecord(signers []string) (*Record, error) {
	if r.state < 0 || r.state > int64(StateDiscarded) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownState, r.state)
	}

	record, err := BuildRecord(RecordFields{
		State:     State(r.state),
		Packet:    r.packet,
		Fee:       btcutil.Amount(r.fee),
		Amount:    btcutil.Amount(r.amount),
		CreatedAt: time.Unix(0, r.createdAt),
		UpdatedAt: time.Unix(0, r.updatedAt),
		Signers:   signers,
		Label:     r.label,
	})
	if err != nil {
		return nil, err
	}

	var txid chainhash.Hash
	if err := txid.SetBytes(r.txid); err != nil {
		return nil, err
	}
	if txid != record.Txid {
		return nil, fmt.Errorf("%w: stored as %v", ErrTxidMismatch,
			txid)
	}

	return record, nil
}

// SavePsbt inserts the record or replaces the stored one.
func (s *sqlStore) SavePsbt(ctx context.Context, record *Record) error {
	if err := ValidateForSave(record); err != nil {
		return err
	}

	packet, err := record.PacketBytes()
	if err != nil {
		return fmt.Errorf("serialize packet: %w", err)
	}

	err = execInTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx, s.queries.upsertPsbt, record.Txid[:],
			int64(record.State), packet, int64(record.Fee),
			int64(record.Amount), record.Label,
			record.CreatedAt.UnixNano(), record.UpdatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("upsert psbt: %w", err)
		}

		for _, id := range record.Signers() {
			_, err := tx.ExecContext(
				ctx, s.queries.insertSigner, record.Txid[:], id,
			)
			if err != nil {
				return fmt.Errorf("insert signer %s: %w", id,
					err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	log.Debugf("Saved PSBT %v in state %v", record.Txid, record.State)

	return nil
}

// LoadPsbt returns the record stored for txid.
func (s *sqlStore) LoadPsbt(ctx context.Context,
	txid chainhash.Hash) (*Record, error) {

	var row psbtRow
	err := row.scan(s.db.QueryRowContext(ctx, s.queries.selectPsbt,
		txid[:]))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", ErrPsbtNotFound, txid)
	}
	if err != nil {
		return nil, fmt.Errorf("select psbt: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.queries.selectSigners, txid[:])
	if err != nil {
		return nil, fmt.Errorf("select signers: %w", err)
	}
	defer rows.Close()

	var signers []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		signers = append(signers, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return row.toRecord(signers)
}

// DeletePsbt removes the record stored for txid.
func (s *sqlStore) DeletePsbt(ctx context.Context, txid chainhash.Hash) error {
	err := execInTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.queries.deleteSigners, txid[:])
		if err != nil {
			return fmt.Errorf("delete signers: %w", err)
		}

		result, err := tx.ExecContext(ctx, s.queries.deletePsbt, txid[:])
		if err != nil {
			return fmt.Errorf("delete psbt: %w", err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %v", ErrPsbtNotFound, txid)
		}

		return nil
	})
	if err != nil {
		return err
	}

	log.Debugf("Deleted PSBT %v", txid)

	return nil
}

// ListPsbts returns all stored records ordered by creation time.
func (s *sqlStore) ListPsbts(ctx context.Context) ([]*Record, error) {
	signers, err := s.listSigners(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.queries.listPsbts)
	if err != nil {
		return nil, fmt.Errorf("list psbts: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var row psbtRow
		if err := row.scan(rows); err != nil {
			return nil, err
		}

		record, err := row.toRecord(signers[string(row.txid)])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	SortRecords(records)

	return records, nil
}

// listSigners returns the stored signers grouped by raw txid.
func (s *sqlStore) listSigners(ctx context.Context) (map[string][]string,
	error) {

	rows, err := s.db.QueryContext(ctx, s.queries.listSigners)
	if err != nil {
		return nil, fmt.Errorf("list signers: %w", err)
	}
	defer rows.Close()

	signers := make(map[string][]string)
	for rows.Next() {
		var (
			txid []byte
			id   string
		)
		if err := rows.Scan(&txid, &id); err != nil {
			return nil, err
		}
		signers[string(txid)] = append(signers[string(txid)], id)
	}

	return signers, rows.Err()
}
