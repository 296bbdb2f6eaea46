// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtdb

import (
	"database/sql"
	"fmt"

	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// postgresQueries are the PostgreSQL statements of the PSBT store.
var postgresQueries = sqlQueries{
	upsertPsbt: `INSERT INTO psbts (
		txid, state, packet, fee, amount, label, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (txid) DO UPDATE SET
		state = EXCLUDED.state,
		packet = EXCLUDED.packet,
		fee = EXCLUDED.fee,
		amount = EXCLUDED.amount,
		label = EXCLUDED.label,
		updated_at = EXCLUDED.updated_at`,

	insertSigner: `INSERT INTO psbt_signers (txid, signer_id)
	VALUES ($1, $2) ON CONFLICT DO NOTHING`,

	selectPsbt: `SELECT txid, state, packet, fee, amount, label,
		created_at, updated_at
	FROM psbts WHERE txid = $1`,

	selectSigners: `SELECT signer_id FROM psbt_signers WHERE txid = $1
	ORDER BY signer_id`,

	deleteSigners: `DELETE FROM psbt_signers WHERE txid = $1`,

	deletePsbt: `DELETE FROM psbts WHERE txid = $1`,

	listPsbts: `SELECT txid, state, packet, fee, amount, label,
		created_at, updated_at
	FROM psbts ORDER BY created_at, txid`,

	listSigners: `SELECT txid, signer_id FROM psbt_signers
	ORDER BY txid, signer_id`,
}

// PostgresPsbtDB is the PostgreSQL implementation of the Store interface.
type PostgresPsbtDB struct {
	*sqlStore
}

// A compile-time assertion to ensure that PostgresPsbtDB implements the
// Store interface.
var _ Store = (*PostgresPsbtDB)(nil)

// NewPostgresPsbtDB creates a new PostgreSQL-based Store. The migrations
// must have been applied to db.
func NewPostgresPsbtDB(db *sql.DB) (*PostgresPsbtDB, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	return &PostgresPsbtDB{
		sqlStore: &sqlStore{db: db, queries: postgresQueries},
	}, nil
}

// OpenPostgres connects to the database at dsn and applies the migrations.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := ApplyPostgresMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
