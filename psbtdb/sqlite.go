// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbtdb

import (
	"database/sql"
	"fmt"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

// sqliteQueries are the SQLite statements of the PSBT store.
var sqliteQueries = sqlQueries{
	upsertPsbt: `INSERT INTO psbts (
		txid, state, packet, fee, amount, label, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (txid) DO UPDATE SET
		state = excluded.state,
		packet = excluded.packet,
		fee = excluded.fee,
		amount = excluded.amount,
		label = excluded.label,
		updated_at = excluded.updated_at`,

	insertSigner: `INSERT INTO psbt_signers (txid, signer_id)
	VALUES (?, ?) ON CONFLICT DO NOTHING`,

	selectPsbt: `SELECT txid, state, packet, fee, amount, label,
		created_at, updated_at
	FROM psbts WHERE txid = ?`,

	selectSigners: `SELECT signer_id FROM psbt_signers WHERE txid = ?
	ORDER BY signer_id`,

	deleteSigners: `DELETE FROM psbt_signers WHERE txid = ?`,

	deletePsbt: `DELETE FROM psbts WHERE txid = ?`,

	listPsbts: `SELECT txid, state, packet, fee, amount, label,
		created_at, updated_at
	FROM psbts ORDER BY created_at, txid`,

	listSigners: `SELECT txid, signer_id FROM psbt_signers
	ORDER BY txid, signer_id`,
}

// SQLitePsbtDB is the SQLite implementation of the Store interface.
type SQLitePsbtDB struct {
	*sqlStore
}

// A compile-time assertion to ensure that SQLitePsbtDB implements the Store
// interface.
var _ Store = (*SQLitePsbtDB)(nil)

// NewSQLitePsbtDB creates a new SQLite-based Store. The migrations must have
// been applied to db.
func NewSQLitePsbtDB(db *sql.DB) (*SQLitePsbtDB, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	return &SQLitePsbtDB{
		sqlStore: &sqlStore{db: db, queries: sqliteQueries},
	}, nil
}

// SQLiteDSN returns the connection string used for a database file.
func SQLiteDSN(path string) string {
	// Enable foreign keys (required for proper constraint enforcement).
	dsn := path + "?_pragma=foreign_keys=on"

	// Enable WAL mode so readers do not block the writer.
	dsn += "&_pragma=journal_mode=WAL"

	// Enable immediate transaction locking to avoid races.
	dsn += "&_txlock=immediate"

	// Retry acquiring locks for up to 5 seconds instead of immediately
	// returning SQLITE_BUSY.
	dsn += "&_pragma=busy_timeout=5000"

	return dsn
}

// OpenSQLite opens the database file at path and applies the migrations.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := ApplySQLiteMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
