// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package kvdb implements the PSBT store on top of walletdb.
package kvdb

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/cosigner/psbtdb"
)

var (
	// psbtBucketKey is the top-level bucket holding one TLV encoded record
	// per txid.
	psbtBucketKey = []byte("psbts")
)

// Store is the kvdb (walletdb) implementation of the psbtdb.Store
// interface.
type Store struct {
	db walletdb.DB
}

// A compile-time assertion to ensure that Store implements the
// psbtdb.Store interface.
var _ psbtdb.Store = (*Store)(nil)

// NewStore creates a kvdb-backed PSBT store, creating its bucket if needed.
func NewStore(dbConn walletdb.DB) (*Store, error) {
	if dbConn == nil {
		return nil, psbtdb.ErrNilDB
	}

	err := walletdb.Update(dbConn, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(psbtBucketKey)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create psbt bucket: %w", err)
	}

	return &Store{db: dbConn}, nil
}

// SavePsbt inserts the record or replaces the stored one. Signers already
// stored for the txid are kept, as is the creation time.
func (s *Store) SavePsbt(_ context.Context, record *psbtdb.Record) error {
	if err := psbtdb.ValidateForSave(record); err != nil {
		return err
	}

	err := walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(psbtBucketKey)

		toStore := *record
		existing := bucket.Get(record.Txid[:])
		if existing != nil {
			stored, err := psbtdb.DecodeRecord(
				bytes.NewReader(existing),
			)
			if err != nil {
				return fmt.Errorf("decode stored psbt: %w", err)
			}

			toStore.CreatedAt = stored.CreatedAt
			toStore.DevicesSigned = stored.DevicesSigned
			for id := range record.DevicesSigned {
				toStore.DevicesSigned.Add(id)
			}
		}

		var buf bytes.Buffer
		if err := psbtdb.EncodeRecord(&buf, &toStore); err != nil {
			return err
		}

		return bucket.Put(record.Txid[:], buf.Bytes())
	})
	if err != nil {
		return err
	}

	log.Debugf("Saved PSBT %v in state %v", record.Txid, record.State)

	return nil
}

// LoadPsbt returns the record stored for txid.
func (s *Store) LoadPsbt(_ context.Context,
	txid chainhash.Hash) (*psbtdb.Record, error) {

	var record *psbtdb.Record
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		value := tx.ReadBucket(psbtBucketKey).Get(txid[:])
		if value == nil {
			return fmt.Errorf("%w: %v", psbtdb.ErrPsbtNotFound, txid)
		}

		var err error
		record, err = psbtdb.DecodeRecord(bytes.NewReader(value))

		return err
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// DeletePsbt removes the record stored for txid.
func (s *Store) DeletePsbt(_ context.Context, txid chainhash.Hash) error {
	err := walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(psbtBucketKey)
		if bucket.Get(txid[:]) == nil {
			return fmt.Errorf("%w: %v", psbtdb.ErrPsbtNotFound, txid)
		}

		return bucket.Delete(txid[:])
	})
	if err != nil {
		return err
	}

	log.Debugf("Deleted PSBT %v", txid)

	return nil
}

// ListPsbts returns all stored records ordered by creation time.
func (s *Store) ListPsbts(_ context.Context) ([]*psbtdb.Record, error) {
	var records []*psbtdb.Record
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(psbtBucketKey)

		return bucket.ForEach(func(k, v []byte) error {
			record, err := psbtdb.DecodeRecord(bytes.NewReader(v))
			if err != nil {
				return fmt.Errorf("decode psbt %x: %w", k, err)
			}
			records = append(records, record)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	psbtdb.SortRecords(records)

	return records, nil
}
