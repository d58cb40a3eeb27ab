// Copyright 2026 The powchain Authors
// This file is part of the powchain library.
//
// The powchain library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The powchain library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the powchain library. If not, see <http://www.gnu.org/licenses/>.

package chain

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Two logical tables live side by side in one LevelDB instance, keyed
// by prefix (spec §4.1): "meta:" rows carry block headers plus the
// (first_txn_line, txn_count) pair that locates their transactions in
// the "txn:" rows. Keys are zero-padded decimal indices so iteration
// order matches confirmed-chain order.
const (
	metaPrefix = "meta:"
	txnPrefix  = "txn:"
)

var (
	persistWriteMeter = metrics.NewRegisteredMeter("chain/store/writes", nil)
	persistErrorMeter = metrics.NewRegisteredMeter("chain/store/errors", nil)
)

// metaRow is the on-disk shape of one confirmed block's metadata row.
type metaRow struct {
	Timestamp    int64  `json:"timestamp"`
	LastHash     string `json:"last_hash"`
	Proof        string `json:"proof"`
	Hash         string `json:"hash"`
	FirstTxnLine int    `json:"first_txn_line"`
	TxnCount     int    `json:"txn_count"`
}

// Store is the durable persistence layer behind an Engine: one LevelDB
// database holding the metadata and transactions tables described in
// spec §4.1. Grounded on the teacher's levelDB wrapper
// (storage/database/leveldb_database.go): open-with-recovery and
// metered writes.
type Store struct {
	db *leveldb.DB
}

// OpenStore opens (or creates) a LevelDB database at dir, attempting
// corruption recovery the same way the teacher's NewLDBDatabase does.
func OpenStore(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if _, corrupted := err.(*ldberrors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(dir, nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "chain: opening store at %s", dir)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func txnKey(line int) []byte {
	return []byte(fmt.Sprintf("%s%010d", txnPrefix, line))
}

func metaKey(index int) []byte {
	return []byte(fmt.Sprintf("%s%010d", metaPrefix, index))
}

// save rewrites both tables from scratch from confirmed, in a single
// batch (matching the teacher's preference for batched LevelDB writes
// over per-row transactions).
func (s *Store) save(confirmed []Block) error {
	batch := new(leveldb.Batch)

	// Clear existing rows first so a shorter chain (e.g. after a
	// fresh sync swap) doesn't leave stale trailing rows behind.
	if err := s.clearPrefix(batch, metaPrefix); err != nil {
		return err
	}
	if err := s.clearPrefix(batch, txnPrefix); err != nil {
		return err
	}

	line := 0
	for i, b := range confirmed {
		row := metaRow{
			Timestamp:    b.Timestamp,
			LastHash:     b.LastHash,
			Proof:        b.Proof,
			Hash:         b.Hash,
			FirstTxnLine: line,
			TxnCount:     len(b.Transactions),
		}
		enc, err := json.Marshal(row)
		if err != nil {
			return errors.Wrap(err, "chain: encoding metadata row")
		}
		batch.Put(metaKey(i), enc)

		for _, t := range b.Transactions {
			tenc, err := json.Marshal(t)
			if err != nil {
				return errors.Wrap(err, "chain: encoding transaction row")
			}
			batch.Put(txnKey(line), tenc)
			line++
		}
	}

	if err := s.db.Write(batch, nil); err != nil {
		persistErrorMeter.Mark(1)
		return errors.Wrap(err, "chain: writing store")
	}
	persistWriteMeter.Mark(int64(len(confirmed)))
	return nil
}

func (s *Store) clearPrefix(batch *leveldb.Batch, prefix string) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		batch.Delete(key)
	}
	return iter.Error()
}

// appendBlock writes one confirmed block's metadata row (computing
// first_txn_line from the current transactions-table row count) and
// its transactions, without touching any existing rows.
func (s *Store) appendBlock(b Block) error {
	line, err := s.txnRowCount()
	if err != nil {
		persistErrorMeter.Mark(1)
		return errors.Wrap(err, "chain: counting existing transaction rows")
	}

	index, err := s.metaRowCount()
	if err != nil {
		persistErrorMeter.Mark(1)
		return errors.Wrap(err, "chain: counting existing metadata rows")
	}

	batch := new(leveldb.Batch)
	row := metaRow{
		Timestamp:    b.Timestamp,
		LastHash:     b.LastHash,
		Proof:        b.Proof,
		Hash:         b.Hash,
		FirstTxnLine: line,
		TxnCount:     len(b.Transactions),
	}
	enc, err := json.Marshal(row)
	if err != nil {
		return errors.Wrap(err, "chain: encoding metadata row")
	}
	batch.Put(metaKey(index), enc)

	for _, t := range b.Transactions {
		tenc, err := json.Marshal(t)
		if err != nil {
			return errors.Wrap(err, "chain: encoding transaction row")
		}
		batch.Put(txnKey(line), tenc)
		line++
	}

	if err := s.db.Write(batch, nil); err != nil {
		persistErrorMeter.Mark(1)
		return errors.Wrap(err, "chain: appending block to store")
	}
	persistWriteMeter.Mark(1)
	return nil
}

func (s *Store) metaRowCount() (int, error) {
	n := 0
	iter := s.db.NewIterator(util.BytesPrefix([]byte(metaPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		n++
	}
	return n, iter.Error()
}

func (s *Store) txnRowCount() (int, error) {
	n := 0
	iter := s.db.NewIterator(util.BytesPrefix([]byte(txnPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		n++
	}
	return n, iter.Error()
}

// load reads the metadata table row by row in order, slicing the
// transactions table by (first_txn_line, txn_count) for each row, and
// returns the reconstructed block list (genesis excluded -- callers
// replay these through AddBlock(confirmed=true) against a fresh chain
// that already has genesis at index 0).
func (s *Store) load() ([]Block, error) {
	var txns []Transaction
	titer := s.db.NewIterator(util.BytesPrefix([]byte(txnPrefix)), nil)
	for titer.Next() {
		var t Transaction
		if err := json.Unmarshal(titer.Value(), &t); err != nil {
			titer.Release()
			return nil, errors.Wrap(err, "chain: decoding transaction row")
		}
		txns = append(txns, t)
	}
	if err := titer.Error(); err != nil {
		titer.Release()
		return nil, errors.Wrap(err, "chain: iterating transaction rows")
	}
	titer.Release()

	var blocks []Block
	miter := s.db.NewIterator(util.BytesPrefix([]byte(metaPrefix)), nil)
	defer miter.Release()
	for miter.Next() {
		var row metaRow
		if err := json.Unmarshal(miter.Value(), &row); err != nil {
			return nil, errors.Wrap(err, "chain: decoding metadata row")
		}
		if row.FirstTxnLine+row.TxnCount > len(txns) {
			return nil, errors.New("chain: metadata row references out-of-range transactions")
		}
		blocks = append(blocks, Block{
			Timestamp:    row.Timestamp,
			LastHash:     row.LastHash,
			Transactions: txns[row.FirstTxnLine : row.FirstTxnLine+row.TxnCount],
			Proof:        row.Proof,
			Hash:         row.Hash,
		})
	}
	if err := miter.Error(); err != nil {
		return nil, errors.Wrap(err, "chain: iterating metadata rows")
	}
	return blocks, nil
}
