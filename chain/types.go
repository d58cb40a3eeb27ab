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

// Package chain holds the confirmed ledger, the unconfirmed fork tree and
// the orphan set, and knows how to persist and reload them.
package chain

// CoinbaseAddress is the special sender address that marks a coinbase
// transaction. It never appears as a receiver.
const CoinbaseAddress = "mine"

// FeesAddress is the special receiver address used to assign miner fees.
const FeesAddress = "FEES"

// Difficulty is the fixed number of leading zero hex characters a block
// hash must carry to satisfy the proof-of-work predicate. Dynamic
// retargeting is out of scope for this design.
const Difficulty = 4

// ConfirmationDepth (D) is the number of blocks that must sit above a
// block in the fork tree before it is promoted to the confirmed chain.
const ConfirmationDepth = 3

// PruneSlack (delta) bounds how much shorter than the longest path a
// direct child of the fork tree root may be before its subtree is
// discarded as a losing fork.
const PruneSlack = 2

// BlockReward is the amount paid to the miner's address by the coinbase
// transaction of every block.
const BlockReward = 10

// Output references a transaction output produced by some earlier,
// already-confirmed transaction.
type Output struct {
	BlockID string `json:"block_id"`
	TxnID   string `json:"txn_id"`
	OutputID string `json:"output_id"`
}

// Receiver pairs a destination address with an amount. Amounts are
// non-negative integers; the core does not enforce balance.
type Receiver struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

// Proof carries the wallet-produced signature over a transaction. The
// core never validates proof contents beyond structural well-formedness;
// signature verification belongs to the wallet component.
type Proof struct {
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

// Transaction is a structurally-typed record describing a transfer of
// value. A coinbase transaction has Sender == CoinbaseAddress and a
// single receiver (the miner's address).
//
// Field order here is the canonical order used to compute block hashes
// (see canonical.go) -- it must never be reordered without also bumping
// how existing persisted chains are read back.
type Transaction struct {
	Version   string     `json:"version"`
	Sender    string     `json:"sender"`
	Receivers []Receiver `json:"receivers"`
	Outputs   []Output   `json:"outputs"`
	Proof     Proof      `json:"proof"`
}

// IsCoinbase reports whether t pays out a block reward rather than
// spending existing outputs.
func (t Transaction) IsCoinbase() bool {
	return t.Sender == CoinbaseAddress
}

// Block is one link of the hash chain: a timestamp, the hash of its
// parent, an ordered, nonempty list of transactions whose last entry is
// the coinbase, and the nonce ("proof") that makes Hash satisfy the
// difficulty predicate.
type Block struct {
	Timestamp    int64         `json:"timestamp"`
	LastHash     string        `json:"last_hash"`
	Transactions []Transaction `json:"transactions"`
	Proof        string        `json:"proof"`
	Hash         string        `json:"hash"`
}

// Metadata returns the header-only view of b, without its transactions.
func (b Block) Metadata() BlockMetadata {
	return BlockMetadata{
		Timestamp: b.Timestamp,
		LastHash:  b.LastHash,
		Proof:     b.Proof,
		Hash:      b.Hash,
	}
}

// Coinbase returns the block's coinbase transaction, which by invariant
// is always the last entry of Transactions.
func (b Block) Coinbase() Transaction {
	return b.Transactions[len(b.Transactions)-1]
}

// BlockMetadata is the header view of a Block without its transaction
// body. It has the same header fields as the store's metadata rows,
// which use their own row type that adds first_txn_line/txn_count.
type BlockMetadata struct {
	Timestamp int64  `json:"timestamp"`
	LastHash  string `json:"last_hash"`
	Proof     string `json:"proof"`
	Hash      string `json:"hash"`
}
