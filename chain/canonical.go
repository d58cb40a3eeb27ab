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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
)

// canonicalTxns serializes txns the same way on every node: Go's
// encoding/json marshals struct fields in declaration order, so the
// Transaction struct's field order (see types.go) IS the canonical
// order. This is symmetric with the wire codec, which marshals the same
// struct type, so hashing and encoding never diverge.
func canonicalTxns(txns []Transaction) string {
	var b strings.Builder
	for _, t := range txns {
		enc, _ := json.Marshal(t)
		b.Write(enc)
	}
	return b.String()
}

// preimage builds the canonical byte sequence that HashBlock digests:
// timestamp || last_hash || transactions || proof.
func preimage(timestamp int64, lastHash string, txns []Transaction, proof string) []byte {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteString(lastHash)
	b.WriteString(canonicalTxns(txns))
	b.WriteString(proof)
	return []byte(b.String())
}

// HashBlock computes the lowercase hex SHA-256 digest of a block's
// canonical preimage. It does not look at b.Hash -- callers compare the
// result against b.Hash to verify, or assign it to produce a new block.
func HashBlock(timestamp int64, lastHash string, txns []Transaction, proof string) string {
	sum := sha256.Sum256(preimage(timestamp, lastHash, txns, proof))
	return hex.EncodeToString(sum[:])
}

// MeetsDifficulty reports whether hash has at least Difficulty leading
// '0' hex characters.
func MeetsDifficulty(hash string, difficulty int) bool {
	if len(hash) < difficulty {
		return false
	}
	for i := 0; i < difficulty; i++ {
		if hash[i] != '0' {
			return false
		}
	}
	return true
}
