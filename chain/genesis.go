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

// genesisTxns is the fixed, bit-exact coinbase transaction set every
// node must agree on.
func genesisTxns() []Transaction {
	return []Transaction{
		{
			Version: "1",
			Sender:  CoinbaseAddress,
			Receivers: []Receiver{
				{Address: "mima", Amount: BlockReward},
			},
			Outputs: nil,
			Proof:   Proof{},
		},
	}
}

// Genesis is the fixed, agreed-upon first block of every chain:
// timestamp 0, last_hash "void", proof "0", a single coinbase
// transaction. It is computed once at package init so every node
// derives byte-identical genesis hashes.
var Genesis = buildGenesis()

func buildGenesis() Block {
	txns := genesisTxns()
	b := Block{
		Timestamp:    0,
		LastHash:     "void",
		Transactions: txns,
		Proof:        "0",
	}
	b.Hash = HashBlock(b.Timestamp, b.LastHash, b.Transactions, b.Proof)
	return b
}
