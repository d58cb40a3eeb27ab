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

package main

import (
	"crypto/sha256"
	"encoding/hex"
)

// devSigner is a placeholder miner.Signer: real key management (HD
// wallet derivation, keystore unlocking) is a separate wallet
// component and out of scope here, the same way klaytn's cmd wiring
// defers signing to accounts.Manager rather than doing it inline. It
// produces a deterministic, non-cryptographic "signature" so a single
// node can be run and mined against without a wallet dependency.
type devSigner struct {
	address string
}

func newDevSigner(address string) devSigner {
	return devSigner{address: address}
}

func (s devSigner) Address() string { return s.address }

func (s devSigner) Sign(preimage []byte) (signature, publicKey string, err error) {
	sum := sha256.Sum256(append([]byte(s.address+":"), preimage...))
	return hex.EncodeToString(sum[:]), s.address, nil
}
