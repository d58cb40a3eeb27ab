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

// Package miner runs the parallel proof-of-work search over the
// mempool, producing candidate blocks for the node's chain tip. It
// mirrors the teacher's CpuAgent/worker split (work/agent.go,
// work/worker.go): a single long-running loop drains work for a round
// and fans the hash search out to a pool of workers racing for the
// first valid nonce.
package miner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcrowley/go-metrics"
	set "gopkg.in/fatih/set.v0"
	"golang.org/x/sync/errgroup"

	"github.com/hashline/powchain/chain"
)

var (
	roundsCompletedCounter = metrics.NewRegisteredCounter("miner/roundsCompleted", nil)
	hashesPerSecGauge      = metrics.NewRegisteredGaugeFloat64("miner/hashesPerSec", nil)
	workerCrashCounter     = metrics.NewRegisteredCounter("miner/workerCrashes", nil)
)

// Signer is the only thing the Miner borrows from the external wallet
// component: an opaque address and a producer of transaction proofs
// for the coinbase transaction it mints every round.
type Signer interface {
	Address() string
	Sign(preimage []byte) (signature, publicKey string, err error)
}

// ChainView is the read-only slice of the Chain Engine the Miner is
// allowed to touch: the hash it should build its next candidate on.
// The Miner never mutates the chain; the Node, not the
// Miner, inserts produced blocks (spec §4.2).
type ChainView interface {
	MiningParent() string
}

// BlockHandler receives each block the Miner successfully seals. The
// Miner waits for it to return before starting the next round.
type BlockHandler func(ctx context.Context, b chain.Block) error

// Miner continuously attempts to extend the node's best tip with a new
// block, draining pending transactions from its mempool and racing a
// pool of workers over nonce space until one finds a hash meeting
// Difficulty.
type Miner struct {
	mu      sync.Mutex
	mempool []chain.Transaction

	// inFlight tracks the identity (see txnIdentity) of every
	// transaction currently drained into a mining round but not yet
	// sealed into a block, so a duplicate arriving mid-round (e.g. via
	// gossip re-broadcast) is not re-admitted to the mempool -- this is
	// klaytn work/worker.go's family/ancestor set repurposed as an
	// in-flight dedup set instead of an uncle-validation set.
	inFlight *set.Set

	minerAddress string
	signer       Signer
	difficulty   int
	maxTxns      int
	blockReward  uint64
	workers      int
}

// Option configures a Miner at construction time.
type Option func(*Miner)

// WithDifficulty overrides the default Difficulty.
func WithDifficulty(d int) Option { return func(m *Miner) { m.difficulty = d } }

// WithMaxTxns overrides how many mempool transactions are drained per
// round.
func WithMaxTxns(n int) Option { return func(m *Miner) { m.maxTxns = n } }

// WithWorkers overrides the worker fan-out width (default:
// runtime.NumCPU()).
func WithWorkers(n int) Option { return func(m *Miner) { m.workers = n } }

// New returns a Miner that pays rewards to minerAddress and produces
// coinbase proofs via signer.
func New(minerAddress string, signer Signer, opts ...Option) *Miner {
	m := &Miner{
		inFlight:     set.New(),
		minerAddress: minerAddress,
		signer:       signer,
		difficulty:   chain.Difficulty,
		maxTxns:      1000,
		blockReward:  chain.BlockReward,
		workers:      runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.workers < 1 {
		m.workers = 1
	}
	return m
}

// AddTxn appends t to the mempool if an equal transaction is not
// already queued (value equality, not reference -- spec §4.2) and is
// not currently out on loan to an in-progress mining round.
func (m *Miner) AddTxn(t chain.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight.Has(txnIdentity(t)) {
		return
	}
	for _, existing := range m.mempool {
		if transactionsEqual(existing, t) {
			return
		}
	}
	m.mempool = append(m.mempool, t)
}

// txnIdentity derives a stable dedup key for t from its canonical JSON
// encoding; the core protocol has no intrinsic transaction ID.
func txnIdentity(t chain.Transaction) string {
	enc, _ := json.Marshal(t)
	sum := sha256.Sum256(enc)
	return hex.EncodeToString(sum[:])
}

// MempoolLen reports the number of pending transactions.
func (m *Miner) MempoolLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mempool)
}

func transactionsEqual(a, b chain.Transaction) bool {
	ae, _ := json.Marshal(a)
	be, _ := json.Marshal(b)
	return string(ae) == string(be)
}

// drain removes and returns up to maxTxns transactions from the
// mempool's head, FIFO, marking each as in-flight until the round
// either seals them into a block or requeue puts them back.
func (m *Miner) drain() []chain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.maxTxns
	if n > len(m.mempool) {
		n = len(m.mempool)
	}
	drained := make([]chain.Transaction, n)
	copy(drained, m.mempool[:n])
	m.mempool = m.mempool[n:]
	for _, t := range drained {
		m.inFlight.Add(txnIdentity(t))
	}
	return drained
}

// requeue returns txns (a round's drained, non-coinbase transactions)
// to the front of the mempool and clears their in-flight marker. Used
// when a round is cancelled before sealing a block, so cancellation
// never silently drops pending transactions.
func (m *Miner) requeue(txns []chain.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range txns {
		m.inFlight.Remove(txnIdentity(t))
	}
	m.mempool = append(txns, m.mempool...)
}

// settle clears the in-flight marker for txns that were just sealed
// into a block.
func (m *Miner) settle(txns []chain.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range txns {
		m.inFlight.Remove(txnIdentity(t))
	}
}

// Mine runs the long-running mining loop until ctx is cancelled. Each
// round: drain the mempool, append a coinbase transaction, pick the
// parent hash from chainView, fan the nonce search out across workers,
// and hand the winning block to handler -- waiting for handler to
// return before starting the next round (spec §4.2).
func (m *Miner) Mine(ctx context.Context, chainView ChainView, handler BlockHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		txns := m.drain()
		round, err := m.runRound(ctx, chainView, txns)
		if err != nil {
			m.requeue(txns)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if round == nil {
			// Every worker crashed without a winner (cancellation
			// is reported as an error above): the drained
			// transactions go back to the mempool rather than
			// vanishing with the round.
			m.requeue(txns)
			continue
		}
		m.settle(txns)

		if err := handler(ctx, *round); err != nil {
			return err
		}
		roundsCompletedCounter.Inc(1)
	}
}

// runRound composes one candidate block from the already-drained txns
// plus a freshly minted coinbase, and races workers over its nonce
// space, returning the sealed block or nil if ctx was cancelled before
// any worker found one.
func (m *Miner) runRound(ctx context.Context, chainView ChainView, txns []chain.Transaction) (*chain.Block, error) {
	coinbase, err := m.coinbaseTxn()
	if err != nil {
		return nil, err
	}
	sealed := append(append([]chain.Transaction{}, txns...), coinbase)

	parent := chainView.MiningParent()
	timestamp := time.Now().Unix()

	result, err := m.search(ctx, timestamp, parent, sealed)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// coinbaseTxn mints the reward transaction for this round, signed by
// the miner's wallet collaborator.
func (m *Miner) coinbaseTxn() (chain.Transaction, error) {
	t := chain.Transaction{
		Version: "1",
		Sender:  chain.CoinbaseAddress,
		Receivers: []chain.Receiver{
			{Address: m.minerAddress, Amount: m.blockReward},
		},
	}
	preimage, _ := json.Marshal(t)
	sig, pub, err := m.signer.Sign(preimage)
	if err != nil {
		return chain.Transaction{}, fmt.Errorf("miner: signing coinbase: %w", err)
	}
	t.Proof = chain.Proof{Signature: sig, PublicKey: pub}
	return t, nil
}

// search launches workers workers, each testing a disjoint stride of
// nonce space, and returns as soon as one finds a hash meeting
// Difficulty. A worker that panics is treated as "found nothing" and
// the round continues as long as one worker remains (spec §4.2, §7:
// MinerWorkerCrash).
func (m *Miner) search(ctx context.Context, timestamp int64, parent string, txns []chain.Transaction) (*chain.Block, error) {
	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var found atomic.Bool
	var result atomic.Pointer[chain.Block]

	g, gctx := errgroup.WithContext(searchCtx)
	for i := 0; i < m.workers; i++ {
		worker := i
		stride := m.workers
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					workerCrashCounter.Inc(1)
					err = nil
				}
			}()
			start := time.Now()
			hashes := 0
			for nonce := worker; ; nonce += stride {
				if hashes%4096 == 0 {
					select {
					case <-gctx.Done():
						return nil
					default:
					}
					if found.Load() {
						return nil
					}
					if elapsed := time.Since(start).Seconds(); elapsed > 0 {
						hashesPerSecGauge.Update(float64(hashes) / elapsed)
					}
				}
				hashes++
				proof := fmt.Sprintf("%x", nonce)
				hash := chain.HashBlock(timestamp, parent, txns, proof)
				if chain.MeetsDifficulty(hash, m.difficulty) {
					if found.CompareAndSwap(false, true) {
						b := chain.Block{
							Timestamp:    timestamp,
							LastHash:     parent,
							Transactions: txns,
							Proof:        proof,
							Hash:         hash,
						}
						result.Store(&b)
						cancel()
					}
					return nil
				}
			}
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}

	if ctx.Err() != nil && result.Load() == nil {
		return nil, ctx.Err()
	}
	return result.Load(), nil
}
