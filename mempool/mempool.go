// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2016-2024 The lsrsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mempool provides a policy-enforced pool of unmined transactions
// together with the fee and priority estimation state derived from it.
package mempool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/lsrsuite/lsrd/blockchain"
)

const (
	// MempoolHeight is the sentinel height used for the coins of
	// transactions that have not been mined into a block yet.
	MempoolHeight = 0x7fffffff

	// rollingFeeHalflife is the halflife, in seconds, of the exponential
	// decay applied to the rolling minimum fee rate.
	rollingFeeHalflife = 60 * 60 * 12

	// rollingFeeRefreshInterval is the minimum number of seconds between
	// recomputations of the rolling minimum fee rate.
	rollingFeeRefreshInterval = 10

	// sanityCheckHeight is the height pool transactions are replayed at
	// during the consistency check.  It only has to be beyond any height
	// a maturity rule could trigger at.
	sanityCheckHeight = 1000000

	// estimatesFileVersion is the format version written to the fee
	// estimates file header as the minimum version required to read it.
	estimatesFileVersion = 120000

	// clientVersion identifies this build in the fee estimates file
	// header.  It is recorded for debugging and compared against the
	// required version of files being read.
	clientVersion = 120000
)

// Config is a descriptor containing the memory pool configuration.
type Config struct {
	// Policy defines the various mempool configuration options related
	// to policy.
	Policy Policy

	// ChainParams identifies which chain parameters the mempool is
	// associated with.
	ChainParams *chaincfg.Params

	// FetchUtxoView defines the function to use to fetch unspent
	// transaction output information for the passed transaction.
	FetchUtxoView func(*btcutil.Tx) (*blockchain.CoinViewCache, error)

	// BestHeight defines the function to use to access the block height
	// of the current best chain.
	BestHeight func() int32

	// CheckTxInputs defines an optional function the consistency check
	// uses to validate each pool transaction's inputs against a view at
	// the provided height.  Script execution is not expected of it.
	CheckTxInputs func(*btcutil.Tx, *blockchain.CoinViewCache, int32) error
}

// Policy houses the policy (configuration parameters) which is used to
// control the mempool.
type Policy struct {
	// MinRelayTxFee defines the minimum transaction fee in Satoshi/1000
	// bytes to be considered a non-zero fee.
	MinRelayTxFee btcutil.Amount

	// MaxMempoolSize is the memory usage, in bytes, the pool is expected
	// to stay under.  Usage well below it shortens the rolling minimum
	// fee halflife, and smart fee estimates are clamped against the
	// rolling rate decayed relative to it.
	MaxMempoolSize int64
}

// txInPoint locates one input of a pooled transaction: the hash of the
// spending transaction and the index of the input within it.  The spend
// index stores these records rather than references to the entries so a
// stale record can never dangle.
type txInPoint struct {
	txHash     chainhash.Hash
	inputIndex uint32
}

// txDelta is the accumulated manual adjustment for one transaction hash,
// applied on top of computed priorities and fees by ApplyDeltas.
type txDelta struct {
	priority float64
	fee      btcutil.Amount
}

// TxPoolEntry houses a transaction accepted into the pool along with the
// metadata recorded about it at acceptance time.  Entries are never
// mutated once created; the pool replaces or removes them wholesale.
type TxPoolEntry struct {
	tx                *btcutil.Tx
	fee               btcutil.Amount
	size              int64
	modSize           int64
	time              time.Time
	height            int32
	startingPriority  float64
	hadNoDependencies bool
}

// NewTxPoolEntry returns a pool entry for the provided transaction.  The
// serialized and modified sizes are computed here once and never
// recomputed.  startingPriority is the transaction's priority at the
// height it was accepted, and hadNoDependencies notes whether the pool
// held none of its inputs at that time.
func NewTxPoolEntry(tx *btcutil.Tx, fee btcutil.Amount, timestamp time.Time,
	startingPriority float64, height int32,
	hadNoDependencies bool) *TxPoolEntry {

	msgTx := tx.MsgTx()
	size := int64(msgTx.SerializeSize())
	return &TxPoolEntry{
		tx:                tx,
		fee:               fee,
		size:              size,
		modSize:           int64(blockchain.TransactionModifiedSize(msgTx, int(size))),
		time:              timestamp,
		height:            height,
		startingPriority:  startingPriority,
		hadNoDependencies: hadNoDependencies,
	}
}

// Tx returns the transaction the entry describes.
func (entry *TxPoolEntry) Tx() *btcutil.Tx {
	return entry.tx
}

// Fee returns the fee the transaction pays.
func (entry *TxPoolEntry) Fee() btcutil.Amount {
	return entry.fee
}

// Size returns the serialized size of the transaction.
func (entry *TxPoolEntry) Size() int64 {
	return entry.size
}

// Time returns the time the transaction entered the pool.
func (entry *TxPoolEntry) Time() time.Time {
	return entry.time
}

// Height returns the best chain height when the transaction entered the
// pool.
func (entry *TxPoolEntry) Height() int32 {
	return entry.height
}

// StartingPriority returns the transaction's priority when it entered the
// pool.
func (entry *TxPoolEntry) StartingPriority() float64 {
	return entry.startingPriority
}

// HadNoDependencies returns whether the pool held none of the
// transaction's inputs when it was accepted.
func (entry *TxPoolEntry) HadNoDependencies() bool {
	return entry.hadNoDependencies
}

// FeeRate returns the fee rate the transaction pays.
func (entry *TxPoolEntry) FeeRate() FeeRate {
	return NewFeeRate(entry.fee, entry.size)
}

// CurrentPriority returns the entry's priority at the provided height by
// aging the starting priority with the value the transaction moves.
// Heights at or below the entry height add nothing.
func (entry *TxPoolEntry) CurrentPriority(height int32) float64 {
	deltaHeight := height - entry.height
	if deltaHeight <= 0 || entry.modSize == 0 {
		return entry.startingPriority
	}

	var valueOut int64
	for _, txOut := range entry.tx.MsgTx().TxOut {
		valueOut += txOut.Value
	}
	deltaPriority := float64(deltaHeight) *
		float64(valueOut+int64(entry.fee)) / float64(entry.modSize)
	return entry.startingPriority + deltaPriority
}

// TxPool is used as a source of transactions that need to be mined into
// blocks and relayed to other peers.  It is safe for concurrent access
// from multiple peers.
type TxPool struct {
	// The following variables must only be used atomically.
	lastUpdated int64 // last time pool was updated.

	mtx sync.RWMutex
	cfg Config

	pool      map[chainhash.Hash]*TxPoolEntry
	outpoints map[wire.OutPoint]txInPoint
	deltas    map[chainhash.Hash]txDelta

	// transactionsUpdated increases with every pool mutation so pollers
	// can detect change without diffing the contents.
	transactionsUpdated uint64

	// totalTxSize is the sum of the serialized sizes of all entries.
	totalTxSize int64

	// rollingMinFeeRate is the decaying fee floor, in satoshis per
	// kilobyte, raised by hosts when they evict for memory pressure.  It
	// is recomputed lazily, at most once per refresh interval.
	rollingMinFeeRate    float64
	lastRollingFeeUpdate int64

	sanityCheck bool

	estimator *PolicyEstimator
}

// assertSanity panics with a blockchain.AssertError describing a failed
// pool consistency condition.  It is only reachable from the sanity check,
// where an inconsistency means the pool and the authoritative coin view
// have diverged.
func assertSanity(format string, args ...interface{}) {
	panic(blockchain.AssertError(fmt.Sprintf(format, args...)))
}

// removeTransaction removes the passed transaction and, when
// removeRedeemers is set, every pooled transaction spending one of its
// outputs, breadth-first.  A redeemer-removal request for a transaction
// that is itself no longer pooled still removes its in-pool spenders,
// which covers transactions expunged by a chain reorganization.  Every
// removed transaction is returned and forgotten by the estimator.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) removeTransaction(tx *btcutil.Tx, removeRedeemers bool) []*btcutil.Tx {
	txHash := tx.Hash()
	queue := []chainhash.Hash{*txHash}

	if removeRedeemers {
		if _, exists := mp.pool[*txHash]; !exists {
			prevOut := wire.OutPoint{Hash: *txHash}
			for i := uint32(0); i < uint32(len(tx.MsgTx().TxOut)); i++ {
				prevOut.Index = i
				if spender, ok := mp.outpoints[prevOut]; ok {
					queue = append(queue, spender.txHash)
				}
			}
		}
	}

	var removed []*btcutil.Tx
	for len(queue) > 0 {
		hash := queue[0]
		queue = queue[1:]

		entry, exists := mp.pool[hash]
		if !exists {
			continue
		}
		msgTx := entry.Tx().MsgTx()

		if removeRedeemers {
			prevOut := wire.OutPoint{Hash: hash}
			for i := uint32(0); i < uint32(len(msgTx.TxOut)); i++ {
				prevOut.Index = i
				if spender, ok := mp.outpoints[prevOut]; ok {
					queue = append(queue, spender.txHash)
				}
			}
		}

		for _, txIn := range msgTx.TxIn {
			delete(mp.outpoints, txIn.PreviousOutPoint)
		}

		removed = append(removed, entry.Tx())
		mp.totalTxSize -= entry.Size()
		delete(mp.pool, hash)
		mp.transactionsUpdated++
		mp.estimator.RemoveTx(&hash)

		log.Tracef("Removed transaction %v (pool size: %d)", hash,
			len(mp.pool))
	}

	if len(removed) > 0 {
		atomic.StoreInt64(&mp.lastUpdated, time.Now().Unix())
	}
	return removed
}

// RemoveTransaction removes the passed transaction from the mempool.  When
// the removeRedeemers flag is set, any transactions that redeem outputs of
// the removed transaction will also be removed recursively from the
// mempool, as they would otherwise become orphans.  The removed
// transactions are returned so callers can notify their peers.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveTransaction(tx *btcutil.Tx, removeRedeemers bool) []*btcutil.Tx {
	// Protect concurrent access.
	mp.mtx.Lock()
	removed := mp.removeTransaction(tx, removeRedeemers)
	mp.mtx.Unlock()

	return removed
}

// removeDoubleSpends removes every transaction which spends an outpoint
// that the passed transaction also spends, along with its redeemers.  The
// passed transaction itself is never removed.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) removeDoubleSpends(tx *btcutil.Tx) []*btcutil.Tx {
	var removed []*btcutil.Tx
	txHash := tx.Hash()
	for _, txIn := range tx.MsgTx().TxIn {
		spender, exists := mp.outpoints[txIn.PreviousOutPoint]
		if !exists || spender.txHash == *txHash {
			continue
		}
		if conflict, ok := mp.pool[spender.txHash]; ok {
			removed = append(removed,
				mp.removeTransaction(conflict.Tx(), true)...)
		}
	}
	return removed
}

// RemoveDoubleSpends removes all transactions which spend outputs spent by
// the passed transaction from the memory pool.  Removing those
// transactions then leads to removing all transactions which rely on them,
// recursively.  This is necessary when a block is connected to the main
// chain because the block may contain transactions which were previously
// unknown to the memory pool.  The removed transactions are returned.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveDoubleSpends(tx *btcutil.Tx) []*btcutil.Tx {
	// Protect concurrent access.
	mp.mtx.Lock()
	removed := mp.removeDoubleSpends(tx)
	mp.mtx.Unlock()

	return removed
}

// addUnchecked performs the unlocked portion of AddUnchecked.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) addUnchecked(entry *TxPoolEntry, isCurrentEstimate bool) {
	txHash := entry.Tx().Hash()

	// Replacing an existing entry under the same hash unindexes the old
	// entry first so the spend index never mixes records of the two.
	if existing, exists := mp.pool[*txHash]; exists {
		for _, txIn := range existing.Tx().MsgTx().TxIn {
			delete(mp.outpoints, txIn.PreviousOutPoint)
		}
		mp.totalTxSize -= existing.Size()
	}

	mp.pool[*txHash] = entry
	for i, txIn := range entry.Tx().MsgTx().TxIn {
		mp.outpoints[txIn.PreviousOutPoint] = txInPoint{
			txHash:     *txHash,
			inputIndex: uint32(i),
		}
	}
	mp.totalTxSize += entry.Size()
	mp.transactionsUpdated++
	atomic.StoreInt64(&mp.lastUpdated, time.Now().Unix())

	mp.estimator.ProcessTransaction(entry, isCurrentEstimate)

	log.Debugf("Added transaction %v (pool size: %d)", txHash,
		len(mp.pool))
}

// AddUnchecked adds the provided entry to the pool without running any
// validation; callers must have fully validated the transaction already.
// The entry is indexed under its transaction hash and under every outpoint
// its inputs spend, and the estimator is told about it.  An entry already
// present under the same hash is replaced wholesale.  isCurrentEstimate
// indicates whether the estimator should sample the transaction for
// current fee estimates, which callers disable while replaying history.
//
// This function is safe for concurrent access.
func (mp *TxPool) AddUnchecked(entry *TxPoolEntry, isCurrentEstimate bool) {
	// Protect concurrent access.
	mp.mtx.Lock()
	mp.addUnchecked(entry, isCurrentEstimate)
	mp.mtx.Unlock()
}

// RemoveForBlock removes every transaction confirmed by the passed,
// newly-connected block from the pool, evicts the pooled transactions that
// conflict with the block's spends, and clears the prioritisation of the
// confirmed transactions.  The pool entries of the confirmed transactions
// are snapshotted before anything is removed and handed to the estimator
// afterwards, so it samples them as they were pooled.  The returned
// transactions are the evicted conflicts.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveForBlock(txns []*btcutil.Tx, blockHeight int32,
	isCurrentEstimate bool) []*btcutil.Tx {

	// Protect concurrent access.
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	entries := make([]*TxPoolEntry, 0, len(txns))
	for _, tx := range txns {
		if entry, exists := mp.pool[*tx.Hash()]; exists {
			entries = append(entries, entry)
		}
	}

	var conflicts []*btcutil.Tx
	for _, tx := range txns {
		// The removal is non-recursive since the block may well have
		// confirmed the descendants too.
		mp.removeTransaction(tx, false)
		conflicts = append(conflicts, mp.removeDoubleSpends(tx)...)
		mp.clearPrioritisation(tx.Hash())
	}

	// The block's transactions are out of the pool now, so the estimator
	// works from the snapshot taken above.
	mp.estimator.ProcessBlock(blockHeight, entries, isCurrentEstimate)

	return conflicts
}

// RemoveCoinbaseSpends removes every pooled transaction spending a
// coinbase or coinstake output that is not mature at the provided pool
// height, along with its redeemers.  This guards against immature reward
// spends surviving a chain reorganization.  Outputs provided by other
// pooled transactions are never maturity constrained, so only parents the
// view must supply are considered; a parent the view does not know is
// treated as immature, or as an assertion failure when sanity checking is
// enabled.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveCoinbaseSpends(view blockchain.CoinView, poolHeight int32) {
	// Protect concurrent access.
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	maturity := int32(mp.cfg.ChainParams.CoinbaseMaturity)
	var toRemove []*btcutil.Tx
	for _, entry := range mp.pool {
		for _, txIn := range entry.Tx().MsgTx().TxIn {
			prevHash := &txIn.PreviousOutPoint.Hash
			if _, exists := mp.pool[*prevHash]; exists {
				continue
			}

			coins := view.AccessCoins(prevHash)
			if coins == nil && mp.sanityCheck {
				assertSanity("no coins for output %v spent by "+
					"pool transaction %v", txIn.PreviousOutPoint,
					entry.Tx().Hash())
			}
			if coins == nil || ((coins.CoinBase || coins.CoinStake) &&
				poolHeight-coins.Height < maturity) {

				toRemove = append(toRemove, entry.Tx())
				break
			}
		}
	}

	for _, tx := range toRemove {
		mp.removeTransaction(tx, true)
	}
}

// PruneSpent marks as spent, in the provided coins record, every output of
// the given transaction that some pooled transaction already spends.
// Hosts use it to bridge the pool's spend tracking into a coin view they
// are rebuilding.
//
// This function is safe for concurrent access.
func (mp *TxPool) PruneSpent(hash *chainhash.Hash, coins *blockchain.Coins) {
	// Protect concurrent access.
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	prevOut := wire.OutPoint{Hash: *hash}
	for i := range coins.Outputs {
		prevOut.Index = uint32(i)
		if _, exists := mp.outpoints[prevOut]; exists {
			coins.Spend(uint32(i))
		}
	}
}

// Clear drops every entry and spend index record from the pool and resets
// the size total.  Prioritisation deltas survive, exactly as they survive
// individual removal; hosts drop those with ClearPrioritisation.
//
// This function is safe for concurrent access.
func (mp *TxPool) Clear() {
	// Protect concurrent access.
	mp.mtx.Lock()
	mp.pool = make(map[chainhash.Hash]*TxPoolEntry)
	mp.outpoints = make(map[wire.OutPoint]txInPoint)
	mp.totalTxSize = 0
	mp.transactionsUpdated++
	atomic.StoreInt64(&mp.lastUpdated, time.Now().Unix())
	mp.mtx.Unlock()
}

// fetchTransaction returns the requested transaction if it exists.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) fetchTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error) {
	if entry, exists := mp.pool[*txHash]; exists {
		return entry.Tx(), nil
	}
	return nil, ErrTxNotFound
}

// FetchTransaction returns the requested transaction from the transaction
// pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) FetchTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error) {
	// Protect concurrent access.
	mp.mtx.RLock()
	tx, err := mp.fetchTransaction(txHash)
	mp.mtx.RUnlock()

	return tx, err
}

// FetchInputCoins loads details about the coins referenced by the passed
// transaction from the point of view of the best chain, then fills any
// inputs the chain cannot resolve from the contents of the pool at
// MempoolHeight.  The view's best height is set to the chain's so callers
// can compute fees and age priorities against the next block.
//
// This function is safe for concurrent access.
func (mp *TxPool) FetchInputCoins(tx *btcutil.Tx) (*blockchain.CoinViewCache, error) {
	view, err := mp.cfg.FetchUtxoView(tx)
	if err != nil {
		return nil, err
	}
	view.SetBestHeight(mp.cfg.BestHeight())

	// Protect concurrent access.
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	for _, txIn := range tx.MsgTx().TxIn {
		prevOut := &txIn.PreviousOutPoint
		coins := view.AccessCoins(&prevOut.Hash)
		if coins != nil && coins.IsAvailable(prevOut.Index) {
			continue
		}
		if entry, exists := mp.pool[prevOut.Hash]; exists {
			view.SetCoins(&prevOut.Hash,
				blockchain.NewCoinsFromTx(entry.Tx(), MempoolHeight))
		}
	}

	return view, nil
}

// IsTransactionInPool returns whether or not the passed transaction
// already exists in the memory pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) IsTransactionInPool(hash *chainhash.Hash) bool {
	// Protect concurrent access.
	mp.mtx.RLock()
	_, exists := mp.pool[*hash]
	mp.mtx.RUnlock()

	return exists
}

// HasNoInputsOf returns whether none of the passed transaction's inputs
// spend an output of a currently pooled transaction.  The result is what
// callers record as an entry's hadNoDependencies flag, since the estimator
// only samples transactions whose confirmation time is their own.
//
// This function is safe for concurrent access.
func (mp *TxPool) HasNoInputsOf(tx *btcutil.Tx) bool {
	// Protect concurrent access.
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	for _, txIn := range tx.MsgTx().TxIn {
		if _, exists := mp.pool[txIn.PreviousOutPoint.Hash]; exists {
			return false
		}
	}
	return true
}

// Count returns the number of transactions in the main pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) Count() int {
	// Protect concurrent access.
	mp.mtx.RLock()
	count := len(mp.pool)
	mp.mtx.RUnlock()

	return count
}

// TxHashes returns a slice of hashes for all of the transactions in the
// memory pool, in no particular order.
//
// This function is safe for concurrent access.
func (mp *TxPool) TxHashes() []*chainhash.Hash {
	// Protect concurrent access.
	mp.mtx.RLock()
	hashes := make([]*chainhash.Hash, len(mp.pool))
	i := 0
	for hash := range mp.pool {
		hashCopy := hash
		hashes[i] = &hashCopy
		i++
	}
	mp.mtx.RUnlock()

	return hashes
}

// TxEntries returns a slice with the entry for every transaction in the
// memory pool.  The entries are shared with the pool and must not be
// mutated.
//
// This function is safe for concurrent access.
func (mp *TxPool) TxEntries() []*TxPoolEntry {
	// Protect concurrent access.
	mp.mtx.RLock()
	entries := make([]*TxPoolEntry, 0, len(mp.pool))
	for _, entry := range mp.pool {
		entries = append(entries, entry)
	}
	mp.mtx.RUnlock()

	return entries
}

// TotalTxSize returns the sum of the serialized sizes of all transactions
// in the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) TotalTxSize() int64 {
	// Protect concurrent access.
	mp.mtx.RLock()
	size := mp.totalTxSize
	mp.mtx.RUnlock()

	return size
}

// LastUpdated returns the last time a transaction was added to or removed
// from the main pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) LastUpdated() time.Time {
	return time.Unix(atomic.LoadInt64(&mp.lastUpdated), 0)
}

// GetTransactionsUpdated returns how many times the pool contents have
// been mutated.  Pollers compare it against a remembered value to detect
// change cheaply.
//
// This function is safe for concurrent access.
func (mp *TxPool) GetTransactionsUpdated() uint64 {
	// Protect concurrent access.
	mp.mtx.RLock()
	n := mp.transactionsUpdated
	mp.mtx.RUnlock()

	return n
}

// AddTransactionsUpdated advances the mutation counter by n.  Hosts call
// it when something the pool's consumers derive from it changes outside
// the pool itself, such as after a chain reorganization.
//
// This function is safe for concurrent access.
func (mp *TxPool) AddTransactionsUpdated(n uint64) {
	// Protect concurrent access.
	mp.mtx.Lock()
	mp.transactionsUpdated += n
	mp.mtx.Unlock()
}

// PrioritiseTransaction accumulates a manual priority and fee adjustment
// for the given transaction hash.  Adjustments are additive across calls
// and independent of pool membership, so a transaction can be prioritised
// before it arrives and keeps its adjustment if it leaves and returns.
//
// This function is safe for concurrent access.
func (mp *TxPool) PrioritiseTransaction(hash *chainhash.Hash,
	priorityDelta float64, feeDelta btcutil.Amount) {

	// Protect concurrent access.
	mp.mtx.Lock()
	delta := mp.deltas[*hash]
	delta.priority += priorityDelta
	delta.fee += feeDelta
	mp.deltas[*hash] = delta
	mp.mtx.Unlock()

	log.Infof("Prioritised transaction %v: priority += %g, fee += %v",
		hash, priorityDelta, feeDelta)
}

// ApplyDeltas adds the accumulated adjustments for the given transaction
// hash into the provided priority and fee.  Both pointers must be non-nil.
// A hash with no recorded adjustment leaves the values untouched.
//
// This function is safe for concurrent access.
func (mp *TxPool) ApplyDeltas(hash *chainhash.Hash, priority *float64,
	fee *btcutil.Amount) {

	// Protect concurrent access.
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	delta, exists := mp.deltas[*hash]
	if !exists {
		return
	}
	*priority += delta.priority
	*fee += delta.fee
}

// clearPrioritisation performs the unlocked portion of
// ClearPrioritisation.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) clearPrioritisation(hash *chainhash.Hash) {
	delete(mp.deltas, *hash)
}

// ClearPrioritisation removes any manual adjustments recorded for the
// given transaction hash.
//
// This function is safe for concurrent access.
func (mp *TxPool) ClearPrioritisation(hash *chainhash.Hash) {
	// Protect concurrent access.
	mp.mtx.Lock()
	mp.clearPrioritisation(hash)
	mp.mtx.Unlock()
}

// SetSanityCheck enables or disables the consistency checking performed by
// Check and the stricter missing-parent handling in RemoveCoinbaseSpends.
//
// This function is safe for concurrent access.
func (mp *TxPool) SetSanityCheck(enable bool) {
	// Protect concurrent access.
	mp.mtx.Lock()
	mp.sanityCheck = enable
	mp.mtx.Unlock()
}

// Check verifies the pool's consistency against the provided view.  Every
// input of every pooled transaction must either be provided by another
// pooled transaction, with the referenced output present, or be available
// in the view.  Every input must have a spend index record pointing back
// at it and every spend index record must match an input.  The pool is
// also replayed in dependency order onto a cache layered over the view to
// prove it could be mined as a whole, and the size total is recomputed.
//
// The walk is expensive and does nothing unless enabled via
// SetSanityCheck.  Any inconsistency panics with a blockchain.AssertError,
// since it means the pool and the authoritative coin view have diverged.
//
// This function is safe for concurrent access.
func (mp *TxPool) Check(view blockchain.CoinView) {
	// Protect concurrent access.
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	if !mp.sanityCheck {
		return
	}

	log.Debugf("Checking mempool with %d transactions and %d inputs",
		len(mp.pool), len(mp.outpoints))

	replay := blockchain.NewCoinViewCache(view)

	var checkTotal int64
	var waiting []*TxPoolEntry
	for hash, entry := range mp.pool {
		checkTotal += entry.Size()

		tx := entry.Tx()
		dependsWait := false
		for i, txIn := range tx.MsgTx().TxIn {
			prevOut := &txIn.PreviousOutPoint

			// Inputs either come from another pooled transaction,
			// which then must actually have the output, or from
			// available coins in the view.
			if parent, exists := mp.pool[prevOut.Hash]; exists {
				parentOuts := parent.Tx().MsgTx().TxOut
				if prevOut.Index >= uint32(len(parentOuts)) {
					assertSanity("transaction %v input %d "+
						"spends missing output %v", hash, i,
						prevOut)
				}
				dependsWait = true
			} else {
				coins := view.AccessCoins(&prevOut.Hash)
				if coins == nil || !coins.IsAvailable(prevOut.Index) {
					assertSanity("transaction %v input %d "+
						"spends unavailable coins %v", hash,
						i, prevOut)
				}
			}

			// Each input has to be indexed as spent by this
			// transaction.
			spender, exists := mp.outpoints[*prevOut]
			if !exists || spender.txHash != hash ||
				spender.inputIndex != uint32(i) {

				assertSanity("spend index does not record "+
					"transaction %v input %d spending %v",
					hash, i, prevOut)
			}
		}

		if dependsWait {
			waiting = append(waiting, entry)
			continue
		}
		mp.checkReplayTx(entry.Tx(), replay)
	}

	// Transactions whose parents are pooled replay once their parents
	// have, with an assertion against the wait loop making no progress.
	stepsSinceLastRemove := 0
	for len(waiting) > 0 {
		entry := waiting[0]
		waiting = waiting[1:]

		if !replay.HaveInputs(entry.Tx()) {
			waiting = append(waiting, entry)
			stepsSinceLastRemove++
			if stepsSinceLastRemove >= len(waiting) {
				assertSanity("transaction %v waits on inputs no "+
					"pool transaction provides", entry.Tx().Hash())
			}
			continue
		}
		mp.checkReplayTx(entry.Tx(), replay)
		stepsSinceLastRemove = 0
	}

	// Every spend index record must match the recorded input of a pooled
	// transaction.
	for prevOut, spender := range mp.outpoints {
		entry, exists := mp.pool[spender.txHash]
		if !exists {
			assertSanity("spend index records missing transaction %v",
				spender.txHash)
		}
		txIns := entry.Tx().MsgTx().TxIn
		if spender.inputIndex >= uint32(len(txIns)) {
			assertSanity("spend index records input %d beyond "+
				"transaction %v", spender.inputIndex, spender.txHash)
		}
		if txIns[spender.inputIndex].PreviousOutPoint != prevOut {
			assertSanity("spend index key %v does not match input "+
				"%d of transaction %v", prevOut, spender.inputIndex,
				spender.txHash)
		}
	}

	if checkTotal != mp.totalTxSize {
		assertSanity("total size %d does not match summed entry size %d",
			mp.totalTxSize, checkTotal)
	}
}

// checkReplayTx applies one pool transaction onto the replay view during
// the sanity check, running the configured input check first when one is
// set.
func (mp *TxPool) checkReplayTx(tx *btcutil.Tx, replay *blockchain.CoinViewCache) {
	if mp.cfg.CheckTxInputs != nil {
		err := mp.cfg.CheckTxInputs(tx, replay, sanityCheckHeight)
		if err != nil {
			assertSanity("transaction %v fails input check during "+
				"replay: %v", tx.Hash(), err)
		}
	}
	if err := blockchain.UpdateCoins(tx, replay, sanityCheckHeight); err != nil {
		assertSanity("transaction %v cannot be replayed: %v", tx.Hash(),
			err)
	}
}

// decayRollingMinFee recomputes and returns the rolling minimum fee rate.
// The rate is recomputed at most once per refresh interval, with the decay
// halflife shortened when memory usage sits well below the provided limit
// so the floor relaxes faster under low pressure.  A rate that decays
// below half the relay fee snaps to zero, fully reopening the pool.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) decayRollingMinFee(sizeLimit int64) FeeRate {
	if mp.rollingMinFeeRate == 0 {
		return 0
	}

	now := time.Now().Unix()
	if now > mp.lastRollingFeeUpdate+rollingFeeRefreshInterval {
		halflife := float64(rollingFeeHalflife)
		usage := mp.dynamicMemoryUsage()
		if usage < sizeLimit/4 {
			halflife /= 4
		} else if usage < sizeLimit/2 {
			halflife /= 2
		}

		elapsed := float64(now - mp.lastRollingFeeUpdate)
		mp.rollingMinFeeRate /= math.Pow(2.0, elapsed/halflife)
		mp.lastRollingFeeUpdate = now

		if mp.rollingMinFeeRate < float64(mp.cfg.Policy.MinRelayTxFee)/2 {
			mp.rollingMinFeeRate = 0
			return 0
		}
	}
	return FeeRate(mp.rollingMinFeeRate)
}

// GetMinFee returns the minimum fee rate the pool currently demands: the
// larger of the configured relay fee and the rolling minimum decayed
// relative to the provided size limit.
//
// This function is safe for concurrent access.
func (mp *TxPool) GetMinFee(sizeLimit int64) FeeRate {
	// Protect concurrent access.
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	rolling := mp.decayRollingMinFee(sizeLimit)
	if minRelay := FeeRate(mp.cfg.Policy.MinRelayTxFee); rolling < minRelay {
		return minRelay
	}
	return rolling
}

// UpdateMinFee raises the rolling minimum fee rate to at least the
// provided rate.  Hosts call it when they evict transactions for memory
// pressure, so the pool does not immediately refill with the same class
// of transactions it just shed.
//
// This function is safe for concurrent access.
func (mp *TxPool) UpdateMinFee(rate FeeRate) {
	// Protect concurrent access.
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	if float64(rate) > mp.rollingMinFeeRate {
		mp.rollingMinFeeRate = float64(rate)
		mp.lastRollingFeeUpdate = time.Now().Unix()
		log.Debugf("Rolling minimum fee rate raised to %v", rate)
	}
}

// EstimateFee returns the fee rate expected to get a transaction confirmed
// within the provided number of blocks.
//
// This function is safe for concurrent access.
func (mp *TxPool) EstimateFee(confirms int) (FeeRate, error) {
	return mp.estimator.EstimateFee(confirms)
}

// EstimatePriority returns the priority expected to get a transaction
// confirmed within the provided number of blocks.
//
// This function is safe for concurrent access.
func (mp *TxPool) EstimatePriority(confirms int) (float64, error) {
	return mp.estimator.EstimatePriority(confirms)
}

// EstimateSmartFee widens the provided confirmation target until some
// depth yields an answer and reports the depth that did.  The answer is
// never below the pool's rolling minimum fee rate, since transactions
// under it are currently not accepted at all; with the rolling rate
// active, the rate alone is returned even when the estimator itself has
// no answer.
//
// This function is safe for concurrent access.
func (mp *TxPool) EstimateSmartFee(confirms int) (FeeRate, int, error) {
	feeRate, foundAt, err := mp.estimator.EstimateSmartFee(confirms)
	if err != nil && !errors.Is(err, ErrNoEstimate) {
		return 0, foundAt, err
	}

	mp.mtx.Lock()
	rolling := mp.decayRollingMinFee(mp.cfg.Policy.MaxMempoolSize)
	mp.mtx.Unlock()

	if rolling > feeRate {
		return rolling, foundAt, nil
	}
	if err != nil {
		return 0, foundAt, err
	}
	return feeRate, foundAt, nil
}

// EstimateSmartPriority widens the provided confirmation target until some
// depth yields an answer and reports the depth that did.  While the
// rolling minimum fee rate is active the pool accepts no free
// transactions, so InfinitePriority is returned instead of a sample-based
// answer.
//
// This function is safe for concurrent access.
func (mp *TxPool) EstimateSmartPriority(confirms int) (float64, int, error) {
	priority, foundAt, err := mp.estimator.EstimateSmartPriority(confirms)
	if err != nil && errors.Is(err, ErrEstimateHorizon) {
		return 0, foundAt, err
	}

	mp.mtx.Lock()
	rolling := mp.decayRollingMinFee(mp.cfg.Policy.MaxMempoolSize)
	mp.mtx.Unlock()

	if rolling > 0 {
		return InfinitePriority, confirms, nil
	}
	return priority, foundAt, err
}

// WriteFeeEstimates serializes the pool's fee estimation state to w,
// prefixed with the format version required to read it back and the
// version that wrote it.
//
// This function is safe for concurrent access.
func (mp *TxPool) WriteFeeEstimates(w io.Writer) error {
	err := binary.Write(w, binary.LittleEndian, uint32(estimatesFileVersion))
	if err != nil {
		return err
	}
	err = binary.Write(w, binary.LittleEndian, uint32(clientVersion))
	if err != nil {
		return err
	}
	return mp.estimator.Write(w)
}

// ReadFeeEstimates replaces the pool's fee estimation state with one read
// from r.  Version mismatches and corrupt payloads are logged and returned
// as errors with the in-memory state left untouched; such failures are not
// fatal to the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) ReadFeeEstimates(r io.Reader) error {
	var versionRequired, versionThatWrote uint32
	err := binary.Read(r, binary.LittleEndian, &versionRequired)
	if err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &versionThatWrote); err != nil {
		return err
	}
	if versionRequired > clientVersion {
		err := fmt.Errorf("%w: requires version %d, running %d",
			ErrEstimatesFileVersion, versionRequired, clientVersion)
		log.Errorf("Unable to read fee estimates: %v", err)
		return err
	}

	if err := mp.estimator.Read(r); err != nil {
		log.Errorf("Unable to read fee estimates: %v", err)
		return err
	}

	log.Debugf("Read fee estimates written by version %d", versionThatWrote)
	return nil
}

// New returns a new memory pool for validly mined and relayed transactions
// along with its owned policy estimator.
func New(cfg *Config) *TxPool {
	return &TxPool{
		cfg:       *cfg,
		pool:      make(map[chainhash.Hash]*TxPoolEntry),
		outpoints: make(map[wire.OutPoint]txInPoint),
		deltas:    make(map[chainhash.Hash]txDelta),
		estimator: NewPolicyEstimator(FeeRate(cfg.Policy.MinRelayTxFee)),
	}
}
