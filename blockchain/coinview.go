// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2016-2024 The lsrsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Coins houses the unspent outputs of a single transaction along with
// metadata about the transaction that created them.  Each position in
// Outputs corresponds to the output index in the creating transaction and
// spent outputs are set to nil.
type Coins struct {
	// Version is the version of the creating transaction.
	Version int32

	// CoinBase and CoinStake note whether the creating transaction was a
	// coinbase or coinstake, since spends of either are subject to the
	// maturity requirement.
	CoinBase  bool
	CoinStake bool

	// Height is the height of the block containing the creating
	// transaction.
	Height int32

	// Outputs are the unspent outputs, indexed by output index.  Spent
	// and provably unspendable outputs are nil.
	Outputs []*wire.TxOut
}

// NewCoinsFromTx creates a coins record for the outputs of the provided
// transaction as though it were mined at the given height.  Provably
// unspendable outputs are marked spent from the start so they can never be
// returned as available coins.
func NewCoinsFromTx(tx *btcutil.Tx, height int32) *Coins {
	msgTx := tx.MsgTx()
	outputs := make([]*wire.TxOut, len(msgTx.TxOut))
	for i, txOut := range msgTx.TxOut {
		if txscript.IsUnspendable(txOut.PkScript) {
			continue
		}
		outputs[i] = wire.NewTxOut(txOut.Value, txOut.PkScript)
	}

	return &Coins{
		Version:   msgTx.Version,
		CoinBase:  IsCoinBaseTx(msgTx),
		CoinStake: IsCoinStakeTx(msgTx),
		Height:    height,
		Outputs:   outputs,
	}
}

// IsAvailable returns whether or not the output at the provided index
// exists and has not been spent.
func (c *Coins) IsAvailable(index uint32) bool {
	return index < uint32(len(c.Outputs)) && c.Outputs[index] != nil
}

// Spend marks the output at the provided index as spent and returns whether
// or not it was previously available.
func (c *Coins) Spend(index uint32) bool {
	if !c.IsAvailable(index) {
		return false
	}
	c.Outputs[index] = nil
	return true
}

// Value returns the amount of the output at the provided index.  Spent and
// nonexistent outputs have a zero value.
func (c *Coins) Value(index uint32) btcutil.Amount {
	if !c.IsAvailable(index) {
		return 0
	}
	return btcutil.Amount(c.Outputs[index].Value)
}

// IsPruned returns whether or not every output has been spent.
func (c *Coins) IsPruned() bool {
	for _, output := range c.Outputs {
		if output != nil {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the coins record.
func (c *Coins) Clone() *Coins {
	outputs := make([]*wire.TxOut, len(c.Outputs))
	for i, output := range c.Outputs {
		if output == nil {
			continue
		}
		outputs[i] = wire.NewTxOut(output.Value, output.PkScript)
	}

	return &Coins{
		Version:   c.Version,
		CoinBase:  c.CoinBase,
		CoinStake: c.CoinStake,
		Height:    c.Height,
		Outputs:   outputs,
	}
}

// CoinView provides access to the unspent output records of individual
// transactions.  It is typically backed by the chain state, though callers
// are free to layer additional sources, such as the memory pool, on top of
// a base view.
type CoinView interface {
	// AccessCoins returns the coins record for the provided transaction
	// hash, or nil when no record is known for it.
	AccessCoins(hash *chainhash.Hash) *Coins

	// HaveCoins returns whether or not unspent outputs are known for the
	// provided transaction hash.
	HaveCoins(hash *chainhash.Hash) bool
}

// Ensure CoinViewCache implements the CoinView interface.
var _ CoinView = (*CoinViewCache)(nil)

// CoinViewCache is a map-backed coin view which caches records fetched from
// an optional base view so that callers can stage modifications, such as
// spending outputs, without writing them through to the base.
//
// The returned records are owned by the cache and remain valid until the
// next mutation, so it is NOT safe for concurrent access.
type CoinViewCache struct {
	base       CoinView
	entries    map[chainhash.Hash]*Coins
	bestHeight int32
}

// NewCoinViewCache returns a coin view cache layered on top of the provided
// base view.  The base may be nil for a standalone cache.
func NewCoinViewCache(base CoinView) *CoinViewCache {
	return &CoinViewCache{
		base:    base,
		entries: make(map[chainhash.Hash]*Coins),
	}
}

// AccessCoins returns the coins record for the provided transaction hash,
// or nil when the hash is not known to the cache or its base view.  Records
// fetched from the base are copied into the cache, so modifications made
// through the returned record never reach the base view.
//
// This function is part of the CoinView interface.
func (view *CoinViewCache) AccessCoins(hash *chainhash.Hash) *Coins {
	if coins, exists := view.entries[*hash]; exists {
		return coins
	}

	if view.base == nil {
		return nil
	}
	coins := view.base.AccessCoins(hash)
	if coins == nil {
		return nil
	}
	coins = coins.Clone()
	view.entries[*hash] = coins
	return coins
}

// HaveCoins returns whether or not unspent outputs remain for the provided
// transaction hash.  A fully spent record reports false.
//
// This function is part of the CoinView interface.
func (view *CoinViewCache) HaveCoins(hash *chainhash.Hash) bool {
	coins := view.AccessCoins(hash)
	return coins != nil && !coins.IsPruned()
}

// SetCoins stores the provided coins record for the given transaction hash,
// replacing any existing record.  The cache takes ownership of the record.
func (view *CoinViewCache) SetCoins(hash *chainhash.Hash, coins *Coins) {
	view.entries[*hash] = coins
}

// BestHeight returns the height of the chain tip the view is built against.
func (view *CoinViewCache) BestHeight() int32 {
	return view.bestHeight
}

// SetBestHeight sets the height of the chain tip the view is built against.
func (view *CoinViewCache) SetBestHeight(height int32) {
	view.bestHeight = height
}

// HaveInputs returns whether or not every input of the provided transaction
// refers to an available output.  Coinbase transactions have no real inputs
// and therefore always report true.
func (view *CoinViewCache) HaveInputs(tx *btcutil.Tx) bool {
	msgTx := tx.MsgTx()
	if IsCoinBaseTx(msgTx) {
		return true
	}

	for _, txIn := range msgTx.TxIn {
		prevOut := &txIn.PreviousOutPoint
		coins := view.AccessCoins(&prevOut.Hash)
		if coins == nil || !coins.IsAvailable(prevOut.Index) {
			return false
		}
	}
	return true
}

// FetchInputValue sums the value of the outputs spent by the provided
// transaction.  Inputs whose coins are missing from the view contribute
// nothing, as does a coinbase.
func (view *CoinViewCache) FetchInputValue(tx *btcutil.Tx) btcutil.Amount {
	msgTx := tx.MsgTx()
	if IsCoinBaseTx(msgTx) {
		return 0
	}

	var value btcutil.Amount
	for _, txIn := range msgTx.TxIn {
		prevOut := &txIn.PreviousOutPoint
		coins := view.AccessCoins(&prevOut.Hash)
		if coins == nil {
			continue
		}
		value += coins.Value(prevOut.Index)
	}
	return value
}

// FetchPriority computes the priority of the provided transaction at the
// given height, which is the sum of each available input's value times its
// depth at that height, divided by the transaction's modified size.  Inputs
// that are missing from the view or not confirmed below the given height,
// such as outputs provided by other pool transactions, contribute nothing.
// Coinbase transactions have zero priority.
func (view *CoinViewCache) FetchPriority(tx *btcutil.Tx, height int32) float64 {
	msgTx := tx.MsgTx()
	if IsCoinBaseTx(msgTx) {
		return 0
	}

	var inputAge float64
	for _, txIn := range msgTx.TxIn {
		prevOut := &txIn.PreviousOutPoint
		coins := view.AccessCoins(&prevOut.Hash)
		if coins == nil || !coins.IsAvailable(prevOut.Index) {
			continue
		}
		if coins.Height < height {
			value := coins.Outputs[prevOut.Index].Value
			inputAge += float64(value) * float64(height-coins.Height)
		}
	}

	modSize := TransactionModifiedSize(msgTx, 0)
	if modSize == 0 {
		return 0
	}
	return inputAge / float64(modSize)
}

// UpdateCoins spends the outputs consumed by the provided transaction from
// the view and adds the transaction's own outputs to it at the given
// height.  An error is returned when a non-coinbase input refers to an
// output that is missing from the view or already spent.
func UpdateCoins(tx *btcutil.Tx, view *CoinViewCache, height int32) error {
	msgTx := tx.MsgTx()
	if !IsCoinBaseTx(msgTx) {
		for _, txIn := range msgTx.TxIn {
			prevOut := &txIn.PreviousOutPoint
			coins := view.AccessCoins(&prevOut.Hash)
			if coins == nil || !coins.Spend(prevOut.Index) {
				return AssertError(fmt.Sprintf("output %v referenced "+
					"by transaction %v is not available", prevOut,
					tx.Hash()))
			}
		}
	}

	view.SetCoins(tx.Hash(), NewCoinsFromTx(tx, height))
	return nil
}
