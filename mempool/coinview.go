// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2016-2024 The lsrsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/lsrsuite/lsrd/blockchain"
)

// CoinViewMemPool layers a transaction pool over a base coin view so the
// outputs of unconfirmed transactions resolve exactly like confirmed ones.
// Validation code can then check a transaction chain against it without
// caring which parents have been mined yet.
type CoinViewMemPool struct {
	base blockchain.CoinView
	pool *TxPool
}

// Ensure CoinViewMemPool implements the CoinView interface.
var _ blockchain.CoinView = (*CoinViewMemPool)(nil)

// NewCoinViewMemPool returns a coin view that resolves coins from the
// provided pool first and falls back to the base view, which may be nil.
func NewCoinViewMemPool(base blockchain.CoinView, pool *TxPool) *CoinViewMemPool {
	return &CoinViewMemPool{
		base: base,
		pool: pool,
	}
}

// AccessCoins returns the coins of the identified transaction.  A pooled
// transaction always answers before the base view, since the pool holds
// the full transaction while the base may hold a pruned record under the
// same hash.  Pool coins are built fresh on every call at MempoolHeight,
// and fully spent base records resolve as missing.
//
// This function is part of the blockchain.CoinView interface.
func (v *CoinViewMemPool) AccessCoins(hash *chainhash.Hash) *blockchain.Coins {
	if tx, err := v.pool.FetchTransaction(hash); err == nil {
		return blockchain.NewCoinsFromTx(tx, MempoolHeight)
	}

	if v.base == nil {
		return nil
	}
	coins := v.base.AccessCoins(hash)
	if coins == nil || coins.IsPruned() {
		return nil
	}
	return coins
}

// HaveCoins returns whether the identified transaction has resolvable
// coins in the pool or the base view.
//
// This function is part of the blockchain.CoinView interface.
func (v *CoinViewMemPool) HaveCoins(hash *chainhash.Hash) bool {
	if v.pool.IsTransactionInPool(hash) {
		return true
	}
	return v.base != nil && v.base.HaveCoins(hash)
}
