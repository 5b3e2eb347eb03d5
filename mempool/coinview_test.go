// Copyright (c) 2016 The btcsuite developers
// Copyright (c) 2016-2024 The lsrsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/lsrsuite/lsrd/blockchain"
)

// TestCoinViewMemPool ensures the pool-backed coin view resolves pooled
// transactions ahead of the base view, marks their coins with the pool
// height, rebuilds them on every access, and hides fully spent base
// records.
func TestCoinViewMemPool(t *testing.T) {
	t.Parallel()

	harness, outputs, err := newPoolHarness(&chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("unable to create test pool: %v", err)
	}
	overlay := NewCoinViewMemPool(harness.chain.coins, harness.txPool)

	// Nothing resolves for an unknown transaction.
	unknown := chainhash.Hash{0x4e}
	if overlay.AccessCoins(&unknown) != nil {
		t.Fatal("AccessCoins resolved an unknown transaction")
	}
	if overlay.HaveCoins(&unknown) {
		t.Fatal("HaveCoins resolved an unknown transaction")
	}

	// Confirmed coins pass through to the base view untouched.
	cbHash := outputs[0].outPoint.Hash
	coins := overlay.AccessCoins(&cbHash)
	if coins == nil {
		t.Fatal("AccessCoins missed a confirmed transaction")
	}
	if coins.Height != 1 {
		t.Fatalf("confirmed coins carry height %d, want 1", coins.Height)
	}
	if !coins.CoinBase {
		t.Fatal("confirmed coinbase record lost its reward flag")
	}
	if !overlay.HaveCoins(&cbHash) {
		t.Fatal("HaveCoins missed a confirmed transaction")
	}

	// The outputs of a pooled transaction resolve like confirmed ones,
	// marked with the pool height.
	tx, err := harness.CreateSignedTx([]spendableOutput{outputs[0]}, 2, 0)
	if err != nil {
		t.Fatalf("unable to create tx: %v", err)
	}
	if _, err := harness.acceptTx(tx); err != nil {
		t.Fatalf("unable to accept tx: %v", err)
	}
	coins = overlay.AccessCoins(tx.Hash())
	if coins == nil {
		t.Fatal("AccessCoins missed a pooled transaction")
	}
	if coins.Height != MempoolHeight {
		t.Fatalf("pooled coins carry height %d, want %d", coins.Height,
			MempoolHeight)
	}
	if len(coins.Outputs) != 2 || !coins.IsAvailable(0) || !coins.IsAvailable(1) {
		t.Fatal("pooled coins do not expose the transaction outputs")
	}
	if !overlay.HaveCoins(tx.Hash()) {
		t.Fatal("HaveCoins missed a pooled transaction")
	}

	// Each access builds the record fresh, so staging spends through one
	// record never leaks into the next.
	coins.Spend(0)
	coins = overlay.AccessCoins(tx.Hash())
	if !coins.IsAvailable(0) {
		t.Fatal("staged spend leaked into a later access")
	}

	// A base record with every output spent resolves as missing.
	prunedHash := chainhash.Hash{0x2c}
	harness.chain.Lock()
	harness.chain.coins.SetCoins(&prunedHash, &blockchain.Coins{
		Height:  5,
		Outputs: make([]*wire.TxOut, 1),
	})
	harness.chain.Unlock()
	if overlay.AccessCoins(&prunedHash) != nil {
		t.Fatal("AccessCoins resolved a fully spent record")
	}
	if overlay.HaveCoins(&prunedHash) {
		t.Fatal("HaveCoins resolved a fully spent record")
	}
}

// TestCoinViewMemPoolNilBase ensures a pool-only view answers for pooled
// transactions and nothing else.
func TestCoinViewMemPoolNilBase(t *testing.T) {
	t.Parallel()

	harness, outputs, err := newPoolHarness(&chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("unable to create test pool: %v", err)
	}
	overlay := NewCoinViewMemPool(nil, harness.txPool)

	tx, err := harness.CreateSignedTx([]spendableOutput{outputs[0]}, 1, 0)
	if err != nil {
		t.Fatalf("unable to create tx: %v", err)
	}
	if _, err := harness.acceptTx(tx); err != nil {
		t.Fatalf("unable to accept tx: %v", err)
	}

	if overlay.AccessCoins(tx.Hash()) == nil {
		t.Fatal("AccessCoins missed a pooled transaction")
	}
	if !overlay.HaveCoins(tx.Hash()) {
		t.Fatal("HaveCoins missed a pooled transaction")
	}

	cbHash := outputs[0].outPoint.Hash
	if overlay.AccessCoins(&cbHash) != nil {
		t.Fatal("AccessCoins resolved a chain transaction without a base")
	}
	if overlay.HaveCoins(&cbHash) {
		t.Fatal("HaveCoins resolved a chain transaction without a base")
	}
}
