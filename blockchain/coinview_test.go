// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2016-2024 The lsrsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// spendTxForCoins returns a transaction which spends the provided outputs
// of the given source transactions and pays a single output of the given
// value.
func spendTxForCoins(value int64, prevOuts ...wire.OutPoint) *btcutil.Tx {
	msgTx := wire.NewMsgTx(wire.TxVersion)
	for i := range prevOuts {
		msgTx.AddTxIn(wire.NewTxIn(&prevOuts[i], make([]byte, 20), nil))
	}
	msgTx.AddTxOut(wire.NewTxOut(value, []byte{txscript.OP_TRUE}))
	return btcutil.NewTx(msgTx)
}

// TestCoinsFromTx ensures coins records constructed from a transaction
// track spendability, spentness, and value correctly.
func TestCoinsFromTx(t *testing.T) {
	t.Parallel()

	msgTx := wire.NewMsgTx(wire.TxVersion)
	hash := testHash(0x11)
	msgTx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&hash, 0), nil, nil))
	msgTx.AddTxOut(wire.NewTxOut(10000, []byte{txscript.OP_TRUE}))
	msgTx.AddTxOut(wire.NewTxOut(0, []byte{txscript.OP_RETURN}))
	msgTx.AddTxOut(wire.NewTxOut(25000, []byte{txscript.OP_TRUE}))
	tx := btcutil.NewTx(msgTx)

	coins := NewCoinsFromTx(tx, 100)
	if coins.Height != 100 {
		t.Fatalf("unexpected height -- got %d, want 100", coins.Height)
	}
	if coins.CoinBase || coins.CoinStake {
		t.Fatal("regular transaction flagged as coinbase or coinstake")
	}
	if len(coins.Outputs) != 3 {
		t.Fatalf("unexpected output count -- got %d, want 3",
			len(coins.Outputs))
	}

	// The OP_RETURN output is provably unspendable and must start out
	// spent.
	if coins.IsAvailable(1) {
		t.Fatal("unspendable output reported as available")
	}
	if !coins.IsAvailable(0) || !coins.IsAvailable(2) {
		t.Fatal("spendable output reported as unavailable")
	}
	if coins.IsAvailable(3) {
		t.Fatal("out of range output reported as available")
	}

	if got := coins.Value(2); got != 25000 {
		t.Fatalf("unexpected value -- got %d, want 25000", got)
	}
	if got := coins.Value(1); got != 0 {
		t.Fatalf("unexpected spent value -- got %d, want 0", got)
	}

	// Spend the remaining outputs and ensure the record becomes pruned.
	if coins.IsPruned() {
		t.Fatal("record with available outputs reported as pruned")
	}
	if !coins.Spend(0) {
		t.Fatal("failed to spend available output 0")
	}
	if coins.Spend(0) {
		t.Fatal("spent output 0 twice")
	}
	if coins.Spend(5) {
		t.Fatal("spent out of range output")
	}
	if !coins.Spend(2) {
		t.Fatal("failed to spend available output 2")
	}
	if !coins.IsPruned() {
		t.Fatal("fully spent record not reported as pruned")
	}
}

// TestCoinsClone ensures cloned records are fully independent of their
// originals.
func TestCoinsClone(t *testing.T) {
	t.Parallel()

	tx := spendTxForCoins(10000, wire.OutPoint{Hash: testHash(0x22)})
	original := NewCoinsFromTx(tx, 50)
	clone := original.Clone()

	if !clone.Spend(0) {
		t.Fatal("failed to spend cloned output")
	}
	if !original.IsAvailable(0) {
		t.Fatal("spending the clone modified the original")
	}
	if clone.Height != original.Height || clone.Version != original.Version {
		t.Fatal("clone metadata differs from the original")
	}
}

// TestCoinViewCache exercises cache layering over a base view, including
// copy-on-fetch isolation and pruned record handling.
func TestCoinViewCache(t *testing.T) {
	t.Parallel()

	fundingTx := spendTxForCoins(10000, wire.OutPoint{Hash: testHash(0x33)})
	fundingHash := fundingTx.Hash()

	base := NewCoinViewCache(nil)
	base.SetCoins(fundingHash, NewCoinsFromTx(fundingTx, 10))

	// A standalone cache has no backing to consult.
	if base.AccessCoins(&chainhash.Hash{0x7f}) != nil {
		t.Fatal("unexpected coins for unknown hash")
	}

	view := NewCoinViewCache(base)
	view.SetBestHeight(20)
	if view.BestHeight() != 20 {
		t.Fatal("best height not retained")
	}

	coins := view.AccessCoins(fundingHash)
	if coins == nil {
		t.Fatal("base coins not visible through the cache")
	}

	// Spending through the cache must not write through to the base.
	if !coins.Spend(0) {
		t.Fatal("failed to spend fetched output")
	}
	if baseCoins := base.AccessCoins(fundingHash); !baseCoins.IsAvailable(0) {
		t.Fatal("cache modification reached the base view")
	}

	// The cached record is now fully spent, so the hash no longer has
	// coins even though the base still does.
	if view.HaveCoins(fundingHash) {
		t.Fatal("pruned cached record reported as having coins")
	}
	if !base.HaveCoins(fundingHash) {
		t.Fatal("base record unexpectedly missing")
	}
}

// TestHaveInputs ensures input availability is judged against the view with
// the coinbase exemption.
func TestHaveInputs(t *testing.T) {
	t.Parallel()

	fundingTx := spendTxForCoins(10000, wire.OutPoint{Hash: testHash(0x44)})
	fundingHash := fundingTx.Hash()

	view := NewCoinViewCache(nil)
	view.SetCoins(fundingHash, NewCoinsFromTx(fundingTx, 10))

	spendKnown := spendTxForCoins(9000, wire.OutPoint{Hash: *fundingHash})
	if !view.HaveInputs(spendKnown) {
		t.Fatal("available input reported as missing")
	}

	spendUnknown := spendTxForCoins(9000, wire.OutPoint{Hash: testHash(0x55)})
	if view.HaveInputs(spendUnknown) {
		t.Fatal("missing input reported as available")
	}

	spendBadIndex := spendTxForCoins(9000, wire.OutPoint{
		Hash: *fundingHash, Index: 4,
	})
	if view.HaveInputs(spendBadIndex) {
		t.Fatal("out of range input reported as available")
	}

	coinbase := btcutil.NewTx(coinbaseMsgTx())
	if !view.HaveInputs(coinbase) {
		t.Fatal("coinbase inputs reported as missing")
	}
}

// TestFetchPriorityAndInputValue ensures input aging and value summation
// skip unknown and unconfirmed coins.
func TestFetchPriorityAndInputValue(t *testing.T) {
	t.Parallel()

	oldTx := spendTxForCoins(10000000, wire.OutPoint{Hash: testHash(0x66)})
	newTx := spendTxForCoins(5000000, wire.OutPoint{Hash: testHash(0x77)})

	view := NewCoinViewCache(nil)
	view.SetCoins(oldTx.Hash(), NewCoinsFromTx(oldTx, 100))
	view.SetCoins(newTx.Hash(), NewCoinsFromTx(newTx, 150))

	spendTx := spendTxForCoins(14000000,
		wire.OutPoint{Hash: *oldTx.Hash()},
		wire.OutPoint{Hash: *newTx.Hash()},
		wire.OutPoint{Hash: testHash(0x88)})

	if got := view.FetchInputValue(spendTx); got != 15000000 {
		t.Fatalf("unexpected input value -- got %d, want 15000000", got)
	}

	// The coins at heights 100 and 150 are aged to height 200 while the
	// unknown input contributes nothing.
	wantAge := 10000000*float64(200-100) + 5000000*float64(200-150)
	modSize := TransactionModifiedSize(spendTx.MsgTx(), 0)
	if modSize <= 0 {
		t.Fatalf("unexpected modified size %d", modSize)
	}
	want := wantAge / float64(modSize)
	if got := view.FetchPriority(spendTx, 200); got != want {
		t.Fatalf("unexpected priority -- got %g, want %g", got, want)
	}

	// At or before the coins' height there is no age to accumulate.
	if got := view.FetchPriority(spendTx, 100); got != 0 {
		t.Fatalf("unexpected priority at funding height -- got %g", got)
	}

	coinbase := btcutil.NewTx(coinbaseMsgTx())
	if got := view.FetchPriority(coinbase, 200); got != 0 {
		t.Fatalf("unexpected coinbase priority -- got %g", got)
	}
	if got := view.FetchInputValue(coinbase); got != 0 {
		t.Fatalf("unexpected coinbase input value -- got %d", got)
	}
}

// TestUpdateCoins ensures applying a transaction to a view spends its
// inputs, adds its outputs, and rejects unavailable inputs.
func TestUpdateCoins(t *testing.T) {
	t.Parallel()

	fundingTx := spendTxForCoins(10000, wire.OutPoint{Hash: testHash(0x99)})
	fundingHash := fundingTx.Hash()

	view := NewCoinViewCache(nil)
	view.SetCoins(fundingHash, NewCoinsFromTx(fundingTx, 10))

	spendTx := spendTxForCoins(9000, wire.OutPoint{Hash: *fundingHash})
	if err := UpdateCoins(spendTx, view, 11); err != nil {
		t.Fatalf("unexpected error applying spend: %v", err)
	}

	// The funding output is now spent and the spender's output present.
	if view.HaveCoins(fundingHash) {
		t.Fatal("spent funding output still reported as having coins")
	}
	coins := view.AccessCoins(spendTx.Hash())
	if coins == nil || !coins.IsAvailable(0) {
		t.Fatal("spender outputs not added to the view")
	}
	if coins.Height != 11 {
		t.Fatalf("unexpected height for added coins -- got %d, want 11",
			coins.Height)
	}

	// Applying the same spend again must fail with an assertion error.
	err := UpdateCoins(spendTx, view, 12)
	if err == nil {
		t.Fatal("double spend unexpectedly accepted")
	}
	if _, ok := err.(AssertError); !ok {
		t.Fatalf("unexpected error type %T", err)
	}

	// A coinbase spends nothing and only adds its outputs.
	coinbase := btcutil.NewTx(coinbaseMsgTx())
	if err := UpdateCoins(coinbase, view, 12); err != nil {
		t.Fatalf("unexpected error applying coinbase: %v", err)
	}
	if !view.HaveCoins(coinbase.Hash()) {
		t.Fatal("coinbase outputs not added to the view")
	}
}
