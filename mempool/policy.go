// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2016-2024 The lsrsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	// DefaultMinRelayTxFee is the minimum fee in satoshi that is required
	// for a transaction to be treated as free for relay and mining
	// purposes.  It is also used as a base for calculating minimum
	// required fees for larger transactions.  This value is in
	// Satoshi/1000 bytes.
	DefaultMinRelayTxFee = btcutil.Amount(1000)

	// DefaultMaxMempoolSize is the default maximum of memory, in bytes,
	// the pool may use before the rolling minimum fee rate is expected to
	// engage.  It bounds the halflife selection when the rolling rate
	// decays and the clamp applied to smart fee estimates.
	DefaultMaxMempoolSize = 300 * 1000000

	// MinHighPriority is the minimum priority value that allows a
	// transaction to be considered high priority.
	MinHighPriority = btcutil.SatoshiPerBitcoin * 144.0 / 250.0

	// InfinitePriority is the priority reported by the smart priority
	// estimate while the rolling minimum fee rate is active, since no
	// priority gets a free transaction accepted then.
	InfinitePriority = 1e9 * 21000000.0 * btcutil.SatoshiPerBitcoin
)

// FeeRate represents a transaction fee as satoshis per 1000 bytes of
// serialized transaction size.
type FeeRate int64

// NewFeeRate returns the fee rate implied by paying the provided fee for a
// transaction of the given serialized size.  A zero size yields a zero
// rate.
func NewFeeRate(fee btcutil.Amount, size int64) FeeRate {
	if size == 0 {
		return 0
	}
	return FeeRate(int64(fee) * 1000 / size)
}

// Fee returns the fee implied by the rate for a transaction of the given
// serialized size.  A positive rate never yields a zero fee, so paying the
// result always satisfies the rate.
func (r FeeRate) Fee(size int64) btcutil.Amount {
	fee := int64(r) * size / 1000
	if fee == 0 && r > 0 {
		fee = int64(r)
	}
	return btcutil.Amount(fee)
}

// String returns the fee rate in coins per kilobyte for human consumption.
func (r FeeRate) String() string {
	return fmt.Sprintf("%.8f LSR/kB", btcutil.Amount(r).ToBTC())
}

// allowFree returns whether a transaction with the provided priority is
// considered high enough priority to be relayed and mined with no fee.
func allowFree(priority float64) bool {
	return priority > MinHighPriority
}
