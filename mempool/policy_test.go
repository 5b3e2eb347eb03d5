// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2016-2024 The lsrsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
)

// TestNewFeeRate ensures fee rates are derived from fee and size pairs as
// expected, including the guard against a zero size.
func TestNewFeeRate(t *testing.T) {
	tests := []struct {
		name string         // test description.
		fee  btcutil.Amount // transaction fee.
		size int64          // transaction size in bytes.
		want FeeRate
	}{
		{"1000 sat for 1000 bytes", 1000, 1000, 1000},
		{"1000 sat for 250 bytes", 1000, 250, 4000},
		{"3 sat for 2000 bytes rounds down", 3, 2000, 1},
		{"zero fee", 0, 500, 0},
		{"zero size", 1000, 0, 0},
	}

	for _, test := range tests {
		got := NewFeeRate(test.fee, test.size)
		if got != test.want {
			t.Errorf("TestNewFeeRate test '%s' failed: got %v want %v",
				test.name, got, test.want)
			continue
		}
	}
}

// TestFeeRateFee ensures converting a fee rate back into a fee for a given
// size behaves as expected, in particular that a positive rate never
// yields a zero fee.
func TestFeeRateFee(t *testing.T) {
	tests := []struct {
		name string  // test description.
		rate FeeRate // fee rate under test.
		size int64   // transaction size in bytes.
		want btcutil.Amount
	}{
		{"1000 sat/kB for 1000 bytes", 1000, 1000, 1000},
		{"1000 sat/kB for 250 bytes", 1000, 250, 250},
		{"rounded-to-zero fee bumps to the rate", 3, 250, 3},
		{"zero rate charges nothing", 0, 250, 0},
		{"zero size with positive rate still bumps", 1000, 0, 1000},
	}

	for _, test := range tests {
		got := test.rate.Fee(test.size)
		if got != test.want {
			t.Errorf("TestFeeRateFee test '%s' failed: got %v want %v",
				test.name, got, test.want)
			continue
		}
	}
}

// TestFeeRateString ensures the human readable form renders whole coins
// per kilobyte with eight decimal places.
func TestFeeRateString(t *testing.T) {
	tests := []struct {
		rate FeeRate
		want string
	}{
		{0, "0.00000000 LSR/kB"},
		{1000, "0.00001000 LSR/kB"},
		{FeeRate(btcutil.SatoshiPerBitcoin), "1.00000000 LSR/kB"},
	}

	for _, test := range tests {
		if got := test.rate.String(); got != test.want {
			t.Errorf("FeeRate(%d).String: got %q want %q",
				int64(test.rate), got, test.want)
			continue
		}
	}
}

// TestAllowFree ensures the free transaction threshold is a strict
// comparison at the expected boundary.
func TestAllowFree(t *testing.T) {
	tests := []struct {
		name     string  // test description.
		priority float64 // priority under test.
		want     bool
	}{
		{"zero priority", 0, false},
		{"exactly at the threshold", MinHighPriority, false},
		{"just above the threshold", MinHighPriority + 1, true},
		{"far above the threshold", InfinitePriority, true},
	}

	for _, test := range tests {
		got := allowFree(test.priority)
		if got != test.want {
			t.Errorf("TestAllowFree test '%s' failed: got %v want %v",
				test.name, got, test.want)
			continue
		}
	}
}
