// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2016-2024 The lsrsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// testHash returns a non-zero hash with the provided byte in the first
// position for use as a fake previous transaction hash.
func testHash(b byte) chainhash.Hash {
	var hash chainhash.Hash
	hash[0] = b
	return hash
}

// spendMsgTx returns a transaction with the requested number of inputs
// spending arbitrary fake outpoints and a single pay-to-anyone output.
func spendMsgTx(numInputs int) *wire.MsgTx {
	msgTx := wire.NewMsgTx(wire.TxVersion)
	for i := 0; i < numInputs; i++ {
		prevOut := wire.NewOutPoint(&chainhash.Hash{byte(i + 1)}, 0)
		msgTx.AddTxIn(wire.NewTxIn(prevOut, nil, nil))
	}
	msgTx.AddTxOut(wire.NewTxOut(5000000000, []byte{txscript.OP_TRUE}))
	return msgTx
}

// coinbaseMsgTx returns a minimal transaction with the single null-outpoint
// input that marks a coinbase.
func coinbaseMsgTx() *wire.MsgTx {
	msgTx := wire.NewMsgTx(wire.TxVersion)
	prevOut := wire.NewOutPoint(&chainhash.Hash{}, math.MaxUint32)
	msgTx.AddTxIn(wire.NewTxIn(prevOut, []byte{0x01, 0x02}, nil))
	msgTx.AddTxOut(wire.NewTxOut(5000000000, []byte{txscript.OP_TRUE}))
	return msgTx
}

// coinstakeMsgTx returns a minimal proof-of-stake style transaction with a
// real first input and an empty marker output followed by the stake payout.
func coinstakeMsgTx() *wire.MsgTx {
	msgTx := wire.NewMsgTx(wire.TxVersion)
	hash := testHash(0xaa)
	msgTx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&hash, 1), nil, nil))
	msgTx.AddTxOut(wire.NewTxOut(0, nil))
	msgTx.AddTxOut(wire.NewTxOut(4000000000, []byte{txscript.OP_TRUE}))
	return msgTx
}

// TestIsCoinBaseTx ensures transactions are only classified as coinbases
// when they consist of the single null-outpoint input.
func TestIsCoinBaseTx(t *testing.T) {
	t.Parallel()

	zeroHashLowIndex := coinbaseMsgTx()
	zeroHashLowIndex.TxIn[0].PreviousOutPoint.Index = 0

	realHashMaxIndex := coinbaseMsgTx()
	realHashMaxIndex.TxIn[0].PreviousOutPoint.Hash = testHash(0x01)

	twoInputs := coinbaseMsgTx()
	hash := testHash(0x02)
	twoInputs.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&hash, 0), nil, nil))

	tests := []struct {
		name string
		tx   *wire.MsgTx
		want bool
	}{
		{name: "coinbase", tx: coinbaseMsgTx(), want: true},
		{name: "regular spend", tx: spendMsgTx(1), want: false},
		{name: "zero hash with low index", tx: zeroHashLowIndex, want: false},
		{name: "max index with real hash", tx: realHashMaxIndex, want: false},
		{name: "two inputs", tx: twoInputs, want: false},
		{name: "no inputs", tx: wire.NewMsgTx(wire.TxVersion), want: false},
	}

	for _, test := range tests {
		if got := IsCoinBaseTx(test.tx); got != test.want {
			t.Errorf("%s: unexpected result -- got %v, want %v",
				test.name, got, test.want)
		}
	}
}

// TestIsCoinStakeTx ensures transactions are only classified as coinstakes
// when they carry a real first input and an empty marker output.
func TestIsCoinStakeTx(t *testing.T) {
	t.Parallel()

	noInputs := coinstakeMsgTx()
	noInputs.TxIn = nil

	oneOutput := coinstakeMsgTx()
	oneOutput.TxOut = oneOutput.TxOut[:1]

	markerWithValue := coinstakeMsgTx()
	markerWithValue.TxOut[0].Value = 1

	markerWithScript := coinstakeMsgTx()
	markerWithScript.TxOut[0].PkScript = []byte{txscript.OP_TRUE}

	nullFirstInput := coinstakeMsgTx()
	nullFirstInput.TxIn[0].PreviousOutPoint = *wire.NewOutPoint(
		&chainhash.Hash{}, math.MaxUint32)

	tests := []struct {
		name string
		tx   *wire.MsgTx
		want bool
	}{
		{name: "coinstake", tx: coinstakeMsgTx(), want: true},
		{name: "coinbase", tx: coinbaseMsgTx(), want: false},
		{name: "regular spend", tx: spendMsgTx(1), want: false},
		{name: "no inputs", tx: noInputs, want: false},
		{name: "single output", tx: oneOutput, want: false},
		{name: "marker output with value", tx: markerWithValue, want: false},
		{name: "marker output with script", tx: markerWithScript, want: false},
		{name: "null first input", tx: nullFirstInput, want: false},
	}

	for _, test := range tests {
		if got := IsCoinStakeTx(test.tx); got != test.want {
			t.Errorf("%s: unexpected result -- got %v, want %v",
				test.name, got, test.want)
		}
	}
}

// TestTransactionModifiedSize ensures the per-input priority discount is
// applied with the expected cap and floor behavior.
func TestTransactionModifiedSize(t *testing.T) {
	t.Parallel()

	shortScript := spendMsgTx(1)
	shortScript.TxIn[0].SignatureScript = make([]byte, 20)

	longScript := spendMsgTx(1)
	longScript.TxIn[0].SignatureScript = make([]byte, 400)

	twoInputs := spendMsgTx(2)
	twoInputs.TxIn[0].SignatureScript = make([]byte, 20)
	twoInputs.TxIn[1].SignatureScript = make([]byte, 200)

	tests := []struct {
		name           string
		tx             *wire.MsgTx
		serializedSize int
		want           int
	}{
		// The discount is the fixed input overhead plus the actual
		// signature script size when it is under the cap.
		{
			name:           "short script",
			tx:             shortScript,
			serializedSize: 1000,
			want:           1000 - (41 + 20),
		},

		// Scripts longer than the cap are only discounted up to it.
		{
			name:           "capped script",
			tx:             longScript,
			serializedSize: 1000,
			want:           1000 - (41 + 110),
		},

		// Each input is discounted independently.
		{
			name:           "two inputs",
			tx:             twoInputs,
			serializedSize: 1000,
			want:           1000 - (41 + 20) - (41 + 110),
		},

		// A size at or below the discount is left alone rather than
		// driven to zero or below.
		{
			name:           "size below discount",
			tx:             shortScript,
			serializedSize: 50,
			want:           50,
		},
	}

	for _, test := range tests {
		got := TransactionModifiedSize(test.tx, test.serializedSize)
		if got != test.want {
			t.Errorf("%s: unexpected modified size -- got %d, want %d",
				test.name, got, test.want)
		}
	}

	// A zero serialized size must behave the same as passing the actual
	// serialized size of the transaction.
	implicit := TransactionModifiedSize(shortScript, 0)
	explicit := TransactionModifiedSize(shortScript, shortScript.SerializeSize())
	if implicit != explicit {
		t.Errorf("implicit serialized size: got %d, want %d", implicit,
			explicit)
	}
}
