// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2016-2024 The lsrsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// maxSigScriptDiscount is the maximum number of signature script bytes
	// discounted per input when computing the modified size of a
	// transaction for priority purposes.  It is enough to cover a typical
	// compressed pubkey redemption.
	maxSigScriptDiscount = 110

	// inputOverhead is the fixed serialization overhead of a transaction
	// input excluding the signature script: the 36-byte previous outpoint,
	// the 4-byte sequence, and one byte of script length.
	inputOverhead = 41
)

// zeroHash is the zero value for a chainhash.Hash and is defined as a
// package level variable to avoid the need to create a new instance every
// time a check is needed.
var zeroHash = &chainhash.Hash{}

// IsCoinBaseTx determines whether or not a transaction is a coinbase.  A
// coinbase is a special transaction created by miners that has no inputs.
// This is represented in the block chain by a transaction with a single
// input that has a previous output transaction index set to the maximum
// value along with a zero hash.
func IsCoinBaseTx(msgTx *wire.MsgTx) bool {
	// A coin base must only have one transaction input.
	if len(msgTx.TxIn) != 1 {
		return false
	}

	// The previous output of a coin base must have a max value index and
	// a zero hash.
	prevOut := &msgTx.TxIn[0].PreviousOutPoint
	if prevOut.Index != math.MaxUint32 || !prevOut.Hash.IsEqual(zeroHash) {
		return false
	}

	return true
}

// IsCoinStakeTx determines whether or not a transaction is a coinstake.  A
// coinstake is the proof-of-stake counterpart of a coinbase and is marked
// by having at least one non-null input along with a first output that is
// empty, meaning it has a zero value and an empty public key script.
func IsCoinStakeTx(msgTx *wire.MsgTx) bool {
	// A coinstake must have at least one input and at least two outputs.
	if len(msgTx.TxIn) == 0 || len(msgTx.TxOut) < 2 {
		return false
	}

	// The first input must reference a real previous output.
	prevOut := &msgTx.TxIn[0].PreviousOutPoint
	if prevOut.Index == math.MaxUint32 && prevOut.Hash.IsEqual(zeroHash) {
		return false
	}

	// The marker output must be empty.
	firstOut := msgTx.TxOut[0]
	return firstOut.Value == 0 && len(firstOut.PkScript) == 0
}

// TransactionModifiedSize returns the serialized size of the provided
// transaction reduced, for each input, by the outpoint overhead plus up to
// maxSigScriptDiscount bytes of its signature script.  The discount keeps
// spending existing outputs from counting against a transaction's priority,
// so cleaning up the unspent output set is not penalized.  Passing a
// serialized size of zero causes it to be computed from the transaction.
func TransactionModifiedSize(msgTx *wire.MsgTx, serializedSize int) int {
	txSize := serializedSize
	if txSize == 0 {
		txSize = msgTx.SerializeSize()
	}

	for _, txIn := range msgTx.TxIn {
		sigScriptSize := len(txIn.SignatureScript)
		if sigScriptSize > maxSigScriptDiscount {
			sigScriptSize = maxSigScriptDiscount
		}
		offset := inputOverhead + sigScriptSize
		if txSize > offset {
			txSize -= offset
		}
	}

	return txSize
}
