// Copyright (c) 2016-2024 The lsrsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// poolFileVersion is the format version written at the head of a persisted
// pool.
const poolFileVersion = 1

// SaveTxPool serializes every pooled transaction to w together with the
// acceptance metadata needed to reconstruct its entry: the time it was
// received, the fee it pays, its starting priority, and the height it was
// accepted at.  Parents are written ahead of their spenders so a reload
// recomputes each transaction's dependency flag against the same pool
// contents it was originally computed against.  LoadTxPool is the
// counterpart.
//
// This function is safe for concurrent access.
func (mp *TxPool) SaveTxPool(w io.Writer) error {
	entries := mp.TxEntries()

	pooled := make(map[chainhash.Hash]bool, len(entries))
	for _, entry := range entries {
		pooled[*entry.Tx().Hash()] = true
	}
	written := make(map[chainhash.Hash]bool, len(entries))
	ordered := make([]*TxPoolEntry, 0, len(entries))
	for len(ordered) < len(entries) {
		progress := false
		for _, entry := range entries {
			hash := *entry.Tx().Hash()
			if written[hash] {
				continue
			}
			ready := true
			for _, txIn := range entry.Tx().MsgTx().TxIn {
				prevHash := txIn.PreviousOutPoint.Hash
				if pooled[prevHash] && !written[prevHash] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			written[hash] = true
			ordered = append(ordered, entry)
			progress = true
		}

		// Hash-linked transactions cannot form a cycle, but refuse
		// to spin if the pool is somehow inconsistent.
		if !progress {
			for _, entry := range entries {
				if !written[*entry.Tx().Hash()] {
					ordered = append(ordered, entry)
				}
			}
			break
		}
	}

	if _, err := w.Write([]byte{poolFileVersion}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(ordered))); err != nil {
		return err
	}

	for _, entry := range ordered {
		var buf bytes.Buffer
		if err := entry.Tx().MsgTx().Serialize(&buf); err != nil {
			return err
		}
		if err := wire.WriteVarBytes(w, 0, buf.Bytes()); err != nil {
			return err
		}

		fields := []interface{}{
			entry.Time().Unix(),
			int64(entry.Fee()),
			entry.StartingPriority(),
			entry.Height(),
		}
		for _, field := range fields {
			err := binary.Write(w, binary.LittleEndian, field)
			if err != nil {
				return err
			}
		}
	}

	log.Debugf("Saved %d pool transactions", len(entries))
	return nil
}

// LoadTxPool adds the transactions serialized by SaveTxPool into the pool
// and returns how many were added.  The transactions bypass validation, so
// a load only makes sense against the chain state they were valid for, and
// they are replayed with current-estimate sampling disabled so history
// does not feed fee estimation.  Whether each transaction has in-pool
// dependencies is recomputed as it is inserted rather than trusted from
// the file.  A corrupt record stops the load with the transactions read so
// far kept.
//
// This function is safe for concurrent access.
func (mp *TxPool) LoadTxPool(r io.Reader) (int, error) {
	var version [1]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return 0, err
	}
	if version[0] != poolFileVersion {
		return 0, fmt.Errorf("%w: version %d, expected %d",
			ErrPoolFileVersion, version[0], poolFileVersion)
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return 0, err
	}

	loaded := 0
	for i := uint32(0); i < count; i++ {
		txBytes, err := wire.ReadVarBytes(r, 0, wire.MaxBlockPayload,
			"transaction")
		if err != nil {
			return loaded, fmt.Errorf("%w: %v", ErrPoolFileCorrupt, err)
		}
		var msgTx wire.MsgTx
		if err := msgTx.Deserialize(bytes.NewReader(txBytes)); err != nil {
			return loaded, fmt.Errorf("%w: %v", ErrPoolFileCorrupt, err)
		}

		var received, fee int64
		var priority float64
		var height int32
		fields := []interface{}{&received, &fee, &priority, &height}
		for _, field := range fields {
			err := binary.Read(r, binary.LittleEndian, field)
			if err != nil {
				return loaded, fmt.Errorf("%w: %v",
					ErrPoolFileCorrupt, err)
			}
		}
		if fee < 0 || height < 0 || priority < 0 ||
			math.IsNaN(priority) || math.IsInf(priority, 0) {

			return loaded, fmt.Errorf("%w: transaction %v carries "+
				"invalid metadata", ErrPoolFileCorrupt,
				msgTx.TxHash())
		}

		tx := btcutil.NewTx(&msgTx)
		entry := NewTxPoolEntry(tx, btcutil.Amount(fee),
			time.Unix(received, 0), priority, height,
			mp.HasNoInputsOf(tx))
		mp.AddUnchecked(entry, false)
		loaded++
	}

	log.Infof("Loaded %d pool transactions", loaded)
	return loaded, nil
}
