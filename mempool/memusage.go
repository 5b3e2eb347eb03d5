// Copyright (c) 2016-2024 The lsrsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"unsafe"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ptrSize is the in-memory size of a pointer.
const ptrSize = unsafe.Sizeof(uintptr(0))

// mallocUsage returns the modeled memory consumed by an allocation of the
// given size once allocator rounding is accounted for.  The constants were
// measured against glibc allocations.
func mallocUsage(alloc uintptr) int64 {
	if alloc == 0 {
		return 0
	}
	if ptrSize == 8 {
		return int64(((alloc + 31) >> 4) << 4)
	}
	return int64(((alloc + 15) >> 3) << 3)
}

// mapNodeUsage returns the modeled memory consumed by one map entry whose
// key and value together occupy kvSize bytes, charging a fixed per-node
// bookkeeping overhead on top.
func mapNodeUsage(kvSize uintptr) int64 {
	return mallocUsage(kvSize + 32)
}

// dynamicMemoryUsage performs the unlocked portion of DynamicMemoryUsage.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) dynamicMemoryUsage() int64 {
	// Each pool entry is charged its struct plus a fixed pointer overhead
	// standing in for the hash index around it.  Transaction data shared
	// through the entry's pointers is not charged.
	entryUsage := mallocUsage(unsafe.Sizeof(TxPoolEntry{})+15*ptrSize) *
		int64(len(mp.pool))
	outpointUsage := mapNodeUsage(unsafe.Sizeof(wire.OutPoint{})+
		unsafe.Sizeof(txInPoint{})) * int64(len(mp.outpoints))
	deltaUsage := mapNodeUsage(unsafe.Sizeof(chainhash.Hash{})+
		unsafe.Sizeof(txDelta{})) * int64(len(mp.deltas))

	return entryUsage + outpointUsage + deltaUsage
}

// DynamicMemoryUsage returns the modeled memory usage of the pool's
// entries and indexes, in bytes.  Hosts compare it against
// Policy.MaxMempoolSize when deciding whether to evict, and the rolling
// minimum fee decay consults it to pick its halflife.
//
// This function is safe for concurrent access.
func (mp *TxPool) DynamicMemoryUsage() int64 {
	// Protect concurrent access.
	mp.mtx.RLock()
	usage := mp.dynamicMemoryUsage()
	mp.mtx.RUnlock()

	return usage
}
