// Copyright (c) 2016 The btcsuite developers
// Copyright (c) 2016-2024 The lsrsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// estimateConfirmDepth is the number of confirmation depths the
	// estimator keeps history for by default, so estimates can be
	// requested for targets between one block and this many blocks.
	estimateConfirmDepth = 25

	// maxEstimateDepths bounds the number of confirmation depths accepted
	// from a persisted estimates file.
	maxEstimateDepths = 10000

	// estimateSampleSize is the capacity of the per-depth sample windows.
	// Once a window is full the oldest sample is evicted first.
	estimateSampleSize = 100

	// estimateMaxReplacements is the maximum number of samples a single
	// block may contribute at one confirmation depth, so that one large
	// block cannot flush an entire window.
	estimateMaxReplacements = 10

	// minEstimateSamples is the number of samples that must have been
	// collected across all depths before any estimate is answered.
	minEstimateSamples = 11

	// maxSaneFeeMultiplier caps persisted fee rate samples relative to
	// the minimum relay fee; anything above it is file corruption.
	maxSaneFeeMultiplier = 10000
)

// saneFeeRate returns whether a fee rate sample read from disk falls within
// the accepted bounds of zero to maxSaneFeeMultiplier times the minimum
// relay fee rate.
func saneFeeRate(feeRate, minRelayFeeRate FeeRate) bool {
	return feeRate >= 0 && feeRate <= minRelayFeeRate*maxSaneFeeMultiplier
}

// sanePriority returns whether a priority sample read from disk falls
// within the accepted bounds, which only requires it to be non-negative.
func sanePriority(priority float64) bool {
	return priority >= 0
}

// blockAverage houses rolling windows of the fee rates and priorities of
// transactions observed to confirm at one particular confirmation depth.
// Both windows hold at most estimateSampleSize samples, oldest first.
type blockAverage struct {
	feeSamples      []FeeRate
	prioritySamples []float64
}

func newBlockAverage() *blockAverage {
	return &blockAverage{
		feeSamples:      make([]FeeRate, 0, estimateSampleSize),
		prioritySamples: make([]float64, 0, estimateSampleSize),
	}
}

// recordFee adds a fee rate observation to the window, evicting the oldest
// observation once the window is full.
func (ba *blockAverage) recordFee(feeRate FeeRate) {
	if len(ba.feeSamples) == estimateSampleSize {
		copy(ba.feeSamples, ba.feeSamples[1:])
		ba.feeSamples = ba.feeSamples[:estimateSampleSize-1]
	}
	ba.feeSamples = append(ba.feeSamples, feeRate)
}

// recordPriority adds a priority observation to the window, evicting the
// oldest observation once the window is full.
func (ba *blockAverage) recordPriority(priority float64) {
	if len(ba.prioritySamples) == estimateSampleSize {
		copy(ba.prioritySamples, ba.prioritySamples[1:])
		ba.prioritySamples = ba.prioritySamples[:estimateSampleSize-1]
	}
	ba.prioritySamples = append(ba.prioritySamples, priority)
}

// write serializes the fee window followed by the priority window to w,
// each as a varint count and fixed-width little-endian records.
func (ba *blockAverage) write(w io.Writer) error {
	if err := wire.WriteVarInt(w, 0, uint64(len(ba.feeSamples))); err != nil {
		return err
	}
	for _, feeRate := range ba.feeSamples {
		err := binary.Write(w, binary.LittleEndian, int64(feeRate))
		if err != nil {
			return err
		}
	}

	if err := wire.WriteVarInt(w, 0, uint64(len(ba.prioritySamples))); err != nil {
		return err
	}
	for _, priority := range ba.prioritySamples {
		err := binary.Write(w, binary.LittleEndian, priority)
		if err != nil {
			return err
		}
	}
	return nil
}

// read deserializes fee and priority windows from r.  Every decoded sample
// is validated against the sanity bounds, and the windows are only
// replaced when the whole batch decodes cleanly.
func (ba *blockAverage) read(r io.Reader, minRelayFeeRate FeeRate) error {
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return err
	}
	if count > estimateSampleSize {
		return fmt.Errorf("%w: %d fee samples in one window",
			ErrEstimatesFileCorrupt, count)
	}
	feeSamples := make([]FeeRate, 0, estimateSampleSize)
	for i := uint64(0); i < count; i++ {
		var feeRate int64
		err := binary.Read(r, binary.LittleEndian, &feeRate)
		if err != nil {
			return err
		}
		if !saneFeeRate(FeeRate(feeRate), minRelayFeeRate) {
			return fmt.Errorf("%w: fee rate sample %d out of bounds",
				ErrEstimatesFileCorrupt, feeRate)
		}
		feeSamples = append(feeSamples, FeeRate(feeRate))
	}

	count, err = wire.ReadVarInt(r, 0)
	if err != nil {
		return err
	}
	if count > estimateSampleSize {
		return fmt.Errorf("%w: %d priority samples in one window",
			ErrEstimatesFileCorrupt, count)
	}
	prioritySamples := make([]float64, 0, estimateSampleSize)
	for i := uint64(0); i < count; i++ {
		var priority float64
		err := binary.Read(r, binary.LittleEndian, &priority)
		if err != nil {
			return err
		}
		if !sanePriority(priority) {
			return fmt.Errorf("%w: priority sample %g out of bounds",
				ErrEstimatesFileCorrupt, priority)
		}
		prioritySamples = append(prioritySamples, priority)
	}

	ba.feeSamples = feeSamples
	ba.prioritySamples = prioritySamples
	return nil
}

// PolicyEstimator observes transactions entering the pool and, as blocks
// confirm them, collects their fee rates and priorities into windows keyed
// by how many blocks each took to confirm.  Estimation queries answer from
// the collected windows.
//
// The estimator is owned by a TxPool, which feeds it from its own
// operations, but it carries its own lock so estimation queries do not
// contend with pool mutation.
type PolicyEstimator struct {
	mtx sync.RWMutex

	// minRelayFeeRate splits fee-paying transactions from free ones when
	// attributing confirmations, and bounds what counts as a sane
	// persisted fee sample.
	minRelayFeeRate FeeRate

	// bestSeenHeight is the height of the highest block processed.
	bestSeenHeight int32

	// tracked holds the pool transactions currently eligible for
	// sampling, keyed to the height at which each entered the pool.
	tracked map[chainhash.Hash]int32

	// history holds one sample window per confirmation depth, so
	// history[0] collects transactions that confirmed one block after
	// entering the pool.  The final depth is a catch-all.
	history []*blockAverage

	// sortedFeeSamples and sortedPrioritySamples cache the descending
	// working sets estimates answer from.  They are rebuilt on demand
	// and dropped whenever new samples arrive.
	sortedFeeSamples      []FeeRate
	sortedPrioritySamples []float64
}

// NewPolicyEstimator returns a policy estimator that judges transactions
// against the provided minimum relay fee rate and tracks confirmation
// depths up to estimateConfirmDepth blocks.
func NewPolicyEstimator(minRelayFeeRate FeeRate) *PolicyEstimator {
	history := make([]*blockAverage, estimateConfirmDepth)
	for i := range history {
		history[i] = newBlockAverage()
	}
	return &PolicyEstimator{
		minRelayFeeRate: minRelayFeeRate,
		tracked:         make(map[chainhash.Hash]int32),
		history:         history,
	}
}

// ProcessTransaction observes a transaction entering the pool.  Only
// transactions the caller wants current estimates updated for and which
// entered with no in-pool parents are tracked, since the confirmation
// latency of a dependent transaction reflects its ancestors rather than
// its own fee or priority.
func (ef *PolicyEstimator) ProcessTransaction(entry *TxPoolEntry, isCurrentEstimate bool) {
	if !isCurrentEstimate || !entry.HadNoDependencies() {
		return
	}

	ef.mtx.Lock()
	ef.tracked[*entry.Tx().Hash()] = entry.Height()
	ef.mtx.Unlock()
}

// RemoveTx stops tracking the provided transaction.  The pool calls it for
// every transaction that leaves for any reason, including confirmation,
// ahead of the block itself being processed.
func (ef *PolicyEstimator) RemoveTx(hash *chainhash.Hash) {
	ef.mtx.Lock()
	delete(ef.tracked, *hash)
	ef.mtx.Unlock()
}

// ProcessBlock observes a newly connected block together with the pool
// entries it confirmed, recording fee and priority samples keyed by how
// many blocks each entry waited since entering the pool.  Blocks at or
// below the best seen height are ignored entirely, since side chains and
// re-orgs are assumed not to affect the estimates.  The entries are
// snapshots taken before the pool removed them, so confirmation depths
// come from the entries themselves.
func (ef *PolicyEstimator) ProcessBlock(blockHeight int32, entries []*TxPoolEntry, isCurrentEstimate bool) {
	ef.mtx.Lock()
	defer ef.mtx.Unlock()

	if blockHeight <= ef.bestSeenHeight {
		return
	}
	ef.bestSeenHeight = blockHeight

	if !isCurrentEstimate {
		return
	}

	// Bucket the confirmed entries by how many blocks each took to
	// confirm, with the final depth a catch-all.
	byDepth := make([][]*TxPoolEntry, len(ef.history))
	for _, entry := range entries {
		delete(ef.tracked, *entry.Tx().Hash())

		if !entry.HadNoDependencies() {
			continue
		}
		depth := int(blockHeight - entry.Height())
		if depth <= 0 {
			// A re-org on a disconnect boundary can leave an entry
			// at or above the connecting height.  It carries no
			// usable confirmation time.
			continue
		}
		if depth > len(byDepth) {
			depth = len(byDepth)
		}
		byDepth[depth-1] = append(byDepth[depth-1], entry)
	}

	newSamples := 0
	for depthIndex, depthEntries := range byDepth {
		// Cap how much one block may contribute at a single depth so
		// a burst block cannot dominate the estimate.  The entries
		// kept are chosen at random.
		if len(depthEntries) > estimateMaxReplacements {
			rand.Shuffle(len(depthEntries), func(i, j int) {
				depthEntries[i], depthEntries[j] =
					depthEntries[j], depthEntries[i]
			})
			depthEntries = depthEntries[:estimateMaxReplacements]
		}

		for _, entry := range depthEntries {
			ef.seenTxConfirm(depthIndex, entry, blockHeight)
			newSamples++
		}
	}

	if newSamples > 0 {
		ef.sortedFeeSamples = nil
		ef.sortedPrioritySamples = nil
	}

	log.Debugf("Processed block height %d: %d new samples from %d "+
		"confirmed transactions, %d still tracked", blockHeight,
		newSamples, len(entries), len(ef.tracked))
}

// seenTxConfirm attributes one confirmed entry to the fee or the priority
// window at the provided depth index.  A transaction that confirmed with
// both a sufficient fee and a sufficient priority, or with neither, gives
// no signal about which of the two got it mined and is recorded in neither
// window.
//
// This function MUST be called with the estimator lock held (for writes).
func (ef *PolicyEstimator) seenTxConfirm(depthIndex int, entry *TxPoolEntry, blockHeight int32) {
	feeRate := entry.FeeRate()
	priority := entry.CurrentPriority(blockHeight)

	sufficientFee := feeRate > ef.minRelayFeeRate
	sufficientPriority := allowFree(priority)
	switch {
	case sufficientFee && !sufficientPriority &&
		saneFeeRate(feeRate, ef.minRelayFeeRate):

		ef.history[depthIndex].recordFee(feeRate)
		log.Tracef("Seen confirm of %v at depth %d: fee rate %v",
			entry.Tx().Hash(), depthIndex+1, feeRate)

	case sufficientPriority && !sufficientFee && sanePriority(priority):
		ef.history[depthIndex].recordPriority(priority)
		log.Tracef("Seen confirm of %v at depth %d: priority %g",
			entry.Tx().Hash(), depthIndex+1, priority)
	}
}

// estimateFee returns the fee rate to pay to confirm within the provided
// number of blocks, or zero when there is no answer.
//
// Per-depth windows are noisy because confirmation happens in discrete
// blocks, and estimates must not rise as the target deepens.  The answer
// is therefore drawn from the samples of every depth sorted descending,
// indexed at the boundary of the requested depth: past the totals of the
// shallower depths and halfway into the requested depth's own window.
//
// This function MUST be called with the estimator lock held (for writes).
func (ef *PolicyEstimator) estimateFee(confirms int) FeeRate {
	depthIndex := confirms - 1
	if depthIndex < 0 || depthIndex >= len(ef.history) {
		return 0
	}

	if len(ef.sortedFeeSamples) == 0 {
		var samples []FeeRate
		for _, ba := range ef.history {
			samples = append(samples, ba.feeSamples...)
		}
		sort.Slice(samples, func(i, j int) bool {
			return samples[i] > samples[j]
		})
		ef.sortedFeeSamples = samples
	}
	if len(ef.sortedFeeSamples) < minEstimateSamples {
		return 0
	}

	prevSize := 0
	for i := 0; i < depthIndex; i++ {
		prevSize += len(ef.history[i].feeSamples)
	}
	index := prevSize + len(ef.history[depthIndex].feeSamples)/2
	if index > len(ef.sortedFeeSamples)-1 {
		index = len(ef.sortedFeeSamples) - 1
	}
	return ef.sortedFeeSamples[index]
}

// estimatePriority returns the priority needed to confirm within the
// provided number of blocks, or -1 when there is no answer.  It mirrors
// estimateFee over the priority windows.
//
// This function MUST be called with the estimator lock held (for writes).
func (ef *PolicyEstimator) estimatePriority(confirms int) float64 {
	depthIndex := confirms - 1
	if depthIndex < 0 || depthIndex >= len(ef.history) {
		return -1
	}

	if len(ef.sortedPrioritySamples) == 0 {
		var samples []float64
		for _, ba := range ef.history {
			samples = append(samples, ba.prioritySamples...)
		}
		sort.Sort(sort.Reverse(sort.Float64Slice(samples)))
		ef.sortedPrioritySamples = samples
	}
	if len(ef.sortedPrioritySamples) < minEstimateSamples {
		return -1
	}

	prevSize := 0
	for i := 0; i < depthIndex; i++ {
		prevSize += len(ef.history[i].prioritySamples)
	}
	index := prevSize + len(ef.history[depthIndex].prioritySamples)/2
	if index > len(ef.sortedPrioritySamples)-1 {
		index = len(ef.sortedPrioritySamples) - 1
	}
	return ef.sortedPrioritySamples[index]
}

// EstimateFee returns the fee rate expected to confirm a transaction
// within the provided number of blocks.  ErrEstimateHorizon is returned
// for targets outside the tracked range and ErrNoEstimate when too few
// samples have been collected to answer.
func (ef *PolicyEstimator) EstimateFee(confirms int) (FeeRate, error) {
	ef.mtx.Lock()
	defer ef.mtx.Unlock()

	if confirms < 1 || confirms > len(ef.history) {
		return 0, ErrEstimateHorizon
	}
	feeRate := ef.estimateFee(confirms)
	if feeRate == 0 {
		return 0, ErrNoEstimate
	}
	return feeRate, nil
}

// EstimatePriority returns the priority expected to confirm a transaction
// within the provided number of blocks.  ErrEstimateHorizon is returned
// for targets outside the tracked range and ErrNoEstimate when too few
// samples have been collected to answer.
func (ef *PolicyEstimator) EstimatePriority(confirms int) (float64, error) {
	ef.mtx.Lock()
	defer ef.mtx.Unlock()

	if confirms < 1 || confirms > len(ef.history) {
		return 0, ErrEstimateHorizon
	}
	priority := ef.estimatePriority(confirms)
	if priority < 0 {
		return 0, ErrNoEstimate
	}
	return priority, nil
}

// EstimateSmartFee widens the requested target out to the deepest tracked
// depth until some depth yields an answer, returning the rate along with
// the depth that answered.  Callers wanting the pool's rolling minimum fee
// rate applied on top should use TxPool.EstimateSmartFee instead.
func (ef *PolicyEstimator) EstimateSmartFee(confirms int) (FeeRate, int, error) {
	ef.mtx.Lock()
	defer ef.mtx.Unlock()

	if confirms < 1 || confirms > len(ef.history) {
		return 0, confirms, ErrEstimateHorizon
	}

	for depth := confirms; depth <= len(ef.history); depth++ {
		if feeRate := ef.estimateFee(depth); feeRate > 0 {
			return feeRate, depth, nil
		}
	}
	return 0, len(ef.history), ErrNoEstimate
}

// EstimateSmartPriority widens the requested target out to the deepest
// tracked depth until some depth yields an answer, returning the priority
// along with the depth that answered.  Callers wanting the rolling fee
// gate applied should use TxPool.EstimateSmartPriority instead.
func (ef *PolicyEstimator) EstimateSmartPriority(confirms int) (float64, int, error) {
	ef.mtx.Lock()
	defer ef.mtx.Unlock()

	if confirms < 1 || confirms > len(ef.history) {
		return 0, confirms, ErrEstimateHorizon
	}

	for depth := confirms; depth <= len(ef.history); depth++ {
		if priority := ef.estimatePriority(depth); priority >= 0 {
			return priority, depth, nil
		}
	}
	return 0, len(ef.history), ErrNoEstimate
}

// BestSeenHeight returns the height of the highest block the estimator has
// processed.
func (ef *PolicyEstimator) BestSeenHeight() int32 {
	ef.mtx.RLock()
	defer ef.mtx.RUnlock()
	return ef.bestSeenHeight
}

// MaxConfirms returns the deepest confirmation target the estimator can
// currently answer for.
func (ef *PolicyEstimator) MaxConfirms() int {
	ef.mtx.RLock()
	defer ef.mtx.RUnlock()
	return len(ef.history)
}

// Write serializes the estimator's confirmation history to w as the best
// seen height, the number of depths, and each depth's sample windows.
func (ef *PolicyEstimator) Write(w io.Writer) error {
	ef.mtx.RLock()
	defer ef.mtx.RUnlock()

	err := binary.Write(w, binary.LittleEndian, uint32(ef.bestSeenHeight))
	if err != nil {
		return err
	}
	err = binary.Write(w, binary.LittleEndian, uint32(len(ef.history)))
	if err != nil {
		return err
	}
	for _, ba := range ef.history {
		if err := ba.write(w); err != nil {
			return err
		}
	}
	return nil
}

// Read replaces the estimator's confirmation history with one deserialized
// from r.  The existing state is kept untouched unless the entire stream
// decodes and every sample passes its sanity bounds.
func (ef *PolicyEstimator) Read(r io.Reader) error {
	ef.mtx.Lock()
	defer ef.mtx.Unlock()

	var bestSeenHeight, depthCount uint32
	err := binary.Read(r, binary.LittleEndian, &bestSeenHeight)
	if err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &depthCount); err != nil {
		return err
	}
	if depthCount == 0 || depthCount > maxEstimateDepths {
		return fmt.Errorf("%w: %d confirmation depths",
			ErrEstimatesFileCorrupt, depthCount)
	}

	history := make([]*blockAverage, depthCount)
	for i := range history {
		ba := newBlockAverage()
		if err := ba.read(r, ef.minRelayFeeRate); err != nil {
			return err
		}
		history[i] = ba
	}

	ef.bestSeenHeight = int32(bestSeenHeight)
	ef.history = history
	ef.sortedFeeSamples = nil
	ef.sortedPrioritySamples = nil

	log.Debugf("Read estimates for %d confirmation depths, best seen "+
		"height %d", depthCount, bestSeenHeight)
	return nil
}
