// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2016-2024 The lsrsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"errors"
)

var (
	// ErrTxNotFound is returned when a requested transaction is not in
	// the pool.
	ErrTxNotFound = errors.New("transaction is not in the pool")

	// ErrEstimateHorizon is returned when an estimate is requested for a
	// confirmation target outside the range the estimator tracks.
	ErrEstimateHorizon = errors.New("confirmation target is out of range")

	// ErrNoEstimate is returned when the estimator has not yet observed
	// enough confirmed transactions to answer for the requested target.
	ErrNoEstimate = errors.New("not enough samples for an estimate")

	// ErrEstimatesFileVersion is returned when a fee estimates file
	// requires a reader newer than this build.
	ErrEstimatesFileVersion = errors.New("fee estimates file is too new")

	// ErrEstimatesFileCorrupt is returned when a fee estimates file
	// carries values outside their sane bounds.
	ErrEstimatesFileCorrupt = errors.New("fee estimates file is corrupt")

	// ErrPoolFileVersion is returned when a saved pool file was written
	// in an unknown format version.
	ErrPoolFileVersion = errors.New("saved pool file version is unknown")

	// ErrPoolFileCorrupt is returned when a saved pool file cannot be
	// decoded past a point.
	ErrPoolFileCorrupt = errors.New("saved pool file is corrupt")
)
