// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2016-2024 The lsrsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btclog"
	"github.com/davecgh/go-spew/spew"
	flags "github.com/jessevdk/go-flags"

	"github.com/lsrsuite/lsrd/mempool"
)

var (
	lsrdHomeDir    = btcutil.AppDataDir("lsrd", false)
	defaultFeeFile = filepath.Join(lsrdHomeDir, "data", "fee_estimates.dat")
	log            btclog.Logger
)

// config defines the configuration options for dumpestimates.
//
// See loadConfig for details on the configuration load process.
type config struct {
	FeeFile  string `short:"f" long:"feefile" description:"File holding the persisted fee estimates"`
	Confirms int    `short:"c" long:"confirms" description:"Confirmation target to start the table at"`
	TxSize   int64  `short:"s" long:"txsize" description:"Transaction size in bytes used to translate fee rates into fees"`
	Smart    bool   `long:"smart" description:"Also show smart estimates, which widen the target until some depth answers"`
	Debug    bool   `long:"debug" description:"Dump the raw estimator state after the table"`
}

// realMain is the real main function for the utility.  It is necessary to
// work around the fact that deferred functions do not run when os.Exit()
// is called.
func realMain() error {
	cfg := config{
		FeeFile:  defaultFeeFile,
		Confirms: 1,
		TxSize:   500,
	}
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return err
	}

	// Setup logging.
	backendLogger := btclog.NewBackend(os.Stdout)
	defer os.Stdout.Sync()
	log = backendLogger.Logger("MAIN")
	poolLog := backendLogger.Logger("MEMP")
	if cfg.Debug {
		poolLog.SetLevel(btclog.LevelDebug)
	}
	mempool.UseLogger(poolLog)

	if cfg.Confirms < 1 {
		err := fmt.Errorf("confirmation target %d is not positive",
			cfg.Confirms)
		log.Error(err)
		return err
	}

	fi, err := os.Open(cfg.FeeFile)
	if err != nil {
		log.Errorf("Failed to open fee estimates file: %v", err)
		return err
	}
	defer fi.Close()

	// The header carries the format version required to read the payload
	// and the version of the writer.  The payload is decoded regardless
	// so newer files can still be inspected.
	var versionRequired, versionThatWrote uint32
	if err := binary.Read(fi, binary.LittleEndian, &versionRequired); err != nil {
		log.Errorf("Failed to read file header: %v", err)
		return err
	}
	if err := binary.Read(fi, binary.LittleEndian, &versionThatWrote); err != nil {
		log.Errorf("Failed to read file header: %v", err)
		return err
	}

	estimator := mempool.NewPolicyEstimator(
		mempool.FeeRate(mempool.DefaultMinRelayTxFee))
	if err := estimator.Read(fi); err != nil {
		log.Errorf("Failed to read fee estimates: %v", err)
		return err
	}

	fmt.Printf("File: %v\n", cfg.FeeFile)
	fmt.Printf("Requires version %d, written by version %d\n",
		versionRequired, versionThatWrote)
	fmt.Printf("Best seen height %d, deepest target %d\n",
		estimator.BestSeenHeight(), estimator.MaxConfirms())

	fmt.Printf("\n%-8s %-22s %-16s %s\n", "target", "fee rate",
		fmt.Sprintf("fee (%d bytes)", cfg.TxSize), "priority")
	for confirms := cfg.Confirms; confirms <= estimator.MaxConfirms(); confirms++ {
		rateCell, feeCell, priorityCell := "none", "none", "none"
		if feeRate, err := estimator.EstimateFee(confirms); err == nil {
			rateCell = feeRate.String()
			feeCell = fmt.Sprintf("%.8f LSR",
				feeRate.Fee(cfg.TxSize).ToBTC())
		}
		if priority, err := estimator.EstimatePriority(confirms); err == nil {
			priorityCell = fmt.Sprintf("%g", priority)
		}
		fmt.Printf("%-8d %-22s %-16s %s\n", confirms, rateCell,
			feeCell, priorityCell)
	}

	// The smart estimates go through a pool so the rolling minimum fee
	// handling is exercised the same way a running node answers them.
	if cfg.Smart {
		fiSmart, err := os.Open(cfg.FeeFile)
		if err != nil {
			log.Errorf("Failed to open fee estimates file: %v", err)
			return err
		}
		defer fiSmart.Close()

		pool := mempool.New(&mempool.Config{
			Policy: mempool.Policy{
				MinRelayTxFee:  mempool.DefaultMinRelayTxFee,
				MaxMempoolSize: mempool.DefaultMaxMempoolSize,
			},
			ChainParams: &chaincfg.MainNetParams,
		})
		if err := pool.ReadFeeEstimates(fiSmart); err != nil {
			return err
		}

		fmt.Printf("\nSmart estimates for target %d:\n", cfg.Confirms)
		feeRate, foundAt, err := pool.EstimateSmartFee(cfg.Confirms)
		if err == nil {
			fmt.Printf("fee rate %v, answered at depth %d\n", feeRate,
				foundAt)
		} else {
			fmt.Printf("no fee answer: %v\n", err)
		}
		priority, foundAt, err := pool.EstimateSmartPriority(cfg.Confirms)
		if err == nil {
			fmt.Printf("priority %g, answered at depth %d\n", priority,
				foundAt)
		} else {
			fmt.Printf("no priority answer: %v\n", err)
		}
	}

	if cfg.Debug {
		fmt.Println()
		spew.Dump(estimator)
	}
	return nil
}

func main() {
	if err := realMain(); err != nil {
		os.Exit(1)
	}
}
