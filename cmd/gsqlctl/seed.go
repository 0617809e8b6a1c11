package main

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	storageengine "GSQLCore/storage_engine"
	bplus "GSQLCore/storage_engine/access/indexfile_manager/bplustree"
	txn "GSQLCore/storage_engine/transaction_manager"
	"GSQLCore/types"
)

var (
	seedIndex  = "demo"
	seedCount  = 1000
	seedBatch  = 100
	seedDegree = 0
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Fill an index with sample entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if seedBatch <= 0 {
			return fmt.Errorf("batch must be positive")
		}
		ctx := cmd.Context()
		return withStore(func(se *storageengine.StorageEngine) error {
			err := se.CreateIndex(ctx, seedIndex, bplus.Options{MaxDegree: seedDegree})
			if err != nil && !errors.Is(err, types.ErrIndexExists) {
				return err
			}

			for start := 0; start < seedCount; start += seedBatch {
				tid, err := se.Begin(ctx, txn.Immediate)
				if err != nil {
					return err
				}
				for i := start; i < start+seedBatch && i < seedCount; i++ {
					key := []byte(fmt.Sprintf("key%08d", i))
					value := []byte(fmt.Sprintf("value-%d", i))
					if err := se.Put(ctx, tid, seedIndex, key, value); err != nil {
						_ = se.Rollback(tid)
						return err
					}
				}
				if err := se.Commit(tid); err != nil {
					return err
				}
			}
			log.WithFields(log.Fields{"index": seedIndex, "entries": seedCount}).Info("seeded")
			return nil
		})
	},
}

func init() {
	fs := seedCmd.Flags()
	fs.StringVar(&seedIndex, "index", seedIndex, "index to fill (created if missing)")
	fs.IntVar(&seedCount, "count", seedCount, "number of entries")
	fs.IntVar(&seedBatch, "batch", seedBatch, "entries per transaction")
	fs.IntVar(&seedDegree, "degree", seedDegree, "max degree of a new index (0: configured default)")
}
