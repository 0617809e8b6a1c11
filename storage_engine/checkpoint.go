package storageengine

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	lockmanager "GSQLCore/storage_engine/lock_manager"
)

// Checkpoint waits until no transaction is writing, then flushes every dirty
// page, records the checkpoint and truncates the WAL.
func (se *StorageEngine) Checkpoint(ctx context.Context) error {
	if err := se.requireOpen(); err != nil {
		return err
	}
	return se.asMaintenance(ctx, se.checkpoint)
}

// asMaintenance runs fn holding the store write lock as SystemTxnID, so no
// transaction has uncommitted page changes while fn runs.
func (se *StorageEngine) asMaintenance(ctx context.Context, fn func() error) error {
	se.maintenanceMu.Lock()
	defer se.maintenanceMu.Unlock()

	if err := se.LockManager.Lock(ctx, lockmanager.SystemTxnID, lockmanager.StoreResource, lockmanager.Write); err != nil {
		return err
	}
	defer se.LockManager.ReleaseAll(lockmanager.SystemTxnID)
	return fn()
}

// checkpoint does the work. The caller guarantees that no transaction has
// records in the WAL: either it holds the store write lock with no other
// writer, or the store is recovering or closing.
func (se *StorageEngine) checkpoint() error {
	se.checkpointMu.Lock()
	defer se.checkpointMu.Unlock()

	walBytes := se.WalManager.Size()
	if err := se.WalManager.Sync(); err != nil {
		return err
	}
	if err := se.BufferPool.FlushAllPages(); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := se.DiskManager.Sync(); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}

	lsn := se.WalManager.GetCurrentLSN()
	if err := se.CheckpointManager.SaveCheckpoint(lsn, se.TxnManager.NextID()); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := se.WalManager.Truncate(); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}

	log.WithFields(log.Fields{"lsn": lsn, "wal": humanize.IBytes(uint64(walBytes))}).Info("checkpoint complete")
	return nil
}
