package storageengine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"GSQLCore/config"
	indexfile "GSQLCore/storage_engine/access/indexfile_manager"
	bplus "GSQLCore/storage_engine/access/indexfile_manager/bplustree"
	"GSQLCore/storage_engine/bufferpool"
	checkpoint "GSQLCore/storage_engine/checkpoint_manager"
	diskmanager "GSQLCore/storage_engine/disk_manager"
	lockmanager "GSQLCore/storage_engine/lock_manager"
	txn "GSQLCore/storage_engine/transaction_manager"
	"GSQLCore/storage_engine/wal_manager"
	"GSQLCore/types"
)

/*
The main file of storage engine. Open wires the managers of one store
directory together:

	dir/data.db          page file (page 0 = metadata: page size, index roots, free list)
	dir/wal.log          write-ahead log
	dir/checkpoint.json  last checkpoint LSN and transaction id counter

and runs recovery before the store accepts any operation. Close rolls back
whatever is still active, checkpoints and closes the files.
*/

// Open opens (creating if needed) the store in dir.
func Open(dir string, cfg config.Config) (*StorageEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create store directory: %w", types.ErrIOFault, err)
	}

	pagePath := filepath.Join(dir, PageFileName)
	backend, err := diskmanager.Open(cfg.Backend, pagePath, cfg.PageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open page file: %w", err)
	}
	persisted, formatted, err := diskmanager.PersistedPageSize(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	if formatted && persisted != cfg.PageSize {
		log.WithFields(log.Fields{"configured": cfg.PageSize, "persisted": persisted}).
			Warn("page size differs from the one the store was created with, using the persisted one")
		backend.Close()
		cfg.PageSize = persisted
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%w: persisted page size: %w", types.ErrIndexCorruption, err)
		}
		if backend, err = diskmanager.Open(cfg.Backend, pagePath, cfg.PageSize); err != nil {
			return nil, fmt.Errorf("failed to reopen page file: %w", err)
		}
	}

	checkpointManager := checkpoint.NewCheckpointManager(dir)
	ckpt, err := checkpointManager.LoadCheckpoint()
	if err != nil {
		backend.Close()
		return nil, err
	}

	walManager, err := wal_manager.OpenWAL(dir, cfg.WALCacheBytes, ckpt.LSN)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to open wal: %w", err)
	}

	bufferPool := bufferpool.NewBufferPool(cfg.BufferPoolPages, backend)
	bufferPool.SetWALManager(walManager)

	se := &StorageEngine{
		BufferPool:        bufferPool,
		DiskManager:       backend,
		WalManager:        walManager,
		TxnManager:        txn.NewTxnManager(max(ckpt.NextTxnID, 1)),
		LockManager:       lockmanager.NewLockManager(cfg.LockTimeout),
		CheckpointManager: checkpointManager,
		Dir:               dir,
		config:            cfg,
	}
	se.env = bplus.NewEnv(bufferPool, backend, se)
	se.IndexManager = indexfile.NewIndexFileManager(se.env)

	if err := se.RecoverFromWAL(); err != nil {
		se.closeFiles()
		return nil, fmt.Errorf("recovery failed: %w", err)
	}
	created, err := se.env.Format(0)
	if err != nil {
		se.closeFiles()
		return nil, fmt.Errorf("failed to format store: %w", err)
	}

	size, _ := backend.FileSize()
	log.WithFields(log.Fields{
		"dir": dir, "backend": cfg.Backend, "page_size": cfg.PageSize,
		"file": humanize.IBytes(uint64(size)), "created": created,
	}).Info("store opened")
	return se, nil
}

// Close rolls back every active transaction, checkpoints and closes the store.
func (se *StorageEngine) Close() error {
	if se.closed.Swap(true) {
		return nil
	}

	var errs []error
	for _, tid := range se.TxnManager.ActiveIDs() {
		if err := se.rollback(tid); err != nil && !errors.Is(err, types.ErrTxnNotFound) {
			errs = append(errs, fmt.Errorf("rollback of transaction %d: %w", tid, err))
		}
	}
	if len(errs) == 0 {
		if err := se.checkpoint(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := se.closeFiles(); err != nil {
		errs = append(errs, err)
	}
	log.WithField("dir", se.Dir).Info("store closed")
	return errors.Join(errs...)
}

// Crash drops the store the way a process crash would: dirty pages are lost,
// nothing is flushed, active transactions vanish. Only what already reached
// the WAL and page files survives for the next Open.
func (se *StorageEngine) Crash() error {
	if se.closed.Swap(true) {
		return nil
	}
	se.BufferPool.Abandon()
	log.WithField("dir", se.Dir).Warn("store crashed")
	return se.closeFiles()
}

func (se *StorageEngine) closeFiles() error {
	var errs []error
	if err := se.WalManager.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := se.DiskManager.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (se *StorageEngine) requireOpen() error {
	if se.closed.Load() {
		return types.ErrStoreClosed
	}
	return nil
}

// Config returns the effective configuration (page size as persisted).
func (se *StorageEngine) Config() config.Config {
	return se.config
}

// Stats returns buffer pool, WAL and transaction counters.
func (se *StorageEngine) Stats() (EngineStats, error) {
	if err := se.requireOpen(); err != nil {
		return EngineStats{}, err
	}
	fileBytes, err := se.DiskManager.FileSize()
	if err != nil {
		return EngineStats{}, err
	}
	ckpt, err := se.CheckpointManager.LoadCheckpoint()
	if err != nil {
		return EngineStats{}, err
	}
	return EngineStats{
		PageSize:      se.config.PageSize,
		Pages:         se.DiskManager.NumPages(),
		FileBytes:     fileBytes,
		BufferPool:    se.BufferPool.GetStats(),
		WALBytes:      se.WalManager.Size(),
		CurrentLSN:    se.WalManager.GetCurrentLSN(),
		FlushedLSN:    se.WalManager.GetFlushedLSN(),
		CheckpointLSN: ckpt.LSN,
		ActiveTxns:    len(se.TxnManager.ActiveIDs()),
		HeldLocks:     len(se.LockManager.Locks()),
	}, nil
}

// ActiveTransactions lists the transaction table.
func (se *StorageEngine) ActiveTransactions() []txn.TxnInfo {
	return se.TxnManager.ActiveTransactions()
}

// Locks lists held and awaited locks.
func (se *StorageEngine) Locks() []lockmanager.LockInfo {
	return se.LockManager.Locks()
}
