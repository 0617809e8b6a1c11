package storageengine

import (
	"sync"
	"sync/atomic"

	"GSQLCore/config"
	indexfile "GSQLCore/storage_engine/access/indexfile_manager"
	bplus "GSQLCore/storage_engine/access/indexfile_manager/bplustree"
	"GSQLCore/storage_engine/bufferpool"
	checkpoint "GSQLCore/storage_engine/checkpoint_manager"
	diskmanager "GSQLCore/storage_engine/disk_manager"
	lockmanager "GSQLCore/storage_engine/lock_manager"
	txn "GSQLCore/storage_engine/transaction_manager"
	"GSQLCore/storage_engine/wal_manager"
)

const PageFileName = "data.db"

// StorageEngine is the handle of one open store: one page file, one WAL and
// the managers layered over them. It is safe for concurrent use; every
// operation names the transaction it runs under.
type StorageEngine struct {
	BufferPool *bufferpool.BufferPool

	DiskManager       diskmanager.Backend
	IndexManager      *indexfile.IndexFileManager
	WalManager        *wal_manager.WALManager
	TxnManager        *txn.TxnManager
	LockManager       *lockmanager.LockManager
	CheckpointManager *checkpoint.CheckpointManager

	Dir    string
	config config.Config
	env    *bplus.Env

	checkpointMu  sync.Mutex // one checkpoint at a time
	maintenanceMu sync.Mutex // one SystemTxnID locker at a time
	closed        atomic.Bool
}

// EngineStats is a point-in-time view of the store.
type EngineStats struct {
	PageSize      int
	Pages         int64
	FileBytes     int64
	BufferPool    bufferpool.BufferPoolStats
	WALBytes      int64
	CurrentLSN    uint64
	FlushedLSN    uint64
	CheckpointLSN uint64
	ActiveTxns    int
	HeldLocks     int
}
