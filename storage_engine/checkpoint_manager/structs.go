package checkpoint

import "sync"

const CheckpointFileName = "checkpoint.json"

// CheckpointManager manages WAL checkpoints
type CheckpointManager struct {
	checkpointPath string
	mu             sync.RWMutex
}

// Checkpoint is the recovery point of a store: every record up to LSN is
// applied to the page file and the WAL holds nothing older.
type Checkpoint struct {
	LSN       uint64 `json:"lsn"`
	NextTxnID uint64 `json:"next_txn_id"`
	Timestamp int64  `json:"timestamp"` // informational only, not used for replaying
}
