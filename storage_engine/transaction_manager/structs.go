package txn

import (
	"sync"
	"sync/atomic"
	"time"
)

type Isolation uint8

const (
	Deferred Isolation = iota
	Immediate
	Exclusive
)

type TxnState uint8

const (
	TxnActive TxnState = iota
	TxnCommitting
	TxnCommitted
	TxnRolledBack
)

type Transaction struct {
	ID        uint64
	Isolation Isolation
	State     TxnState
	StartTime time.Time

	// LSNs of the undoable records logged under this transaction, in append order.
	Records    []uint64
	DirtyPages map[int64]struct{}

	// Page bookkeeping released at the end of the transaction.
	PendingFrees []int64 // unlinked by the transaction, released on commit
	Allocated    []int64 // taken past the end of the file, released on rollback
	Orphaned     []int64 // unreachable whatever the outcome, released on either

	Savepoints []Savepoint

	BeganLogged bool // OpTxnBegin is in the WAL
	WriteLocked bool // holds the store write lock

	mu sync.Mutex // serializes operations issued under this transaction

	// Sizes of Records, DirtyPages and Savepoints for readers that do not hold mu.
	nRecords, nDirty, nSavepoints atomic.Int64
}

// Savepoint marks how much of the transaction's bookkeeping existed when it was taken.
type Savepoint struct {
	Name      string
	Records   int
	Frees     int
	Allocated int
}

// TxnInfo is a read-only view of an active transaction.
type TxnInfo struct {
	ID         uint64
	Isolation  Isolation
	State      TxnState
	Age        time.Duration
	Records    int
	DirtyPages int
	Savepoints int
}

type TxnManager struct {
	nextID     uint64
	activeTxns map[uint64]*Transaction // all currently active transactions
	mu         sync.RWMutex
}
