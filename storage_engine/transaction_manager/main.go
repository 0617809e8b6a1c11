package txn

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"GSQLCore/types"
)

/*
Transaction manager keeps the transaction table: ids, isolation modes and the
state machine
	Active -> Committing -> Committed
	Active -> RolledBack (also Committing -> RolledBack when the commit record
	cannot be made durable)
Committed and RolledBack are terminal; the transaction leaves the table when
it reaches either.
*/

func NewTxnManager(nextID uint64) *TxnManager {
	if nextID == 0 {
		nextID = 1
	}
	return &TxnManager{
		nextID:     nextID,
		activeTxns: make(map[uint64]*Transaction),
	}
}

func ParseIsolation(s string) (Isolation, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "DEFERRED":
		return Deferred, nil
	case "IMMEDIATE":
		return Immediate, nil
	case "EXCLUSIVE":
		return Exclusive, nil
	default:
		return Deferred, fmt.Errorf("unknown isolation mode %q", s)
	}
}

func (i Isolation) String() string {
	switch i {
	case Deferred:
		return "DEFERRED"
	case Immediate:
		return "IMMEDIATE"
	case Exclusive:
		return "EXCLUSIVE"
	default:
		return fmt.Sprintf("ISOLATION(%d)", uint8(i))
	}
}

func (s TxnState) String() string {
	switch s {
	case TxnActive:
		return "Active"
	case TxnCommitting:
		return "Committing"
	case TxnCommitted:
		return "Committed"
	case TxnRolledBack:
		return "RolledBack"
	default:
		return fmt.Sprintf("TxnState(%d)", uint8(s))
	}
}

// Begin starts a new transaction and registers it as active.
func (tm *TxnManager) Begin(isolation Isolation) *Transaction {
	txnID := atomic.AddUint64(&tm.nextID, 1) - 1

	txn := &Transaction{
		ID:         txnID,
		Isolation:  isolation,
		State:      TxnActive,
		StartTime:  time.Now(),
		DirtyPages: make(map[int64]struct{}),
	}

	tm.mu.Lock()
	tm.activeTxns[txnID] = txn
	tm.mu.Unlock()

	log.WithFields(log.Fields{"txn": txnID, "isolation": isolation}).Debug("transaction begin")
	return txn
}

// GetTransaction returns the active transaction with the given ID.
func (tm *TxnManager) GetTransaction(txnID uint64) (*Transaction, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	txn, ok := tm.activeTxns[txnID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", types.ErrTxnNotFound, txnID)
	}
	return txn, nil
}

// IsActive returns true if the given txnID is currently in the table.
func (tm *TxnManager) IsActive(txnID uint64) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	_, exists := tm.activeTxns[txnID]
	return exists
}

// Commit moves a Committing transaction to Committed and drops it from the table.
// Called after OpTxnCommit is durable.
func (tm *TxnManager) Commit(txnID uint64) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	txn, exists := tm.activeTxns[txnID]
	if !exists {
		return fmt.Errorf("%w: %d", types.ErrTxnNotFound, txnID)
	}
	if err := txn.transition(TxnCommitted); err != nil {
		return err
	}
	delete(tm.activeTxns, txnID)

	log.WithField("txn", txnID).Debug("transaction committed")
	return nil
}

// Abort moves a transaction to RolledBack and drops it from the table.
// Called after its effects are undone.
func (tm *TxnManager) Abort(txnID uint64) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	txn, exists := tm.activeTxns[txnID]
	if !exists {
		return fmt.Errorf("%w: %d", types.ErrTxnNotFound, txnID)
	}
	if err := txn.transition(TxnRolledBack); err != nil {
		return err
	}
	delete(tm.activeTxns, txnID)

	log.WithField("txn", txnID).Debug("transaction rolled back")
	return nil
}

// MarkCommitting moves an Active transaction to Committing.
func (tm *TxnManager) MarkCommitting(txnID uint64) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	txn, exists := tm.activeTxns[txnID]
	if !exists {
		return fmt.Errorf("%w: %d", types.ErrTxnNotFound, txnID)
	}
	return txn.transition(TxnCommitting)
}

// ActiveTransactions returns a snapshot of the transaction table ordered by id.
func (tm *TxnManager) ActiveTransactions() []TxnInfo {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	now := time.Now()
	infos := make([]TxnInfo, 0, len(tm.activeTxns))
	for _, txn := range tm.activeTxns {
		infos = append(infos, TxnInfo{
			ID:         txn.ID,
			Isolation:  txn.Isolation,
			State:      txn.State,
			Age:        now.Sub(txn.StartTime),
			Records:    int(txn.nRecords.Load()),
			DirtyPages: int(txn.nDirty.Load()),
			Savepoints: int(txn.nSavepoints.Load()),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// ActiveIDs returns the ids of every transaction in the table.
func (tm *TxnManager) ActiveIDs() []uint64 {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	ids := make([]uint64, 0, len(tm.activeTxns))
	for id := range tm.activeTxns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// NextID is the id the next Begin will hand out.
func (tm *TxnManager) NextID() uint64 {
	return atomic.LoadUint64(&tm.nextID)
}

// AdvanceNextID makes sure ids keep increasing past ids seen in the WAL.
func (tm *TxnManager) AdvanceNextID(seen uint64) {
	for {
		cur := atomic.LoadUint64(&tm.nextID)
		if seen < cur || atomic.CompareAndSwapUint64(&tm.nextID, cur, seen+1) {
			return
		}
	}
}
