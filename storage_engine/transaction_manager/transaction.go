package txn

import (
	"fmt"

	"GSQLCore/types"
)

/*
Per-transaction bookkeeping. The owner of the transaction calls Lock/Unlock
around every operation it issues under the transaction id.
*/

func (txn *Transaction) Lock() {
	txn.mu.Lock()
}

func (txn *Transaction) Unlock() {
	txn.mu.Unlock()
}

// transition applies one edge of the state machine.
func (txn *Transaction) transition(to TxnState) error {
	ok := false
	switch txn.State {
	case TxnActive:
		ok = to == TxnCommitting || to == TxnRolledBack
	case TxnCommitting:
		ok = to == TxnCommitted || to == TxnRolledBack
	}
	if !ok {
		return fmt.Errorf("%w: transaction %d cannot go from %s to %s", types.ErrTxnNotActive, txn.ID, txn.State, to)
	}
	txn.State = to
	return nil
}

// RequireActive fails unless the transaction can still issue operations.
func (txn *Transaction) RequireActive() error {
	if txn.State != TxnActive {
		return fmt.Errorf("%w: transaction %d is %s", types.ErrTxnNotActive, txn.ID, txn.State)
	}
	return nil
}

// RecordWrite remembers an undoable WAL record and the pages it touched.
func (txn *Transaction) RecordWrite(lsn uint64, pages []int64, freed []int64, allocated []int64) {
	txn.Records = append(txn.Records, lsn)
	for _, id := range pages {
		txn.DirtyPages[id] = struct{}{}
	}
	txn.PendingFrees = append(txn.PendingFrees, freed...)
	txn.Allocated = append(txn.Allocated, allocated...)
	txn.publish()
}

// TrimRecords forgets every record past the first n.
func (txn *Transaction) TrimRecords(n int) {
	txn.Records = txn.Records[:n]
	txn.publish()
}

func (txn *Transaction) publish() {
	txn.nRecords.Store(int64(len(txn.Records)))
	txn.nDirty.Store(int64(len(txn.DirtyPages)))
	txn.nSavepoints.Store(int64(len(txn.Savepoints)))
}

func (txn *Transaction) HasWrites() bool {
	return len(txn.Records) > 0 || len(txn.Orphaned) > 0
}

// AddSavepoint records a savepoint; a repeated name replaces the older one.
func (txn *Transaction) AddSavepoint(name string) {
	txn.dropSavepoint(name)
	txn.Savepoints = append(txn.Savepoints, Savepoint{
		Name:      name,
		Records:   len(txn.Records),
		Frees:     len(txn.PendingFrees),
		Allocated: len(txn.Allocated),
	})
	txn.publish()
}

// FindSavepoint returns the newest savepoint called name.
func (txn *Transaction) FindSavepoint(name string) (Savepoint, error) {
	for i := len(txn.Savepoints) - 1; i >= 0; i-- {
		if txn.Savepoints[i].Name == name {
			return txn.Savepoints[i], nil
		}
	}
	return Savepoint{}, fmt.Errorf("%w: %q in transaction %d", types.ErrSavepointNotFound, name, txn.ID)
}

// RewindTo trims the bookkeeping back to sp once the records after it are undone.
// The savepoint itself survives; later savepoints are dropped.
func (txn *Transaction) RewindTo(sp Savepoint) {
	txn.Records = txn.Records[:sp.Records]
	txn.PendingFrees = txn.PendingFrees[:sp.Frees]
	// Pages taken from the end of the file after sp are unreachable now.
	txn.Orphaned = append(txn.Orphaned, txn.Allocated[sp.Allocated:]...)
	txn.Allocated = txn.Allocated[:sp.Allocated]

	for i, s := range txn.Savepoints {
		if s.Name == sp.Name && s.Records == sp.Records {
			txn.Savepoints = txn.Savepoints[:i+1]
			break
		}
	}
	txn.publish()
}

func (txn *Transaction) dropSavepoint(name string) {
	for i, s := range txn.Savepoints {
		if s.Name == name {
			txn.Savepoints = append(txn.Savepoints[:i], txn.Savepoints[i+1:]...)
			return
		}
	}
}
