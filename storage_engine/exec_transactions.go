package storageengine

import (
	"context"
	"fmt"
	"slices"

	log "github.com/sirupsen/logrus"

	lockmanager "GSQLCore/storage_engine/lock_manager"
	txn "GSQLCore/storage_engine/transaction_manager"
	"GSQLCore/types"
)

/*
Transactions.

Every page change reaches the WAL through LogPageWrites before it is
installed in the buffer pool. A transaction's records are remembered by LSN;
rollback reads them back newest-first and, for each, logs a compensation
record carrying the before-images and installs those images. Compensation
records are never undone themselves, which keeps recovery (redo everything,
then undo what is left of the losers) idempotent.

Transaction id 0 is reserved for store maintenance (formatting, index
creation, releasing pages of a rolled-back transaction). Its records are
synced right away and never undone.

Lock discipline (the store resource and index-entry records):

	EXCLUSIVE  store Exclusive at begin; nothing else needed
	IMMEDIATE  store IntentShared at begin; store Write + record Exclusive on write; record Shared on read
	DEFERRED   nothing at begin; store IntentShared + record Shared on read; store Write + record Exclusive on write

Locks are taken before the tree latch and held until commit or rollback.
*/

// Begin starts a transaction. EXCLUSIVE waits for the whole store.
func (se *StorageEngine) Begin(ctx context.Context, isolation txn.Isolation) (uint64, error) {
	if err := se.requireOpen(); err != nil {
		return 0, err
	}
	t := se.TxnManager.Begin(isolation)

	var level lockmanager.LockLevel
	switch isolation {
	case txn.Exclusive:
		level = lockmanager.Exclusive
	case txn.Immediate:
		level = lockmanager.IntentShared
	}
	if level != 0 {
		if err := se.LockManager.Lock(ctx, t.ID, lockmanager.StoreResource, level); err != nil {
			t.Lock()
			_ = se.TxnManager.Abort(t.ID)
			t.Unlock()
			se.LockManager.ReleaseAll(t.ID)
			return 0, fmt.Errorf("begin %s: %w", isolation, err)
		}
		t.WriteLocked = isolation == txn.Exclusive
	}
	return t.ID, nil
}

// Commit makes the transaction's changes durable and releases its locks.
func (se *StorageEngine) Commit(tid uint64) error {
	if err := se.requireOpen(); err != nil {
		return err
	}
	t, err := se.TxnManager.GetTransaction(tid)
	if err != nil {
		return err
	}
	t.Lock()
	defer t.Unlock()

	if err := t.RequireActive(); err != nil {
		return err
	}
	if err := se.TxnManager.MarkCommitting(tid); err != nil {
		return err
	}
	if err := se.commitLocked(t); err != nil {
		if types.IsFatal(err) {
			se.autoRollback(t, err)
		}
		return fmt.Errorf("commit of transaction %d: %w", tid, err)
	}
	return nil
}

func (se *StorageEngine) commitLocked(t *txn.Transaction) error {
	wrote := t.HasWrites()
	if wrote {
		frees := append(slices.Clone(t.PendingFrees), t.Orphaned...)
		if _, err := se.IndexManager.ReleasePages(t.ID, frees); err != nil {
			return fmt.Errorf("failed to release pages: %w", err)
		}
		if _, err := se.WalManager.AppendOperation(&types.Operation{Type: types.OpTxnCommit, TxnID: t.ID}); err != nil {
			return err
		}
		if se.config.SyncOnCommit {
			if err := se.WalManager.Sync(); err != nil {
				return err
			}
		}
	}
	if err := se.TxnManager.Commit(t.ID); err != nil {
		return err
	}

	// Still holding the write lock, so no other transaction has records the
	// checkpoint would cut away.
	if wrote && se.WalManager.Size() >= se.config.WALCheckpointBytes {
		if err := se.checkpoint(); err != nil {
			log.WithError(err).WithField("txn", t.ID).Warn("checkpoint after commit failed")
		}
	}
	se.LockManager.ReleaseAll(t.ID)

	log.WithFields(log.Fields{"txn": t.ID, "records": len(t.Records)}).Debug("transaction committed")
	return nil
}

// Rollback undoes every change of the transaction and releases its locks.
func (se *StorageEngine) Rollback(tid uint64) error {
	if err := se.requireOpen(); err != nil {
		return err
	}
	return se.rollback(tid)
}

func (se *StorageEngine) rollback(tid uint64) error {
	t, err := se.TxnManager.GetTransaction(tid)
	if err != nil {
		return err
	}
	t.Lock()
	defer t.Unlock()
	if t.State != txn.TxnActive && t.State != txn.TxnCommitting {
		return fmt.Errorf("%w: transaction %d is %s", types.ErrTxnNotActive, tid, t.State)
	}
	return se.rollbackLocked(t)
}

func (se *StorageEngine) rollbackLocked(t *txn.Transaction) error {
	if err := se.undoRecords(t, 0); err != nil {
		return fmt.Errorf("rollback of transaction %d: %w", t.ID, err)
	}

	// Pages taken from the end of the file are zeroed by the undo and
	// belong to no one; hand them to the free list as store maintenance.
	// A failed release keeps what is left so the next rollback resumes there.
	release := append(slices.Clone(t.Allocated), t.Orphaned...)
	n, err := se.IndexManager.ReleasePages(0, release)
	t.Allocated, t.Orphaned, t.PendingFrees = release[n:], nil, nil
	if err != nil {
		return fmt.Errorf("rollback of transaction %d: failed to release pages: %w", t.ID, err)
	}

	if t.BeganLogged {
		if _, err := se.WalManager.AppendOperation(&types.Operation{Type: types.OpTxnAbort, TxnID: t.ID}); err != nil {
			return err
		}
	}
	if err := se.TxnManager.Abort(t.ID); err != nil {
		return err
	}
	se.LockManager.ReleaseAll(t.ID)

	log.WithField("txn", t.ID).Debug("transaction rolled back")
	return nil
}

// autoRollback rolls back a transaction hit by a fault. The fault is what
// the caller reports; a failed rollback is only logged.
func (se *StorageEngine) autoRollback(t *txn.Transaction, cause error) {
	log.WithError(cause).WithField("txn", t.ID).Warn("rolling back transaction after fault")
	if err := se.rollbackLocked(t); err != nil {
		log.WithError(err).WithField("txn", t.ID).Error("automatic rollback failed")
	}
}

// Savepoint marks the current point of the transaction under name.
func (se *StorageEngine) Savepoint(tid uint64, name string) error {
	return se.withTxn(tid, func(t *txn.Transaction) error {
		t.AddSavepoint(name)
		return nil
	})
}

// RollbackTo undoes everything logged after the savepoint. The transaction
// stays active, keeps its locks and keeps the savepoint.
func (se *StorageEngine) RollbackTo(tid uint64, name string) error {
	return se.withTxn(tid, func(t *txn.Transaction) error {
		sp, err := t.FindSavepoint(name)
		if err != nil {
			return err
		}
		if err := se.undoRecords(t, sp.Records); err != nil {
			return err
		}
		t.RewindTo(sp)
		return nil
	})
}

// withTxn runs fn under an active transaction. A fault rolls the
// transaction back before the error is returned.
func (se *StorageEngine) withTxn(tid uint64, fn func(t *txn.Transaction) error) error {
	if err := se.requireOpen(); err != nil {
		return err
	}
	t, err := se.TxnManager.GetTransaction(tid)
	if err != nil {
		return err
	}
	t.Lock()
	defer t.Unlock()
	if err := t.RequireActive(); err != nil {
		return err
	}

	err = fn(t)
	if err != nil && types.IsFatal(err) {
		se.autoRollback(t, err)
	}
	return err
}

// undoRecords compensates t.Records[keep:] newest first. Records are dropped
// from the transaction as they are compensated so a failed undo can resume.
func (se *StorageEngine) undoRecords(t *txn.Transaction, keep int) error {
	if len(t.Records) <= keep {
		return nil
	}
	latch := se.env.Latch()
	latch.Lock()
	defer latch.Unlock()
	defer se.env.Invalidate()

	for i := len(t.Records) - 1; i >= keep; i-- {
		if err := se.undoRecord(t.ID, t.Records[i]); err != nil {
			return err
		}
		t.TrimRecords(i)
	}
	return nil
}

// undoRecord logs and installs the compensation of the record at lsn. The
// caller holds the tree latch.
func (se *StorageEngine) undoRecord(txnID, lsn uint64) error {
	op, err := se.WalManager.ReadOperation(lsn)
	if err != nil {
		return fmt.Errorf("failed to read record %d: %w", lsn, err)
	}
	if op.TxnID != txnID || !op.Undoable() {
		return fmt.Errorf("%w: record %d is not an undoable record of transaction %d", types.ErrWALCorruption, lsn, txnID)
	}

	clr := &types.Operation{
		Type:   types.OpCompensate,
		TxnID:  txnID,
		UndoOf: lsn,
		Index:  op.Index,
		Key:    op.Key,
	}
	for _, p := range op.Pages {
		clr.Pages = append(clr.Pages, types.PageImage{PageID: p.PageID, After: p.Before})
	}
	clrLSN, err := se.WalManager.AppendOperation(clr)
	if err != nil {
		return err
	}
	for _, p := range clr.Pages {
		if _, err := se.BufferPool.InstallImage(p.PageID, p.After, clrLSN, false); err != nil {
			return fmt.Errorf("failed to restore page %d: %w", p.PageID, err)
		}
	}
	return nil
}

// LogPageWrites appends one tree operation to the WAL. Called by the trees
// with the latch held, before any image is installed.
func (se *StorageEngine) LogPageWrites(txnID uint64, op *types.Operation, freed, allocated []int64) (uint64, error) {
	op.TxnID = txnID
	if txnID == 0 {
		lsn, err := se.WalManager.AppendOperation(op)
		if err != nil {
			return 0, err
		}
		return lsn, se.WalManager.SyncTo(lsn)
	}

	t, err := se.TxnManager.GetTransaction(txnID)
	if err != nil {
		return 0, err
	}
	if !t.BeganLogged {
		if _, err := se.WalManager.AppendOperation(&types.Operation{Type: types.OpTxnBegin, TxnID: txnID}); err != nil {
			return 0, err
		}
		t.BeganLogged = true
	}
	lsn, err := se.WalManager.AppendOperation(op)
	if err != nil {
		return 0, err
	}

	pages := make([]int64, 0, len(op.Pages))
	for _, p := range op.Pages {
		pages = append(pages, p.PageID)
	}
	t.RecordWrite(lsn, pages, freed, allocated)
	return lsn, nil
}

// lockForRead takes what isolation requires before reading index/key.
func (se *StorageEngine) lockForRead(ctx context.Context, t *txn.Transaction, index string, key []byte) error {
	if t.Isolation == txn.Exclusive {
		return nil
	}
	if err := se.LockManager.Lock(ctx, t.ID, lockmanager.StoreResource, lockmanager.IntentShared); err != nil {
		return err
	}
	return se.LockManager.Lock(ctx, t.ID, lockmanager.RecordResource(index, key), lockmanager.Shared)
}

// lockForWrite makes t the store's writer and locks index/key exclusively.
func (se *StorageEngine) lockForWrite(ctx context.Context, t *txn.Transaction, index string, key []byte) error {
	if t.Isolation == txn.Exclusive {
		return nil
	}
	if !t.WriteLocked {
		if err := se.LockManager.Lock(ctx, t.ID, lockmanager.StoreResource, lockmanager.Write); err != nil {
			return err
		}
		t.WriteLocked = true
	}
	return se.LockManager.Lock(ctx, t.ID, lockmanager.RecordResource(index, key), lockmanager.Exclusive)
}
