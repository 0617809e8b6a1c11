package storageengine

import (
	"fmt"
	"sort"

	"github.com/google/btree"
	log "github.com/sirupsen/logrus"

	"GSQLCore/storage_engine/page"
	"GSQLCore/storage_engine/wal_manager"
	"GSQLCore/types"
)

/*
RecoverFromWAL runs once in Open, before the store accepts any operation.

 1. Analysis + redo, in log order from the checkpoint: every record that
    writes pages (tree operations and compensations alike) has its after
    images installed on pages whose LSN is older than the record. Commit and
    Abort records close transactions; whatever stays open is a loser.
 2. Undo: the losers' records that no compensation record covers are undone
    newest first, each logging its own compensation, and every loser gets an
    Abort record.
 3. Pages that losers took from the end of the file (logged with an empty
    before-image) and that are still all zero go back to the free list.
 4. Checkpoint: flush, sync, save the checkpoint and truncate the WAL.

A crash during any step leaves a log that the next run finishes: redo makes
pages match the log again and compensated records are not undone twice.
*/

// pageItem is one row of the recovery page table, ordered by page id.
type pageItem struct {
	pageID   int64
	firstLSN uint64
	lastLSN  uint64
	redone   int
}

func (p *pageItem) Less(than btree.Item) bool {
	return p.pageID < than.(*pageItem).pageID
}

type loserTxn struct {
	records     []uint64 // undoable records, log order
	compensated map[uint64]bool
	fresh       []int64 // pages logged with an empty before-image
}

func (se *StorageEngine) RecoverFromWAL() error {
	ckpt, err := se.CheckpointManager.LoadCheckpoint()
	if err != nil {
		return err
	}

	open, records, err := se.redoAndUndo(ckpt.LSN)
	if err != nil || records == 0 {
		return err
	}
	if err := se.releaseLoserPages(open); err != nil {
		return err
	}
	for txnID := range open {
		if _, err := se.WalManager.AppendOperation(&types.Operation{Type: types.OpTxnAbort, TxnID: txnID}); err != nil {
			return err
		}
	}
	if err := se.checkpoint(); err != nil {
		return err
	}
	log.WithFields(log.Fields{"records": records, "losers": len(open)}).Info("recovery: complete")
	return nil
}

// redoAndUndo replays the log after startLSN and undoes the losers. It
// returns the losers and the number of records read.
func (se *StorageEngine) redoAndUndo(startLSN uint64) (map[uint64]*loserTxn, int, error) {
	latch := se.env.Latch()
	latch.Lock()
	defer latch.Unlock()
	defer se.env.Invalidate()

	pageTable := btree.New(32)
	open := make(map[uint64]*loserTxn)
	var records, redone int

	err := se.WalManager.ReplayFromLSN(startLSN, func(e wal_manager.Entry) error {
		records++
		op := e.Op
		if op.TxnID != 0 {
			se.TxnManager.AdvanceNextID(op.TxnID)
		}

		switch op.Type {
		case types.OpTxnCommit, types.OpTxnAbort:
			delete(open, op.TxnID)
			return nil
		}

		if op.TxnID != 0 {
			lt, ok := open[op.TxnID]
			if !ok {
				lt = &loserTxn{compensated: make(map[uint64]bool)}
				open[op.TxnID] = lt
			}
			if op.Type == types.OpCompensate {
				lt.compensated[op.UndoOf] = true
			} else if op.Undoable() {
				lt.records = append(lt.records, e.LSN)
				for _, p := range op.Pages {
					if p.Before == nil {
						lt.fresh = append(lt.fresh, p.PageID)
					}
				}
			}
		}

		for _, p := range op.Pages {
			applied, err := se.BufferPool.InstallImage(p.PageID, p.After, e.LSN, true)
			if err != nil {
				return fmt.Errorf("redo of lsn %d page %d: %w", e.LSN, p.PageID, err)
			}
			item := &pageItem{pageID: p.PageID, firstLSN: e.LSN}
			if existing := pageTable.Get(item); existing != nil {
				item = existing.(*pageItem)
			} else {
				pageTable.ReplaceOrInsert(item)
			}
			item.lastLSN = e.LSN
			if applied {
				item.redone++
				redone++
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to replay wal: %w", err)
	}
	if records == 0 {
		return open, 0, nil
	}

	log.WithFields(log.Fields{
		"checkpoint": startLSN, "records": records, "pages": pageTable.Len(),
		"images": redone, "losers": len(open),
	}).Info("recovery: redo complete")

	if err := se.verifyRedo(pageTable); err != nil {
		return nil, 0, err
	}
	if err := se.undoLosers(open); err != nil {
		return nil, 0, err
	}
	return open, records, nil
}

// verifyRedo checks that every page the log touched carries at least the
// LSN of the last record that wrote it.
func (se *StorageEngine) verifyRedo(pageTable *btree.BTree) error {
	var failure error
	pageTable.Ascend(func(i btree.Item) bool {
		item := i.(*pageItem)
		pg, err := se.BufferPool.FetchPage(item.pageID)
		if err != nil {
			failure = err
			return false
		}
		pg.RLock()
		lsn := pg.LSN()
		pg.RUnlock()
		_ = se.BufferPool.UnpinPage(item.pageID, false)
		if lsn < item.lastLSN {
			failure = fmt.Errorf("%w: page %d at lsn %d after redo, log wrote it at lsn %d",
				types.ErrWALCorruption, item.pageID, lsn, item.lastLSN)
			return false
		}
		log.WithFields(log.Fields{
			"page": item.pageID, "first": item.firstLSN, "last": item.lastLSN, "redone": item.redone,
		}).Trace("recovery: page")
		return true
	})
	return failure
}

// undoLosers compensates every uncompensated loser record, newest first
// across all losers. The caller holds the tree latch.
func (se *StorageEngine) undoLosers(open map[uint64]*loserTxn) error {
	type pending struct {
		txnID, lsn uint64
	}
	var todo []pending
	for txnID, lt := range open {
		for _, lsn := range lt.records {
			if !lt.compensated[lsn] {
				todo = append(todo, pending{txnID, lsn})
			}
		}
	}
	sort.Slice(todo, func(i, j int) bool { return todo[i].lsn > todo[j].lsn })

	for _, p := range todo {
		if err := se.undoRecord(p.txnID, p.lsn); err != nil {
			return fmt.Errorf("undo of lsn %d (transaction %d): %w", p.lsn, p.txnID, err)
		}
	}
	if len(todo) > 0 {
		log.WithField("records", len(todo)).Info("recovery: undo complete")
	}
	return nil
}

// releaseLoserPages frees pages losers took from the end of the file. Undo
// leaves such a page empty (a zero body under the header); a page that is not
// empty was already released or reused and is skipped.
func (se *StorageEngine) releaseLoserPages(open map[uint64]*loserTxn) error {
	seen := btree.New(8)
	var release []int64
	for _, lt := range open {
		for _, pageID := range lt.fresh {
			if seen.ReplaceOrInsert(&pageItem{pageID: pageID}) != nil {
				continue
			}
			pg, err := se.BufferPool.FetchPage(pageID)
			if err != nil {
				return err
			}
			pg.RLock()
			empty := page.TypeOf(pg.Data) == types.PageTypeFree && allZero(pg.Data[types.PageHeaderSize:])
			pg.RUnlock()
			_ = se.BufferPool.UnpinPage(pageID, false)
			if empty {
				release = append(release, pageID)
			}
		}
	}
	sort.Slice(release, func(i, j int) bool { return release[i] < release[j] })
	_, err := se.IndexManager.ReleasePages(0, release)
	return err
}

func allZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
