package bplus

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	diskmanager "GSQLCore/storage_engine/disk_manager"
	"GSQLCore/storage_engine/page"
	"GSQLCore/types"
)

/*
A batch is the write set of one tree operation. Every page the operation reads
or changes is pinned once and stays pinned until the batch ends. Changes are
made to the decoded forms (Node, Meta, free-page bytes) only; commit then
serializes every changed page, hands all before/after images to the logger as
one WAL record and installs the after images into the frames stamped with the
record's LSN. A batch that fails before commit leaves the pages untouched.

Pages unlinked by the operation are not written: they stay as they are until
the owning transaction commits and releases them to the free list.
*/

type batch struct {
	env       *Env
	cmp       func(a, b []byte) int
	pages     map[int64]*batchPage
	order     []int64 // pin order, which is also the image order in the record
	freed     []int64
	allocated []int64
	done      bool
}

type batchPage struct {
	pg        *page.Page
	before    []byte // content when first pinned, nil for an all-zero page
	node      *Node
	meta      *diskmanager.Meta
	raw       []byte // full content of a page that is neither node nor meta
	dirty     bool
	freed     bool
	installed bool
}

func (e *Env) newBatch(cmp func(a, b []byte) int) *batch {
	return &batch{
		env:   e,
		cmp:   cmp,
		pages: make(map[int64]*batchPage),
	}
}

// pin pins pageID for the rest of the batch. fresh pages come from past the
// end of the file and are not read from the backend.
func (b *batch) pin(pageID int64, fresh bool) (*batchPage, error) {
	if entry, ok := b.pages[pageID]; ok {
		return entry, nil
	}
	var pg *page.Page
	var err error
	if fresh {
		pg, err = b.env.bufferPool.NewPage(pageID)
	} else {
		pg, err = b.env.bufferPool.FetchPage(pageID)
	}
	if err != nil {
		return nil, err
	}

	entry := &batchPage{pg: pg, before: pg.Snapshot()}
	if allZero(entry.before) {
		entry.before = nil
	}
	b.pages[pageID] = entry
	b.order = append(b.order, pageID)
	return entry, nil
}

// fetchNode returns the decoded node stored at pageID.
func (b *batch) fetchNode(pageID int64) (*Node, error) {
	if pageID <= types.InvalidPageID {
		return nil, fmt.Errorf("%w: pointer to page %d", types.ErrIndexCorruption, pageID)
	}
	entry, err := b.pin(pageID, false)
	if err != nil {
		return nil, fmt.Errorf("fetchNode: failed to fetch page %d: %w", pageID, err)
	}
	if entry.node != nil {
		return entry.node, nil
	}
	if entry.meta != nil || entry.raw != nil || entry.freed || entry.before == nil {
		return nil, fmt.Errorf("%w: page %d is not a tree node", types.ErrIndexCorruption, pageID)
	}
	node, err := DeserializeNode(pageID, entry.before, b.cmp)
	if err != nil {
		return nil, err
	}
	entry.node = node
	return node, nil
}

// meta returns the decoded metadata page.
func (b *batch) meta() (*diskmanager.Meta, error) {
	entry, err := b.pin(types.MetaPageID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata page: %w", err)
	}
	if entry.meta == nil {
		if entry.before == nil {
			return nil, fmt.Errorf("%w: metadata page is empty", types.ErrIndexCorruption)
		}
		m, err := diskmanager.DecodeMeta(entry.before)
		if err != nil {
			return nil, err
		}
		entry.meta = m
	}
	return entry.meta, nil
}

// markDirty records that the decoded form of pageID changed.
func (b *batch) markDirty(pageID int64) {
	if entry, ok := b.pages[pageID]; ok {
		entry.dirty = true
	}
}

// allocNode hands out a page for a new node: the head of the free list if
// there is one, otherwise a page past the end of the file.
func (b *batch) allocNode(isLeaf bool) (*Node, error) {
	m, err := b.meta()
	if err != nil {
		return nil, err
	}

	var pageID int64
	var entry *batchPage
	if m.FreeHead != types.InvalidPageID {
		pageID = m.FreeHead
		entry, err = b.pin(pageID, false)
		if err != nil {
			return nil, fmt.Errorf("newNode: failed to fetch free page %d: %w", pageID, err)
		}
		if entry.before == nil {
			return nil, fmt.Errorf("%w: free-list page %d is empty", types.ErrIndexCorruption, pageID)
		}
		next, err := diskmanager.FreePageNext(entry.before)
		if err != nil {
			return nil, err
		}
		m.FreeHead = next
		b.markDirty(types.MetaPageID)
	} else {
		pageID, err = b.env.diskManager.AllocatePage()
		if err != nil {
			return nil, fmt.Errorf("newNode: failed to allocate page: %w", err)
		}
		entry, err = b.pin(pageID, true)
		if err != nil {
			return nil, fmt.Errorf("newNode: failed to pin page %d: %w", pageID, err)
		}
		b.allocated = append(b.allocated, pageID)
	}

	n := &Node{
		pageID: pageID,
		isLeaf: isLeaf,
		keys:   make([][]byte, 0),
		next:   types.InvalidPageID,
	}
	if isLeaf {
		n.values = make([][]byte, 0)
	} else {
		n.children = make([]int64, 0)
	}
	entry.node = n
	entry.dirty = true
	return n, nil
}

// freeNode unlinks a node. The page is handed to the transaction, which puts
// it on the free list once it commits.
func (b *batch) freeNode(n *Node) {
	if entry, ok := b.pages[n.pageID]; ok {
		entry.freed = true
		entry.dirty = false
	}
	b.freed = append(b.freed, n.pageID)
}

// commit logs and installs every changed page, then ends the batch. A batch
// with no changes writes nothing.
func (b *batch) commit(txnID uint64, op *types.Operation) error {
	defer b.release()

	pageSize := b.env.bufferPool.PageSize()
	op.Pages = op.Pages[:0]
	var targets []*batchPage
	for _, pageID := range b.order {
		entry := b.pages[pageID]
		if !entry.dirty || entry.freed {
			continue
		}
		after := make([]byte, pageSize)
		switch {
		case entry.node != nil:
			if err := SerializeNode(entry.node, after); err != nil {
				return err
			}
		case entry.meta != nil:
			if err := entry.meta.Encode(after); err != nil {
				return err
			}
		case entry.raw != nil:
			copy(after, entry.raw)
		}
		op.Pages = append(op.Pages, types.PageImage{PageID: pageID, Before: entry.before, After: after})
		targets = append(targets, entry)
	}
	if len(op.Pages) == 0 && len(b.freed) == 0 {
		return nil
	}

	lsn, err := b.env.logger.LogPageWrites(txnID, op, b.freed, b.allocated)
	if err != nil {
		return err
	}
	for i, entry := range targets {
		entry.pg.Lock()
		entry.pg.Apply(op.Pages[i].After, lsn)
		entry.pg.Unlock()
		entry.installed = true
	}
	if len(targets) > 0 {
		b.env.version.Add(1)
	}
	log.WithFields(log.Fields{
		"lsn": lsn, "txn": txnID, "op": op.Type, "index": op.Index, "pages": len(targets),
	}).Trace("tree operation installed")
	return nil
}

// release unpins every page of the batch. Pages installed by commit are
// unpinned dirty.
func (b *batch) release() {
	if b.done {
		return
	}
	b.done = true
	for _, pageID := range b.order {
		if err := b.env.bufferPool.UnpinPage(pageID, b.pages[pageID].installed); err != nil {
			log.WithError(err).WithField("page", pageID).Warn("failed to unpin page")
		}
	}
}

func allZero(data []byte) bool {
	for _, c := range data {
		if c != 0 {
			return false
		}
	}
	return true
}
