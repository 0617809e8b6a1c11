package bplus

import (
	"bytes"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"GSQLCore/storage_engine/bufferpool"
	diskmanager "GSQLCore/storage_engine/disk_manager"
	"GSQLCore/types"
)

const (
	MinDegree = 3
	MaxDegree = 1<<16 - 1

	// Smallest per-entry budget a tree accepts: a one-byte key with an empty value.
	minEntryBudget = keyLenBytes + 1 + childPtrBytes
)

func NewEnv(bufferPool *bufferpool.BufferPool, diskManager diskmanager.Backend, logger PageLogger) *Env {
	return &Env{
		bufferPool:  bufferPool,
		diskManager: diskManager,
		logger:      logger,
	}
}

// Latch is the structural latch. Code installing page images outside a tree
// operation (rollback, recovery) holds it exclusively.
func (e *Env) Latch() *sync.RWMutex {
	return &e.latch
}

// Invalidate tells open cursors that pages changed underneath them.
func (e *Env) Invalidate() {
	e.version.Add(1)
}

func (e *Env) PageSize() int {
	return e.bufferPool.PageSize()
}

// Format initializes page 0 of an empty store. An already formatted store is
// left alone.
func (e *Env) Format(txnID uint64) (bool, error) {
	e.latch.Lock()
	defer e.latch.Unlock()

	b := e.newBatch(bytes.Compare)
	entry, err := b.pin(types.MetaPageID, false)
	if err != nil {
		b.release()
		return false, fmt.Errorf("failed to fetch metadata page: %w", err)
	}
	if entry.before != nil {
		b.release()
		if !diskmanager.IsFormatted(entry.before) {
			return false, fmt.Errorf("%w: page 0 holds data but is not a metadata page", types.ErrIndexCorruption)
		}
		return false, nil
	}
	entry.meta = diskmanager.NewMeta(e.PageSize())
	entry.dirty = true
	if err := b.commit(txnID, &types.Operation{Type: types.OpFormat}); err != nil {
		return false, err
	}
	return true, nil
}

// Meta returns a decoded copy of page 0.
func (e *Env) Meta() (*diskmanager.Meta, error) {
	e.latch.RLock()
	defer e.latch.RUnlock()
	return e.readMeta()
}

// readMeta decodes page 0. The caller holds the latch.
func (e *Env) readMeta() (*diskmanager.Meta, error) {
	pg, err := e.bufferPool.FetchPage(types.MetaPageID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata page: %w", err)
	}
	pg.RLock()
	m, err := diskmanager.DecodeMeta(pg.Data)
	pg.RUnlock()
	_ = e.bufferPool.UnpinPage(types.MetaPageID, false)
	return m, err
}

// CreateTree registers a new tree called name whose root is an empty leaf.
func (e *Env) CreateTree(txnID uint64, name string, opts Options) (*BPlusTree, error) {
	if len(name) == 0 || len(name) > diskmanager.MaxIndexNameLen {
		return nil, fmt.Errorf("invalid index name %q", name)
	}
	if err := checkDegree(e.PageSize(), opts.MaxDegree); err != nil {
		return nil, err
	}

	e.latch.Lock()
	defer e.latch.Unlock()

	b := e.newBatch(bytes.Compare)
	m, err := b.meta()
	if err != nil {
		b.release()
		return nil, err
	}
	if _, exists := m.Index(name); exists {
		b.release()
		return nil, fmt.Errorf("%w: %s", types.ErrIndexExists, name)
	}
	root, err := b.allocNode(true)
	if err != nil {
		b.release()
		return nil, err
	}
	m.Indexes = append(m.Indexes, diskmanager.IndexEntry{
		Name:            name,
		Root:            root.pageID,
		MaxDegree:       opts.MaxDegree,
		AllowDuplicates: opts.AllowDuplicates,
	})
	b.markDirty(types.MetaPageID)
	if err := b.commit(txnID, &types.Operation{Type: types.OpCreateIndex, Index: name}); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"index": name, "root": root.pageID, "max_degree": opts.MaxDegree}).Info("index created")
	return newTree(e, name, opts), nil
}

// OpenTree returns a handle on an existing tree.
func (e *Env) OpenTree(name string) (*BPlusTree, error) {
	m, err := e.Meta()
	if err != nil {
		return nil, err
	}
	entry, ok := m.Index(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrIndexNotFound, name)
	}
	opts := Options{MaxDegree: entry.MaxDegree, AllowDuplicates: entry.AllowDuplicates}
	if err := checkDegree(e.PageSize(), opts.MaxDegree); err != nil {
		return nil, fmt.Errorf("%w: index %s: %v", types.ErrIndexCorruption, name, err)
	}
	return newTree(e, name, opts), nil
}

// ReleasePages pushes pages onto the free list. Pages go out in logged
// operations of at most releaseChunk pages each, so the pins held by one
// operation stay well under the pool size. It returns how many leading
// entries of pageIDs are on the free list, which on error tells the caller
// where to resume.
func (e *Env) ReleasePages(txnID uint64, pageIDs []int64) (int, error) {
	chunk := e.releaseChunk()
	released := 0
	for released < len(pageIDs) {
		end := min(released+chunk, len(pageIDs))
		if err := e.releaseBatch(txnID, pageIDs[released:end]); err != nil {
			return released, err
		}
		released = end
	}
	if len(pageIDs) > chunk {
		log.WithFields(log.Fields{"txn": txnID, "pages": len(pageIDs), "chunk": chunk}).Debug("pages released")
	}
	return released, nil
}

// releaseChunk is the largest number of pages one free-list operation pins.
func (e *Env) releaseChunk() int {
	return max(1, e.bufferPool.Capacity()/4)
}

func (e *Env) releaseBatch(txnID uint64, pageIDs []int64) error {
	e.latch.Lock()
	defer e.latch.Unlock()

	b := e.newBatch(bytes.Compare)
	m, err := b.meta()
	if err != nil {
		b.release()
		return err
	}
	for _, pageID := range pageIDs {
		if pageID <= types.MetaPageID {
			b.release()
			return fmt.Errorf("cannot free page %d", pageID)
		}
		entry, err := b.pin(pageID, false)
		if err != nil {
			b.release()
			return fmt.Errorf("failed to fetch page %d: %w", pageID, err)
		}
		if entry.raw != nil {
			continue // listed twice
		}
		if diskmanager.IsFreePage(entry.before) {
			continue // freed by an earlier operation
		}
		entry.node = nil
		entry.raw = make([]byte, e.PageSize())
		diskmanager.EncodeFreePage(entry.raw, m.FreeHead)
		entry.dirty = true
		m.FreeHead = pageID
	}
	b.markDirty(types.MetaPageID)
	return b.commit(txnID, &types.Operation{Type: types.OpFreePages})
}

func newTree(e *Env, name string, opts Options) *BPlusTree {
	return &BPlusTree{
		env:     e,
		name:    name,
		maxKeys: opts.MaxDegree,
		minKeys: opts.MaxDegree / 2,
		dupOK:   opts.AllowDuplicates,
		cmp:     bytes.Compare,
	}
}

// checkDegree rejects fan-outs that cannot fit maxDegree minimal entries in a page.
func checkDegree(pageSize, maxDegree int) error {
	if maxDegree < MinDegree || maxDegree > MaxDegree {
		return fmt.Errorf("max degree %d out of range [%d, %d]", maxDegree, MinDegree, MaxDegree)
	}
	if entryBudget(pageSize, maxDegree) < minEntryBudget {
		return fmt.Errorf("max degree %d is too large for %d-byte pages", maxDegree, pageSize)
	}
	return nil
}

// entryBudget is the number of serialized bytes one entry may take so that a
// node holding maxDegree of them (plus the extra child pointer) fits a page.
func entryBudget(pageSize, maxDegree int) int {
	return (pageSize - nodeHeaderSize - childPtrBytes) / maxDegree
}

func (t *BPlusTree) Name() string {
	return t.name
}

func (t *BPlusTree) MaxDegree() int {
	return t.maxKeys
}

func (t *BPlusTree) AllowDuplicates() bool {
	return t.dupOK
}

// checkEntry enforces the per-entry budget for both the leaf entry and the
// separator copy the key may become.
func (t *BPlusTree) checkEntry(key, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("empty key")
	}
	budget := entryBudget(t.env.PageSize(), t.maxKeys)
	if leafEntryCost(key, value) > budget || internalEntryCost(key) > budget {
		return fmt.Errorf("%w: key %d bytes, value %d bytes, limit %d bytes per entry",
			types.ErrEntryTooLarge, len(key), len(value), budget)
	}
	return nil
}

// rootID reads the tree's root from the metadata page pinned by b.
func (t *BPlusTree) rootID(b *batch) (int64, error) {
	m, err := b.meta()
	if err != nil {
		return 0, err
	}
	entry, ok := m.Index(t.name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", types.ErrIndexNotFound, t.name)
	}
	return entry.Root, nil
}

// setRoot points the tree's metadata entry at a new root.
func (t *BPlusTree) setRoot(b *batch, root int64) error {
	m, err := b.meta()
	if err != nil {
		return err
	}
	entry, ok := m.Index(t.name)
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrIndexNotFound, t.name)
	}
	entry.Root = root
	b.markDirty(types.MetaPageID)
	return nil
}
