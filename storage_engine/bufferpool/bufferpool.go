package bufferpool

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	diskmanager "GSQLCore/storage_engine/disk_manager"
	"GSQLCore/storage_engine/page"
	"GSQLCore/types"
)

/*
This file is the main file of the bufferpool
The pool caches frames keyed by page id and holds the backend for loading
pages on a miss and writing dirty pages back on flush or eviction.

Eviction picks the least recently unpinned frame with pin count zero; a dirty
victim is written back (after forcing the WAL up to its LSN) before the frame
is dropped. When every frame is pinned the request fails with ErrPoolExhausted.
*/

const flushParallelism = 4

// NewBufferPool creates a new buffer pool with the given capacity
func NewBufferPool(capacity int, diskManager diskmanager.Backend) *BufferPool {
	return &BufferPool{
		pages:       make(map[int64]*page.Page, capacity),
		capacity:    capacity,
		pageSize:    diskManager.PageSize(),
		diskManager: diskManager,
		accessOrder: make([]int64, 0, capacity),
	}
}

func (bp *BufferPool) SetWALManager(wal WALFlusher) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.walManager = wal
}

func (bp *BufferPool) PageSize() int {
	return bp.pageSize
}

// FetchPage pins a page, loading it from the backend on a miss.
func (bp *BufferPool) FetchPage(pageID int64) (*page.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if pg, exists := bp.pages[pageID]; exists {
		bp.hits.Add(1)
		log.WithFields(log.Fields{"page": pageID, "pins": pg.PinCount}).Trace("buffer pool hit")
		pg.PinCount++
		return pg, nil
	}

	bp.misses.Add(1)
	log.WithField("page", pageID).Trace("buffer pool miss")

	if err := bp.makeRoom(); err != nil {
		return nil, err
	}

	data, err := bp.diskManager.ReadPage(pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to read page %d: %w", pageID, err)
	}
	if err := page.Verify(data); err != nil {
		return nil, fmt.Errorf("page %d: %w", pageID, err)
	}

	pg := &page.Page{ID: pageID, Data: data, PinCount: 1}
	bp.pages[pageID] = pg
	bp.touch(pageID)
	return pg, nil
}

// NewPage pins a zeroed frame for a freshly allocated page id without reading
// the backend. If the id is still cached its frame is reused as is.
func (bp *BufferPool) NewPage(pageID int64) (*page.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if pg, exists := bp.pages[pageID]; exists {
		pg.PinCount++
		return pg, nil
	}
	if err := bp.makeRoom(); err != nil {
		return nil, err
	}

	pg := page.New(pageID, bp.pageSize)
	pg.PinCount = 1
	bp.pages[pageID] = pg
	bp.touch(pageID)
	return pg, nil
}

// UnpinPage releases one pin. A frame whose pin count drops to zero becomes
// the most recently unpinned eviction candidate.
func (bp *BufferPool) UnpinPage(pageID int64, isDirty bool) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	pg, exists := bp.pages[pageID]
	if !exists {
		return fmt.Errorf("page %d not in buffer pool", pageID)
	}
	if pg.PinCount <= 0 {
		return fmt.Errorf("page %d is not pinned", pageID)
	}

	pg.PinCount--
	if isDirty {
		pg.IsDirty = true
	}
	if pg.PinCount == 0 {
		bp.touch(pageID)
	}
	return nil
}

// FlushPage writes a specific page to the backend if dirty.
func (bp *BufferPool) FlushPage(pageID int64) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	pg, exists := bp.pages[pageID]
	if !exists {
		return nil // not cached, nothing newer than the backend copy
	}
	return bp.writeBack(pg)
}

// FlushAllPages writes every dirty page to the backend. The WAL is forced once
// up to the highest page LSN, then the pages are written concurrently.
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	var dirty []*page.Page
	var images [][]byte
	var maxLSN uint64
	for _, pg := range bp.pages {
		if !pg.IsDirty {
			continue
		}
		img := pg.Snapshot()
		if lsn := page.LSNOf(img); lsn > maxLSN {
			maxLSN = lsn
		}
		dirty = append(dirty, pg)
		images = append(images, img)
	}
	if len(dirty) == 0 {
		return nil
	}

	if bp.walManager != nil && maxLSN > bp.walManager.GetFlushedLSN() {
		if err := bp.walManager.SyncTo(maxLSN); err != nil {
			return fmt.Errorf("failed to force wal before flush: %w", err)
		}
	}

	var g errgroup.Group
	g.SetLimit(flushParallelism)
	for i := range dirty {
		pageID, img := dirty[i].ID, images[i]
		g.Go(func() error {
			page.Stamp(img)
			if err := bp.diskManager.WritePage(pageID, img); err != nil {
				return fmt.Errorf("failed to flush page %d: %w", pageID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, pg := range dirty {
		pg.IsDirty = false
	}
	bp.writeBacks.Add(uint64(len(dirty)))
	log.WithField("pages", len(dirty)).Debug("buffer pool flushed dirty pages")
	return nil
}

// EvictOne evicts the least recently unpinned frame and returns its page id.
func (bp *BufferPool) EvictOne() (int64, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.evictLRU()
}

// makeRoom frees a frame when the pool is at capacity. Assumes lock is held.
func (bp *BufferPool) makeRoom() error {
	if len(bp.pages) < bp.capacity {
		return nil
	}
	_, err := bp.evictLRU()
	return err
}

// evictLRU evicts the least recently unpinned page
// Assumes lock is already held
func (bp *BufferPool) evictLRU() (int64, error) {
	for i := 0; i < len(bp.accessOrder); i++ {
		pageID := bp.accessOrder[i]
		pg, exists := bp.pages[pageID]
		if !exists {
			bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
			i--
			continue
		}
		if pg.PinCount > 0 {
			continue
		}

		if err := bp.writeBack(pg); err != nil {
			return 0, fmt.Errorf("failed to write page %d during eviction: %w", pageID, err)
		}

		delete(bp.pages, pageID)
		bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
		bp.evictions.Add(1)
		log.WithField("page", pageID).Trace("buffer pool evict")
		return pageID, nil
	}

	return 0, fmt.Errorf("%w: all %d frames are pinned", types.ErrPoolExhausted, len(bp.pages))
}

// writeBack writes a dirty frame to the backend, forcing the WAL first.
// Assumes lock is already held.
func (bp *BufferPool) writeBack(pg *page.Page) error {
	if !pg.IsDirty {
		return nil
	}
	img := pg.Snapshot()
	lsn := page.LSNOf(img)
	if bp.walManager != nil && lsn > bp.walManager.GetFlushedLSN() {
		if err := bp.walManager.SyncTo(lsn); err != nil {
			return fmt.Errorf("cannot flush page %d before wal reaches lsn %d: %w", pg.ID, lsn, err)
		}
	}
	page.Stamp(img)
	if err := bp.diskManager.WritePage(pg.ID, img); err != nil {
		return err
	}
	pg.IsDirty = false
	bp.writeBacks.Add(1)
	return nil
}

// touch moves a page to the end of access order (most recently unpinned)
// Assumes lock is already held
func (bp *BufferPool) touch(pageID int64) {
	for i, id := range bp.accessOrder {
		if id == pageID {
			bp.accessOrder = append(bp.accessOrder[:i], bp.accessOrder[i+1:]...)
			break
		}
	}
	bp.accessOrder = append(bp.accessOrder, pageID)
}
