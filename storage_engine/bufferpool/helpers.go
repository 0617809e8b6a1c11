package bufferpool

import (
	"errors"
	"fmt"

	"GSQLCore/storage_engine/page"
	"GSQLCore/types"
)

/*
This file holds helper functions for the bufferpool
*/

// GetStats returns current buffer pool statistics
func (bp *BufferPool) GetStats() BufferPoolStats {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	stats := BufferPoolStats{
		TotalPages: len(bp.pages),
		Capacity:   bp.capacity,
		Hits:       bp.hits.Load(),
		Misses:     bp.misses.Load(),
		Evictions:  bp.evictions.Load(),
		WriteBacks: bp.writeBacks.Load(),
	}
	for _, pg := range bp.pages {
		if pg.PinCount > 0 {
			stats.PinnedPages++
		}
		if pg.IsDirty {
			stats.DirtyPages++
		}
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// InstallImage pins pageID, overwrites it with image stamped with lsn and
// unpins it dirty. With redo set, a page that already carries lsn or a later
// one is left alone; the result reports whether the image was installed.
func (bp *BufferPool) InstallImage(pageID int64, image []byte, lsn uint64, redo bool) (bool, error) {
	if image != nil && len(image) != bp.pageSize {
		return false, fmt.Errorf("image for page %d has %d bytes, want %d", pageID, len(image), bp.pageSize)
	}
	pg, err := bp.FetchPage(pageID)
	if redo && errors.Is(err, types.ErrPageChecksum) {
		// torn write; the logged image replaces the whole page
		pg, err = bp.NewPage(pageID)
	}
	if err != nil {
		return false, err
	}

	pg.Lock()
	applied := !redo || pg.LSN() < lsn
	if applied {
		pg.Apply(image, lsn)
	}
	pg.Unlock()

	if err := bp.UnpinPage(pageID, applied); err != nil {
		return false, err
	}
	return applied, nil
}

// Abandon drops every frame without writing anything back. Used when the
// store is torn down after a fault, where dirty frames must not reach disk.
func (bp *BufferPool) Abandon() {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.pages = make(map[int64]*page.Page, bp.capacity)
	bp.accessOrder = make([]int64, 0, bp.capacity)
}

// Size returns the current number of pages in the buffer pool
func (bp *BufferPool) Size() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.pages)
}

// Capacity returns the maximum capacity of the buffer pool
func (bp *BufferPool) Capacity() int {
	return bp.capacity
}

// Contains reports whether pageID is cached, without pinning it.
func (bp *BufferPool) Contains(pageID int64) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	_, ok := bp.pages[pageID]
	return ok
}

// PinCount returns the pin count of a cached page, or 0 when it is not cached.
func (bp *BufferPool) PinCount(pageID int64) int32 {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if pg, ok := bp.pages[pageID]; ok {
		return pg.PinCount
	}
	return 0
}
