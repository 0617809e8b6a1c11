package bufferpool

import (
	"sync"
	"sync/atomic"

	diskmanager "GSQLCore/storage_engine/disk_manager"
	"GSQLCore/storage_engine/page"
)

// ############################################# BUFFER POOL #############################################

// BufferPool caches a bounded set of pages and evicts the least recently
// unpinned one when it needs a free frame.
type BufferPool struct {
	pages       map[int64]*page.Page // pageID -> frame
	capacity    int
	pageSize    int
	diskManager diskmanager.Backend
	walManager  WALFlusher
	accessOrder []int64 // least recently unpinned first
	mu          sync.Mutex

	hits       atomic.Uint64
	misses     atomic.Uint64
	evictions  atomic.Uint64
	writeBacks atomic.Uint64
}

// BufferPoolStats is a point-in-time view of the pool.
type BufferPoolStats struct {
	TotalPages  int
	PinnedPages int
	DirtyPages  int
	Capacity    int
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	WriteBacks  uint64
	HitRate     float64
}

// WALFlusher keeps the write-ahead rule: a page may reach the backend only
// after the WAL is durable up to the page LSN.
type WALFlusher interface {
	GetFlushedLSN() uint64
	SyncTo(lsn uint64) error
}
