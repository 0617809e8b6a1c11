package diskmanager

import (
	"os"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// Backend reads and writes whole pages of a single persistent file. It has no
// cache and no concurrency control beyond keeping its own state consistent.
type Backend interface {
	ReadPage(pageID int64) ([]byte, error)
	WritePage(pageID int64, data []byte) error
	// AllocatePage hands out the next never-used page id. Freed ids are
	// recycled above the backend through the free list kept in page 0.
	AllocatePage() (int64, error)
	FileSize() (int64, error)
	Sync() error
	Close() error
	PageSize() int
	NumPages() int64
}

// ############################################# FILE BACKEND ##############################################

// DiskManager is the Backend over a plain page file: page N lives at offset N*pageSize.
type DiskManager struct {
	FilePath   string
	file       *os.File
	pageSize   int
	nextPageID int64 // first never-allocated page id
	mu         sync.RWMutex
}

// ############################################# BOLT BACKEND ##############################################

// BoltBackend keeps pages as values of a bbolt bucket keyed by big-endian page id.
type BoltBackend struct {
	FilePath   string
	db         *bolt.DB
	pageSize   int
	nextPageID int64
	mu         sync.Mutex
}

// ############################################# METADATA ##################################################

// IndexEntry is one row of the root page table kept in page 0.
type IndexEntry struct {
	Name            string
	Root            int64
	MaxDegree       int
	AllowDuplicates bool
}

// Meta is the decoded content of page 0.
type Meta struct {
	PageSize int
	FreeHead int64 // first page of the free list, InvalidPageID when empty
	Indexes  []IndexEntry
}
