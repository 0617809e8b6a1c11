// Structure of B+ Tree
/*
Tree
 ├── Internal Node (keys + child pointers)
 │      └── Child Internal Nodes ...
 │             └── Leaf Nodes (keys + values + next pointer)


- keys: sorted ascending order, unique within a tree
- internal nodes: children length == len(keys)+1
- leaf nodes: values length == len(keys)
- leaf nodes linked with `next` for range scans (InvalidPageID ends the chain)
- all leaf nodes at same depth
- child i of an internal node holds keys k with keys[i-1] <= k < keys[i]

Every tree of a store lives in the same page file and shares one Env. Roots are
not cached: each operation reads them from the metadata page.
*/
package bplus

import (
	"sync"
	"sync/atomic"

	"GSQLCore/storage_engine/bufferpool"
	diskmanager "GSQLCore/storage_engine/disk_manager"
	"GSQLCore/types"
)

// Node is the decoded form of one tree page.
type Node struct {
	pageID   int64
	isLeaf   bool
	keys     [][]byte
	children []int64  // only for internal node
	values   [][]byte // only for leaf node
	next     int64    // only for leaf node
}

func (n *Node) IsLeaf() bool {
	return n.isLeaf
}

func (n *Node) NumKeys() int {
	return len(n.keys)
}

// Next is the right sibling of a leaf, InvalidPageID for the last leaf.
func (n *Node) Next() int64 {
	return n.next
}

// PageLogger makes a batch of page images durable-before-install. The store
// implements it on top of the WAL and the transaction table.
type PageLogger interface {
	// LogPageWrites appends op as one WAL record and returns its LSN. None of
	// op's images has been installed yet when it is called.
	LogPageWrites(txnID uint64, op *types.Operation, freed, allocated []int64) (uint64, error)
}

// Env is what every tree of one store shares: the pool, the backend, the logger
// and the structural latch. Writers hold the latch exclusively for a whole
// operation; readers hold it shared while they look at pages.
type Env struct {
	bufferPool  *bufferpool.BufferPool
	diskManager diskmanager.Backend
	logger      PageLogger
	latch       sync.RWMutex
	version     atomic.Uint64 // bumped every time page images are installed
}

// Options are the per-tree settings persisted in the metadata page.
type Options struct {
	MaxDegree       int
	AllowDuplicates bool // duplicate insert overwrites instead of failing
}

type BPlusTree struct {
	env     *Env
	name    string
	maxKeys int
	minKeys int
	dupOK   bool
	cmp     func(a, b []byte) int // key comparator (bytes.Compare)
}

// Entry is one key/value pair returned by scans.
type Entry struct {
	Key   []byte
	Value []byte
}

// Stats summarizes the shape of a tree.
type Stats struct {
	Height        int
	Keys          int
	LeafNodes     int
	InternalNodes int
}
