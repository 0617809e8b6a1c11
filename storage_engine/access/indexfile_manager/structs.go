package indexfile

import (
	"sync"

	bplus "GSQLCore/storage_engine/access/indexfile_manager/bplustree"
)

type IndexFileManager struct {
	env     *bplus.Env
	indexes map[string]*bplus.BPlusTree // name → open tree handle
	mu      sync.RWMutex
}

// IndexInfo is one row of the index catalog.
type IndexInfo struct {
	Name            string
	Root            int64
	MaxDegree       int
	AllowDuplicates bool
	Height          int
}
