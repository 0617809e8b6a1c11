package lockmanager

import (
	"sync"
	"time"
)

type LockLevel int

const (
	IntentShared LockLevel = iota + 1 // store: reading under record locks
	Shared                            // record: read
	Write                             // store: the single writer
	Exclusive                         // store: no one else; record: write
)

// lockSharing[held][requested] reports whether two transactions may hold the
// levels on the same resource at once.
var lockSharing = [5][5]bool{
	IntentShared: {IntentShared: true, Shared: true, Write: true},
	Shared:       {IntentShared: true, Shared: true},
	Write:        {IntentShared: true},
	Exclusive:    {},
}

// Resource is a lockable thing: the whole store (zero value) or one index entry.
type Resource struct {
	Index string
	Key   string
}

// An object exists for every resource that is held or waited for.
type object struct {
	res     Resource
	holders map[uint64]LockLevel
	waiters []*waiter // FIFO
}

type waiter struct {
	txnID uint64
	level LockLevel
	ch    chan struct{} // poked whenever the object changes
}

// LockManager is the lock table of an open store.
type LockManager struct {
	mutex   sync.Mutex
	objects map[Resource]*object
	held    map[uint64]map[Resource]struct{}
	timeout time.Duration
}

// LockInfo describes one granted lock.
type LockInfo struct {
	TxnID    uint64
	Resource Resource
	Level    LockLevel
}
