package lockmanager

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"GSQLCore/types"
)

/*
Two-level lock table.
The store resource carries the isolation discipline: readers take
IntentShared, the one writer takes Write, an EXCLUSIVE transaction takes
Exclusive. Index entries carry Shared/Exclusive record locks.

Requests queue FIFO behind incompatible waiters; an upgrade by a current holder
skips the queue. A request that cannot be granted within the timeout fails
with ErrLockTimeout. Locks are held until ReleaseAll.
*/

// SystemTxnID is the locker used for store maintenance such as checkpoints.
const SystemTxnID uint64 = math.MaxUint64

var StoreResource = Resource{}

func RecordResource(index string, key []byte) Resource {
	return Resource{Index: index, Key: string(key)}
}

func (ll LockLevel) String() string {
	switch ll {
	case IntentShared:
		return "INTENT_SHARED"
	case Shared:
		return "SHARED"
	case Write:
		return "WRITE"
	case Exclusive:
		return "EXCLUSIVE"
	default:
		return fmt.Sprintf("LockLevel(%d)", ll)
	}
}

func (r Resource) String() string {
	if r == StoreResource {
		return "store"
	}
	return fmt.Sprintf("%s[%x]", r.Index, r.Key)
}

func NewLockManager(timeout time.Duration) *LockManager {
	return &LockManager{
		objects: make(map[Resource]*object),
		held:    make(map[uint64]map[Resource]struct{}),
		timeout: timeout,
	}
}

func (lm *LockManager) Timeout() time.Duration {
	return lm.timeout
}

// Lock grants txnID at least level on res, waiting up to the lock timeout.
func (lm *LockManager) Lock(ctx context.Context, txnID uint64, res Resource, level LockLevel) error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	obj, ok := lm.objects[res]
	if !ok {
		obj = &object{res: res, holders: make(map[uint64]LockLevel)}
		lm.objects[res] = obj
	}

	cur := obj.holders[txnID]
	if cur >= level {
		return nil
	}
	upgrade := cur > 0

	if lm.grantable(obj, txnID, level, upgrade, nil) {
		lm.grant(obj, txnID, level)
		return nil
	}

	w := &waiter{txnID: txnID, level: level, ch: make(chan struct{}, 1)}
	obj.waiters = append(obj.waiters, w)

	timer := time.NewTimer(lm.timeout)
	defer timer.Stop()

	for {
		lm.mutex.Unlock()
		var stop error
		select {
		case <-w.ch:
		case <-timer.C:
			stop = fmt.Errorf("%w: txn %d waited %s for %s on %s", types.ErrLockTimeout, txnID, lm.timeout, level, res)
		case <-ctx.Done():
			stop = ctx.Err()
		}
		lm.mutex.Lock()

		if lm.grantable(obj, txnID, level, upgrade, w) {
			lm.removeWaiter(obj, w)
			lm.grant(obj, txnID, level)
			lm.wake(obj)
			return nil
		}
		if stop != nil {
			lm.removeWaiter(obj, w)
			lm.wake(obj)
			lm.dropIfIdle(obj)
			log.WithFields(log.Fields{"txn": txnID, "resource": res, "level": level}).Debug("lock wait gave up")
			return stop
		}
	}
}

// ReleaseAll drops every lock held by txnID and wakes their waiters.
func (lm *LockManager) ReleaseAll(txnID uint64) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	for res := range lm.held[txnID] {
		obj, ok := lm.objects[res]
		if !ok {
			continue
		}
		delete(obj.holders, txnID)
		lm.wake(obj)
		lm.dropIfIdle(obj)
	}
	delete(lm.held, txnID)
}

// Held returns the level txnID holds on res, 0 when none.
func (lm *LockManager) Held(txnID uint64, res Resource) LockLevel {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	if obj, ok := lm.objects[res]; ok {
		return obj.holders[txnID]
	}
	return 0
}

// Locks lists every granted lock, ordered by transaction then resource.
func (lm *LockManager) Locks() []LockInfo {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	var infos []LockInfo
	for res, obj := range lm.objects {
		for txnID, level := range obj.holders {
			infos = append(infos, LockInfo{TxnID: txnID, Resource: res, Level: level})
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].TxnID != infos[j].TxnID {
			return infos[i].TxnID < infos[j].TxnID
		}
		if infos[i].Resource.Index != infos[j].Resource.Index {
			return infos[i].Resource.Index < infos[j].Resource.Index
		}
		return infos[i].Resource.Key < infos[j].Resource.Key
	})
	return infos
}

// grantable checks level against the other holders and, unless this is an
// upgrade, against incompatible waiters queued ahead of self (nil: not queued).
func (lm *LockManager) grantable(obj *object, txnID uint64, level LockLevel, upgrade bool, self *waiter) bool {
	for holder, hl := range obj.holders {
		if holder != txnID && !lockSharing[hl][level] {
			return false
		}
	}
	if upgrade {
		return true
	}
	for _, w := range obj.waiters {
		if w == self {
			break
		}
		if w.txnID != txnID && !lockSharing[w.level][level] {
			return false
		}
	}
	return true
}

func (lm *LockManager) grant(obj *object, txnID uint64, level LockLevel) {
	obj.holders[txnID] = level
	set, ok := lm.held[txnID]
	if !ok {
		set = make(map[Resource]struct{})
		lm.held[txnID] = set
	}
	set[obj.res] = struct{}{}
}

func (lm *LockManager) removeWaiter(obj *object, w *waiter) {
	for i, cand := range obj.waiters {
		if cand == w {
			obj.waiters = append(obj.waiters[:i], obj.waiters[i+1:]...)
			return
		}
	}
}

// wake pokes every waiter so it re-checks the object.
func (lm *LockManager) wake(obj *object) {
	for _, w := range obj.waiters {
		select {
		case w.ch <- struct{}{}:
		default:
		}
	}
}

func (lm *LockManager) dropIfIdle(obj *object) {
	if len(obj.holders) == 0 && len(obj.waiters) == 0 {
		delete(lm.objects, obj.res)
	}
}
