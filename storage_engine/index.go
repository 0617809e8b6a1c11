package storageengine

import (
	"context"
	"errors"

	indexfile "GSQLCore/storage_engine/access/indexfile_manager"
	bplus "GSQLCore/storage_engine/access/indexfile_manager/bplustree"
	txn "GSQLCore/storage_engine/transaction_manager"
	"GSQLCore/types"
)

/*
Index operations. Every read and write runs under a transaction id: locks
are taken for the index entry as its isolation requires (see
exec_transactions.go), then the tree does the work under its latch. A write
is one logged tree operation, so a failure leaves the tree as it was.
*/

// CreateIndex registers a new index. It waits until no transaction is
// writing; the creation is store maintenance and survives any rollback.
func (se *StorageEngine) CreateIndex(ctx context.Context, name string, opts bplus.Options) error {
	if err := se.requireOpen(); err != nil {
		return err
	}
	if opts.MaxDegree == 0 {
		opts.MaxDegree = se.config.MaxDegree
	}
	return se.asMaintenance(ctx, func() error {
		_, err := se.IndexManager.CreateIndex(0, name, opts)
		return err
	})
}

// Indexes lists the index catalog.
func (se *StorageEngine) Indexes() ([]indexfile.IndexInfo, error) {
	if err := se.requireOpen(); err != nil {
		return nil, err
	}
	return se.IndexManager.Indexes()
}

// CheckIntegrity validates one index, or every index when name is empty.
func (se *StorageEngine) CheckIntegrity(name string) (map[string]bplus.Stats, error) {
	if err := se.requireOpen(); err != nil {
		return nil, err
	}
	return se.IndexManager.CheckIntegrity(name)
}

// Get returns the value stored under key. The boolean is false when absent.
func (se *StorageEngine) Get(ctx context.Context, tid uint64, index string, key []byte) ([]byte, bool, error) {
	var value []byte
	var found bool
	err := se.withTxn(tid, func(t *txn.Transaction) error {
		tree, err := se.IndexManager.GetIndex(index)
		if err != nil {
			return err
		}
		if err := se.lockForRead(ctx, t, index, key); err != nil {
			return err
		}
		value, found, err = tree.Search(key)
		return err
	})
	return value, found, err
}

// Insert adds a new key. ErrDuplicateKey unless the index allows duplicates.
func (se *StorageEngine) Insert(ctx context.Context, tid uint64, index string, key, value []byte) error {
	return se.write(ctx, tid, index, key, func(t *txn.Transaction, tree *bplus.BPlusTree) error {
		return tree.Insert(t.ID, key, value)
	})
}

// Update replaces the value of an existing key, ErrKeyNotFound otherwise.
func (se *StorageEngine) Update(ctx context.Context, tid uint64, index string, key, value []byte) error {
	return se.write(ctx, tid, index, key, func(t *txn.Transaction, tree *bplus.BPlusTree) error {
		return tree.Update(t.ID, key, value)
	})
}

// Put inserts key or replaces its value.
func (se *StorageEngine) Put(ctx context.Context, tid uint64, index string, key, value []byte) error {
	return se.write(ctx, tid, index, key, func(t *txn.Transaction, tree *bplus.BPlusTree) error {
		return tree.Put(t.ID, key, value)
	})
}

// Delete removes key, ErrKeyNotFound when absent.
func (se *StorageEngine) Delete(ctx context.Context, tid uint64, index string, key []byte) error {
	return se.write(ctx, tid, index, key, func(t *txn.Transaction, tree *bplus.BPlusTree) error {
		return tree.Delete(t.ID, key)
	})
}

func (se *StorageEngine) write(ctx context.Context, tid uint64, index string, key []byte,
	fn func(t *txn.Transaction, tree *bplus.BPlusTree) error) error {

	return se.withTxn(tid, func(t *txn.Transaction) error {
		tree, err := se.IndexManager.GetIndex(index)
		if err != nil {
			return err
		}
		if err := se.lockForWrite(ctx, t, index, key); err != nil {
			return err
		}
		return fn(t, tree)
	})
}

// Scan returns every entry with low <= key <= high (nil bounds are open).
func (se *StorageEngine) Scan(ctx context.Context, tid uint64, index string, low, high []byte) ([]bplus.Entry, error) {
	sc, err := se.OpenScan(ctx, tid, index, low, high)
	if err != nil {
		return nil, err
	}
	defer sc.Close()

	var out []bplus.Entry
	for sc.Next() {
		out = append(out, sc.Entry())
	}
	return out, sc.Err()
}

// Scanner is a lazy, restartable range scan under a transaction. Each key is
// locked for reading before it is returned, and its value is read again
// under the lock, so a scan never returns another transaction's uncommitted
// value.
type Scanner struct {
	se     *StorageEngine
	ctx    context.Context
	tid    uint64
	index  string
	tree   *bplus.BPlusTree
	cursor *bplus.Cursor
	cur    bplus.Entry
	err    error
}

// OpenScan positions a Scanner before the first key >= low.
func (se *StorageEngine) OpenScan(ctx context.Context, tid uint64, index string, low, high []byte) (*Scanner, error) {
	var sc *Scanner
	err := se.withTxn(tid, func(t *txn.Transaction) error {
		tree, err := se.IndexManager.GetIndex(index)
		if err != nil {
			return err
		}
		sc = &Scanner{se: se, ctx: ctx, tid: tid, index: index, tree: tree, cursor: tree.RangeScan(low, high)}
		return nil
	})
	return sc, err
}

// Next advances to the next visible entry.
func (sc *Scanner) Next() bool {
	if sc.err != nil {
		return false
	}
	for {
		if !sc.cursor.Next() {
			sc.err = sc.cursor.Err()
			if sc.err != nil {
				sc.fail()
			}
			return false
		}
		key := sc.cursor.Key()

		var value []byte
		var found bool
		err := sc.se.withTxn(sc.tid, func(t *txn.Transaction) error {
			if err := sc.se.lockForRead(sc.ctx, t, sc.index, key); err != nil {
				return err
			}
			var err error
			value, found, err = sc.tree.Search(key)
			return err
		})
		if err != nil {
			sc.err = err
			return false
		}
		if found {
			sc.cur = bplus.Entry{Key: key, Value: value}
			return true
		}
		// deleted by a writer that committed before we got the lock
	}
}

// fail hands a cursor fault to the transaction's fault policy.
func (sc *Scanner) fail() {
	if !types.IsFatal(sc.err) {
		return
	}
	_ = sc.se.withTxn(sc.tid, func(*txn.Transaction) error { return sc.err })
}

func (sc *Scanner) Entry() bplus.Entry {
	return sc.cur
}

func (sc *Scanner) Err() error {
	return sc.err
}

// Rewind restarts the scan from its low bound.
func (sc *Scanner) Rewind() {
	sc.cursor.Rewind()
	sc.cur = bplus.Entry{}
	sc.err = nil
}

func (sc *Scanner) Close() {
	sc.cursor.Close()
}

// IsNotFound reports whether err means a missing key, index or transaction.
func IsNotFound(err error) bool {
	return errors.Is(err, types.ErrKeyNotFound) ||
		errors.Is(err, types.ErrIndexNotFound) ||
		errors.Is(err, types.ErrTxnNotFound)
}
